package dat

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"discnorm/internal/services"
)

// Dat is a loaded catalog.
type Dat struct {
	System string
	Games  []*Game

	bySHA1 map[string][]*Rom
}

// Game is one catalog entry.
type Game struct {
	Name        string
	Description string
	Category    string
	Roms        []*Rom

	dat *Dat
}

// Rom is one file of a game.
type Rom struct {
	Name string
	Size int64
	SHA1 string
	CRC  string
	MD5  string

	game *Game
}

// Game returns the game owning the rom.
func (r *Rom) Game() *Game { return r.game }

// Dat returns the catalog owning the game.
func (g *Game) Dat() *Dat { return g.dat }

type datafileXML struct {
	XMLName xml.Name   `xml:"datafile"`
	Header  *headerXML `xml:"header"`
	Games   []gameXML  `xml:"game"`
}

type headerXML struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
}

type gameXML struct {
	Name        string   `xml:"name,attr"`
	Description string   `xml:"description"`
	Category    string   `xml:"category"`
	Roms        []romXML `xml:"rom"`
}

type romXML struct {
	Name string `xml:"name,attr"`
	Size string `xml:"size,attr"`
	SHA1 string `xml:"sha1,attr"`
	CRC  string `xml:"crc,attr"`
	MD5  string `xml:"md5,attr"`
}

// Load reads and indexes the DAT at path.
func Load(path string) (*Dat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dat %s: %w", path, err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse decodes a DAT document and builds the hash index.
func Parse(r io.Reader) (*Dat, error) {
	var doc datafileXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode dat: %v", services.ErrParsing, err)
	}
	if doc.Header == nil || strings.TrimSpace(doc.Header.Name) == "" {
		return nil, fmt.Errorf("%w: dat header has no name", services.ErrParsing)
	}

	d := &Dat{
		System: strings.TrimSpace(doc.Header.Name),
		Games:  make([]*Game, 0, len(doc.Games)),
		bySHA1: make(map[string][]*Rom),
	}
	for gi, gx := range doc.Games {
		if strings.TrimSpace(gx.Name) == "" {
			return nil, fmt.Errorf("%w: game %d has no name", services.ErrParsing, gi)
		}
		game := &Game{
			Name:        gx.Name,
			Description: strings.TrimSpace(gx.Description),
			Category:    strings.TrimSpace(gx.Category),
			dat:         d,
		}
		for ri, rx := range gx.Roms {
			rom, err := rx.build(game)
			if err != nil {
				return nil, fmt.Errorf("%w: game %q rom %d: %v", services.ErrParsing, gx.Name, ri, err)
			}
			game.Roms = append(game.Roms, rom)
			d.bySHA1[rom.SHA1] = append(d.bySHA1[rom.SHA1], rom)
		}
		d.Games = append(d.Games, game)
	}
	return d, nil
}

func (rx romXML) build(game *Game) (*Rom, error) {
	if rx.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if rx.Size == "" {
		return nil, fmt.Errorf("missing size")
	}
	if rx.SHA1 == "" {
		return nil, fmt.Errorf("missing sha1")
	}
	size, err := strconv.ParseInt(strings.TrimSpace(rx.Size), 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("size %q is not an integer", rx.Size)
	}
	return &Rom{
		Name: rx.Name,
		Size: size,
		SHA1: strings.ToLower(strings.TrimSpace(rx.SHA1)),
		CRC:  strings.ToLower(strings.TrimSpace(rx.CRC)),
		MD5:  strings.ToLower(strings.TrimSpace(rx.MD5)),
		game: game,
	}, nil
}

// RomsBySHA1 returns every rom recorded with the given hash. Duplicates
// across games are preserved in catalog order.
func (d *Dat) RomsBySHA1(sha1hex string) []*Rom {
	return d.bySHA1[strings.ToLower(sha1hex)]
}

// GameByName returns the game with the exact name, or nil.
func (d *Dat) GameByName(name string) *Game {
	game, _ := lo.Find(d.Games, func(g *Game) bool { return g.Name == name })
	return game
}

// RomCount returns the number of roms across all games.
func (d *Dat) RomCount() int {
	return lo.SumBy(d.Games, func(g *Game) int { return len(g.Roms) })
}

// IsSheet reports whether the rom is a cue or gdi descriptor rather than track data.
func (r *Rom) IsSheet() bool {
	switch strings.ToLower(filepath.Ext(r.Name)) {
	case ".cue", ".gdi":
		return true
	}
	return false
}

// TrackRoms returns the roms holding track data, excluding cue/gdi sheets.
func (g *Game) TrackRoms() []*Rom {
	return lo.Filter(g.Roms, func(r *Rom, _ int) bool { return !r.IsSheet() })
}

// TrackSize returns the combined size of the game's track roms.
func (g *Game) TrackSize() int64 {
	return lo.SumBy(g.TrackRoms(), func(r *Rom) int64 { return r.Size })
}

// CueRom returns the game's cue rom, or nil.
func (g *Game) CueRom() *Rom {
	rom, _ := lo.Find(g.Roms, func(r *Rom) bool { return strings.EqualFold(filepath.Ext(r.Name), ".cue") })
	return rom
}
