package dat

import (
	"github.com/samber/lo"
)

// MatchStatus tags how a game was selected.
type MatchStatus string

const (
	// StatusMatch means the combined size is identical.
	StatusMatch MatchStatus = "match"
	// StatusClosest is a heuristic pick for human review; it is not a verified identification.
	StatusClosest MatchStatus = "closest"
)

// GameMatch pairs a game with how it was selected.
type GameMatch struct {
	Game       *Game
	Status     MatchStatus
	Difference int64
}

// FindGamesByCombinedBinSize returns every game whose combined track size
// equals size, tagged StatusMatch. When none matches exactly it returns the
// single game with the smallest absolute difference, tagged StatusClosest.
// The result is empty only when the catalog has no games.
func (d *Dat) FindGamesByCombinedBinSize(size int64) []GameMatch {
	if len(d.Games) == 0 {
		return nil
	}
	candidates := lo.Map(d.Games, func(g *Game, _ int) GameMatch {
		return GameMatch{Game: g, Status: StatusMatch, Difference: absDiff(g.TrackSize(), size)}
	})
	exact := lo.Filter(candidates, func(m GameMatch, _ int) bool { return m.Difference == 0 })
	if len(exact) > 0 {
		return exact
	}
	closest := lo.MinBy(candidates, func(a, b GameMatch) bool { return a.Difference < b.Difference })
	closest.Status = StatusClosest
	return []GameMatch{closest}
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
