package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"discnorm/internal/ccd"
	"discnorm/internal/cue"
	"discnorm/internal/logging"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/textutil"
)

// handler converts file and returns the files it produced. working is the
// group's working set at the time of the call, file included.
type handler func(ctx context.Context, file string, working []string) ([]string, error)

// handlerFor returns the handler for f, or nil when files of that format
// are final.
func (r *run) handlerFor(f Format) handler {
	switch f {
	case FormatECM:
		return r.decodeECM
	case FormatZip, Format7z, FormatRar:
		return r.extractArchive
	case FormatCHD:
		if r.p.opts.RepackCHD {
			return r.extractCHD
		}
		return nil
	case FormatCCD:
		return r.convertCCD
	case FormatMDF:
		return r.convertMDF
	case FormatISO:
		return r.convertISO
	case FormatNRG:
		return r.convertNRG
	case FormatIMG:
		return r.renameIMG
	case FormatBin, FormatCue, FormatGDI, FormatUnknown:
		return nil
	default:
		panic(fmt.Sprintf("pipeline: no dispatch entry for format %d", f))
	}
}

func (r *run) decodeECM(ctx context.Context, file string, working []string) ([]string, error) {
	tctx, cancel := r.p.archiveContext(ctx)
	defer cancel()
	out, err := r.p.tools.DecodeECM(tctx, file)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "decode ecm", filepath.Base(file), err)
	}

	expected := r.expectedImageName(out, working)
	if expected == "" || expected == filepath.Base(out) {
		return []string{out}, nil
	}
	dest := filepath.Join(filepath.Dir(out), expected)
	if err := r.p.store.Move(out, dest); err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "rename decoded image", expected, err)
	}
	logging.WithContext(ctx, r.p.logger).Debug("decoded image renamed to match cue",
		logging.String("decoded", filepath.Base(out)),
		logging.String("name", expected),
	)
	return []string{dest}, nil
}

// expectedImageName finds the FILE name a cue in the working set uses for
// the decoded image: an exact (case-insensitive) match, then a base-name
// match, then the only referenced file that does not exist yet.
func (r *run) expectedImageName(decoded string, working []string) string {
	for _, sheetPath := range filesOfFormat(working, FormatCue) {
		sheet, err := r.readSheet(sheetPath)
		if err != nil {
			continue
		}
		names := sheet.FileNames()
		for _, name := range names {
			if strings.EqualFold(name, filepath.Base(decoded)) {
				return name
			}
		}
		for _, name := range names {
			if strings.EqualFold(textutil.BaseName(name), textutil.BaseName(decoded)) {
				return name
			}
		}
		var missing []string
		for _, name := range names {
			if !r.p.store.Exists(filepath.Join(r.dir, name)) {
				missing = append(missing, name)
			}
		}
		if len(missing) == 1 {
			return missing[0]
		}
	}
	return ""
}

func (r *run) extractArchive(ctx context.Context, file string, _ []string) ([]string, error) {
	dest := filepath.Join(r.dir, ".extract-"+textutil.SanitizeToken(filepath.Base(file)))
	defer func() { _ = r.p.store.Remove(dest) }()

	tctx, cancel := r.p.archiveContext(ctx)
	defer cancel()
	if err := r.p.tools.Extract(tctx, file, dest); err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "unpack archive", filepath.Base(file), err)
	}
	entries, err := r.p.store.List(dest, storage.ListOptions{Recursive: true, AvoidHiddenFiles: true})
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "list archive output", filepath.Base(file), err)
	}
	if len(entries) == 0 {
		return nil, services.Wrap(services.ErrExtraction, "extract", "unpack archive", filepath.Base(file)+" produced no files", nil)
	}

	targets := make([]string, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		target := filepath.Join(r.dir, filepath.Base(entry))
		if seen[target] || r.p.store.Exists(target) {
			return nil, services.Wrap(services.ErrExtraction, "extract", "flatten archive",
				fmt.Sprintf("%s already exists in the working set", filepath.Base(entry)), nil)
		}
		seen[target] = true
		targets[i] = target
	}

	produced := make([]string, 0, len(entries))
	for i, entry := range entries {
		if err := r.p.store.Move(entry, targets[i]); err != nil {
			for _, moved := range produced {
				_ = r.p.store.Remove(moved)
			}
			return nil, services.Wrap(services.ErrExtraction, "extract", "flatten archive", filepath.Base(entry), err)
		}
		produced = append(produced, targets[i])
	}
	return produced, nil
}

func (r *run) extractCHD(ctx context.Context, file string, _ []string) ([]string, error) {
	tctx, cancel := r.p.archiveContext(ctx)
	defer cancel()
	sheetPath, err := r.p.tools.ExtractCHD(tctx, file, r.dir)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "extract chd", filepath.Base(file), err)
	}
	sheet, err := r.readSheet(sheetPath)
	if err != nil {
		return nil, err
	}
	produced := []string{sheetPath}
	for _, name := range sheet.FileNames() {
		produced = append(produced, filepath.Join(r.dir, name))
	}
	return produced, nil
}

func (r *run) convertCCD(_ context.Context, file string, _ []string) ([]string, error) {
	sheetPath, err := ccd.WriteCue(r.p.store, file)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "convert ccd", filepath.Base(file), err)
	}
	return []string{sheetPath}, nil
}

func (r *run) convertMDF(ctx context.Context, file string, _ []string) ([]string, error) {
	tctx, cancel := r.p.archiveContext(ctx)
	defer cancel()
	out, err := r.p.tools.ConvertMDF(tctx, file)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "convert mdf", filepath.Base(file), err)
	}
	return []string{out}, nil
}

func (r *run) convertISO(ctx context.Context, file string, working []string) ([]string, error) {
	tctx, cancel := r.p.archiveContext(ctx)
	defer cancel()
	bin, err := r.p.tools.ConvertToBin(tctx, file)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "convert iso", filepath.Base(file), err)
	}
	changed, err := r.retarget(working, file, bin)
	if err != nil {
		return nil, err
	}
	if changed > 0 || len(filesOfFormat(working, FormatCue)) > 0 {
		return []string{bin}, nil
	}
	sheetPath := strings.TrimSuffix(bin, filepath.Ext(bin)) + ".cue"
	if err := r.p.store.Write(sheetPath, []byte(cue.CreateCueFile(bin))); err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "write cue", filepath.Base(sheetPath), err)
	}
	return []string{bin, sheetPath}, nil
}

func (r *run) convertNRG(ctx context.Context, file string, _ []string) ([]string, error) {
	tctx, cancel := r.p.archiveContext(ctx)
	defer cancel()
	bin, err := r.p.tools.ConvertToBin(tctx, file)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "convert nrg", filepath.Base(file), err)
	}
	return []string{bin}, nil
}

func (r *run) renameIMG(_ context.Context, file string, working []string) ([]string, error) {
	bin := strings.TrimSuffix(file, filepath.Ext(file)) + ".bin"
	if r.p.store.Exists(bin) {
		return nil, services.Wrap(services.ErrExtraction, "extract", "rename img",
			filepath.Base(bin)+" already exists in the working set", nil)
	}
	if err := r.p.store.Move(file, bin); err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "rename img", filepath.Base(file), err)
	}
	if _, err := r.retarget(working, file, bin); err != nil {
		return nil, err
	}
	return []string{bin}, nil
}

// retarget rewrites FILE references to from in every cue of the working
// set so they name to. It returns the number of references changed.
func (r *run) retarget(working []string, from, to string) (int, error) {
	total := 0
	for _, sheetPath := range filesOfFormat(working, FormatCue) {
		sheet, err := r.readSheet(sheetPath)
		if err != nil {
			return total, err
		}
		n := sheet.RenameFile(filepath.Base(from), filepath.Base(to))
		if n == 0 {
			continue
		}
		if err := r.p.store.Write(sheetPath, []byte(cue.Serialize(sheet))); err != nil {
			return total, services.Wrap(services.ErrExtraction, "extract", "update cue", filepath.Base(sheetPath), err)
		}
		total += n
	}
	return total, nil
}

func (r *run) readSheet(path string) (*cue.Sheet, error) {
	data, err := r.p.store.Read(path)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "extract", "read cue", filepath.Base(path), err)
	}
	return cue.Parse(string(data))
}

func filesOfFormat(files []string, f Format) []string {
	var out []string
	for _, file := range files {
		if FormatOf(file) == f {
			out = append(out, file)
		}
	}
	return out
}
