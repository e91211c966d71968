package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"discnorm/internal/cue"
	"discnorm/internal/logging"
	"discnorm/internal/services"
	"discnorm/internal/textutil"
	"discnorm/internal/verify"
)

// unit is one compressor invocation: a sheet and the files its
// verification covers.
type unit struct {
	name   string
	sheet  string
	verify []string
}

// compress places the group's CHD outputs. A CHD already in the working
// set passes through unchanged.
func (r *run) compress(ctx context.Context, group string, files []string) ([]string, map[string]*verify.Report, bool, error) {
	ctx = services.WithStage(ctx, "compress")
	logger := logging.WithContext(ctx, r.p.logger)

	if chds := filesOfFormat(files, FormatCHD); len(chds) > 0 {
		outputs := make([]string, 0, len(chds))
		for _, chd := range chds {
			name := group
			if len(chds) > 1 {
				name = textutil.BaseName(chd)
			}
			dest, err := r.place(chd, name)
			if err != nil {
				return outputs, nil, true, err
			}
			outputs = append(outputs, dest)
		}
		logger.Info("chd passed through", logging.Int("outputs", len(outputs)), logging.String(logging.FieldEventType, "chd_pass_through"))
		return outputs, nil, true, nil
	}

	units, err := r.units(group, files)
	if err != nil {
		return nil, nil, false, err
	}

	outputs := make([]string, 0, len(units))
	reports := make(map[string]*verify.Report)
	for _, u := range units {
		report, err := r.verifyUnit(ctx, u)
		if err != nil {
			return outputs, reports, false, err
		}

		tmp := filepath.Join(r.dir, u.name+".chd")
		if err := r.compressUnit(ctx, u, tmp); err != nil {
			return outputs, reports, false, err
		}
		dest, err := r.place(tmp, u.name)
		if err != nil {
			return outputs, reports, false, err
		}
		outputs = append(outputs, dest)
		if report != nil {
			reports[dest] = report
			r.writeSidecar(ctx, dest, report)
		}
		logger.Info("chd written",
			logging.String("output", dest),
			logging.String("sheet", filepath.Base(u.sheet)),
			logging.String(logging.FieldEventType, "chd_written"),
		)
	}
	return outputs, reports, false, nil
}

// units selects compression candidates. A lone bin without any sheet gets
// a synthesized single-track cue.
func (r *run) units(group string, files []string) ([]unit, error) {
	var sheets []string
	for _, f := range files {
		if FormatOf(f).IsSheet() {
			sheets = append(sheets, f)
		}
	}

	if len(sheets) == 0 {
		bins := filesOfFormat(files, FormatBin)
		if len(bins) != 1 {
			return nil, services.Wrap(services.ErrFatalPipeline, "compress", "select candidates", "no matching files found", nil)
		}
		sheetPath := strings.TrimSuffix(bins[0], filepath.Ext(bins[0])) + ".cue"
		if err := r.p.store.Write(sheetPath, []byte(cue.CreateCueFile(bins[0]))); err != nil {
			return nil, services.Wrap(services.ErrFatalPipeline, "compress", "synthesize cue", filepath.Base(sheetPath), err)
		}
		return []unit{{name: group, sheet: sheetPath, verify: bins}}, nil
	}

	units := make([]unit, 0, len(sheets))
	for _, s := range sheets {
		name := group
		if len(sheets) > 1 {
			name = textutil.BaseName(s)
		}
		u := unit{name: name, sheet: s}
		if FormatOf(s) == FormatCue {
			sheet, err := r.readSheet(s)
			if err != nil {
				return nil, services.Wrap(services.ErrFatalPipeline, "compress", "read sheet", filepath.Base(s), err)
			}
			u.verify = []string{s}
			for _, ref := range sheet.FileNames() {
				u.verify = append(u.verify, filepath.Join(r.dir, ref))
			}
		}
		units = append(units, u)
	}
	return units, nil
}

func (r *run) verifyUnit(ctx context.Context, u unit) (*verify.Report, error) {
	if r.p.verifier == nil || len(u.verify) == 0 {
		return nil, nil
	}
	report, err := r.p.verifier.VerifyFiles(services.WithStage(ctx, "verify"), u.name, u.verify)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalPipeline, "verify", "catalog", u.name, err)
	}
	return report, nil
}

func (r *run) compressUnit(ctx context.Context, u unit, tmp string) error {
	tctx, cancel := r.p.compressContext(ctx)
	defer cancel()
	if err := r.p.tools.CompressCHD(tctx, u.sheet, tmp); err != nil {
		return services.Wrap(services.ErrFatalPipeline, "compress", "chdman createcd", filepath.Base(u.sheet), err)
	}
	if !r.p.opts.VerifyOutput {
		return nil
	}
	if err := r.p.tools.VerifyCHD(tctx, tmp); err != nil {
		return services.Wrap(services.ErrFatalPipeline, "compress", "chdman verify", filepath.Base(tmp), err)
	}
	return nil
}

// place moves a finished CHD into the output directory as name.chd,
// refusing to replace an existing file unless overwrite is set.
func (r *run) place(src, name string) (string, error) {
	dest := r.p.OutputPath(name)
	if r.p.store.Exists(dest) {
		if !r.p.opts.Overwrite {
			return "", services.Wrap(services.ErrFatalPipeline, "compress", "place output",
				fmt.Sprintf("%s already exists (use --overwrite to replace it)", dest), nil)
		}
		if err := r.p.store.Remove(dest); err != nil {
			return "", services.Wrap(services.ErrFatalPipeline, "compress", "replace output", dest, err)
		}
	}
	if err := r.p.store.Move(src, dest); err != nil {
		return "", services.Wrap(services.ErrFatalPipeline, "compress", "place output", dest, err)
	}
	return dest, nil
}

func (r *run) writeSidecar(ctx context.Context, output string, report *verify.Report) {
	if !r.p.opts.WriteMetadata {
		return
	}
	path := verify.SidecarPath(output)
	data, err := verify.EncodeSidecar(report)
	if err == nil {
		err = r.p.store.Write(path, data)
	}
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.p.logger), "failed to write metadata sidecar", "sidecar_write_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "rename cannot use this output"),
		)
	}
}
