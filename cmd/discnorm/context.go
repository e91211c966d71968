package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"discnorm/internal/config"
	"discnorm/internal/dat"
	"discnorm/internal/history"
	"discnorm/internal/logging"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/tools"
)

type globalFlags struct {
	configPath   string
	sourceDir    string
	outputDir    string
	tempDir      string
	overwrite    bool
	removeSource bool
	force        bool
	logLevel     string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// ensureConfig loads the configuration once and applies flag overrides.
func (c *commandContext) ensureConfig(cmd *cobra.Command) (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(strings.TrimSpace(c.flags.configPath))
		if err != nil {
			c.configErr = err
			return
		}
		if err := c.applyOverrides(cmd, cfg); err != nil {
			c.configErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	changed := func(name string) bool {
		return cmd != nil && cmd.Flags().Changed(name)
	}
	for _, o := range []struct {
		flag  string
		value string
		dst   *string
	}{
		{"source-dir", c.flags.sourceDir, &cfg.Paths.SourceDir},
		{"output-dir", c.flags.outputDir, &cfg.Paths.OutputDir},
		{"temp-dir", c.flags.tempDir, &cfg.Paths.TempDir},
	} {
		if !changed(o.flag) || strings.TrimSpace(o.value) == "" {
			continue
		}
		expanded, err := config.ExpandPath(strings.TrimSpace(o.value))
		if err != nil {
			return fmt.Errorf("--%s: %w", o.flag, err)
		}
		*o.dst = expanded
	}
	if changed("overwrite") {
		cfg.Compress.Overwrite = c.flags.overwrite
	}
	if changed("remove-source") {
		cfg.Compress.RemoveSource = c.flags.removeSource
	}
	if changed("force") {
		cfg.Verify.AcceptClosest = c.flags.force
	}
	if changed("log-level") {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(c.flags.logLevel))
	}
	return nil
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig(nil)
	return cfg
}

// ensureLogger builds the process logger from configuration and prunes old log files.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg := c.configValue()
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.loggerErr = err
			return
		}
		if cfg != nil {
			logging.PruneLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays,
				filepath.Join(cfg.Paths.LogDir, "discnorm.log"))
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

// session bundles the collaborators a command needs to touch disc images.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *storage.Local
	registry *storage.Registry
	tools    *tools.Toolbox
	history  *history.Store
	runID    string
}

func (c *commandContext) newSession(ctx context.Context) (*session, error) {
	cfg := c.configValue()
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration not loaded", services.ErrConfiguration)
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	sess := &session{
		cfg:      cfg,
		logger:   logger,
		store:    storage.NewLocal(cfg.Paths.TempDir),
		registry: storage.NewRegistry(logger),
		tools:    tools.New(cfg.Tools, tools.WithLogger(logger)),
		runID:    uuid.NewString(),
	}
	if cfg.History.Enabled {
		store, err := history.Open(cfg)
		if err != nil {
			logging.WarnWithContext(logger, "run history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this run is not recorded"),
				logging.String(logging.FieldErrorHint, "check state_dir permissions or run discnorm doctor"),
			)
		} else {
			sess.history = store
		}
	}
	return sess, nil
}

// withRunID tags ctx with the session run id.
func (sess *session) withRunID(ctx context.Context) context.Context {
	return services.WithRunID(ctx, sess.runID)
}

// close releases every outstanding workspace and the history database.
func (sess *session) close() {
	if err := sess.registry.ReleaseAll(); err != nil {
		sess.logger.Warn("workspace cleanup incomplete", logging.Error(err))
	}
	if sess.history != nil {
		if err := sess.history.Close(); err != nil {
			sess.logger.Warn("close run history", logging.Error(err))
		}
	}
}

func (sess *session) record(ctx context.Context, run history.Run) {
	if sess.history == nil {
		return
	}
	run.RunID = sess.runID
	if _, err := sess.history.Record(context.WithoutCancel(ctx), run); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, sess.logger), "failed to record run", "history_record_failed",
			logging.String("group", run.Group),
			logging.Error(err),
			logging.String(logging.FieldImpact, "run missing from history"),
		)
	}
}

// loadDat loads the catalog named by override or the configured dat_path.
// It returns nil when neither is set.
func (sess *session) loadDat(override string) (*dat.Dat, error) {
	path := strings.TrimSpace(override)
	if path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, fmt.Errorf("--dat: %w", err)
		}
		path = expanded
	} else {
		path = sess.cfg.Verify.DatPath
	}
	if path == "" {
		return nil, nil
	}
	d, err := dat.Load(path)
	if err != nil {
		return nil, err
	}
	sess.logger.Info("catalog loaded",
		logging.String("dat", path),
		logging.String("system", d.System),
		logging.Int("games", len(d.Games)),
	)
	return d, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
