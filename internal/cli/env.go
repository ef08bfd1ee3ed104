package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/roach88/archivist/internal/accounts"
	"github.com/roach88/archivist/internal/activitylog"
	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/config"
	"github.com/roach88/archivist/internal/docstore"
	"github.com/roach88/archivist/internal/logging"
	"github.com/roach88/archivist/internal/metrics"
	"github.com/roach88/archivist/internal/registry"
	"github.com/roach88/archivist/internal/store"
)

// env is everything a command needs to touch the archive.
type env struct {
	opts     *RootOptions
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	docs     *docstore.Store
	activity *activitylog.Log
	accounts *accounts.Service
	promReg  *prometheus.Registry
	stderr   io.Writer
}

// openEnv loads config, registry and database. Callers must Close the env.
func openEnv(opts *RootOptions, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	level, format := logging.Resolve(cfg.Logging.Level, cfg.Logging.Format)
	if opts.Verbose {
		level = logging.DebugLevel
	}
	logger := logging.New(level, format, stderr)
	sugar := logger.Sugar()

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, "failed to load registry", err)
	}

	var (
		m       *metrics.Metrics
		promReg *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		m = metrics.New(promReg)
	}

	st, err := store.Open(cfg.Database.Path,
		store.WithLogger(sugar.Named("store")),
		store.WithBusyTimeout(cfg.Database.BusyTimeoutMS),
		store.WithMetrics(m),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}

	docs := docstore.New(st, reg,
		docstore.WithLogger(sugar.Named("docstore")),
		docstore.WithMetrics(m),
	)
	acct, err := accounts.New(docs)
	if err != nil {
		st.Close()
		return nil, engineError("registry does not declare the account collections", err)
	}

	sugar.Debugw("archive opened",
		"database", cfg.Database.Path,
		"registry", registryName(cfg.Registry.Path),
		"collections", reg.Names())

	return &env{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		store:  st,
		docs:   docs,
		activity: activitylog.New(st,
			activitylog.WithLogger(sugar.Named("activity")),
			activitylog.WithMetrics(m),
		),
		accounts: acct,
		promReg:  promReg,
		stderr:   stderr,
	}, nil
}

func registryName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// Close writes gathered metrics to stderr in verbose mode and closes the
// database.
func (e *env) Close() error {
	if e.promReg != nil && e.opts.Verbose {
		if err := writeMetrics(e.stderr, e.promReg); err != nil {
			e.logger.Sugar().Warnw("metrics not written", "error", err)
		}
	}
	_ = e.logger.Sync()
	return e.store.Close()
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// auth resolves the --actor flag to the caller's authorization state.
func (e *env) auth(ctx context.Context) (authz.State, error) {
	if e.opts.Actor == "" {
		return authz.State{}, NewExitError(ExitCommandError, "--actor is required for this command")
	}
	st, err := e.accounts.AuthState(ctx, e.opts.Actor)
	if err != nil {
		return authz.State{}, engineError(fmt.Sprintf("cannot resolve actor %q", e.opts.Actor), err)
	}
	return st, nil
}

// commit commits b, reporting failures as database errors.
func (e *env) commit(ctx context.Context, b *store.Batch) error {
	if err := b.Commit(ctx); err != nil {
		return WrapExitError(ExitFailure, ErrCodeDatabase, "failed to commit", err)
	}
	return nil
}

// record logs a CLI activity. The item fails when err is non-nil.
func (e *env) record(ctx context.Context, activityType, resource string, err error) activitylog.Item {
	item := activitylog.Item{
		ActivityType:   activityType,
		Requestor:      e.opts.Actor,
		Resource:       resource,
		ExecutionState: activitylog.StateSucceeded,
	}
	if e.opts.Actor != "" {
		item.ActorIDs = []string{e.opts.Actor}
	}
	if err != nil {
		item.ExecutionState = activitylog.StateFailed
	}
	return e.activity.Record(ctx, item)
}

// formatter builds the output formatter for cmd.
func formatter(opts *RootOptions, w, errW io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: w, ErrWriter: errW, Verbose: opts.Verbose}
}

// withEnv opens the archive, runs fn and closes it.
func withEnv(opts *RootOptions, stderr io.Writer, fn func(ctx context.Context, e *env) error) error {
	e, err := openEnv(opts, stderr)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(context.Background(), e)
}
