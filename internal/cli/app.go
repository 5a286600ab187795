package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/dwnsync/internal/agent"
	"github.com/roach88/dwnsync/internal/config"
	"github.com/roach88/dwnsync/internal/did"
	"github.com/roach88/dwnsync/internal/keys"
	"github.com/roach88/dwnsync/internal/node"
	"github.com/roach88/dwnsync/internal/state"
	"github.com/roach88/dwnsync/internal/store"
	"github.com/roach88/dwnsync/internal/syncengine"
	"github.com/roach88/dwnsync/internal/transport"
)

// App is the agent assembled from configuration: the local replica, the
// key store, the transports and the sync engine.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Out    *OutputFormatter

	Store  *store.Store
	State  state.Store
	Node   *node.Node
	Agent  *agent.Agent
	Static *did.StaticResolver
	Engine *syncengine.Engine

	closers []io.Closer
}

// newFormatter builds the formatter for cmd's output streams.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openApp loads config and opens every collaborator. Callers must Close
// the returned App. Errors are already reported through the formatter.
func openApp(cmd *cobra.Command, opts *RootOptions) (*App, error) {
	ctx := commandContext(cmd)
	out := newFormatter(cmd, opts)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	app := &App{Config: cfg, Logger: logger, Out: out}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeStorage, "failed to open database", err)
	}
	app.Store = st
	app.closers = append(app.closers, st)

	stateStore, stateCloser, err := state.Open(ctx, state.Options{
		Backend:     cfg.Sync.StateBackend,
		RedisURL:    cfg.Sync.RedisURL,
		PostgresURL: cfg.Sync.PostgresURL,
	}, st)
	if err != nil {
		app.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeStorage, "failed to open sync state", err)
	}
	app.State = stateStore
	app.closers = append(app.closers, stateCloser)

	app.Node = node.New(st,
		node.WithMaxInlineDataSize(cfg.Node.MaxInlineDataSize),
		node.WithLogger(logger),
	)

	transports := transport.NewRegistry(
		transport.NewHTTP(cfg.Transport.HTTPTimeout),
		transport.NewWebSocket(cfg.Transport.WSHandshakeTimeout, transport.WithWebSocketLogger(logger)),
	)
	app.closers = append(app.closers, transports)
	app.Agent = agent.New(keys.NewSQLStore(st), app.Node, transports)

	// Pinned endpoints bypass DID resolution.
	pinned, err := app.pinnedEndpoints(ctx)
	if err != nil {
		app.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeStorage, "failed to load endpoints", err)
	}
	methods := did.MethodResolver{
		"key": did.KeyResolver{},
		"web": &did.WebResolver{Client: &http.Client{Timeout: cfg.Transport.HTTPTimeout}},
	}
	app.Static = did.NewStaticResolver(pinned, methods)

	var resolver did.Resolver = app.Static
	if cfg.Resolver.CacheTTL > 0 {
		resolver = did.NewCachingResolver(app.Static, cfg.Resolver.CacheTTL)
	}

	app.Engine = syncengine.New(stateStore, resolver, app.Agent,
		syncengine.WithBatchSize(cfg.Sync.BatchSize),
		syncengine.WithConcurrency(cfg.Sync.Concurrency),
		syncengine.WithLogger(logger),
	)
	return app, nil
}

// registerConfigured adds the config file's identities to the sync set.
func (a *App) registerConfigured(ctx context.Context) error {
	for _, id := range a.Config.Identities {
		if err := a.Engine.RegisterIdentity(ctx, id.DID); err != nil {
			return err
		}
	}
	return nil
}

// pinnedEndpoints returns the endpoints known without resolution: those
// saved with --endpoint, overridden by the config file.
func (a *App) pinnedEndpoints(ctx context.Context) (map[string][]string, error) {
	out, err := a.Store.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	for d, eps := range a.Config.StaticEndpoints() {
		out[d] = eps
	}
	return out, nil
}

// Close releases everything openApp opened, most recent first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(commandContext(cmd))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()
	return ctx, cancel
}
