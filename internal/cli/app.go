package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flocksync/internal/config"
	"github.com/roach88/flocksync/internal/engine"
	"github.com/roach88/flocksync/internal/session"
	"github.com/roach88/flocksync/internal/strategy"

	// Strategy backends register their DSN schemes.
	_ "github.com/roach88/flocksync/internal/remote"
	_ "github.com/roach88/flocksync/internal/store"
)

// app is everything a command needs: config, both strategies and an open engine.
type app struct {
	cfg      config.Config
	resolver session.Resolver
	session  session.Session
	engine   *engine.Engine
	out      *OutputFormatter
}

// openApp loads config, configures logging, opens the strategies and
// hydrates the engine from the one the current session selects.
func openApp(cmd *cobra.Command, opts *RootOptions, hooks ...engine.Hook) (*app, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(WrapExitError(ExitCommandError, "failed to load config", err))
	}
	setupLogging(cmd.ErrOrStderr(), cfg.LogLevel, opts.Verbose)

	defaults, err := cfg.DefaultRecords()
	if err != nil {
		return nil, out.Fail(WrapExitError(ExitCommandError, "failed to load default records", err))
	}

	local, err := strategy.Open(cfg.LocalDSN)
	if err != nil {
		return nil, out.Fail(WrapExitError(ExitCommandError, "failed to open local store", err))
	}
	if local == nil {
		return nil, out.Fail(NewExitError(ExitCommandError, "local_dsn is required"))
	}
	remote, err := strategy.Open(cfg.RemoteDSN)
	if err != nil {
		closeStrategy(local)
		return nil, out.Fail(WrapExitError(ExitCommandError, "failed to open remote store", err))
	}

	resolver := session.Resolver{Local: local, Remote: remote}
	sess, err := session.LoadFile(cfg.SessionFile)
	if err != nil {
		slog.Warn("ignoring unreadable session file", "path", cfg.SessionFile, "error", err)
	}
	slog.Debug("session resolved", "mode", resolver.Mode(sess), "user_id", sess.UserID)

	engineOpts := []engine.Option{
		engine.WithHook(engine.MultiHook(append([]engine.Hook{engine.SlogHook{Logger: slog.Default()}}, hooks...))),
		engine.WithNormalizer(cfg.Normalizer()),
		engine.WithWindows(engine.Windows{
			TombstoneFilter: cfg.Windows.TombstoneFilter.Std(),
			TombstonePurge:  cfg.Windows.TombstonePurge.Std(),
			Suppression:     cfg.Windows.Suppression.Std(),
		}),
		engine.WithDefaults(defaults),
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := engine.Open(ctx, cfg.Collection, resolver.Resolve(sess), engineOpts...)
	if err != nil {
		closeStrategy(local)
		closeStrategy(remote)
		return nil, out.Fail(WrapExitError(ExitCommandError, "failed to open collection", err))
	}

	return &app{
		cfg:      cfg,
		resolver: resolver,
		session:  sess,
		engine:   eng,
		out:      out,
	}, nil
}

// Close releases both strategies.
func (a *app) Close() {
	closeStrategy(a.resolver.Local)
	closeStrategy(a.resolver.Remote)
}

func closeStrategy(s strategy.Strategy) {
	if s == nil {
		return
	}
	if err := strategy.Close(s); err != nil {
		slog.Error("error closing strategy", "strategy", s.Name(), "error", err)
	}
}

// setupLogging installs the default slog handler. --verbose wins over
// the configured level.
func setupLogging(w io.Writer, level string, verbose bool) {
	logLevel := parseLevel(level)
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
