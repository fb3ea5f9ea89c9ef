package cli

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/mamaar/vbarefactor/pkg/refactor"
)

// App represents the vbarefactor application
type App struct {
	flags *Flags
}

// NewApp creates a new application instance
func NewApp() *App {
	return &App{}
}

// Initialize sets up the application with flags and configuration
func (app *App) Initialize() {
	log.SetFlags(0) // Remove timestamp from log output
	ParseFlags(Usage)
	app.flags = GlobalFlags
}

// Run executes the application logic with the provided runner
func (app *App) Run(runner *Runner) {
	if *app.flags.Version {
		ShowVersion()
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		Usage()
		os.Exit(1)
	}

	runner.Execute(args[0], args[1:])
}

var (
	ctxOnce sync.Once
	ctx     context.Context
	stop    context.CancelFunc
)

// Context is cancelled on interrupt, which aborts an attempt still waiting
// for its reparse.
func Context() context.Context {
	ctxOnce.Do(func() {
		ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt)
	})
	return ctx
}

// Stop releases the interrupt handler installed by Context.
func Stop() {
	if stop != nil {
		stop()
	}
}

// Logger returns the stderr logger; debug output is shown with --verbose.
func Logger() *slog.Logger {
	level := slog.LevelWarn
	if GlobalFlags != nil && *GlobalFlags.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// EngineConfig reads the workspace config file and applies the command line
// overrides on top of it.
func EngineConfig() (*refactor.EngineConfig, error) {
	cfg, err := refactor.LoadConfig(*GlobalFlags.Workspace)
	if err != nil {
		return nil, err
	}
	if IsSet("backup") {
		cfg.Backup = *GlobalFlags.Backup
	}
	if *GlobalFlags.Timeout > 0 {
		cfg.ReparseTimeout = *GlobalFlags.Timeout
	}
	if *GlobalFlags.Indent != "" {
		cfg.Indent = *GlobalFlags.Indent
	}
	return cfg, cfg.Validate()
}

// CreateEngineWithFlags creates a refactor engine with configuration based on command line flags
func CreateEngineWithFlags(notifier refactor.Notifier) (*refactor.DefaultEngine, error) {
	cfg, err := EngineConfig()
	if err != nil {
		return nil, err
	}
	return refactor.CreateEngineWithConfig(cfg, notifier, Logger()), nil
}
