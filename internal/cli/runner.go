package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/agthud/internal/activation"
	"github.com/g960059/agthud/internal/api"
	"github.com/g960059/agthud/internal/config"
	"github.com/g960059/agthud/internal/daemonclient"
	"github.com/g960059/agthud/internal/db"
	"github.com/g960059/agthud/internal/engine"
	"github.com/g960059/agthud/internal/logging"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/osauto"
	"github.com/g960059/agthud/internal/shellstate"
	"github.com/g960059/agthud/internal/strategy"
	"github.com/g960059/agthud/internal/target"
	"github.com/g960059/agthud/internal/tmux"
)

// Daemon is satisfied by *daemonclient.Client.
type Daemon interface {
	engine.DaemonSource
	Health(ctx context.Context) (api.HealthData, error)
}

// Store is satisfied by *db.Store.
type Store interface {
	engine.ProjectSource
	engine.ActivationLog
	strategy.OverrideStore
	AddProject(ctx context.Context, p model.PinnedProject) (model.PinnedProject, error)
	RemoveProject(ctx context.Context, path string) error
	ListActivations(ctx context.Context, limit int) ([]db.ActivationRecord, error)
	Close() error
}

// Deps builds the collaborators each command needs. Tests replace them.
type Deps struct {
	Daemon       func(cfg config.Config, logger *slog.Logger) Daemon
	Store        func(ctx context.Context, cfg config.Config) (Store, error)
	Capabilities func(cfg config.Config) activation.Capabilities
	Probe        shellstate.LivenessProbe
	Home         string
}

func DefaultDeps() Deps {
	home, _ := os.UserHomeDir()
	return Deps{
		Daemon: func(cfg config.Config, logger *slog.Logger) Daemon {
			return daemonclient.New(cfg, logger)
		},
		Store: func(ctx context.Context, cfg config.Config) (Store, error) {
			store, err := db.OpenMigrated(ctx, cfg.DBPath)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
		Capabilities: func(cfg config.Config) activation.Capabilities {
			exec := target.NewExecutor(cfg)
			return osauto.New(exec).Capabilities(tmux.New(exec))
		},
		Probe: shellstate.SignalProbe{},
		Home:  home,
	}
}

type Runner struct {
	deps   Deps
	out    io.Writer
	errOut io.Writer

	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	store    Store
}

// usageError marks bad invocations; they exit 2 instead of 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// codedError prefixes an error with a model error code.
type codedError struct {
	code string
	err  error
}

func (e codedError) Error() string { return e.code + ": " + e.err.Error() }
func (e codedError) Unwrap() error { return e.err }

func NewRunner(out, errOut io.Writer) *Runner {
	return NewRunnerWithDeps(DefaultDeps(), out, errOut)
}

func NewRunnerWithDeps(deps Deps, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	defaults := DefaultDeps()
	if deps.Daemon == nil {
		deps.Daemon = defaults.Daemon
	}
	if deps.Store == nil {
		deps.Store = defaults.Store
	}
	if deps.Capabilities == nil {
		deps.Capabilities = defaults.Capabilities
	}
	if deps.Probe == nil {
		deps.Probe = defaults.Probe
	}
	if deps.Home == "" {
		deps.Home = defaults.Home
	}
	return &Runner{deps: deps, out: out, errOut: errOut, logger: logging.Discard()}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	root := r.rootCommand()
	root.SetArgs(args)
	root.SetOut(r.out)
	root.SetErr(r.errOut)
	err := root.ExecuteContext(ctx)
	r.cleanup()
	if err != nil {
		return r.handleErr(err)
	}
	return 0
}

func (r *Runner) rootCommand() *cobra.Command {
	var (
		configPath string
		socket     string
		dbPath     string
		logLevel   string
		debug      bool
	)
	root := &cobra.Command{
		Use:           "agthud",
		Short:         "Reconcile agent sessions with pinned projects and bring them to the front",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if socket != "" {
				cfg.SocketPath = socket
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			logger, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Debug: debug, Out: r.errOut})
			if err != nil {
				return usageError{err: err}
			}
			r.cfg = cfg
			r.logger = logger
			r.closeLog = closeLog
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})
	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/agthud/config.toml)")
	flags.StringVar(&socket, "socket", "", "daemon socket path")
	flags.StringVar(&dbPath, "db", "", "sqlite database path")
	flags.StringVar(&logLevel, "log-level", "", "debug|info|warn|error")
	flags.BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	root.AddCommand(
		r.healthCmd(),
		r.statusCmd(),
		r.watchCmd(),
		r.activateCmd(),
		r.identityCmd(),
		r.projectsCmd(),
		r.strategyCmd(),
		r.historyCmd(),
	)
	return root
}

func (r *Runner) cleanup() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("close store failed", "error", err)
		}
		r.store = nil
	}
	if r.closeLog != nil {
		_ = r.closeLog()
		r.closeLog = nil
	}
}

func (r *Runner) openStore(ctx context.Context) (Store, error) {
	if r.store != nil {
		return r.store, nil
	}
	store, err := r.deps.Store(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.store = store
	return store, nil
}

func (r *Runner) newPoller(ctx context.Context) (*engine.Poller, error) {
	store, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := engine.OptionsFromConfig(r.cfg)
	opts.Probe = r.deps.Probe
	opts.Home = r.deps.Home
	return engine.New(r.deps.Daemon(r.cfg, r.logger), store, nil, opts, r.logger), nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

func rangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min || len(args) > max {
			return usagef("%s expects %d to %d arguments, got %d", cmd.CommandPath(), min, max, len(args))
		}
		return nil
	}
}

func (r *Runner) writeJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// daemonError tags a daemon client failure with its error code.
func daemonError(err error) error {
	switch {
	case errors.Is(err, daemonclient.ErrDisabled):
		return codedError{code: model.ErrDaemonDisabled, err: err}
	case errors.Is(err, daemonclient.ErrTimeout):
		return codedError{code: model.ErrTimeout, err: err}
	case daemonclient.IsTransport(err):
		return codedError{code: model.ErrDaemonUnavailable, err: err}
	default:
		return codedError{code: model.ErrProtocol, err: err}
	}
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}
