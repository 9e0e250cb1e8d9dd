// Package switchctl implements a command line client that joins the
// transport as a proxy for one switch.
package switchctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/larsks/switchsync/internal/cli"
	"github.com/larsks/switchsync/internal/config"
	"github.com/larsks/switchsync/internal/logsetup"
	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/switchsync"
	"github.com/larsks/switchsync/internal/transport"
	"github.com/larsks/switchsync/internal/version"
)

// SessionOpener opens the transport session a command runs on
type SessionOpener func(ctx context.Context, cfg *Config) (transport.Session, error)

// Handler implements the switchctl command handler
type Handler struct {
	config *Config
	open   SessionOpener
	stdout io.Writer

	// Command-specific flags
	count int
}

// NewHandler creates a new switchctl handler
func NewHandler() *Handler {
	return &Handler{
		open: func(ctx context.Context, cfg *Config) (transport.Session, error) {
			return cfg.Transport.Open(ctx, logrus.StandardLogger())
		},
		stdout: os.Stdout,
	}
}

// AddFlags adds command-specific flags
func (h *Handler) AddFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&h.count, "count", "n", 0, "Stop watching after this many changes (0 = unlimited)")
}

// Execute implements the cli.SubCommandHandler interface
func (h *Handler) Execute(cmdArgs *cli.CommandArgs) error {
	switch cmdArgs.Command {
	case "version":
		version.WriteVersion(h.stdout)
		return nil
	case "help":
		h.showHelp()
		return nil
	}

	cfg, ok := cmdArgs.Config.(*Config)
	if !ok {
		return fmt.Errorf("%w: unexpected config type %T", ErrInvalidConfig, cmdArgs.Config)
	}
	h.config = cfg

	if err := logsetup.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	var run func(context.Context, switchsync.Switch) error
	switch cmdArgs.Command {
	case "get":
		run = h.cmdGet
	case "on":
		run = h.setter(switchstate.On)
	case "off":
		run = h.setter(switchstate.Off)
	case "toggle":
		run = h.cmdToggle
	case "watch":
		run = h.cmdWatch
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmdArgs.Command)
	}

	if len(cmdArgs.Args) > 0 {
		return fmt.Errorf("%w: %s takes no arguments", ErrUsage, cmdArgs.Command)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return h.withProxy(ctx, run)
}

func (h *Handler) withProxy(ctx context.Context, run func(context.Context, switchsync.Switch) error) error {
	session, err := h.open(ctx, h.config)
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	defer session.Close() //nolint:errcheck

	proxy, err := switchsync.NewProxy(ctx, switchsync.ProxyConfig{
		Session:      session,
		Path:         h.config.Path,
		QueryTimeout: h.config.QueryTimeout,
	})
	if err != nil {
		return err
	}
	defer proxy.Close() //nolint:errcheck

	return run(ctx, proxy)
}

func (h *Handler) showHelp() {
	fmt.Fprintf(h.stdout, `switchctl - Command line tool for a synchronized switch

Usage: switchctl [flags] <command>

Commands:
  get        Print the current state
  on         Turn the switch on
  off        Turn the switch off
  toggle     Invert the current state
  watch      Print every change of state
  help       Show this help
  version    Show version information

Flags:
  --config string          Config file to use (default "%s")
  --path string            Resource path of the switch (default "%s")
  --transport string       Transport driver (default "mqtt")
  --mqtt.server-url string MQTT broker URL
  --query-timeout duration Limit on a state query
  --wait-timeout duration  Limit on watch (0 = none)
  -n, --count int          Stop watching after this many changes
  -h, --help               Show help
  --version                Show version and exit
`, config.DefaultConfigFile(commandName), defaultPath) //nolint:errcheck
}

func (h *Handler) cmdGet(ctx context.Context, sw switchsync.Switch) error {
	state, err := sw.GetState(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(h.stdout, state) //nolint:errcheck
	return nil
}

func (h *Handler) setter(state switchstate.State) func(context.Context, switchsync.Switch) error {
	return func(ctx context.Context, sw switchsync.Switch) error {
		if err := sw.SetState(ctx, state); err != nil {
			return err
		}
		fmt.Fprintln(h.stdout, state) //nolint:errcheck
		return nil
	}
}

func (h *Handler) cmdToggle(ctx context.Context, sw switchsync.Switch) error {
	state, err := switchsync.Toggle(ctx, sw)
	if err != nil {
		return err
	}
	fmt.Fprintln(h.stdout, state) //nolint:errcheck
	return nil
}

// errWatchDone ends a watch once enough changes were seen
var errWatchDone = errors.New("watch done")

func (h *Handler) cmdWatch(ctx context.Context, sw switchsync.Switch) error {
	if h.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.WaitTimeout)
		defer cancel()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	seen := 0
	err := switchsync.Watch(ctx, sw, func(s switchstate.State) {
		fmt.Fprintln(h.stdout, s) //nolint:errcheck
		seen++
		if h.count > 0 && seen >= h.count {
			cancel(errWatchDone)
		}
	})
	if errors.Is(context.Cause(ctx), errWatchDone) || errors.Is(err, switchsync.ErrTimeout) {
		return nil
	}
	return err
}
