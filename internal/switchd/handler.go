// Package switchd runs one switch participant as a long-lived process.
package switchd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/larsks/switchsync/internal/api"
	"github.com/larsks/switchsync/internal/cli"
	"github.com/larsks/switchsync/internal/logsetup"
	"github.com/larsks/switchsync/internal/output"
	_ "github.com/larsks/switchsync/internal/output/gpiocdev"
	_ "github.com/larsks/switchsync/internal/output/periph"
	_ "github.com/larsks/switchsync/internal/output/piface"
	_ "github.com/larsks/switchsync/internal/output/tasmota"
	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/switchsync"
	"github.com/larsks/switchsync/internal/transport"
)

// Participant is a running switch plus the resources it owns.
type Participant struct {
	switchsync.Switch

	Role   string
	output output.Output
	closer func() error
}

// Close stops the switch and releases its output.
func (p *Participant) Close() error {
	var errs []error
	if p.closer != nil {
		errs = append(errs, p.closer())
	}
	if p.output != nil {
		errs = append(errs, p.output.Close())
	}
	return errors.Join(errs...)
}

// NewParticipant creates the switch described by cfg on session.
func NewParticipant(ctx context.Context, cfg *Config, session transport.Session, logger logrus.FieldLogger) (*Participant, error) {
	switch cfg.Role {
	case RoleProxy:
		proxy, err := switchsync.NewProxy(ctx, switchsync.ProxyConfig{
			Session:      session,
			Path:         cfg.Path,
			QueryTimeout: cfg.QueryTimeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSwitchCreate, err)
		}
		return &Participant{Switch: proxy, Role: cfg.Role, closer: proxy.Close}, nil

	case RoleAuthority:
		var out output.Output
		highState := switchstate.On
		if cfg.Output.Driver != "" {
			var err error
			if highState, err = cfg.HighState(); err != nil {
				return nil, err
			}
			if out, err = output.Create(cfg.Output.Driver, cfg.outputOptions()); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrOutputCreate, err)
			}
		}

		authority, err := switchsync.NewAuthority(ctx, switchsync.AuthorityConfig{
			Session:   session,
			Path:      cfg.Path,
			Output:    out,
			HighState: highState,
			Logger:    logger,
		})
		if err != nil {
			if out != nil {
				out.Close() //nolint:errcheck
			}
			return nil, fmt.Errorf("%w: %v", ErrSwitchCreate, err)
		}
		return &Participant{Switch: authority, Role: cfg.Role, output: out, closer: authority.Close}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, cfg.Role)
	}
}

// Run connects, starts the participant and serves until ctx ends.
func Run(ctx context.Context, cfg *Config) error {
	if err := logsetup.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	logger := logrus.StandardLogger().WithField("role", cfg.Role)

	session, err := cfg.Transport.Open(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	defer session.Close() //nolint:errcheck

	participant, err := NewParticipant(ctx, cfg, session, logger)
	if err != nil {
		return err
	}
	defer participant.Close() //nolint:errcheck

	logger.Infof("running %s for %s over %s", cfg.Role, cfg.Path, cfg.Transport.Driver)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- switchsync.Watch(ctx, participant, func(s switchstate.State) {
			logger.WithField("path", cfg.Path).Infof("switch changed to %s", s)
		})
	}()

	var runErr error
	if cfg.API.Enabled {
		runErr = api.NewServer(cfg.API, participant, logger).Start(ctx)
		cancel()
	} else {
		<-ctx.Done()
	}

	if err := <-watchErr; err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Handler implements cli.CommandHandler for switchd.
type Handler struct{}

// NewHandler creates a new switchd command handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Start runs switchd until it receives SIGINT or SIGTERM.
func (h *Handler) Start(config cli.Configurable) error {
	cfg, ok := config.(*Config)
	if !ok {
		return fmt.Errorf("%w: unexpected config type %T", ErrInvalidConfig, config)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return Run(ctx, cfg)
}
