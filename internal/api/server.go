// Package api serves a switch over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/larsks/switchsync/internal/httpserver"
	"github.com/larsks/switchsync/internal/switchsync"
)

const (
	defaultListenPort = 8080
)

// Config holds the configuration for the HTTP front end.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	ListenAddress string        `mapstructure:"listen-address"`
	ListenPort    int           `mapstructure:"listen-port"`
	CORSOrigins   []string      `mapstructure:"cors-origins"`
	WaitTimeout   time.Duration `mapstructure:"wait-timeout"`
}

// NewConfig creates a new Config instance with default values.
func NewConfig() Config {
	return Config{
		ListenPort: defaultListenPort,
	}
}

// Defaults returns the loader defaults matching NewConfig, keyed under
// prefix.
func Defaults(prefix string) map[string]any {
	def := NewConfig()
	return map[string]any{
		prefix + ".enabled":        def.Enabled,
		prefix + ".listen-address": def.ListenAddress,
		prefix + ".listen-port":    def.ListenPort,
		prefix + ".wait-timeout":   def.WaitTimeout,
	}
}

// AddFlags adds pflag flags for the configuration, prefixed with prefix.
func (c *Config) AddFlags(fs *pflag.FlagSet, prefix string) {
	fs.BoolVar(&c.Enabled, prefix+".enabled", c.Enabled, "Serve the HTTP API")
	fs.StringVar(&c.ListenAddress, prefix+".listen-address", c.ListenAddress, "Listen address for http server")
	fs.IntVar(&c.ListenPort, prefix+".listen-port", c.ListenPort, "Listen port for http server")
	fs.StringSliceVar(&c.CORSOrigins, prefix+".cors-origins", c.CORSOrigins, "Origins allowed to make cross-site requests")
	fs.DurationVar(&c.WaitTimeout, prefix+".wait-timeout", c.WaitTimeout, "Default limit for /switch/wait (0 = none)")
}

func (c Config) GetListenAddress() string { return c.ListenAddress }
func (c Config) GetListenPort() int       { return c.ListenPort }

// Server exposes one switch over HTTP.
type Server struct {
	config Config
	sw     switchsync.Switch
	router *chi.Mux
	log    logrus.FieldLogger
}

// NewServer creates a Server for sw.
func NewServer(cfg Config, sw switchsync.Switch, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		config: cfg,
		sw:     sw,
		router: chi.NewRouter(),
		log:    logger.WithField("comp", "api"),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
	if len(cfg.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	s.router.Get("/switch", s.switchStatusHandler)
	s.router.With(s.validateJSONRequest, s.validateSwitchRequest).Post("/switch", s.switchHandler)
	s.router.Get("/switch/wait", s.switchWaitHandler)

	return s
}

// Router returns the handler serving the API.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	return httpserver.Serve(ctx, httpserver.Address(s.config), s.router, s.log)
}
