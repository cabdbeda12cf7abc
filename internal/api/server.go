package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/metabinary-ltd/drivewatch/internal/config"
	"github.com/metabinary-ltd/drivewatch/internal/health"
	"github.com/metabinary-ltd/drivewatch/internal/metrics"
	"github.com/metabinary-ltd/drivewatch/internal/startup"
	"github.com/metabinary-ltd/drivewatch/internal/types"
)

type DeviceInspector interface {
	ListDevices(ctx context.Context) ([]types.Blockdevice, error)
	ListDisks(ctx context.Context) ([]types.Blockdevice, error)
	ListDiskIDs() ([]types.DiskID, error)
	ResolveDiskID(id string) (string, error)
}

type SmartReader interface {
	ReadSmart(ctx context.Context, drive string) (types.Smart, error)
}

type AlertSource interface {
	FetchAlerts(ctx context.Context) ([]types.Alert, error)
	Ping(ctx context.Context) bool
}

// Deps are the inspection components the handlers dispatch to. Alerts is
// nil when the TrueNAS feed is not configured.
type Deps struct {
	Devices DeviceInspector
	Smart   SmartReader
	Alerts  AlertSource
	Health  health.Provider
	Metrics *metrics.Metrics
}

type Server struct {
	cfg       config.APIConfig
	caps      startup.Capabilities
	logger    zerolog.Logger
	srv       *http.Server
	router    chi.Router
	deps      Deps
	authToken string
}

func NewServer(cfg config.APIConfig, caps startup.Capabilities, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		caps:      caps,
		logger:    logger.With().Str("component", "api").Logger(),
		deps:      deps,
		authToken: strings.TrimSpace(cfg.AuthToken),
	}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return context.Background()
		},
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.logger))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/ping", s.handlePing)
		r.Get("/services", s.handleServices)
		r.Get("/devices", s.handleDevices)
		r.Get("/disks", s.handleDisks)
		r.Get("/disk-ids", s.handleDiskIDs)
		r.Get("/smart/by-id/{id}", s.handleSmartByID)
		r.Get("/smart/{name}", s.handleSmart)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/summary", s.handleSummary)
	})
	return r
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("starting api server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down. It may be called before or concurrently with
// Start; a Start that follows Stop returns immediately.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("stopping api server")
	return s.srv.Shutdown(ctx)
}

func accessLog(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http")
		})
	}
}
