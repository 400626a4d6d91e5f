package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/ClearskyLabs/calsync/config"
	"github.com/ClearskyLabs/calsync/engine"
	"github.com/ClearskyLabs/calsync/hub"
)

// Service is the HTTP surface: the request/response calendar API, the
// diagnostics endpoints, and the websocket upgrade that hands push clients
// to the hub.
type Service struct {
	appCtx context.Context
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine
	hub    *hub.Hub
	mux    *http.ServeMux

	startedAt time.Time

	rateLimiters map[string]*ttlcache.Cache[string, *rate.Limiter]
	wsUpgrader   websocket.Upgrader
}

func New(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	eng *engine.Engine,
	h *hub.Hub,
) *Service {

	rateLimiters := make(map[string]*ttlcache.Cache[string, *rate.Limiter])
	for _, category := range []string{"calendar", "events", "system", "default"} {
		cache := ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](time.Minute*1),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		)
		go cache.Start()
		rateLimiters[category] = cache
	}

	s := &Service{
		appCtx:       ctx,
		cfg:          cfg,
		logger:       logger.WithGroup("service"),
		engine:       eng,
		hub:          h,
		mux:          http.NewServeMux(),
		startedAt:    time.Now(),
		rateLimiters: rateLimiters,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Sessions.WebSocketReadBufferSize,
			WriteBufferSize: cfg.Sessions.WebSocketWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				// Origin policy is an external collaborator; accept all here.
				return true
			},
		},
	}

	s.routes()
	return s
}

func (s *Service) routes() {
	s.mux.Handle("/api/v1/calendar", s.rateLimitMiddleware(http.HandlerFunc(s.calendarHandler), "calendar"))
	s.mux.Handle("/api/v1/sync", s.rateLimitMiddleware(http.HandlerFunc(s.syncHandler), "events"))
	s.mux.Handle("/api/v1/health", s.rateLimitMiddleware(http.HandlerFunc(s.healthHandler), "system"))
	s.mux.Handle("/api/v1/ping", s.rateLimitMiddleware(http.HandlerFunc(s.pingHandler), "system"))
	s.mux.Handle("/api/v1/stats", s.rateLimitMiddleware(http.HandlerFunc(s.statsHandler), "system"))
}

// Handler exposes the route table; tests drive it through httptest.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Run serves until the application context is cancelled.
func (s *Service) Run() error {
	useTLS := s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != ""
	s.logger.Info("Starting server", "listen_addr", s.cfg.HttpBinding, "tls_enabled", useTLS)

	srv := &http.Server{
		Addr:    s.cfg.HttpBinding,
		Handler: s.mux,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown error", "error", err)
		}
	}()

	var err error
	if useTLS {
		err = srv.ListenAndServeTLS(s.cfg.TLS.Cert, s.cfg.TLS.Key)
	} else {
		err = srv.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// syncHandler upgrades the connection and hands it to the hub.
func (s *Service) syncHandler(w http.ResponseWriter, r *http.Request) {
	if s.hub.Size() >= s.cfg.Sessions.MaxConnections {
		s.logger.Warn("Max connections reached, rejecting push client", "active", s.hub.Size())
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	session, err := s.hub.Attach(conn)
	if err != nil {
		s.logger.Warn("Could not register push client", "error", err)
		conn.Close()
		return
	}
	s.logger.Info("Push client connected", "session", session.ID(), "remote_addr", conn.RemoteAddr())
}
