// Package server is the reference HTTP transport for a statesync app.
//
// It serves a bootstrap page, creates sessions over POST /api/init and
// streams events and state diffs over a websocket at /api/stream:
//
//	app := statesync.NewApp(cfg, initial, tree)
//	srv, err := server.New(app, cfg)
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/pthm/statesync"
	"github.com/pthm/statesync/lib/encoding"
)

// SessionCookie is the cookie carrying the sealed session token.
const SessionCookie = "statesync_session"

const shutdownTimeout = 5 * time.Second

// Server serves one app.
type Server struct {
	app      *statesync.App
	cfg      *statesync.Config
	logger   *slog.Logger
	sealer   *encoding.Sealer
	router   *chi.Mux
	upgrader websocket.Upgrader
}

// New returns a server for app. A nil cfg uses the app's configuration.
func New(app *statesync.App, cfg *statesync.Config) (*Server, error) {
	if cfg == nil {
		cfg = app.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		app:    app,
		cfg:    cfg,
		logger: logger.With("component", "server"),
	}
	if cfg.SessionKey != "" {
		sealer, err := encoding.NewSealer([]byte(cfg.SessionKey))
		if err != nil {
			return nil, fmt.Errorf("%w: session key: %v", statesync.ErrConfiguration, err)
		}
		s.sealer = sealer
	}
	s.upgrader = websocket.Upgrader{
		Subprotocols: []string{encoding.MsgpackSubprotocol},
		CheckOrigin:  s.checkOrigin,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/", s.handlePage)
	r.Route("/api", func(r chi.Router) {
		r.Post("/init", s.handleInit)
		r.Get("/stream", s.handleStream)
	})
	s.router = r

	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on the configured address and prunes idle sessions until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pruneEvery(ctx, s.cfg.PruneInterval())

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Listen, "mode", s.cfg.Mode)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) pruneEvery(ctx context.Context, d time.Duration) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.app.Sessions.Prune()
		}
	}
}

// checkOrigin allows any origin in run mode. Edit mode only accepts local
// origins unless remote edit is enabled.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.Mode != statesync.ModeEdit || s.cfg.EnableRemoteEdit {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Hostname() == "localhost" {
		return true
	}
	ip := net.ParseIP(u.Hostname())
	return ip != nil && ip.IsLoopback()
}

// requestMaps flattens cookies and headers. Header names are lower-cased.
func requestMaps(r *http.Request) (cookies, headers map[string]string) {
	cookies = make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	headers = make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}
	return cookies, headers
}
