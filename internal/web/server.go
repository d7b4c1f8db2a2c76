// ABOUTME: HTTP server assembly and lifecycle: routes, listeners, graceful shutdown
// ABOUTME: Serves over plain TCP or an optional tsnet (Tailscale) node

package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/fernwood/notegate/internal/allowlist"
	"github.com/fernwood/notegate/internal/config"
	"github.com/fernwood/notegate/internal/gate"
	"github.com/fernwood/notegate/internal/loginflow"
	"github.com/fernwood/notegate/internal/ratelimit"
	"github.com/fernwood/notegate/internal/session"
	"github.com/fernwood/notegate/internal/store"
)

// Server wires every component into one HTTP surface.
type Server struct {
	config      *config.Config
	store       *store.SQLiteStore
	authority   *session.Authority
	flows       *loginflow.Controller
	resolver    *allowlist.Resolver
	limiter     *ratelimit.Limiter
	production  bool
	baseURL     string
	logger      *slog.Logger
	templates   map[string]*template.Template
	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New assembles the server. limiter may be nil when no counter service
// is configured.
func New(cfg *config.Config, st *store.SQLiteStore, authority *session.Authority, flows *loginflow.Controller, resolver *allowlist.Resolver, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	s := &Server{
		config:     cfg,
		store:      st,
		authority:  authority,
		flows:      flows,
		resolver:   resolver,
		limiter:    limiter,
		production: cfg.Auth.Environment.Production(),
		baseURL:    cfg.Auth.BaseURL,
		logger:     logger.With("component", "web"),
		templates:  parseTemplates(),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the full route tree: static assets outside the gate,
// everything else behind it.
func (s *Server) Handler() http.Handler {
	app := http.NewServeMux()

	// Public pages and APIs
	app.HandleFunc("GET /login", s.handleLoginPage)
	app.HandleFunc("GET /unauthorized", s.handleUnauthorizedPage)
	app.HandleFunc("POST /api/validate-email", s.handleValidateEmail)
	app.HandleFunc("POST /api/auth/flow/start", s.handleFlowStart)
	app.HandleFunc("POST /api/auth/flow/email", s.handleFlowEmail)
	app.HandleFunc("POST /api/auth/flow/change-email", s.handleFlowChangeEmail)
	app.HandleFunc("POST /api/auth/register/begin", s.handleRegisterBegin)
	app.HandleFunc("POST /api/auth/register/finish", s.handleRegisterFinish)
	app.HandleFunc("POST /api/auth/login/begin", s.handleLoginBegin)
	app.HandleFunc("POST /api/auth/login/finish", s.handleLoginFinish)
	app.HandleFunc("POST /api/auth/logout", s.handleLogout)

	// Protected notes app
	app.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/notes", http.StatusSeeOther)
	})
	app.HandleFunc("GET /notes", s.requireUser(s.handleNotesList))
	app.HandleFunc("GET /notes/new", s.requireUser(s.handleNoteNew))
	app.HandleFunc("POST /notes/new", s.requireUser(s.handleNoteCreate))
	app.HandleFunc("GET /notes/{id}", s.requireUser(s.handleNoteView))
	app.HandleFunc("GET /notes/{id}/edit", s.requireUser(s.handleNoteEdit))
	app.HandleFunc("POST /notes/{id}/edit", s.requireUser(s.handleNoteUpdate))
	app.HandleFunc("POST /notes/{id}/delete", s.requireUser(s.handleNoteDelete))

	gated := gate.Middleware(s.logger, app)

	// Static assets bypass the gate entirely.
	staticRoot, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("static assets missing from binary: %v", err))
	}

	root := http.NewServeMux()
	root.Handle("/static/", http.StripPrefix("/static/", http.FileServerFS(staticRoot)))
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.Handle("/", gated)
	return root
}

// handleHealth reports liveness plus a store ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		s.logger.Error("health check store ping failed", "error", err)
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-errCh:
		s.logger.Error("server error", "error", serveErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is
// already canceled by the time we get here.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if s.tsnetServer != nil {
		if closeErr := s.tsnetServer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	s.flows.Close()
	s.authority.Close()
	return err
}

func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		return s.setupTailscaleListener(ctx)
	}

	s.logger.Info("starting server", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, with a default
// under the user's home.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "notegate", "tsnet"), nil
}

func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and returns the
// listener the HTTP server should serve on.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.setupTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// setupTailscaleTLSListener serves HTTPS with Tailscale's
// auto-provisioned certificates.
func (s *Server) setupTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
