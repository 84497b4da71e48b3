// Package proxy wires the HTTP surface (C9) to the codec, session store,
// upstream dispatcher, classifier, rewriters, and short-URL table. The
// Config/New/registerRoutes shape follows the teacher's internal/proxy
// server (server.go), generalized from OMS-serving options to the
// rewrite-and-relay pipeline of spec.md §4.9.
package proxy

import (
	"log"
	"net/http"
	"time"

	"relayproxy/internal/proxyconfig"
	"relayproxy/internal/session"
	"relayproxy/internal/shorturl"
	"relayproxy/internal/upstream"
)

// Config describes server wiring and runtime behavior.
type Config struct {
	Proxy  proxyconfig.Config
	Logger *log.Logger
	Clock  func() time.Time
}

// DefaultConfig loads configuration from the environment, the same
// pattern as the teacher's DefaultConfig.
func DefaultConfig() Config {
	return Config{
		Proxy:  proxyconfig.Load(),
		Logger: log.Default(),
		Clock:  time.Now,
	}
}

// Server exposes the HTTP handlers implementing the rewrite-and-relay
// proxy.
type Server struct {
	cfg        Config
	mux        *http.ServeMux
	handler    http.Handler
	logger     *log.Logger
	clock      func() time.Time
	sessions   *session.Store
	dispatcher *upstream.Dispatcher
	shortURLs  *shorturl.Table
}

// New wires a new proxy server with the provided configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	sessions := session.NewStore(cfg.Proxy.SessionTTL, cfg.Clock)
	sessions.StartSweeper(5 * time.Minute)

	shortURLs := shorturl.NewTable(shorturl.DefaultTTL, cfg.Clock)
	shortURLs.StartSweeper(10 * time.Minute)

	dispatcher := upstream.NewDispatcher(upstream.Config{
		ProxyHost:    cfg.Proxy.ProxyHost,
		ProxyPort:    cfg.Proxy.ProxyPort,
		BaseUser:     cfg.Proxy.ProxyBaseUser,
		Password:     cfg.Proxy.ProxyPassword,
		Zone:         cfg.Proxy.ProxyZone,
		Region:       cfg.Proxy.ProxyRegion,
		SessTimeMins: cfg.Proxy.ProxySessTime,
	})

	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		sessions:   sessions,
		dispatcher: dispatcher,
		shortURLs:  shortURLs,
	}
	s.registerRoutes()
	s.handler = withLogging(s.logger, !cfg.Proxy.ProductionMode, cfg.Proxy.SessionCookie, s.mux)
	return s
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the session store's background sweeper; the short-URL
// table's sweeper started in New is not stopped. Not required by spec.md
// §5 ("graceful shutdown... exits immediately").
func (s *Server) Close() {
	s.sessions.Stop()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/sw.js", s.handleServiceWorker)
	s.mux.HandleFunc("/assets/", s.handleAssets)
	s.mux.HandleFunc("/p/", s.handleShortPath)
	s.mux.HandleFunc("/api/proxy", s.handleAPIProxy)
	s.mux.HandleFunc("/api/session", s.handleAPISession)
	s.mux.HandleFunc("/api/status", s.handleAPIStatus)
	s.mux.HandleFunc("/api/health", s.handleAPIHealth)
	s.mux.HandleFunc("/api/shorten", s.handleAPIShorten)
	s.mux.HandleFunc("/api/url-stats", s.handleAPIURLStats)
	s.mux.HandleFunc("/api/click-beacon", s.handleAPIClickBeacon)
	s.mux.HandleFunc("/hcdn-cgi/", s.handleHCDNForward)
}
