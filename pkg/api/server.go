// Package api exposes the HTTP surface: the broker authorization endpoints
// consumed by the MQTT auth plugin, and a small REST API for clients to
// fetch their channel grants and delegated credential.
package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/emstrack/mqttgate/pkg/acl"
	"github.com/emstrack/mqttgate/pkg/events"
	"github.com/emstrack/mqttgate/pkg/identity"
	"github.com/emstrack/mqttgate/pkg/observability"
	"github.com/emstrack/mqttgate/pkg/store"
	"github.com/emstrack/mqttgate/pkg/token"
)

// ProfileStore assembles channel grant summaries. *store.Store satisfies it.
type ProfileStore interface {
	Profile(ctx context.Context, username string) (*store.Profile, error)
}

// Server wires the HTTP handlers. Construct it with NewServer.
type Server struct {
	router     *mux.Router
	gateway    *identity.Gateway
	engine     *acl.Engine
	grants     acl.GrantStore
	profiles   ProfileStore
	tokens     *token.Manager
	dispatcher *events.Dispatcher
	db         *sql.DB
	log        *observability.Logger
	metrics    *observability.Metrics
}

// Deps carries the collaborators of the server.
type Deps struct {
	Gateway    *identity.Gateway
	Engine     *acl.Engine
	Grants     acl.GrantStore
	Profiles   ProfileStore
	Tokens     *token.Manager
	Dispatcher *events.Dispatcher

	// DB is pinged by the health endpoint; nil skips the ping.
	DB *sql.DB

	Log     *observability.Logger
	Metrics *observability.Metrics
}

// NewServer creates the server and registers all routes.
func NewServer(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Server{
		router:     mux.NewRouter(),
		gateway:    deps.Gateway,
		engine:     deps.Engine,
		grants:     deps.Grants,
		profiles:   deps.Profiles,
		tokens:     deps.Tokens,
		dispatcher: deps.Dispatcher,
		db:         deps.DB,
		log:        deps.Log,
		metrics:    deps.Metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	// Broker auth plugin endpoints. These answer 200 or 403, nothing else.
	s.router.Handle("/auth/mqtt/login",
		s.instrument("/auth/mqtt/login", http.HandlerFunc(s.mqttLogin))).Methods("POST")
	s.router.Handle("/auth/mqtt/superuser",
		s.instrument("/auth/mqtt/superuser", http.HandlerFunc(s.mqttSuperuser))).Methods("POST")
	s.router.Handle("/auth/mqtt/acl",
		s.instrument("/auth/mqtt/acl", http.HandlerFunc(s.mqttACL))).Methods("POST")

	// Client-facing REST surface, HTTP basic auth.
	s.router.Handle("/api/user/{username}/profile",
		s.instrument("/api/user/{username}/profile", s.requireUser(http.HandlerFunc(s.getProfile)))).Methods("GET")
	s.router.Handle("/api/user/{username}/password",
		s.instrument("/api/user/{username}/password", s.requireUser(http.HandlerFunc(s.getPassword)))).Methods("GET")
	s.router.Handle("/api/events",
		s.instrument("/api/events", s.requireUser(http.HandlerFunc(s.postEvent)))).Methods("POST")

	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// instrument wraps a handler with request metrics when enabled.
func (s *Server) instrument(path string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return s.metrics.Middleware(path, next)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// healthz reports process and database health.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			s.log.WithError(err).Error("health check database ping failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
