// Package api provides the HTTP API for starting and following analyses.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/kamilpajak/diffscope/internal/analysis"
	"github.com/kamilpajak/diffscope/internal/auth"
	"github.com/kamilpajak/diffscope/internal/database"
	"github.com/kamilpajak/diffscope/internal/store"
	"github.com/kamilpajak/diffscope/internal/web"
)

// SessionHeader carries the session key for unauthenticated clients.
const SessionHeader = "X-Session-ID"

// DocumentLister lists reference documents in a folder.
type DocumentLister interface {
	List(folder string) ([]string, error)
}

// History reads archived analyses.
type History interface {
	ListRecentAnalyses(ctx context.Context, limit int) ([]database.Analysis, error)
}

// Server is the API server.
type Server struct {
	svc          *analysis.Service
	documents    DocumentLister
	history      History
	store        store.Store
	docsFolder   string
	authVerifier *auth.Verifier
	limiter      *sessionLimiter
	mux          *http.ServeMux
	handler      http.Handler
}

// Config holds API server configuration.
type Config struct {
	Service   *analysis.Service
	Documents DocumentLister
	// History is nil when no archive is configured.
	History History
	Store   store.Store
	// DocsFolder is used when neither the request nor the session names one.
	DocsFolder string
	// AuthVerifier, when set, makes every /api route require a bearer token.
	AuthVerifier   *auth.Verifier
	AllowedOrigins []string
	RatePerMinute  float64
	Burst          int
}

// LocalOrigins are the browser origins allowed when none are configured.
var LocalOrigins = []string{
	"http://localhost", "http://localhost:*",
	"http://127.0.0.1", "http://127.0.0.1:*",
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		svc:          cfg.Service,
		documents:    cfg.Documents,
		history:      cfg.History,
		store:        cfg.Store,
		docsFolder:   cfg.DocsFolder,
		authVerifier: cfg.AuthVerifier,
		limiter:      newSessionLimiter(cfg.RatePerMinute, cfg.Burst),
		mux:          http.NewServeMux(),
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = LocalOrigins
	}
	s.registerRoutes()
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", SessionHeader},
		MaxAge:         300,
	})(s.mux)
	return s
}

func (s *Server) registerRoutes() {
	// Public endpoints
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/analyses", s.protect(s.handleStartAnalysis))
	s.mux.HandleFunc("GET /api/analyses/{id}", s.protect(s.handleGetStatus))
	s.mux.HandleFunc("GET /api/analyses/{id}/events", s.protect(web.EventsHandler(eventSource{s.svc})))
	s.mux.HandleFunc("GET /api/analyses/{id}/content", s.protect(s.handleGetContent))
	s.mux.HandleFunc("GET /api/documents", s.protect(s.handleListDocuments))
	s.mux.HandleFunc("GET /api/history", s.protect(s.handleHistory))
}

// protect applies bearer-token auth when a verifier is configured.
func (s *Server) protect(handler http.HandlerFunc) http.HandlerFunc {
	if s.authVerifier == nil {
		return handler
	}
	middleware := auth.Middleware(s.authVerifier)
	return func(w http.ResponseWriter, r *http.Request) {
		middleware(handler).ServeHTTP(w, r)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionKey identifies the caller: the token subject when authenticated,
// otherwise the session header.
func sessionKey(r *http.Request) string {
	if sub := auth.Subject(r.Context()); sub != "" {
		return sub
	}
	if key := r.Header.Get(SessionHeader); key != "" {
		return key
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
