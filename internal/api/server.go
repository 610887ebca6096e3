// ABOUTME: HTTP handlers for the items API consumed by the web front-end
// ABOUTME: Serves public, private and per-user item routes behind bearer authentication

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/2389/platform-engine/internal/auth"
	"github.com/2389/platform-engine/internal/store"
)

// PublicMessage is the body of GET /api/public.
const PublicMessage = "No Authorization need it"

// ListItemsResponse is the JSON response for GET /api/users/{userId}/items.
type ListItemsResponse struct {
	Items []store.Item `json:"items"`
}

// Config configures the API server.
type Config struct {
	Items          store.ItemStore
	Verifier       auth.TokenVerifier
	AllowedOrigins []string // CORS origins; "*" allows any
	AdminRole      string   // realm role allowed to read any user's items
	Logger         *slog.Logger
}

// Server serves the items API.
type Server struct {
	items     store.ItemStore
	verifier  auth.TokenVerifier
	origins   []string
	adminRole string
	logger    *slog.Logger
}

// New creates an API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		items:     cfg.Items,
		verifier:  cfg.Verifier,
		origins:   cfg.AllowedOrigins,
		adminRole: cfg.AdminRole,
		logger:    logger.With("component", "api"),
	}
}

// RegisterRoutes adds the API routes to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	requireAuth := auth.HTTPAuthMiddleware(s.verifier, s.logger)

	mux.HandleFunc("GET /api/public", s.handlePublic)
	mux.Handle("GET /api/private", requireAuth(http.HandlerFunc(s.handlePrivate)))
	mux.Handle("GET /api/users/{userId}/items",
		requireAuth(auth.RequireSubject("userId", s.adminRole)(http.HandlerFunc(s.handleListItems))))
}

// Handler returns the API routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.cors(mux)
}

func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("public route accessed")
	writeJSON(w, http.StatusOK, PublicMessage)
}

func (s *Server) handlePrivate(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	s.logger.Info("private route accessed", "subject", ac.Subject)
	writeJSON(w, http.StatusOK, ac.Claims)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	s.logger.Info("listing items", "user_id", userID)

	list, err := s.items.ListItems(r.Context(), userID)
	if err != nil {
		s.logger.Error("listing items", "user_id", userID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, ListItemsResponse{Items: list})
}

// cors answers preflight requests and sets Access-Control headers for allowed origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if slices.Contains(s.origins, "*") {
		return true
	}
	return slices.ContainsFunc(s.origins, func(o string) bool {
		return strings.EqualFold(strings.TrimRight(o, "/"), origin)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
