package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uolems/internal/auth"
	"uolems/internal/console"
	"uolems/internal/docstore"
	"uolems/internal/identity"
	"uolems/internal/model"
	"uolems/internal/session"
	"uolems/internal/sessionstore"
)

// statusClientClosed is the non-standard status used when the caller went
// away before the attempt finished.
const statusClientClosed = 499

type Server struct {
	sessions *session.Service
	issuer   *auth.Issuer
	consoles *console.Registry
	logger   *slog.Logger
}

func NewServer(sessions *session.Service, issuer *auth.Issuer, consoles *console.Registry, logger *slog.Logger) *Server {
	return &Server{
		sessions: sessions,
		issuer:   issuer,
		consoles: consoles,
		logger:   logger.With(slog.String("component", "http")),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observe(s.logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/federated", s.handleFederated)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireAdmin)
		r.Get("/me", s.handleAdminMe)
		r.Get("/events", s.handleEvents)
		r.Get("/ticker", s.handleTicker)
		r.Get("/students", s.handleStudents)
		r.Post("/students/{uid}/manager", s.handleToggleManager)
	})

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	State       session.State     `json:"state"`
	Route       session.Route     `json:"route"`
	Role        model.Role        `json:"role"`
	Message     string            `json:"message,omitempty"`
	Severity    session.Severity  `json:"severity,omitempty"`
	Preferences model.Preferences `json:"preferences"`
	AccessToken string            `json:"accessToken,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	out, err := s.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(out))
}

func (s *Server) handleFederated(w http.ResponseWriter, r *http.Request) {
	var cred identity.Credential
	if err := decodeJSON(r, &cred); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	out, err := s.sessions.FederatedLogin(r.Context(), cred)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(out))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := s.sessions.Logout(r.Context(), claims.UID, claims.SessionID()); err != nil {
		s.logger.Warn("logout incomplete", slog.String("uid", claims.UID), slog.String("error", err.Error()))
	}
	s.consoles.Drop(claims.UID)
	w.WriteHeader(http.StatusNoContent)
}

type adminMeResponse struct {
	console.Details
	Preferences model.Preferences `json:"preferences"`
}

func (s *Server) handleAdminMe(w http.ResponseWriter, r *http.Request) {
	c, ok := s.console(w, r)
	if !ok {
		return
	}
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, adminMeResponse{Details: c.Details(), Preferences: sess.Preferences})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.console(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, c.Events(console.ParseMainFilter(q.Get("filter")), console.ParseTimeFilter(q.Get("time"))))
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	c, ok := s.console(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Ticker())
}

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.console(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"students": c.Students()})
}

type toggleRequest struct {
	Current bool   `json:"current"`
	Name    string `json:"name"`
}

func (s *Server) handleToggleManager(w http.ResponseWriter, r *http.Request) {
	c, ok := s.console(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	uid := chi.URLParam(r, "uid")
	n, err := c.Toggle(r.Context(), uid, req.Current, req.Name)
	switch {
	case errors.Is(err, console.ErrStudentNotFound):
		writeError(w, http.StatusNotFound, "student_not_found", "Student not found")
	case errors.Is(err, console.ErrClosed):
		writeError(w, http.StatusConflict, "console_closed", "Console closed, retry")
	case errors.Is(err, console.ErrStreamFailed):
		writeError(w, http.StatusServiceUnavailable, "console_unavailable", "Live updates failed, reload the dashboard")
	case errors.Is(err, docstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, n)
	case err != nil:
		s.logger.Error("manager toggle failed", slog.String("uid", uid), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, n)
	default:
		writeJSON(w, http.StatusOK, n)
	}
}

func (s *Server) console(w http.ResponseWriter, r *http.Request) (*console.Console, bool) {
	claims := claimsFromContext(r.Context())
	c, err := s.consoles.Get(r.Context(), claims.UID)
	if err != nil {
		if r.Context().Err() != nil {
			writeError(w, statusClientClosed, session.CodeAbandoned, "Request cancelled")
			return nil, false
		}
		s.logger.Error("open console failed", slog.String("uid", claims.UID), slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "console_unavailable", "Could not load dashboard")
		return nil, false
	}
	return c, true
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "Missing bearer token")
			return
		}

		claims, sess, err := s.issuer.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = context.WithValue(ctx, sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || claims.Role != string(model.RoleAdmin) {
			writeError(w, http.StatusForbidden, "admin_only", "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type claimsKey struct{}

type sessionKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func sessionFromContext(ctx context.Context) sessionstore.Session {
	sess, _ := ctx.Value(sessionKey{}).(sessionstore.Session)
	return sess
}

func toLoginResponse(out session.Outcome) loginResponse {
	return loginResponse{
		State:       out.State,
		Route:       out.Route,
		Role:        out.Role,
		Message:     out.Message,
		Severity:    out.Severity,
		Preferences: out.Preferences,
		AccessToken: out.AccessToken,
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	var serr *session.Error
	if !errors.As(err, &serr) {
		writeError(w, http.StatusInternalServerError, "internal", "Login failed")
		return
	}
	status := http.StatusInternalServerError
	switch serr.Kind {
	case session.KindValidation:
		status = http.StatusBadRequest
	case session.KindProvider:
		status = http.StatusUnauthorized
	case session.KindDomain:
		status = http.StatusForbidden
	case session.KindStore:
		status = http.StatusServiceUnavailable
	case session.KindAbandoned:
		status = statusClientClosed
	}
	payload := map[string]string{"error": serr.Code, "message": serr.Message}
	if serr.Severity != "" {
		payload["severity"] = string(serr.Severity)
	}
	if serr.State != "" {
		payload["state"] = string(serr.State)
	}
	writeJSON(w, status, payload)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
