package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/email"
	"inkwell/api/internal/export"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// exporter renders a node subtree into a downloadable artifact.
type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// HTTPServer exposes the service over HTTP.
type HTTPServer struct {
	svc        *Service
	accounts   *authpw.Service
	mail       *email.Service
	exporter   exporter
	corsOrigin string
}

// NewHTTPServer wires the HTTP surface. mail and exp may be nil.
func NewHTTPServer(svc *Service, accounts *authpw.Service, mail *email.Service, exp exporter, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		svc:        svc,
		accounts:   accounts,
		mail:       mail,
		exporter:   exp,
		corsOrigin: corsOrigin,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.route))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (s *HTTPServer) route(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
		return
	}
	parts = parts[1:]

	switch {
	case len(parts) == 1 && parts[0] == "health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case len(parts) == 1 && parts[0] == "ready" && r.Method == http.MethodGet:
		s.handleReady(w, r)

	case len(parts) == 2 && parts[0] == "auth":
		s.routeAuth(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "auth" && parts[1] == "reset-password" && parts[2] == "request" && r.Method == http.MethodPost:
		s.handleResetPasswordRequest(w, r)

	case len(parts) == 1 && parts[0] == "session" && r.Method == http.MethodGet:
		s.handleSessionInfo(w, r)

	case len(parts) == 2 && parts[0] == "session" && parts[1] == "refresh" && r.Method == http.MethodPost:
		s.handleRefresh(w, r)

	case len(parts) == 2 && parts[0] == "session" && parts[1] == "logout" && r.Method == http.MethodPost:
		s.handleLogout(w, r)

	case len(parts) == 1 && parts[0] == "documents":
		switch r.Method {
		case http.MethodGet:
			s.handleListChildren(w, r)
		case http.MethodPost:
			s.handleCreateNode(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		}

	case len(parts) == 2 && parts[0] == "documents":
		switch r.Method {
		case http.MethodGet:
			s.handleGetNode(w, r, parts[1])
		case http.MethodPatch:
			s.handleUpdateNode(w, r, parts[1])
		case http.MethodDelete:
			s.handleDeleteNode(w, r, parts[1])
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		}

	case len(parts) == 3 && parts[0] == "documents" && parts[2] == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, parts[1])

	case len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
	}
}

func (s *HTTPServer) routeAuth(w http.ResponseWriter, r *http.Request, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	switch action {
	case "signup":
		s.handleSignUp(w, r)
	case "signin":
		s.handleSignIn(w, r)
	case "verify-email":
		s.handleVerifyEmail(w, r)
	case "reset-password":
		s.handleResetPassword(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"search": s.svc.SearchStatus(),
	})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	resp, err := s.accounts.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailExists) {
			writeError(w, http.StatusConflict, "CONFLICT", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	if s.mail != nil && s.mail.IsConfigured() {
		if err := s.mail.SendVerificationEmail(body.Email, body.DisplayName, resp.VerificationToken); err != nil {
			log.Printf("app: send verification email: %v", err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":              resp.UserID,
		"requiresEmailVerify": resp.RequiresEmailVerify,
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	resp, err := s.accounts.SignIn(r.Context(), authpw.SignInRequest{Email: body.Email, Password: body.Password})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "email address not verified")
		return
	}

	session, err := s.svc.IssueSession(r.Context(), resp.User)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.accounts.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *HTTPServer) handleResetPasswordRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	token, err := s.accounts.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		mapError(w, err)
		return
	}
	if token != "" && s.mail != nil && s.mail.IsConfigured() {
		if err := s.mail.SendPasswordResetEmail(body.Email, token); err != nil {
			log.Printf("app: send password reset email: %v", err)
		}
	}

	// Same response whether or not the account exists.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.accounts.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      claims.Sub,
		"displayName": claims.Name,
		"expiresAt":   time.Unix(claims.Exp, 0).UTC(),
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "refreshToken is required")
		return
	}
	session, err := s.svc.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	// Body is optional for logout.
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if err := s.svc.Logout(r.Context(), bearerToken(r), body.RefreshToken); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *HTTPServer) handleListChildren(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	nodes, err := s.svc.ListChildren(r.Context(), claims.Sub, r.URL.Query().Get("path"))
	if err != nil {
		mapError(w, err)
		return
	}
	if nodes == nil {
		nodes = []store.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *HTTPServer) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var body CreateNodeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	node, err := s.svc.CreateNode(r.Context(), claims.Sub, body)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *HTTPServer) handleGetNode(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	result, err := s.svc.GetNodeWithAncestors(r.Context(), claims.Sub, id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleUpdateNode(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var body UpdateNodeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	node, err := s.svc.UpdateNode(r.Context(), claims.Sub, id, body)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *HTTPServer) handleDeleteNode(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	count, err := s.svc.DeleteNode(r.Context(), claims.Sub, id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deletedCount": count})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "export is not configured")
		return
	}

	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatPDF
	}

	result, err := s.exporter.Export(r.Context(), export.Request{
		OwnerID: claims.Sub,
		NodeID:  id,
		Format:  format,
	})
	if err != nil {
		switch {
		case errors.Is(err, export.ErrUnsupportedFormat):
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
			writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", err.Error())
		default:
			mapError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	results, total, err := s.svc.Search(r.Context(), search.Query{
		OwnerID:    claims.Sub,
		Text:       q.Get("q"),
		FilterKind: q.Get("type"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, search.Response{Results: results, Total: total, Query: q.Get("q")})
}

// authenticate resolves the bearer token to session claims, writing the
// 401 itself on failure.
func (s *HTTPServer) authenticate(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
		return auth.Claims{}, false
	}
	claims, err := s.svc.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
		return auth.Claims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return false
	}
	return true
}

// mapError translates service errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	var de *DomainError
	switch {
	case errors.As(err, &de):
		writeJSON(w, de.Status, map[string]any{
			"code":    de.Code,
			"error":   de.Message,
			"details": de.Details,
		})
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, store.ErrPathTaken):
		writeError(w, http.StatusConflict, "CONFLICT", "a node with this title already exists here")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
	default:
		log.Printf("app: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) setCORSHeaders(w http.ResponseWriter) {
	origin := s.corsOrigin
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := util.NewID("req")
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)

		s.setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		entry := map[string]any{
			"time":       time.Now().UTC().Format(time.RFC3339),
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).String(),
		}
		line, _ := json.Marshal(entry)
		log.Println(string(line))
	})
}
