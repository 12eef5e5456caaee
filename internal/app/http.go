package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"promptlib/api/internal/gateway"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/policy" {
		writeJSON(w, http.StatusOK, s.service.ClientPolicy())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/secrets/hash" {
		s.handleHashSecret(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/counters/increment" {
		s.handleIncrementCounter(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/modify" {
		s.handleModify(w, r)
		return
	}

	if r.URL.Path == "/api/prompts" {
		switch r.Method {
		case http.MethodGet:
			s.handleListPrompts(w, r)
			return
		case http.MethodPost:
			s.handleCreatePrompt(w, r)
			return
		}
	}

	if parts := splitPath(r.URL.Path); len(parts) >= 3 && parts[0] == "api" && parts[1] == "prompts" {
		promptID := parts[2]
		if len(parts) == 3 && r.Method == http.MethodGet {
			s.handleGetPrompt(w, r, promptID)
			return
		}
		if len(parts) == 4 && parts[3] == "comments" && r.Method == http.MethodPost {
			s.handleCreateComment(w, r, promptID)
			return
		}
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/visitors/hit" {
		s.handleVisitorHit(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/visitors/today" {
		s.handleVisitorToday(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/login" {
		s.handleAdminLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/refresh" {
		s.handleAdminRefresh(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/logout" {
		s.handleAdminLogout(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/stats/visitors" {
		s.handleVisitorStats(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"redis":    map[string]any{"status": "ok"},
	}
	if !s.service.SessionsEnabled() {
		checks["redis"] = map[string]any{"status": "disabled"}
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.service.SessionsEnabled() {
		if err := s.service.PingSessions(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleHashSecret(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Secret string `json:"secret"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	hash, err := s.service.HashSecret(body.Secret)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hash": hash})
}

func (s *HTTPServer) handleIncrementCounter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemID string `json:"itemId"`
		Field  string `json:"field"`
		Delta  int    `json:"delta"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Delta == 0 {
		body.Delta = 1
	}
	value, err := s.service.IncrementCounter(r.Context(), body.ItemID, body.Field, body.Delta)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"newValue": value})
}

func (s *HTTPServer) handleModify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetType string           `json:"targetType"`
		TargetID   string           `json:"targetId"`
		Secret     string           `json:"secret"`
		Operation  string           `json:"operation"`
		Payload    *gateway.Payload `json:"payload"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	// A valid admin bearer token flips the privileged capability flag; the
	// secret (if any) is then ignored rather than verified.
	privileged := s.service.IsAdminToken(bearerToken(r))

	result, err := s.service.Modify(r.Context(), gateway.Request{
		TargetType: body.TargetType,
		TargetID:   body.TargetID,
		Secret:     body.Secret,
		Operation:  body.Operation,
		Payload:    body.Payload,
		Privileged: privileged,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	response := map[string]any{"success": true}
	if result.Prompt != nil {
		response["data"] = result.Prompt
	}
	if result.Comment != nil {
		response["data"] = result.Comment
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListPrompts(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": items})
}

func (s *HTTPServer) handleGetPrompt(w http.ResponseWriter, r *http.Request, promptID string) {
	item, err := s.service.GetPrompt(r.Context(), promptID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string `json:"title"`
		Role        string `json:"role"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Content     string `json:"content"`
		Result      string `json:"result"`
		Tool        string `json:"tool"`
		Author      string `json:"author"`
		Secret      string `json:"secret"`
		SecretHash  string `json:"secretHash"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	item, err := s.service.CreatePrompt(r.Context(), CreatePromptInput{
		Title:       body.Title,
		Role:        body.Role,
		Type:        body.Type,
		Description: body.Description,
		Content:     body.Content,
		Result:      body.Result,
		Tool:        body.Tool,
		Author:      body.Author,
		Secret:      body.Secret,
		SecretHash:  body.SecretHash,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request, promptID string) {
	var body struct {
		Author     string `json:"author"`
		Content    string `json:"content"`
		Secret     string `json:"secret"`
		SecretHash string `json:"secretHash"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	item, err := s.service.CreateComment(r.Context(), CreateCommentInput{
		PromptID:   promptID,
		Author:     body.Author,
		Content:    body.Content,
		Secret:     body.Secret,
		SecretHash: body.SecretHash,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleVisitorHit(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.VisitorHit(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"today": count})
}

func (s *HTTPServer) handleVisitorToday(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.VisitorToday(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"today": count})
}

func (s *HTTPServer) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.AdminLogin(r.Context(), body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.AccessToken,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.AdminRefresh(r.Context(), body.RefreshToken)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.AccessToken,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.AdminLogout(r.Context(), body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleVisitorStats(w http.ResponseWriter, r *http.Request) {
	if !s.service.IsAdminToken(bearerToken(r)) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	days := 7
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 366 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "days must be 1-366", nil)
			return
		}
		days = parsed
	}
	history, err := s.service.VisitorHistory(r.Context(), days)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": history})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
