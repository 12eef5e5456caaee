package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"promptlib/api/internal/auth"
	"promptlib/api/internal/config"
	"promptlib/api/internal/counter"
	"promptlib/api/internal/gateway"
	"promptlib/api/internal/store"
	"promptlib/api/internal/visitors"
)

// Store is the read/create surface the service needs. Counter writes and
// gated mutations go through their own services, never through here.
type Store interface {
	ListPrompts(ctx context.Context) ([]store.Prompt, error)
	GetPrompt(ctx context.Context, promptID string) (store.Prompt, error)
	InsertPrompt(ctx context.Context, input store.NewPrompt) (store.Prompt, error)
	InsertComment(ctx context.Context, input store.NewComment) (store.Comment, error)
	Ping(ctx context.Context) error
}

// SecretGate hashes and verifies mutation secrets.
type SecretGate interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// Counters is the atomic counter service.
type Counters interface {
	Increment(ctx context.Context, promptID, field string, delta int) (int, error)
}

// Mutations is the secret-gated mutation service.
type Mutations interface {
	Mutate(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// SessionStore keeps admin refresh sessions.
type SessionStore interface {
	Save(ctx context.Context, tokenHash, subject string, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (string, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// VisitorCounter tallies daily site visits.
type VisitorCounter interface {
	Hit(ctx context.Context) (int64, error)
	Today(ctx context.Context) (int64, error)
	History(ctx context.Context, days int) ([]visitors.DayCount, error)
}

type Service struct {
	cfg      config.Config
	store    Store
	gate     SecretGate
	counters Counters
	gateway  Mutations
	sessions SessionStore
	visitors VisitorCounter
	logger   *zap.Logger
}

func New(cfg config.Config, dataStore Store, gate SecretGate, counters Counters, mutations Mutations, sessions SessionStore, visitors VisitorCounter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		gate:     gate,
		counters: counters,
		gateway:  mutations,
		sessions: sessions,
		visitors: visitors,
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Ping(ctx)
}

// SessionsEnabled reports whether a session store is wired in. Readiness
// distinguishes "redis down" from "redis not configured".
func (s *Service) SessionsEnabled() bool {
	return s.sessions != nil
}

// Policy is the client-side configuration the server publishes: the view
// dedup window and the seed-record signature, both product policy rather
// than protocol.
type Policy struct {
	ViewDedupSeconds int      `json:"viewDedupSeconds"`
	SeedAuthors      []string `json:"seedAuthors"`
	SeedIDPrefix     string   `json:"seedIdPrefix"`
}

func (s *Service) ClientPolicy() Policy {
	authors := s.cfg.SeedAuthors
	if authors == nil {
		authors = []string{}
	}
	return Policy{
		ViewDedupSeconds: int(s.cfg.ViewDedupWindow / time.Second),
		SeedAuthors:      authors,
		SeedIDPrefix:     s.cfg.SeedIDPrefix,
	}
}

func (s *Service) ListPrompts(ctx context.Context) ([]store.Prompt, error) {
	items, err := s.store.ListPrompts(ctx)
	if err != nil {
		s.logger.Error("list prompts", zap.Error(err))
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
	return items, nil
}

func (s *Service) GetPrompt(ctx context.Context, promptID string) (store.Prompt, error) {
	item, err := s.store.GetPrompt(ctx, promptID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Prompt{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if err != nil {
		s.logger.Error("get prompt", zap.Error(err))
		return store.Prompt{}, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
	return item, nil
}

// CreatePromptInput is a submission. Secret and SecretHash are alternatives:
// a raw secret is hashed here, a pre-hashed value (from the hash-secret
// endpoint) is stored as-is. Both empty means the prompt is unprotected.
type CreatePromptInput struct {
	Title       string
	Role        string
	Type        string
	Description string
	Content     string
	Result      string
	Tool        string
	Author      string
	Secret      string
	SecretHash  string
}

func (s *Service) CreatePrompt(ctx context.Context, input CreatePromptInput) (store.Prompt, error) {
	if err := validatePromptInput(input); err != nil {
		return store.Prompt{}, err
	}

	secretHash, err := s.resolveSecretHash(input.Secret, input.SecretHash)
	if err != nil {
		return store.Prompt{}, err
	}

	item, err := s.store.InsertPrompt(ctx, store.NewPrompt{
		Title:       strings.TrimSpace(input.Title),
		Role:        strings.TrimSpace(input.Role),
		Type:        strings.TrimSpace(input.Type),
		Description: strings.TrimSpace(input.Description),
		Content:     input.Content,
		Result:      input.Result,
		Tool:        strings.TrimSpace(input.Tool),
		Author:      strings.TrimSpace(input.Author),
		SecretHash:  secretHash,
	})
	if err != nil {
		s.logger.Error("create prompt", zap.Error(err))
		return store.Prompt{}, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
	return item, nil
}

// CreateCommentInput is a comment submission, secret semantics as for prompts.
type CreateCommentInput struct {
	PromptID   string
	Author     string
	Content    string
	Secret     string
	SecretHash string
}

func (s *Service) CreateComment(ctx context.Context, input CreateCommentInput) (store.Comment, error) {
	if strings.TrimSpace(input.Author) == "" || strings.TrimSpace(input.Content) == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "author and content are required", nil)
	}

	secretHash, err := s.resolveSecretHash(input.Secret, input.SecretHash)
	if err != nil {
		return store.Comment{}, err
	}

	item, err := s.store.InsertComment(ctx, store.NewComment{
		PromptID:   input.PromptID,
		Author:     strings.TrimSpace(input.Author),
		Content:    input.Content,
		SecretHash: secretHash,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if err != nil {
		s.logger.Error("create comment", zap.Error(err))
		return store.Comment{}, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
	return item, nil
}

// resolveSecretHash enforces the hashing contract: a raw secret must hash
// successfully or the whole creation aborts; nothing weaker is ever stored.
func (s *Service) resolveSecretHash(secret, secretHash string) (string, error) {
	if secret != "" && secretHash != "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "provide either secret or secretHash, not both", nil)
	}
	if secret == "" {
		return secretHash, nil
	}
	hash, err := s.gate.Hash(secret)
	if err != nil {
		s.logger.Error("hash secret", zap.Error(err))
		return "", domainError(http.StatusUnprocessableEntity, "HASHING_FAILED", "Could not secure the provided secret", nil)
	}
	return hash, nil
}

// HashSecret backs the hash-secret contract: callers store the hash and
// discard the raw secret.
func (s *Service) HashSecret(secret string) (string, error) {
	hash, err := s.gate.Hash(secret)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "HASHING_FAILED", "Could not secure the provided secret", nil)
	}
	return hash, nil
}

// IncrementCounter forwards to the counter service and maps its sentinels to
// the wire error codes.
func (s *Service) IncrementCounter(ctx context.Context, promptID, field string, delta int) (int, error) {
	value, err := s.counters.Increment(ctx, promptID, field, delta)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, counter.ErrNotFound):
		return 0, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, counter.ErrUnknownField), errors.Is(err, counter.ErrInvalidDelta):
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	default:
		s.logger.Error("increment counter", zap.String("field", field), zap.Error(err))
		return 0, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
}

// rejectionMessage is shared by the wrong-secret and unknown-target cases so
// the response body cannot reveal which one happened.
const rejectionMessage = "Invalid secret or unknown target"

// Modify runs a secret-gated mutation. privileged comes from a verified admin
// token and replaces the secret check.
func (s *Service) Modify(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	result, err := s.gateway.Mutate(ctx, req)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, gateway.ErrRejected):
		return gateway.Result{}, domainError(http.StatusForbidden, "FORBIDDEN", rejectionMessage, nil)
	case errors.Is(err, gateway.ErrNotFound):
		return gateway.Result{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, gateway.ErrInvalidRequest):
		return gateway.Result{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	default:
		s.logger.Error("modify", zap.String("targetType", req.TargetType), zap.Error(err))
		return gateway.Result{}, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
}

// AdminSession is an authenticated admin's token pair.
type AdminSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

const adminSubject = "admin"

// AdminLogin verifies the configured admin password server-side and issues a
// token pair. The old client compared this password in the browser; that
// comparison now happens only here, through the secret gate.
func (s *Service) AdminLogin(ctx context.Context, password string) (AdminSession, error) {
	if s.cfg.AdminPasswordHash == "" || s.sessions == nil {
		return AdminSession{}, domainError(http.StatusServiceUnavailable, "ADMIN_UNAVAILABLE", "Admin access not configured", nil)
	}
	if !s.gate.Verify(password, s.cfg.AdminPasswordHash) {
		return AdminSession{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid password", nil)
	}
	return s.issueAdminSession(ctx)
}

// AdminRefresh rotates a refresh token and issues a fresh access token.
func (s *Service) AdminRefresh(ctx context.Context, refreshToken string) (AdminSession, error) {
	if s.sessions == nil {
		return AdminSession{}, domainError(http.StatusServiceUnavailable, "ADMIN_UNAVAILABLE", "Admin access not configured", nil)
	}
	tokenHash := auth.HashToken(refreshToken)
	subject, err := s.sessions.Lookup(ctx, tokenHash)
	if err != nil || subject != adminSubject {
		return AdminSession{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		s.logger.Warn("revoke rotated refresh token", zap.Error(err))
	}
	return s.issueAdminSession(ctx)
}

// AdminLogout revokes the refresh session.
func (s *Service) AdminLogout(ctx context.Context, refreshToken string) error {
	if s.sessions == nil || refreshToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueAdminSession(ctx context.Context) (AdminSession, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	accessToken, err := auth.IssueToken([]byte(s.cfg.JWTSecret), adminSubject, newJTI(), s.cfg.AccessTTL)
	if err != nil {
		s.logger.Error("issue admin token", zap.Error(err))
		return AdminSession{}, domainError(http.StatusInternalServerError, "SERVER_ERROR", "Could not create session", nil)
	}
	refreshToken, err := generateToken()
	if err != nil {
		return AdminSession{}, domainError(http.StatusInternalServerError, "SERVER_ERROR", "Could not create session", nil)
	}
	if err := s.sessions.Save(ctx, auth.HashToken(refreshToken), adminSubject, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		s.logger.Error("save refresh session", zap.Error(err))
		return AdminSession{}, domainError(http.StatusInternalServerError, "SERVER_ERROR", "Could not create session", nil)
	}
	return AdminSession{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// IsAdminToken reports whether token is a valid admin access token. A false
// return never distinguishes expired from forged.
func (s *Service) IsAdminToken(token string) bool {
	if token == "" {
		return false
	}
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return false
	}
	return claims.Subject == adminSubject
}

// VisitorHit records one site visit and returns today's total.
func (s *Service) VisitorHit(ctx context.Context) (int64, error) {
	if s.visitors == nil {
		return 0, domainError(http.StatusServiceUnavailable, "STATS_UNAVAILABLE", "Visitor stats not configured", nil)
	}
	count, err := s.visitors.Hit(ctx)
	if err != nil {
		s.logger.Error("visitor hit", zap.Error(err))
		return 0, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
	return count, nil
}

// VisitorToday returns today's visit count without recording one.
func (s *Service) VisitorToday(ctx context.Context) (int64, error) {
	if s.visitors == nil {
		return 0, domainError(http.StatusServiceUnavailable, "STATS_UNAVAILABLE", "Visitor stats not configured", nil)
	}
	count, err := s.visitors.Today(ctx)
	if err != nil {
		s.logger.Error("visitor today", zap.Error(err))
		return 0, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
	return count, nil
}

// VisitorHistory returns per-day visit counts for the admin dashboard.
func (s *Service) VisitorHistory(ctx context.Context, days int) ([]visitors.DayCount, error) {
	if s.visitors == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STATS_UNAVAILABLE", "Visitor stats not configured", nil)
	}
	history, err := s.visitors.History(ctx, days)
	if err != nil {
		s.logger.Error("visitor history", zap.Error(err))
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_ERROR", "Storage unavailable", nil)
	}
	return history, nil
}

func validatePromptInput(input CreatePromptInput) error {
	title := strings.TrimSpace(input.Title)
	if len(title) < 3 || len(title) > 200 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title must be 3-200 characters", nil)
	}
	if len(strings.TrimSpace(input.Content)) < 10 || len(input.Content) > 10000 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content must be 10-10000 characters", nil)
	}
	if strings.TrimSpace(input.Author) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "author is required", nil)
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func newJTI() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
