// Package gateway gates every content mutation behind the secret gate. It is
// the only caller of the store's secret-hash accessors.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"promptlib/api/internal/store"
)

const (
	TargetPrompt  = "prompt"
	TargetComment = "comment"

	OpUpdate = "update"
	OpDelete = "delete"
)

var (
	// ErrRejected is the single answer for a wrong secret, a missing target,
	// or an unprotected target hit without the privileged flag. One error for
	// all three keeps the response from leaking which case occurred.
	ErrRejected = errors.New("mutation rejected")

	// ErrNotFound is only surfaced on the privileged path, where existence
	// hiding buys nothing.
	ErrNotFound = errors.New("target not found")

	// ErrStorage indicates a retryable storage failure.
	ErrStorage = errors.New("mutation storage unavailable")

	// ErrInvalidRequest indicates a malformed request, reported before any
	// lookup happens.
	ErrInvalidRequest = errors.New("invalid mutation request")
)

// Store is the storage surface the gateway needs.
type Store interface {
	GetPromptSecretHash(ctx context.Context, promptID string) (string, error)
	GetCommentSecretHash(ctx context.Context, commentID string) (string, error)
	UpdatePromptContent(ctx context.Context, promptID string, update store.PromptUpdate) (store.Prompt, error)
	UpdateCommentContent(ctx context.Context, commentID string, author, content *string) (store.Comment, error)
	DeletePrompt(ctx context.Context, promptID string) error
	DeleteComment(ctx context.Context, commentID string) error
}

// SecretGate verifies claimed secrets against stored hashes.
type SecretGate interface {
	Verify(secret, hash string) bool
	VerifyDummy(secret string)
}

// Payload carries the content fields an update may change. Only these fields:
// counters and secret hashes are not updatable through any payload.
type Payload struct {
	Title       *string `json:"title,omitempty"`
	Role        *string `json:"role,omitempty"`
	Type        *string `json:"type,omitempty"`
	Description *string `json:"description,omitempty"`
	Content     *string `json:"content,omitempty"`
	Result      *string `json:"result,omitempty"`
	Tool        *string `json:"tool,omitempty"`
	Author      *string `json:"author,omitempty"`
}

// Request is one mutation attempt. Privileged is set by the admin surface
// after its own authentication; it replaces the secret check entirely.
type Request struct {
	TargetType string
	TargetID   string
	Secret     string
	Operation  string
	Payload    *Payload
	Privileged bool
}

// Result carries the post-mutation record for updates; both fields are nil
// after a delete.
type Result struct {
	Prompt  *store.Prompt  `json:"prompt,omitempty"`
	Comment *store.Comment `json:"comment,omitempty"`
}

type Service struct {
	store Store
	gate  SecretGate
}

func NewService(itemStore Store, gate SecretGate) *Service {
	return &Service{store: itemStore, gate: gate}
}

// Mutate verifies the claimed secret and applies the operation. The rejection
// path performs a dummy hash comparison when the target is missing so a miss
// and a wrong secret cost the same.
func (s *Service) Mutate(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	hash, err := s.lookupHash(ctx, req)
	if errors.Is(err, sql.ErrNoRows) {
		if req.Privileged {
			return Result{}, ErrNotFound
		}
		s.gate.VerifyDummy(req.Secret)
		return Result{}, ErrRejected
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if !req.Privileged {
		if hash == "" {
			// Unprotected targets belong to the privileged path only.
			s.gate.VerifyDummy(req.Secret)
			return Result{}, ErrRejected
		}
		if !s.gate.Verify(req.Secret, hash) {
			return Result{}, ErrRejected
		}
	}

	return s.apply(ctx, req)
}

func (s *Service) lookupHash(ctx context.Context, req Request) (string, error) {
	if req.TargetType == TargetPrompt {
		return s.store.GetPromptSecretHash(ctx, req.TargetID)
	}
	return s.store.GetCommentSecretHash(ctx, req.TargetID)
}

func (s *Service) apply(ctx context.Context, req Request) (Result, error) {
	switch {
	case req.TargetType == TargetPrompt && req.Operation == OpUpdate:
		item, err := s.store.UpdatePromptContent(ctx, req.TargetID, promptUpdate(req.Payload))
		if err != nil {
			return Result{}, s.mapApplyError(req, err)
		}
		return Result{Prompt: &item}, nil
	case req.TargetType == TargetPrompt && req.Operation == OpDelete:
		if err := s.store.DeletePrompt(ctx, req.TargetID); err != nil {
			return Result{}, s.mapApplyError(req, err)
		}
		return Result{}, nil
	case req.TargetType == TargetComment && req.Operation == OpUpdate:
		item, err := s.store.UpdateCommentContent(ctx, req.TargetID, req.Payload.Author, req.Payload.Content)
		if err != nil {
			return Result{}, s.mapApplyError(req, err)
		}
		return Result{Comment: &item}, nil
	default:
		if err := s.store.DeleteComment(ctx, req.TargetID); err != nil {
			return Result{}, s.mapApplyError(req, err)
		}
		return Result{}, nil
	}
}

// mapApplyError covers the race where the target vanished between the hash
// lookup and the operation.
func (s *Service) mapApplyError(req Request, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		if req.Privileged {
			return ErrNotFound
		}
		return ErrRejected
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func validate(req Request) error {
	if req.TargetType != TargetPrompt && req.TargetType != TargetComment {
		return fmt.Errorf("%w: unknown target type %q", ErrInvalidRequest, req.TargetType)
	}
	if req.Operation != OpUpdate && req.Operation != OpDelete {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, req.Operation)
	}
	if req.TargetID == "" {
		return fmt.Errorf("%w: target id required", ErrInvalidRequest)
	}
	if req.Operation == OpUpdate && req.Payload == nil {
		return fmt.Errorf("%w: update requires a payload", ErrInvalidRequest)
	}
	if !req.Privileged && req.Secret == "" {
		return fmt.Errorf("%w: secret required", ErrInvalidRequest)
	}
	return nil
}

func promptUpdate(payload *Payload) store.PromptUpdate {
	return store.PromptUpdate{
		Title:       payload.Title,
		Role:        payload.Role,
		Type:        payload.Type,
		Description: payload.Description,
		Content:     payload.Content,
		Result:      payload.Result,
		Tool:        payload.Tool,
		Author:      payload.Author,
	}
}
