package gateway

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"promptlib/api/internal/store"
)

type fakeStore struct {
	getPromptSecretHashFn  func(context.Context, string) (string, error)
	getCommentSecretHashFn func(context.Context, string) (string, error)
	updatePromptFn         func(context.Context, string, store.PromptUpdate) (store.Prompt, error)
	updateCommentFn        func(context.Context, string, *string, *string) (store.Comment, error)
	deletePromptFn         func(context.Context, string) error
	deleteCommentFn        func(context.Context, string) error
}

func (f *fakeStore) GetPromptSecretHash(ctx context.Context, id string) (string, error) {
	if f.getPromptSecretHashFn != nil {
		return f.getPromptSecretHashFn(ctx, id)
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) GetCommentSecretHash(ctx context.Context, id string) (string, error) {
	if f.getCommentSecretHashFn != nil {
		return f.getCommentSecretHashFn(ctx, id)
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) UpdatePromptContent(ctx context.Context, id string, update store.PromptUpdate) (store.Prompt, error) {
	if f.updatePromptFn != nil {
		return f.updatePromptFn(ctx, id, update)
	}
	return store.Prompt{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateCommentContent(ctx context.Context, id string, author, content *string) (store.Comment, error) {
	if f.updateCommentFn != nil {
		return f.updateCommentFn(ctx, id, author, content)
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) DeletePrompt(ctx context.Context, id string) error {
	if f.deletePromptFn != nil {
		return f.deletePromptFn(ctx, id)
	}
	return sql.ErrNoRows
}

func (f *fakeStore) DeleteComment(ctx context.Context, id string) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, id)
	}
	return sql.ErrNoRows
}

// fakeGate accepts exactly one secret and records dummy comparisons.
type fakeGate struct {
	accepts     string
	verifyCalls int
	dummyCalls  int
}

func (g *fakeGate) Verify(secret, hash string) bool {
	g.verifyCalls++
	return secret == g.accepts && hash != ""
}

func (g *fakeGate) VerifyDummy(string) {
	g.dummyCalls++
}

func strPtr(s string) *string { return &s }

func TestMutateUpdateWithCorrectSecret(t *testing.T) {
	var gotUpdate store.PromptUpdate
	fake := &fakeStore{
		getPromptSecretHashFn: func(context.Context, string) (string, error) {
			return "stored-hash", nil
		},
		updatePromptFn: func(_ context.Context, id string, update store.PromptUpdate) (store.Prompt, error) {
			gotUpdate = update
			return store.Prompt{ID: id, Title: *update.Title}, nil
		},
	}
	gate := &fakeGate{accepts: "open sesame"}
	svc := NewService(fake, gate)

	result, err := svc.Mutate(context.Background(), Request{
		TargetType: TargetPrompt,
		TargetID:   "p1",
		Secret:     "open sesame",
		Operation:  OpUpdate,
		Payload:    &Payload{Title: strPtr("new title")},
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if result.Prompt == nil || result.Prompt.Title != "new title" {
		t.Errorf("expected updated prompt in result, got %+v", result)
	}
	if gotUpdate.Content != nil {
		t.Error("unset payload fields must stay nil")
	}
}

func TestMutateWrongSecretRejected(t *testing.T) {
	deleted := false
	fake := &fakeStore{
		getPromptSecretHashFn: func(context.Context, string) (string, error) {
			return "stored-hash", nil
		},
		deletePromptFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}
	svc := NewService(fake, &fakeGate{accepts: "right"})

	_, err := svc.Mutate(context.Background(), Request{
		TargetType: TargetPrompt,
		TargetID:   "p1",
		Secret:     "wrong",
		Operation:  OpDelete,
	})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if deleted {
		t.Error("no mutation may be applied after a failed verification")
	}
}

func TestMutateMissingTargetIndistinguishableFromWrongSecret(t *testing.T) {
	existing := &fakeStore{
		getPromptSecretHashFn: func(context.Context, string) (string, error) {
			return "stored-hash", nil
		},
	}
	missing := &fakeStore{}
	gateMissing := &fakeGate{accepts: "right"}

	_, errWrongSecret := NewService(existing, &fakeGate{accepts: "right"}).Mutate(context.Background(), Request{
		TargetType: TargetPrompt, TargetID: "p1", Secret: "wrong", Operation: OpDelete,
	})
	_, errMissing := NewService(missing, gateMissing).Mutate(context.Background(), Request{
		TargetType: TargetPrompt, TargetID: "absent", Secret: "wrong", Operation: OpDelete,
	})

	if !errors.Is(errWrongSecret, ErrRejected) || !errors.Is(errMissing, ErrRejected) {
		t.Fatalf("expected ErrRejected for both, got %v and %v", errWrongSecret, errMissing)
	}
	if errWrongSecret.Error() != errMissing.Error() {
		t.Errorf("rejections must be identical: %q vs %q", errWrongSecret, errMissing)
	}
	if gateMissing.dummyCalls != 1 {
		t.Errorf("expected one dummy comparison on the miss path, got %d", gateMissing.dummyCalls)
	}
}

func TestMutateUnprotectedTargetRequiresPrivilege(t *testing.T) {
	fake := &fakeStore{
		getPromptSecretHashFn: func(context.Context, string) (string, error) {
			return "", nil // exists, no secret set
		},
		deletePromptFn: func(context.Context, string) error { return nil },
	}
	svc := NewService(fake, &fakeGate{accepts: "anything"})

	_, err := svc.Mutate(context.Background(), Request{
		TargetType: TargetPrompt,
		TargetID:   "p1",
		Secret:     "anything",
		Operation:  OpDelete,
	})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected without privilege, got %v", err)
	}

	_, err = svc.Mutate(context.Background(), Request{
		TargetType: TargetPrompt,
		TargetID:   "p1",
		Operation:  OpDelete,
		Privileged: true,
	})
	if err != nil {
		t.Fatalf("expected privileged delete to succeed, got %v", err)
	}
}

func TestMutatePrivilegedSkipsSecretGate(t *testing.T) {
	fake := &fakeStore{
		getPromptSecretHashFn: func(context.Context, string) (string, error) {
			return "stored-hash", nil
		},
		deletePromptFn: func(context.Context, string) error { return nil },
	}
	gate := &fakeGate{accepts: "never-provided"}
	svc := NewService(fake, gate)

	_, err := svc.Mutate(context.Background(), Request{
		TargetType: TargetPrompt,
		TargetID:   "p1",
		Operation:  OpDelete,
		Privileged: true,
	})
	if err != nil {
		t.Fatalf("privileged Mutate failed: %v", err)
	}
	if gate.verifyCalls != 0 {
		t.Errorf("privileged path must not verify secrets, got %d calls", gate.verifyCalls)
	}
}

func TestMutatePrivilegedMissingTargetIsNotFound(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeGate{})

	_, err := svc.Mutate(context.Background(), Request{
		TargetType: TargetPrompt,
		TargetID:   "absent",
		Operation:  OpDelete,
		Privileged: true,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on privileged path, got %v", err)
	}
}

func TestMutateCommentUpdate(t *testing.T) {
	fake := &fakeStore{
		getCommentSecretHashFn: func(context.Context, string) (string, error) {
			return "stored-hash", nil
		},
		updateCommentFn: func(_ context.Context, id string, author, content *string) (store.Comment, error) {
			return store.Comment{ID: id, Content: *content}, nil
		},
	}
	svc := NewService(fake, &fakeGate{accepts: "comment secret"})

	result, err := svc.Mutate(context.Background(), Request{
		TargetType: TargetComment,
		TargetID:   "c1",
		Secret:     "comment secret",
		Operation:  OpUpdate,
		Payload:    &Payload{Content: strPtr("edited")},
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if result.Comment == nil || result.Comment.Content != "edited" {
		t.Errorf("expected updated comment in result, got %+v", result)
	}
}

func TestMutateValidation(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeGate{})

	cases := []Request{
		{TargetType: "document", TargetID: "x", Secret: "s", Operation: OpDelete},
		{TargetType: TargetPrompt, TargetID: "x", Secret: "s", Operation: "merge"},
		{TargetType: TargetPrompt, Secret: "s", Operation: OpDelete},
		{TargetType: TargetPrompt, TargetID: "x", Secret: "s", Operation: OpUpdate}, // no payload
		{TargetType: TargetPrompt, TargetID: "x", Operation: OpDelete},              // no secret, not privileged
	}
	for i, req := range cases {
		if _, err := svc.Mutate(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestMutateStorageFailure(t *testing.T) {
	fake := &fakeStore{
		getPromptSecretHashFn: func(context.Context, string) (string, error) {
			return "", errors.New("connection reset")
		},
	}
	svc := NewService(fake, &fakeGate{})

	_, err := svc.Mutate(context.Background(), Request{
		TargetType: TargetPrompt,
		TargetID:   "p1",
		Secret:     "s",
		Operation:  OpDelete,
	})
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}
