// Package client is the Go SDK for the prompt library API. It layers the
// client-side duties on top of the HTTP calls: view/like deduplication,
// optimistic counter updates with rollback, and reconciliation of the local
// prompt set against the server's authoritative list.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"promptlib/api/internal/dedup"
	"promptlib/api/internal/gateway"
	"promptlib/api/internal/reconcile"
	"promptlib/api/internal/store"
	"promptlib/api/internal/util"
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Client is safe for concurrent use: the guard and set are mutex-protected
// themselves, and mu guards the pointer swaps LoadPolicy performs.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	guard *dedup.Guard
	set   *reconcile.Set
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		guard:   dedup.NewGuard(dedup.DefaultViewWindow),
		set:     reconcile.NewSet(reconcile.SeedPolicy{}),
	}
}

// LoadPolicy fetches the server's client policy and reconfigures the dedup
// window and seed signature. Guard state carries over so already-counted
// views stay suppressed, and the reconcile set keeps its records and their
// statuses: a policy reload must never turn confirmed records back into
// resubmittable drafts.
func (c *Client) LoadPolicy(ctx context.Context) error {
	var policy struct {
		ViewDedupSeconds int      `json:"viewDedupSeconds"`
		SeedAuthors      []string `json:"seedAuthors"`
		SeedIDPrefix     string   `json:"seedIdPrefix"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/policy", nil, &policy); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if policy.ViewDedupSeconds > 0 {
		state := c.guard.Snapshot()
		c.guard = dedup.NewGuard(time.Duration(policy.ViewDedupSeconds) * time.Second)
		c.guard.Restore(state)
	}

	c.set.SetSeedPolicy(reconcile.SeedPolicy{
		Authors:  policy.SeedAuthors,
		IDPrefix: policy.SeedIDPrefix,
	})
	return nil
}

func (c *Client) currentGuard() *dedup.Guard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guard
}

func (c *Client) currentSet() *reconcile.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

// Load seeds the local set from a cache, e.g. persisted state from a previous
// run. Cached records wait as pending until the next Refresh.
func (c *Client) Load(cached []store.Prompt) {
	c.currentSet().Load(cached)
}

// Prompts returns the current local view, newest first.
func (c *Client) Prompts() []store.Prompt {
	return c.currentSet().List()
}

// Prompt returns one local record and its reconciliation status.
func (c *Client) Prompt(id string) (reconcile.Record, bool) {
	return c.currentSet().Get(id)
}

// Refresh pulls the authoritative prompt list and reconciles the local set
// against it. Local records the server does not know are resubmitted once;
// records matching the seed signature are dropped instead.
func (c *Client) Refresh(ctx context.Context) error {
	var response struct {
		Prompts []store.Prompt `json:"prompts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/prompts", nil, &response); err != nil {
		return err
	}

	for _, orphan := range c.currentSet().Sync(response.Prompts) {
		created, err := c.postPrompt(ctx, promptInput{
			Title:       orphan.Title,
			Role:        orphan.Role,
			Type:        orphan.Type,
			Description: orphan.Description,
			Content:     orphan.Content,
			Result:      orphan.Result,
			Tool:        orphan.Tool,
			Author:      orphan.Author,
		})
		if err != nil {
			// resubmission is one-shot; Sync already dropped the record
			continue
		}
		c.currentSet().ConfirmCreate(orphan.ID, created)
	}
	return nil
}

type promptInput struct {
	Title       string `json:"title"`
	Role        string `json:"role,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	Result      string `json:"result,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Author      string `json:"author"`
	Secret      string `json:"secret,omitempty"`
}

// CreatePromptInput is a new submission. Secret, when set, protects the
// prompt for later edits and deletes.
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
}

// CreatePrompt submits a prompt optimistically: the local set shows it under
// a temporary id immediately, and the record is confirmed or discarded when
// the server answers.
func (c *Client) CreatePrompt(ctx context.Context, input CreatePromptInput) (store.Prompt, error) {
	tempID := util.NewID("tmp")
	now := time.Now()
	c.currentSet().BeginCreate(store.Prompt{
		ID:          tempID,
		Title:       input.Title,
		Role:        input.Role,
		Type:        input.Type,
		Description: input.Description,
		Content:     input.Content,
		Result:      input.Result,
		Tool:        input.Tool,
		Author:      input.Author,
		Comments:    []store.Comment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	})

	created, err := c.postPrompt(ctx, promptInput{
		Title:       input.Title,
		Role:        input.Role,
		Type:        input.Type,
		Description: input.Description,
		Content:     input.Content,
		Result:      input.Result,
		Tool:        input.Tool,
		Author:      input.Author,
		Secret:      input.Secret,
	})
	if err != nil {
		c.currentSet().RejectCreate(tempID)
		return store.Prompt{}, err
	}
	c.currentSet().ConfirmCreate(tempID, created)
	return created, nil
}

func (c *Client) postPrompt(ctx context.Context, input promptInput) (store.Prompt, error) {
	var created store.Prompt
	if err := c.do(ctx, http.MethodPost, "/api/prompts", input, &created); err != nil {
		return store.Prompt{}, err
	}
	return created, nil
}

// RecordView counts one view, at most once per prompt per dedup window. A
// suppressed view is not an error; the current local value comes back either
// way.
func (c *Client) RecordView(ctx context.Context, promptID string) (int, error) {
	if !c.currentGuard().AllowView(promptID) {
		if record, ok := c.currentSet().Get(promptID); ok {
			return record.Prompt.Views, nil
		}
		return 0, nil
	}
	return c.bumpCounter(ctx, promptID, store.FieldViews, 1)
}

// ToggleLike flips this client's like for the prompt. The guard's flag is the
// only source of direction; on failure both the counter and the flag roll
// back.
func (c *Client) ToggleLike(ctx context.Context, promptID string) (int, error) {
	delta := c.currentGuard().ToggleLike(promptID)
	value, err := c.bumpCounter(ctx, promptID, store.FieldLikes, delta)
	if err != nil {
		c.currentGuard().SetLiked(promptID, delta < 0)
		return 0, err
	}
	return value, nil
}

// Liked reports whether this client currently likes the prompt.
func (c *Client) Liked(promptID string) bool {
	return c.currentGuard().Liked(promptID)
}

// CopyPrompt counts one copy-to-clipboard. Copies are never deduplicated.
func (c *Client) CopyPrompt(ctx context.Context, promptID string) (int, error) {
	return c.bumpCounter(ctx, promptID, store.FieldCopyCount, 1)
}

func (c *Client) bumpCounter(ctx context.Context, promptID string, field store.CounterField, delta int) (int, error) {
	_, tracked := c.currentSet().BeginCounter(promptID, field, delta)

	var response struct {
		NewValue int `json:"newValue"`
	}
	err := c.do(ctx, http.MethodPost, "/api/counters/increment", map[string]any{
		"itemId": promptID,
		"field":  string(field),
		"delta":  delta,
	}, &response)
	if err != nil {
		if tracked {
			c.currentSet().Rollback(promptID)
		}
		return 0, err
	}
	if tracked {
		c.currentSet().ConfirmCounter(promptID, field, response.NewValue)
	}
	return response.NewValue, nil
}

// AddComment submits a comment and folds the server's copy into the local
// record.
func (c *Client) AddComment(ctx context.Context, promptID, author, content, secret string) (store.Comment, error) {
	var created store.Comment
	err := c.do(ctx, http.MethodPost, "/api/prompts/"+promptID+"/comments", map[string]string{
		"author":  author,
		"content": content,
		"secret":  secret,
	}, &created)
	if err != nil {
		return store.Comment{}, err
	}
	c.currentSet().ConfirmComment(created)
	return created, nil
}

// UpdatePrompt sends a secret-gated update and applies the authoritative
// result locally.
func (c *Client) UpdatePrompt(ctx context.Context, promptID, secret string, payload gateway.Payload) (store.Prompt, error) {
	var response struct {
		Success bool         `json:"success"`
		Data    store.Prompt `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, "/api/modify", map[string]any{
		"targetType": gateway.TargetPrompt,
		"targetId":   promptID,
		"secret":     secret,
		"operation":  gateway.OpUpdate,
		"payload":    payload,
	}, &response)
	if err != nil {
		return store.Prompt{}, err
	}
	c.currentSet().ConfirmUpdate(response.Data)
	return response.Data, nil
}

// DeletePrompt sends a secret-gated delete and drops the local record on
// success.
func (c *Client) DeletePrompt(ctx context.Context, promptID, secret string) error {
	err := c.do(ctx, http.MethodPost, "/api/modify", map[string]any{
		"targetType": gateway.TargetPrompt,
		"targetId":   promptID,
		"secret":     secret,
		"operation":  gateway.OpDelete,
	}, nil)
	if err != nil {
		return err
	}
	c.currentSet().ConfirmDelete(promptID)
	c.currentGuard().Forget(promptID)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "SERVER_ERROR"}
		var envelope struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			if envelope.Code != "" {
				apiErr.Code = envelope.Code
			}
			apiErr.Message = envelope.Error
		}
		return apiErr
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
