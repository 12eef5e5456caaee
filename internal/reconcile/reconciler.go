// Package reconcile holds the client-visible prompt set and is the single
// seam between optimistic local state and server truth. Local values are
// advisory; whatever the server confirms overwrites them.
package reconcile

import (
	"sort"
	"strings"
	"sync"

	"promptlib/api/internal/store"
)

// Status is the lifecycle of one locally held record.
type Status string

const (
	StatusLocalOptimistic Status = "local-optimistic"
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusRejected        Status = "rejected"
	StatusRolledBack      Status = "rolled-back"
)

// SeedPolicy describes how to recognize seed/sample records in a stale local
// cache. Both knobs are product policy and configurable; empty means nothing
// matches.
type SeedPolicy struct {
	Authors  []string
	IDPrefix string
}

func (p SeedPolicy) Matches(prompt store.Prompt) bool {
	if p.IDPrefix != "" && strings.HasPrefix(prompt.ID, p.IDPrefix) {
		return true
	}
	for _, author := range p.Authors {
		if strings.EqualFold(strings.TrimSpace(author), strings.TrimSpace(prompt.Author)) {
			return true
		}
	}
	return false
}

// Record pairs a prompt with its reconciliation status. prev holds the
// pre-action copy needed to roll an optimistic change back.
type Record struct {
	Prompt store.Prompt
	Status Status
	prev   *store.Prompt
}

// Set is the reconciled collection. Safe for concurrent use.
type Set struct {
	mu      sync.Mutex
	records map[string]*Record
	seed    SeedPolicy
}

func NewSet(seed SeedPolicy) *Set {
	return &Set{
		records: make(map[string]*Record),
		seed:    seed,
	}
}

// SetSeedPolicy swaps the seed signature without touching the records. A
// policy reload must not demote confirmed records, or the next Sync would
// resubmit server-deleted prompts as if they were unsaved drafts.
func (s *Set) SetSeedPolicy(seed SeedPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = seed
}

// Load seeds the set from a previously cached local copy. Cached records stay
// advisory (local-optimistic) until Sync resolves them against the
// authoritative set.
func (s *Set) Load(cached []store.Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prompt := range cached {
		s.records[prompt.ID] = &Record{Prompt: prompt, Status: StatusLocalOptimistic}
	}
}

// Sync resolves the set against a freshly fetched authoritative list. The
// authoritative set always wins. Local-only records are dropped when they
// match the seed signature; the rest are removed from the set and returned
// exactly once so the caller may offer them for re-submission. They are never
// silently re-displayed as if persisted.
func (s *Set) Sync(authoritative []store.Prompt) []store.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string]bool, len(authoritative))
	for _, prompt := range authoritative {
		fresh[prompt.ID] = true
		s.records[prompt.ID] = &Record{Prompt: prompt, Status: StatusConfirmed}
	}

	var resubmit []store.Prompt
	for id, record := range s.records {
		if fresh[id] {
			continue
		}
		delete(s.records, id)
		if s.seed.Matches(record.Prompt) {
			continue
		}
		if record.Status == StatusLocalOptimistic {
			resubmit = append(resubmit, record.Prompt)
		}
	}
	sort.Slice(resubmit, func(i, j int) bool {
		return resubmit[i].CreatedAt.Before(resubmit[j].CreatedAt)
	})
	return resubmit
}

// List returns the current records, newest first, excluding anything whose
// optimistic action was rejected and rolled back to nonexistence.
func (s *Set) List() []store.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]store.Prompt, 0, len(s.records))
	for _, record := range s.records {
		items = append(items, record.Prompt)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

// Get returns the record for id if present.
func (s *Set) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// BeginCreate registers an optimistic record under a temporary id and marks
// it pending.
func (s *Set) BeginCreate(prompt store.Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[prompt.ID] = &Record{Prompt: prompt, Status: StatusPending}
}

// ConfirmCreate swaps the temporary record for the server's authoritative
// one. The server copy replaces the optimistic fields wholesale.
func (s *Set) ConfirmCreate(tempID string, authoritative store.Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, tempID)
	s.records[authoritative.ID] = &Record{Prompt: authoritative, Status: StatusConfirmed}
}

// RejectCreate removes a pending optimistic record after the server refused
// it; the UI reverts to the record not existing.
func (s *Set) RejectCreate(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, tempID)
}

// BeginCounter applies delta locally, snapshotting the pre-action record for
// rollback, and marks the record pending. Returns the optimistic value.
func (s *Set) BeginCounter(id string, field store.CounterField, delta int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return 0, false
	}
	if record.prev == nil {
		snapshot := record.Prompt
		record.prev = &snapshot
	}
	next := counterValue(record.Prompt, field) + delta
	if next < 0 {
		next = 0
	}
	setCounter(&record.Prompt, field, next)
	record.Status = StatusPending
	return next, true
}

// ConfirmCounter overwrites the local counter with the authoritative value.
// Overwrite, never add: the optimistic delta is already reflected server-side.
func (s *Set) ConfirmCounter(id string, field store.CounterField, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return
	}
	setCounter(&record.Prompt, field, value)
	record.Status = StatusConfirmed
	record.prev = nil
}

// Rollback reverts the record to its pre-action snapshot after a rejection or
// a storage failure. The last-known authoritative value is displayed again.
func (s *Set) Rollback(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return
	}
	record.Status = StatusRejected
	if record.prev != nil {
		record.Prompt = *record.prev
		record.prev = nil
	}
	record.Status = StatusRolledBack
}

// ConfirmUpdate replaces a record's fields with a server-confirmed copy,
// preserving comments the server response does not carry.
func (s *Set) ConfirmUpdate(authoritative store.Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[authoritative.ID]
	if !ok {
		s.records[authoritative.ID] = &Record{Prompt: authoritative, Status: StatusConfirmed}
		return
	}
	if authoritative.Comments == nil {
		authoritative.Comments = record.Prompt.Comments
	}
	record.Prompt = authoritative
	record.Status = StatusConfirmed
	record.prev = nil
}

// ConfirmDelete drops the record after the server confirmed the delete.
func (s *Set) ConfirmDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// ConfirmComment appends a server-confirmed comment to its prompt.
func (s *Set) ConfirmComment(comment store.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[comment.PromptID]
	if !ok {
		return
	}
	record.Prompt.Comments = append(record.Prompt.Comments, comment)
}

func counterValue(prompt store.Prompt, field store.CounterField) int {
	switch field {
	case store.FieldViews:
		return prompt.Views
	case store.FieldLikes:
		return prompt.Likes
	default:
		return prompt.CopyCount
	}
}

func setCounter(prompt *store.Prompt, field store.CounterField, value int) {
	switch field {
	case store.FieldViews:
		prompt.Views = value
	case store.FieldLikes:
		prompt.Likes = value
	default:
		prompt.CopyCount = value
	}
}
