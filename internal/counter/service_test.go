package counter

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"promptlib/api/internal/store"
)

// atomicFakeStore mirrors the storage contract: the increment is indivisible
// and clamps at zero, like the SQL primitive it stands in for.
type atomicFakeStore struct {
	mu       sync.Mutex
	counters map[string]map[store.CounterField]int
	calls    int
	failWith error
}

func newAtomicFakeStore() *atomicFakeStore {
	return &atomicFakeStore{counters: make(map[string]map[store.CounterField]int)}
}

func (f *atomicFakeStore) seed(promptID string, field store.CounterField, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counters[promptID] == nil {
		f.counters[promptID] = make(map[store.CounterField]int)
	}
	f.counters[promptID][field] = value
}

func (f *atomicFakeStore) IncrementCounter(_ context.Context, promptID string, field store.CounterField, delta int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return 0, f.failWith
	}
	fields, ok := f.counters[promptID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	next := fields[field] + delta
	if next < 0 {
		next = 0
	}
	fields[field] = next
	return next, nil
}

func TestIncrementReturnsAuthoritativeValue(t *testing.T) {
	fake := newAtomicFakeStore()
	fake.seed("p1", store.FieldViews, 41)
	svc := NewService(fake)

	value, err := svc.Increment(context.Background(), "p1", "views", 1)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if value != 42 {
		t.Errorf("expected 42, got %d", value)
	}
}

func TestConcurrentIncrementsSumExactly(t *testing.T) {
	fake := newAtomicFakeStore()
	fake.seed("p1", store.FieldViews, 100)
	svc := NewService(fake)

	const workers = 64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.Increment(context.Background(), "p1", "views", 1); err != nil {
				t.Errorf("Increment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	final, err := svc.Increment(context.Background(), "p1", "views", 1)
	if err != nil {
		t.Fatalf("final Increment failed: %v", err)
	}
	if final != 100+workers+1 {
		t.Errorf("expected %d after %d concurrent increments, got %d", 100+workers+1, workers, final)
	}
}

func TestLikesClampAtZero(t *testing.T) {
	fake := newAtomicFakeStore()
	fake.seed("p1", store.FieldLikes, 1)
	svc := NewService(fake)

	value, err := svc.Increment(context.Background(), "p1", "likes", -1)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if value != 0 {
		t.Errorf("expected 0, got %d", value)
	}

	value, err = svc.Increment(context.Background(), "p1", "likes", -1)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if value != 0 {
		t.Errorf("expected clamp at 0, got %d", value)
	}
}

func TestLikeToggleSequence(t *testing.T) {
	fake := newAtomicFakeStore()
	fake.seed("p1", store.FieldLikes, 5)
	svc := NewService(fake)

	steps := []struct {
		delta int
		want  int
	}{
		{+1, 6},
		{-1, 5},
		{+1, 6},
	}
	for i, step := range steps {
		value, err := svc.Increment(context.Background(), "p1", "likes", step.delta)
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		if value != step.want {
			t.Errorf("step %d: expected %d, got %d", i, step.want, value)
		}
	}
}

func TestIncrementRejectsDecrementOnViews(t *testing.T) {
	fake := newAtomicFakeStore()
	fake.seed("p1", store.FieldViews, 3)
	svc := NewService(fake)

	_, err := svc.Increment(context.Background(), "p1", "views", -1)
	if !errors.Is(err, ErrInvalidDelta) {
		t.Errorf("expected ErrInvalidDelta, got %v", err)
	}
	_, err = svc.Increment(context.Background(), "p1", "copyCount", 2)
	if !errors.Is(err, ErrInvalidDelta) {
		t.Errorf("expected ErrInvalidDelta for delta 2, got %v", err)
	}
	if fake.calls != 0 {
		t.Errorf("invalid deltas must not reach the store, got %d calls", fake.calls)
	}
}

func TestIncrementUnknownField(t *testing.T) {
	svc := NewService(newAtomicFakeStore())

	_, err := svc.Increment(context.Background(), "p1", "secret_hash", 1)
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestIncrementMapsNotFound(t *testing.T) {
	svc := NewService(newAtomicFakeStore())

	_, err := svc.Increment(context.Background(), "missing", "views", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementMapsStorageFailure(t *testing.T) {
	fake := newAtomicFakeStore()
	fake.failWith = errors.New("connection refused")
	svc := NewService(fake)

	_, err := svc.Increment(context.Background(), "p1", "views", 1)
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}
