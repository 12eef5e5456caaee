package dedup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock lets tests move time without sleeping.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGuard(window time.Duration) (*Guard, *fixedClock) {
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	guard := NewGuard(window)
	guard.now = clock.Now
	return guard, clock
}

func TestAllowViewSuppressesRepeatInsideWindow(t *testing.T) {
	guard, _ := newTestGuard(30 * time.Minute)

	assert.True(t, guard.AllowView("p1"), "first view must pass")
	assert.False(t, guard.AllowView("p1"), "second view inside window must be suppressed")
}

func TestAllowViewReArmsAfterWindow(t *testing.T) {
	guard, clock := newTestGuard(30 * time.Minute)

	require.True(t, guard.AllowView("p1"))
	clock.Advance(29 * time.Minute)
	assert.False(t, guard.AllowView("p1"))
	clock.Advance(2 * time.Minute)
	assert.True(t, guard.AllowView("p1"), "view must re-arm after the window")
}

func TestAllowViewIsPerPrompt(t *testing.T) {
	guard, _ := newTestGuard(30 * time.Minute)

	assert.True(t, guard.AllowView("p1"))
	assert.True(t, guard.AllowView("p2"), "a different prompt is a new view")
}

func TestToggleLikeDirection(t *testing.T) {
	guard, _ := newTestGuard(0)

	assert.Equal(t, 1, guard.ToggleLike("p1"))
	assert.True(t, guard.Liked("p1"))
	assert.Equal(t, -1, guard.ToggleLike("p1"))
	assert.False(t, guard.Liked("p1"))
	assert.Equal(t, 1, guard.ToggleLike("p1"))
	assert.True(t, guard.Liked("p1"), "flag must match the last transition")
}

func TestSetLikedRollsBackFlag(t *testing.T) {
	guard, _ := newTestGuard(0)

	guard.ToggleLike("p1")
	guard.SetLiked("p1", false)
	assert.False(t, guard.Liked("p1"))
	assert.Equal(t, 1, guard.ToggleLike("p1"), "next toggle sends +1 again after rollback")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	guard, clock := newTestGuard(30 * time.Minute)

	require.True(t, guard.AllowView("p1"))
	guard.ToggleLike("p2")

	restored := NewGuard(30 * time.Minute)
	restored.now = clock.Now
	restored.Restore(guard.Snapshot())

	assert.False(t, restored.AllowView("p1"), "restored view stamp must still suppress")
	assert.True(t, restored.Liked("p2"))
	assert.True(t, restored.AllowView("p3"), "unknown prompts are unaffected")
}

func TestRestoreFromEmptyStateUndercounts(t *testing.T) {
	guard, _ := newTestGuard(30 * time.Minute)

	require.True(t, guard.AllowView("p1"))
	guard.Restore(State{})

	// Cleared state means the view counts again; that is the accepted worst case.
	assert.True(t, guard.AllowView("p1"))
}

func TestForget(t *testing.T) {
	guard, _ := newTestGuard(30 * time.Minute)

	guard.AllowView("p1")
	guard.ToggleLike("p1")
	guard.Forget("p1")

	assert.True(t, guard.AllowView("p1"))
	assert.False(t, guard.Liked("p1"))
}

func TestGuardConcurrentToggles(t *testing.T) {
	guard, _ := newTestGuard(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard.ToggleLike("p1")
		}()
	}
	wg.Wait()

	// An even number of toggles must land back on "not liked".
	assert.False(t, guard.Liked("p1"))
}
