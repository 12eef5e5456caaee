// Package dedup tracks which counter actions this client already performed,
// so repeats inside the window never reach the counter service. It reduces
// noise only; the server accepts whatever arrives, and losing this state just
// means an action may count once more.
package dedup

import (
	"sync"
	"time"
)

// DefaultViewWindow matches the product policy of re-arming a view after 30
// minutes. It is a policy default, not a protocol constant.
const DefaultViewWindow = 30 * time.Minute

// Guard is a per-client tracker. Safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	viewedAt map[string]time.Time
	liked    map[string]bool
}

func NewGuard(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultViewWindow
	}
	return &Guard{
		window:   window,
		now:      time.Now,
		viewedAt: make(map[string]time.Time),
		liked:    make(map[string]bool),
	}
}

// AllowView reports whether a view of promptID is logically new, and arms the
// window when it is. A false return means the caller must not send the
// increment.
func (g *Guard) AllowView(promptID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if last, ok := g.viewedAt[promptID]; ok && now.Sub(last) < g.window {
		return false
	}
	g.viewedAt[promptID] = now
	return true
}

// ToggleLike flips the liked flag for promptID and returns the delta to send:
// +1 on false→true, -1 on true→false. The flag is the only source of truth
// for direction.
func (g *Guard) ToggleLike(promptID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.liked[promptID] {
		delete(g.liked, promptID)
		return -1
	}
	g.liked[promptID] = true
	return 1
}

// Liked reports the current like flag for promptID.
func (g *Guard) Liked(promptID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liked[promptID]
}

// SetLiked forces the flag, used when a like increment is rolled back after a
// server rejection.
func (g *Guard) SetLiked(promptID string, liked bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if liked {
		g.liked[promptID] = true
		return
	}
	delete(g.liked, promptID)
}

// State is a serializable snapshot of the guard, for clients that persist it
// across restarts. Restoring stale state is harmless: expired view stamps
// re-arm naturally and a desynchronized like flag is corrected on the next
// authoritative read.
type State struct {
	ViewedAt map[string]time.Time `json:"viewedAt"`
	Liked    map[string]bool      `json:"liked"`
}

// Snapshot copies the guard's current state.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := State{
		ViewedAt: make(map[string]time.Time, len(g.viewedAt)),
		Liked:    make(map[string]bool, len(g.liked)),
	}
	for id, at := range g.viewedAt {
		state.ViewedAt[id] = at
	}
	for id, liked := range g.liked {
		state.Liked[id] = liked
	}
	return state
}

// Restore replaces the guard's state with a previously taken snapshot.
func (g *Guard) Restore(state State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.viewedAt = make(map[string]time.Time, len(state.ViewedAt))
	g.liked = make(map[string]bool, len(state.Liked))
	for id, at := range state.ViewedAt {
		g.viewedAt[id] = at
	}
	for id, liked := range state.Liked {
		if liked {
			g.liked[id] = true
		}
	}
}

// Forget drops all state for one prompt, used after its record is deleted.
func (g *Guard) Forget(promptID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.viewedAt, promptID)
	delete(g.liked, promptID)
}
