package attendance

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum gap between two accepted events of one identity.
const DefaultCooldown = 3 * time.Hour

// CooldownGate collapses repeated detections of the same identity into one
// accepted event per window. Entries live for the process lifetime.
type CooldownGate struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownGate creates a gate with the given window.
func NewCooldownGate(window time.Duration) *CooldownGate {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &CooldownGate{window: window, last: make(map[string]time.Time)}
}

// Accept reports whether an event for identity at now passes the gate, and if
// so records now as the identity's last accepted time.
func (g *CooldownGate) Accept(identity string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[identity]; ok && now.Sub(last) < g.window {
		return false
	}
	g.last[identity] = now
	return true
}

// Last returns the last accepted time of identity.
func (g *CooldownGate) Last(identity string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[identity]
	return t, ok
}

// Size returns how many identities the gate tracks.
func (g *CooldownGate) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

// Window returns the configured cooldown window.
func (g *CooldownGate) Window() time.Duration { return g.window }
