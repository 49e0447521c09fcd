package testutil

import "sync"

// StaticGates is a settable engine.Gates for tests.
type StaticGates struct {
	mu      sync.RWMutex
	enabled bool
	allowed map[string]bool
}

// NewStaticGates creates gates that are enabled and allow the listed origins.
func NewStaticGates(origins ...string) *StaticGates {
	g := &StaticGates{enabled: true, allowed: make(map[string]bool)}
	for _, o := range origins {
		g.allowed[o] = true
	}
	return g
}

// EngineEnabled reports the enabled flag.
func (g *StaticGates) EngineEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// SourceAllowed reports whether origin is in the allow-list.
func (g *StaticGates) SourceAllowed(origin string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.allowed[origin]
}

// SetEnabled flips the engine-enabled gate.
func (g *StaticGates) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// Allow adds or removes an origin from the allow-list.
func (g *StaticGates) Allow(origin string, allowed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if allowed {
		g.allowed[origin] = true
	} else {
		delete(g.allowed, origin)
	}
}
