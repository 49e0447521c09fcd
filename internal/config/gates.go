package config

import (
	"slices"
	"sync"
)

// Gates is the live, thread-safe view of the engine-enabled flag and the
// source allow-list. It implements engine.Gates.
//
// The zero value denies everything.
type Gates struct {
	mu      sync.RWMutex
	enabled bool
	allowed map[string]struct{}
}

// NewGates seeds gates from cfg.
func NewGates(cfg EngineConfig) *Gates {
	g := &Gates{enabled: cfg.Enabled, allowed: make(map[string]struct{}, len(cfg.AllowedSources))}
	for _, s := range cfg.AllowedSources {
		g.allowed[s] = struct{}{}
	}
	return g
}

// EngineEnabled reports the master switch.
func (g *Gates) EngineEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// SourceAllowed reports whether messages from origin may be answered.
func (g *Gates) SourceAllowed(origin string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.allowed[origin]
	return ok
}

// SetEnabled flips the master switch.
func (g *Gates) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// SetSourceAllowed adds origin to, or removes it from, the allow-list.
func (g *Gates) SetSourceAllowed(origin string, allowed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.allowed == nil {
		g.allowed = make(map[string]struct{})
	}
	if allowed {
		g.allowed[origin] = struct{}{}
	} else {
		delete(g.allowed, origin)
	}
}

// AllowedSources returns the allow-list sorted.
func (g *Gates) AllowedSources() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.allowed))
	for s := range g.allowed {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
