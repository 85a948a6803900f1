package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/profit"
)

// PolicyInfo holds runtime info for a registered policy (for status APIs).
type PolicyInfo struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Registry manages a named collection of policies and the ordered subset that
// is active. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
	active   []string
	logger   *slog.Logger
}

// NewRegistry returns a Registry holding the given policies, none active.
func NewRegistry(logger *slog.Logger, policies ...Policy) *Registry {
	r := &Registry{
		policies: make(map[string]Policy, len(policies)),
		logger:   logger.With(slog.String("component", "strategy_registry")),
	}
	for _, p := range policies {
		r.policies[p.Name()] = p
	}
	return r
}

// Register adds a policy. An existing policy with the same name is replaced.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name()] = p
}

// Get retrieves a policy by name.
func (r *Registry) Get(name string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return p, nil
}

// SetActive replaces the active policy list. Boosts are chained in the given
// order. Unknown names fail the whole call.
func (r *Registry) SetActive(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if _, ok := r.policies[n]; !ok {
			return fmt.Errorf("strategy %q: not registered: %w", n, domain.ErrConfiguration)
		}
	}
	r.active = append([]string(nil), names...)
	r.logger.Info("strategy: active policies set", slog.Any("policies", r.active))
	return nil
}

// Active returns the active policy names in chaining order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.active...)
}

// List returns the names of all registered policies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.policies))
	for n := range r.policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListInfo returns every registered policy with its active flag.
func (r *Registry) ListInfo() []PolicyInfo {
	active := make(map[string]bool)
	for _, n := range r.Active() {
		active[n] = true
	}
	names := r.List()
	infos := make([]PolicyInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, PolicyInfo{Name: n, Active: active[n]})
	}
	return infos
}

// Rank chains the boosts of all active policies for snap and ranks estimates
// once with the combined boost.
func (r *Registry) Rank(estimates []domain.ProfitEstimate, snap profit.Snapshot) []domain.ProfitEstimate {
	r.mu.RLock()
	boosts := make([]Boost, 0, len(r.active))
	for _, n := range r.active {
		boosts = append(boosts, r.policies[n].Boost(snap))
	}
	r.mu.RUnlock()
	return Rank(estimates, Chain(boosts...))
}
