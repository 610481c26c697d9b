// Package strategy maps acquisition targets to an ordered list of
// extraction strategies. A strategy is a tagged record, not a class
// hierarchy: selection is filter-by-matcher then sort-by-priority.
package strategy

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/model"
)

// Strategy is one way of extracting artifacts for a target. Lower Priority
// runs earlier, so platform-specific strategies sit below the generic ones.
type Strategy struct {
	ID       string
	Priority int
	Match    func(model.Target) bool
	Execute  func(ctx context.Context, target model.Target) (*model.Candidate, error)
}

// Registry holds registered strategies.
type Registry struct {
	strategies []Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a strategy. Registration order breaks priority ties, so
// resolution stays deterministic across runs.
func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
	zap.L().Debug("strategy: registered",
		zap.String("id", s.ID),
		zap.Int("priority", s.Priority),
	)
}

// Resolve returns the strategies matching a target, ordered by priority with
// ties broken by registration order.
func (r *Registry) Resolve(target model.Target) []Strategy {
	matched := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		if s.Match(target) {
			matched = append(matched, s)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	return len(r.strategies)
}
