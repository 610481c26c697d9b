// Package monitoring collects acquisition health metrics and raises webhook
// alerts when they cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mintarchive/provenance-cli/internal/providers"
	"github.com/mintarchive/provenance-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of engine health.
type MetricsSnapshot struct {
	// Decision outcomes.
	DecisionsAccepted   int     `json:"decisions_accepted"`
	DecisionsBestEffort int     `json:"decisions_best_effort"`
	DecisionsFailed     int     `json:"decisions_failed"`
	FailRate            float64 `json:"fail_rate"`

	// Stored artifacts.
	ArtifactTotal int `json:"artifact_total"`

	// Provider health.
	Providers         []providers.Snapshot `json:"providers,omitempty"`
	ProvidersDegraded int                  `json:"providers_degraded"`

	CollectedAt time.Time `json:"collected_at"`
}

// ProviderSnapshotter abstracts the provider pool health view.
type ProviderSnapshotter interface {
	Snapshots() []providers.Snapshot
}

// Collector gathers metrics from the record store and the provider pool.
type Collector struct {
	store store.Store
	pool  ProviderSnapshotter
}

// NewCollector creates a metrics collector. pool may be nil when no chains
// are configured.
func NewCollector(st store.Store, pool ProviderSnapshotter) *Collector {
	return &Collector{store: st, pool: pool}
}

// Collect gathers a snapshot of engine metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	counts, err := c.store.CountDecisions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count decisions")
	}
	snap.DecisionsAccepted = counts.Accepted
	snap.DecisionsBestEffort = counts.BestEffort
	snap.DecisionsFailed = counts.Failed

	total := counts.Accepted + counts.BestEffort + counts.Failed
	if total > 0 {
		snap.FailRate = float64(counts.Failed) / float64(total)
	}

	artifacts, err := c.store.CountArtifacts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count artifacts")
	}
	snap.ArtifactTotal = artifacts

	if c.pool != nil {
		snap.Providers = c.pool.Snapshots()
		for _, p := range snap.Providers {
			if p.State != providers.Healthy {
				snap.ProvidersDegraded++
			}
		}
	}

	return snap, nil
}
