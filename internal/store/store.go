// Package store persists acquired artifacts and orchestration decisions to
// SQLite or Postgres behind one interface.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// DecisionFilter narrows ListDecisions.
type DecisionFilter struct {
	Status model.DecisionStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
}

// StatusCounts summarizes stored decisions per status.
type StatusCounts struct {
	Accepted   int `json:"accepted"`
	BestEffort int `json:"best_effort"`
	Failed     int `json:"failed"`
}

// Store defines the persistence interface for the acquisition engine.
// UpsertArtifact is idempotent on the (platform, external id) key: re-running
// acquisition against unchanged source data produces no duplicate records.
type Store interface {
	UpsertArtifact(ctx context.Context, a model.Artifact) error
	UpsertArtifacts(ctx context.Context, artifacts []model.Artifact) error
	GetArtifact(ctx context.Context, key model.ArtifactKey) (*model.Artifact, error)
	ArtifactExists(ctx context.Context, key model.ArtifactKey) (bool, error)
	CountArtifacts(ctx context.Context) (int, error)

	SaveDecision(ctx context.Context, d *model.Decision) error
	GetDecision(ctx context.Context, id string) (*model.Decision, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.Decision, error)
	CountDecisions(ctx context.Context) (StatusCounts, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the configured store backend and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
