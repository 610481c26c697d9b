package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mintarchive/provenance-cli/internal/db"
	"github.com/mintarchive/provenance-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations. Keys double as statement names.
var preparedStatements = map[string]string{
	"artifact_exists": `SELECT COUNT(1) FROM artifacts WHERE platform = $1 AND external_id = $2`,
	"get_artifact": `SELECT platform, external_id, title, source_url, media_urls, attributes,
		chain_id, contract, token_id, tx_hash, confidence
		FROM artifacts WHERE platform = $1 AND external_id = $2`,
	"get_decision": `SELECT id, target, kind, status, winner, report, attempted, elapsed_ms, created_at
		FROM decisions WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for bulk helpers.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS artifacts (
	platform    TEXT NOT NULL,
	external_id TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	source_url  TEXT NOT NULL DEFAULT '',
	media_urls  JSONB NOT NULL DEFAULT '[]',
	attributes  JSONB NOT NULL DEFAULT '{}',
	chain_id    BIGINT NOT NULL DEFAULT 0,
	contract    TEXT NOT NULL DEFAULT '',
	token_id    TEXT NOT NULL DEFAULT '',
	tx_hash     TEXT NOT NULL DEFAULT '',
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	first_seen  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (platform, external_id)
);

CREATE TABLE IF NOT EXISTS decisions (
	id         TEXT PRIMARY KEY,
	target     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	winner     JSONB,
	report     JSONB,
	attempted  JSONB NOT NULL DEFAULT '[]',
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_artifacts_chain ON artifacts(chain_id, contract);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_target ON decisions(target);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertArtifact inserts or refreshes one artifact, keyed on
// (platform, external_id). first_seen survives updates.
func (s *PostgresStore) UpsertArtifact(ctx context.Context, a model.Artifact) error {
	media, attrs, err := marshalArtifactJSON(a)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO artifacts (platform, external_id, title, source_url, media_urls, attributes,
			chain_id, contract, token_id, tx_hash, confidence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (platform, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			source_url = EXCLUDED.source_url,
			media_urls = EXCLUDED.media_urls,
			attributes = EXCLUDED.attributes,
			chain_id = EXCLUDED.chain_id,
			contract = EXCLUDED.contract,
			token_id = EXCLUDED.token_id,
			tx_hash = EXCLUDED.tx_hash,
			confidence = EXCLUDED.confidence,
			updated_at = now()`,
		a.Platform, a.ExternalID, a.Title, a.SourceURL, media, attrs,
		a.ChainID, a.Contract, a.TokenID, a.TxHash, a.Confidence,
	)
	return eris.Wrapf(err, "postgres: upsert artifact %s", a.Key())
}

// artifactColumns is the column order used by UpsertArtifacts.
var artifactColumns = []string{
	"platform", "external_id", "title", "source_url", "media_urls", "attributes",
	"chain_id", "contract", "token_id", "tx_hash", "confidence",
}

// UpsertArtifacts upserts a batch of artifacts through a temp-table COPY,
// with the same conflict semantics as UpsertArtifact.
func (s *PostgresStore) UpsertArtifacts(ctx context.Context, artifacts []model.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(artifacts))
	for _, a := range artifacts {
		media, attrs, err := marshalArtifactJSON(a)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			a.Platform, a.ExternalID, a.Title, a.SourceURL, media, attrs,
			a.ChainID, a.Contract, a.TokenID, a.TxHash, a.Confidence,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "artifacts",
		Columns:      artifactColumns,
		ConflictKeys: []string{"platform", "external_id"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert artifacts")
}

func (s *PostgresStore) GetArtifact(ctx context.Context, key model.ArtifactKey) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_artifact"], key.Platform, key.ExternalID)

	var (
		a            model.Artifact
		media, attrs []byte
	)
	err := row.Scan(&a.Platform, &a.ExternalID, &a.Title, &a.SourceURL, &media, &attrs,
		&a.ChainID, &a.Contract, &a.TokenID, &a.TxHash, &a.Confidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get artifact %s", key)
	}
	if err := json.Unmarshal(media, &a.MediaURLs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal media urls")
	}
	if err := json.Unmarshal(attrs, &a.Attributes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal attributes")
	}
	return &a, nil
}

func (s *PostgresStore) ArtifactExists(ctx context.Context, key model.ArtifactKey) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, preparedStatements["artifact_exists"], key.Platform, key.ExternalID).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: artifact exists %s", key)
	}
	return n > 0, nil
}

func (s *PostgresStore) CountArtifacts(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM artifacts`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count artifacts")
}

func (s *PostgresStore) SaveDecision(ctx context.Context, d *model.Decision) error {
	winner, report, attempted, err := encodeDecision(d)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO decisions (id, target, kind, status, winner, report, attempted, elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			winner = EXCLUDED.winner,
			report = EXCLUDED.report,
			attempted = EXCLUDED.attempted,
			elapsed_ms = EXCLUDED.elapsed_ms`,
		d.ID, d.Target.Raw, string(d.Target.Kind), string(d.Status),
		winner, report, attempted, d.Elapsed.Milliseconds(), d.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save decision %s", d.ID)
}

func (s *PostgresStore) GetDecision(ctx context.Context, id string) (*model.Decision, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_decision"], id)

	d, err := scanPostgresDecision(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get decision %s", id)
	}
	return d, nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.Decision, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, target, kind, status, winner, report, attempted, elapsed_ms, created_at
		FROM decisions`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, string(filter.Status), limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanPostgresDecision(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decisions")
}

func (s *PostgresStore) CountDecisions(ctx context.Context) (StatusCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(1) FROM decisions GROUP BY status`)
	if err != nil {
		return StatusCounts{}, eris.Wrap(err, "postgres: count decisions")
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, eris.Wrap(err, "postgres: scan count")
		}
		counts.add(status, n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count decisions")
}

// scanPostgresDecision mirrors scanDecision for pgx row shapes, where
// JSONB columns arrive as []byte.
func scanPostgresDecision(scan func(dest ...any) error) (*model.Decision, error) {
	var (
		d                        model.Decision
		kind, status             string
		winner, report, attempts []byte
		elapsedMs                int64
		createdAt                time.Time
	)
	err := scan(&d.ID, &d.Target.Raw, &kind, &status, &winner, &report, &attempts, &elapsedMs, &createdAt)
	if err != nil {
		return nil, err
	}

	d.Target.Kind = model.TargetKind(kind)
	d.Status = model.DecisionStatus(status)
	d.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	d.CreatedAt = createdAt

	if err := decodeDecisionParts(&d, winner, report, attempts); err != nil {
		return nil, err
	}
	return &d, nil
}
