package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mintarchive/provenance-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "provenance.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS artifacts (
	platform    TEXT NOT NULL,
	external_id TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	source_url  TEXT NOT NULL DEFAULT '',
	media_urls  TEXT NOT NULL DEFAULT '[]',
	attributes  TEXT NOT NULL DEFAULT '{}',
	chain_id    INTEGER NOT NULL DEFAULT 0,
	contract    TEXT NOT NULL DEFAULT '',
	token_id    TEXT NOT NULL DEFAULT '',
	tx_hash     TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL DEFAULT 0,
	first_seen  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (platform, external_id)
);

CREATE TABLE IF NOT EXISTS decisions (
	id         TEXT PRIMARY KEY,
	target     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	winner     TEXT,
	report     TEXT,
	attempted  TEXT NOT NULL DEFAULT '[]',
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_artifacts_chain ON artifacts(chain_id, contract);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_target ON decisions(target);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertArtifact = `
	INSERT INTO artifacts (platform, external_id, title, source_url, media_urls, attributes,
		chain_id, contract, token_id, tx_hash, confidence, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
	ON CONFLICT (platform, external_id) DO UPDATE SET
		title = excluded.title,
		source_url = excluded.source_url,
		media_urls = excluded.media_urls,
		attributes = excluded.attributes,
		chain_id = excluded.chain_id,
		contract = excluded.contract,
		token_id = excluded.token_id,
		tx_hash = excluded.tx_hash,
		confidence = excluded.confidence,
		updated_at = datetime('now')`

// UpsertArtifact inserts or refreshes one artifact, keyed on
// (platform, external_id). first_seen survives updates.
func (s *SQLiteStore) UpsertArtifact(ctx context.Context, a model.Artifact) error {
	media, attrs, err := marshalArtifactJSON(a)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, sqliteUpsertArtifact,
		a.Platform, a.ExternalID, a.Title, a.SourceURL, string(media), string(attrs),
		a.ChainID, a.Contract, a.TokenID, a.TxHash, a.Confidence,
	)
	return eris.Wrapf(err, "sqlite: upsert artifact %s", a.Key())
}

// UpsertArtifacts upserts a batch in one transaction so a winner's items
// land atomically.
func (s *SQLiteStore) UpsertArtifacts(ctx context.Context, artifacts []model.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertArtifact)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	for _, a := range artifacts {
		media, attrs, err := marshalArtifactJSON(a)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			a.Platform, a.ExternalID, a.Title, a.SourceURL, string(media), string(attrs),
			a.ChainID, a.Contract, a.TokenID, a.TxHash, a.Confidence,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert artifact %s", a.Key())
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert batch")
}

func marshalArtifactJSON(a model.Artifact) (media, attrs []byte, err error) {
	media, err = json.Marshal(a.MediaURLs)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal media urls")
	}
	attrs, err = json.Marshal(a.Attributes)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal attributes")
	}
	return media, attrs, nil
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, key model.ArtifactKey) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT platform, external_id, title, source_url, media_urls, attributes,
			chain_id, contract, token_id, tx_hash, confidence
		FROM artifacts WHERE platform = ? AND external_id = ?`,
		key.Platform, key.ExternalID,
	)

	var (
		a            model.Artifact
		media, attrs string
	)
	err := row.Scan(&a.Platform, &a.ExternalID, &a.Title, &a.SourceURL, &media, &attrs,
		&a.ChainID, &a.Contract, &a.TokenID, &a.TxHash, &a.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get artifact %s", key)
	}
	if err := json.Unmarshal([]byte(media), &a.MediaURLs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal media urls")
	}
	if err := json.Unmarshal([]byte(attrs), &a.Attributes); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal attributes")
	}
	return &a, nil
}

func (s *SQLiteStore) ArtifactExists(ctx context.Context, key model.ArtifactKey) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM artifacts WHERE platform = ? AND external_id = ?`,
		key.Platform, key.ExternalID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: artifact exists %s", key)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CountArtifacts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM artifacts`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count artifacts")
}

func (s *SQLiteStore) SaveDecision(ctx context.Context, d *model.Decision) error {
	winner, report, attempted, err := encodeDecision(d)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, target, kind, status, winner, report, attempted, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			winner = excluded.winner,
			report = excluded.report,
			attempted = excluded.attempted,
			elapsed_ms = excluded.elapsed_ms`,
		d.ID, d.Target.Raw, string(d.Target.Kind), string(d.Status),
		winner, report, attempted, d.Elapsed.Milliseconds(), d.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save decision %s", d.ID)
}

func (s *SQLiteStore) GetDecision(ctx context.Context, id string) (*model.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target, kind, status, winner, report, attempted, elapsed_ms, created_at
		FROM decisions WHERE id = ?`, id)

	d, err := scanDecision(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get decision %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.Decision, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, target, kind, status, winner, report, attempted, elapsed_ms, created_at
		FROM decisions`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer func() { _ = rows.Close() }()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions")
}

func (s *SQLiteStore) CountDecisions(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM decisions GROUP BY status`)
	if err != nil {
		return StatusCounts{}, eris.Wrap(err, "sqlite: count decisions")
	}
	defer func() { _ = rows.Close() }()

	var counts StatusCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, eris.Wrap(err, "sqlite: scan count")
		}
		counts.add(status, n)
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count decisions")
}

func (c *StatusCounts) add(status string, n int) {
	switch model.DecisionStatus(status) {
	case model.StatusAccepted:
		c.Accepted += n
	case model.StatusBestEffort:
		c.BestEffort += n
	case model.StatusFailed:
		c.Failed += n
	}
}

// encodeDecision serializes the nested decision parts to JSON columns.
func encodeDecision(d *model.Decision) (winner, report, attempted []byte, err error) {
	if d.Winner != nil {
		if winner, err = json.Marshal(d.Winner); err != nil {
			return nil, nil, nil, eris.Wrap(err, "store: marshal winner")
		}
	}
	if d.Report != nil {
		if report, err = json.Marshal(d.Report); err != nil {
			return nil, nil, nil, eris.Wrap(err, "store: marshal report")
		}
	}
	if attempted, err = json.Marshal(d.Attempted); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal attempts")
	}
	return winner, report, attempted, nil
}

// scanDecision reads one decision row through a Scan-shaped callback so
// sql.Row and sql.Rows share the decode path.
func scanDecision(scan func(dest ...any) error) (*model.Decision, error) {
	var (
		d                        model.Decision
		kind, status             string
		winner, report, attempts sql.NullString
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

	if err := decodeDecisionParts(&d, []byte(winner.String), []byte(report.String), []byte(attempts.String)); err != nil {
		return nil, err
	}
	return &d, nil
}

// decodeDecisionParts unmarshals the JSON columns of a decision row.
// Empty or NULL columns leave the corresponding field nil.
func decodeDecisionParts(d *model.Decision, winner, report, attempts []byte) error {
	if len(winner) > 0 {
		d.Winner = &model.Candidate{}
		if err := json.Unmarshal(winner, d.Winner); err != nil {
			return eris.Wrap(err, "store: unmarshal winner")
		}
	}
	if len(report) > 0 {
		d.Report = &model.Report{}
		if err := json.Unmarshal(report, d.Report); err != nil {
			return eris.Wrap(err, "store: unmarshal report")
		}
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &d.Attempted); err != nil {
			return eris.Wrap(err, "store: unmarshal attempts")
		}
	}
	return nil
}
