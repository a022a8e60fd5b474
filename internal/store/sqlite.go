package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/brandtrace/ownership-cli/internal/mapping"
	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/normalize"
	"github.com/brandtrace/ownership-cli/internal/trace"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS result_cache (
	fingerprint TEXT PRIMARY KEY,
	result      TEXT NOT NULL,
	cached_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS brand_mappings (
	brand_key  TEXT PRIMARY KEY,
	mapping    TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS resolutions (
	id         TEXT PRIMARY KEY,
	brand_key  TEXT NOT NULL DEFAULT '',
	query      TEXT NOT NULL,
	result     TEXT,
	trace      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_result_cache_expires_at ON result_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_resolutions_brand_key ON resolutions(brand_key);
CREATE INDEX IF NOT EXISTS idx_resolutions_created_at ON resolutions(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCachedResult(ctx context.Context, fingerprint string) (*model.OwnershipResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result FROM result_cache
		 WHERE fingerprint = ? AND expires_at > datetime('now')`,
		fingerprint,
	)

	var resultJSON string
	err := row.Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached result")
	}

	var result model.OwnershipResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached result")
	}
	return &result, nil
}

func (s *SQLiteStore) SetCachedResult(ctx context.Context, fingerprint string, result *model.OwnershipResult, ttl time.Duration) error {
	now := time.Now().UTC()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO result_cache (fingerprint, result, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET result = excluded.result, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		fingerprint, string(resultJSON), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached result")
}

func (s *SQLiteStore) DeleteExpiredResults(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM result_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired results")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) UpsertMappings(ctx context.Context, mappings []mapping.Mapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert mappings")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, m := range mappings {
		mappingJSON, err := json.Marshal(m)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal mapping")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO brand_mappings (brand_key, mapping, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(brand_key) DO UPDATE SET mapping = excluded.mapping, updated_at = excluded.updated_at`,
			normalize.Brand(m.Brand), string(mappingJSON), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert mapping %s", m.Brand)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit upsert mappings")
}

func (s *SQLiteStore) ListMappings(ctx context.Context) ([]mapping.Mapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mapping FROM brand_mappings ORDER BY brand_key`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mappings")
	}
	defer rows.Close()

	var mappings []mapping.Mapping
	for rows.Next() {
		var mappingJSON string
		if err := rows.Scan(&mappingJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mapping")
		}
		var m mapping.Mapping
		if err := json.Unmarshal([]byte(mappingJSON), &m); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal mapping")
		}
		mappings = append(mappings, m)
	}
	return mappings, eris.Wrap(rows.Err(), "sqlite: list mappings iterate")
}

func (s *SQLiteStore) SaveResolution(ctx context.Context, res *model.Resolution) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	queryJSON, err := json.Marshal(res.Query)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal query")
	}

	var resultJSON, traceJSON sql.NullString
	if res.Result != nil {
		b, err := json.Marshal(res.Result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal result")
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}
	if res.Trace != nil {
		b, err := json.Marshal(res.Trace)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal trace")
		}
		traceJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolutions (id, brand_key, query, result, trace, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		res.ID, normalize.Brand(res.Query.Brand), string(queryJSON), resultJSON, traceJSON, res.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert resolution %s", res.ID)
}

func (s *SQLiteStore) GetResolution(ctx context.Context, id string) (*model.Resolution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, result, trace, created_at FROM resolutions WHERE id = ?`,
		id,
	)
	return scanResolution(row)
}

func (s *SQLiteStore) ListResolutions(ctx context.Context, filter ResolutionFilter) ([]model.Resolution, error) {
	query := `SELECT id, query, result, trace, created_at FROM resolutions WHERE 1=1`
	var args []any

	if filter.Brand != "" {
		query += ` AND brand_key = ?`
		args = append(args, normalize.Brand(filter.Brand))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolutions")
	}
	defer rows.Close()

	var resolutions []model.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		resolutions = append(resolutions, *r)
	}
	return resolutions, eris.Wrap(rows.Err(), "sqlite: list resolutions iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanResolution(row scannable) (*model.Resolution, error) {
	var r model.Resolution
	var queryJSON string
	var resultJSON, traceJSON sql.NullString

	err := row.Scan(&r.ID, &queryJSON, &resultJSON, &traceJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("resolution not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan resolution")
	}

	if err := json.Unmarshal([]byte(queryJSON), &r.Query); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal query")
	}
	if resultJSON.Valid {
		r.Result = &model.OwnershipResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	if traceJSON.Valid {
		r.Trace = &trace.ExecutionTrace{}
		if err := json.Unmarshal([]byte(traceJSON.String), r.Trace); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal trace")
		}
	}
	return &r, nil
}
