package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/brandtrace/ownership-cli/internal/db"
	"github.com/brandtrace/ownership-cli/internal/mapping"
	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/normalize"
	"github.com/brandtrace/ownership-cli/internal/trace"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS result_cache (
	fingerprint TEXT PRIMARY KEY,
	result      JSONB NOT NULL,
	cached_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS brand_mappings (
	brand_key  TEXT PRIMARY KEY,
	mapping    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS resolutions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	brand_key  TEXT NOT NULL DEFAULT '',
	query      JSONB NOT NULL,
	result     JSONB,
	trace      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_result_cache_expires_at ON result_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_resolutions_brand_key ON resolutions(brand_key);
CREATE INDEX IF NOT EXISTS idx_resolutions_created_at ON resolutions(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) GetCachedResult(ctx context.Context, fingerprint string) (*model.OwnershipResult, error) {
	var resultJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM result_cache WHERE fingerprint = $1 AND expires_at > now()`,
		fingerprint,
	).Scan(&resultJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached result")
	}

	var result model.OwnershipResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached result")
	}
	return &result, nil
}

func (s *PostgresStore) SetCachedResult(ctx context.Context, fingerprint string, result *model.OwnershipResult, ttl time.Duration) error {
	now := time.Now().UTC()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO result_cache (fingerprint, result, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET result = $2, cached_at = $3, expires_at = $4`,
		fingerprint, resultJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached result")
}

func (s *PostgresStore) DeleteExpiredResults(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM result_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired results")
	}
	return int(tag.RowsAffected()), nil
}

// UpsertMappings bulk-loads the registry through a temp table so large
// imports stay a single round trip per batch.
func (s *PostgresStore) UpsertMappings(ctx context.Context, mappings []mapping.Mapping) error {
	if len(mappings) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(mappings))
	for _, m := range mappings {
		mappingJSON, err := json.Marshal(m)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal mapping")
		}
		rows = append(rows, []any{normalize.Brand(m.Brand), mappingJSON, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "brand_mappings",
		Columns:      []string{"brand_key", "mapping", "updated_at"},
		ConflictKeys: []string{"brand_key"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert mappings")
}

func (s *PostgresStore) ListMappings(ctx context.Context) ([]mapping.Mapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT mapping FROM brand_mappings ORDER BY brand_key`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mappings")
	}
	defer rows.Close()

	var mappings []mapping.Mapping
	for rows.Next() {
		var mappingJSON []byte
		if err := rows.Scan(&mappingJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapping")
		}
		var m mapping.Mapping
		if err := json.Unmarshal(mappingJSON, &m); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal mapping")
		}
		mappings = append(mappings, m)
	}
	return mappings, eris.Wrap(rows.Err(), "postgres: list mappings iterate")
}

func (s *PostgresStore) SaveResolution(ctx context.Context, res *model.Resolution) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	queryJSON, err := json.Marshal(res.Query)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal query")
	}

	var resultJSON, traceJSON []byte
	if res.Result != nil {
		if resultJSON, err = json.Marshal(res.Result); err != nil {
			return eris.Wrap(err, "postgres: marshal result")
		}
	}
	if res.Trace != nil {
		if traceJSON, err = json.Marshal(res.Trace); err != nil {
			return eris.Wrap(err, "postgres: marshal trace")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO resolutions (id, brand_key, query, result, trace, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID, normalize.Brand(res.Query.Brand), queryJSON, resultJSON, traceJSON, res.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert resolution %s", res.ID)
}

func (s *PostgresStore) GetResolution(ctx context.Context, id string) (*model.Resolution, error) {
	var r model.Resolution
	var queryJSON []byte
	var resultJSON, traceJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, query, result, trace, created_at FROM resolutions WHERE id = $1`,
		id,
	).Scan(&r.ID, &queryJSON, &resultJSON, &traceJSON, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.New("resolution not found")
		}
		return nil, eris.Wrapf(err, "postgres: get resolution %s", id)
	}

	return hydrateResolution(&r, queryJSON, resultJSON, traceJSON)
}

func (s *PostgresStore) ListResolutions(ctx context.Context, filter ResolutionFilter) ([]model.Resolution, error) {
	query := `SELECT id, query, result, trace, created_at FROM resolutions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Brand != "" {
		query += fmt.Sprintf(` AND brand_key = $%d`, argIdx)
		args = append(args, normalize.Brand(filter.Brand))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions")
	}
	defer rows.Close()

	var resolutions []model.Resolution
	for rows.Next() {
		var r model.Resolution
		var queryJSON []byte
		var resultJSON, traceJSON *[]byte

		if err := rows.Scan(&r.ID, &queryJSON, &resultJSON, &traceJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution")
		}
		hydrated, err := hydrateResolution(&r, queryJSON, resultJSON, traceJSON)
		if err != nil {
			return nil, err
		}
		resolutions = append(resolutions, *hydrated)
	}
	return resolutions, eris.Wrap(rows.Err(), "postgres: list resolutions iterate")
}

func hydrateResolution(r *model.Resolution, queryJSON []byte, resultJSON, traceJSON *[]byte) (*model.Resolution, error) {
	if err := json.Unmarshal(queryJSON, &r.Query); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal query")
	}
	if resultJSON != nil && len(*resultJSON) > 0 {
		r.Result = &model.OwnershipResult{}
		if err := json.Unmarshal(*resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	if traceJSON != nil && len(*traceJSON) > 0 {
		r.Trace = &trace.ExecutionTrace{}
		if err := json.Unmarshal(*traceJSON, r.Trace); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal trace")
		}
	}
	return r, nil
}
