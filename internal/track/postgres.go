package track

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. The
// status CAS queries are built per dimension and stay dynamic.
var preparedStatements = map[string]string{
	"insert_batch": `INSERT INTO batches (id, declared_count, actual_count, origin, company, origin_place, notes, operator, source_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"insert_unit": `INSERT INTO units (id, batch_id, sequence, ingestion_status, extraction_status, integration_status, artifact_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_batch": `SELECT id, declared_count, actual_count, origin, company, origin_place, notes, operator, source_key, created_at
		FROM batches WHERE id = $1`,
	"get_unit": `SELECT id, batch_id, sequence, ingestion_status, extraction_status, integration_status,
		artifact_key, record_key, crm_case_id, error_message, retry_count, created_at, updated_at, completed_at
		FROM units WHERE id = $1`,
	"list_units": `SELECT id, batch_id, sequence, ingestion_status, extraction_status, integration_status,
		artifact_key, record_key, crm_case_id, error_message, retry_count, created_at, updated_at, completed_at
		FROM units WHERE batch_id = $1 ORDER BY sequence`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id             TEXT PRIMARY KEY,
	declared_count INTEGER NOT NULL,
	actual_count   INTEGER NOT NULL,
	origin         TEXT NOT NULL,
	company        TEXT NOT NULL,
	origin_place   TEXT NOT NULL DEFAULT '',
	notes          TEXT NOT NULL DEFAULT '',
	operator       TEXT NOT NULL DEFAULT '',
	source_key     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS units (
	id                 TEXT PRIMARY KEY,
	batch_id           TEXT NOT NULL REFERENCES batches(id),
	sequence           INTEGER NOT NULL,
	ingestion_status   TEXT NOT NULL DEFAULT 'pending',
	extraction_status  TEXT NOT NULL DEFAULT 'pending',
	integration_status TEXT NOT NULL DEFAULT 'pending',
	artifact_key       TEXT NOT NULL,
	record_key         TEXT NOT NULL DEFAULT '',
	crm_case_id        TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_units_batch_id ON units(batch_id);
CREATE INDEX IF NOT EXISTS idx_units_extraction_status ON units(extraction_status);
CREATE INDEX IF NOT EXISTS idx_units_integration_status ON units(integration_status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateBatch(ctx context.Context, batch *model.Batch, units []*model.Unit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}

	_, err = tx.Exec(ctx, preparedStatements["insert_batch"],
		batch.ID, batch.DeclaredCount, batch.ActualCount, string(batch.Origin),
		batch.Company, batch.OriginPlace, batch.Notes, batch.Operator, batch.SourceKey, batch.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &model.DuplicateBatchError{BatchID: batch.ID}
		}
		return eris.Wrap(err, "postgres: insert batch")
	}

	for _, u := range units {
		u.CreatedAt = now
		u.UpdatedAt = now
		_, err = tx.Exec(ctx, preparedStatements["insert_unit"],
			u.ID, u.BatchID, u.Sequence, string(u.IngestionStatus), string(u.ExtractionStatus),
			string(u.IntegrationStatus), u.ArtifactKey, now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert unit %s", u.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

func (s *PostgresStore) AdvanceUnitStatus(ctx context.Context, batchID, unitID string, dim model.Dimension, from, to model.UnitStatus) error {
	if !model.CanTransition(from, to) {
		return eris.Errorf("postgres: invalid transition %s -> %s", from, to)
	}
	col := dimColumn(dim)
	now := time.Now().UTC()

	set := col + ` = $1, updated_at = $2`
	args := []any{string(to), now}
	if from == model.StatusError {
		set += `, error_message = ''`
	}
	if dim == model.DimIntegration && to == model.StatusCompleted {
		set += `, completed_at = $2`
	}
	where := fmt.Sprintf(` WHERE batch_id = $%d AND id = $%d AND `+col+` = $%d`,
		len(args)+1, len(args)+2, len(args)+3)
	args = append(args, batchID, unitID, string(from))
	// Integration never starts before extraction has produced a record.
	if dim == model.DimIntegration && to == model.StatusProcessing {
		where += fmt.Sprintf(` AND extraction_status = $%d`, len(args)+1)
		args = append(args, string(model.StatusCompleted))
	}

	tag, err := s.pool.Exec(ctx, `UPDATE units SET `+set+where, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance %s %s", unitID, dim)
	}
	if tag.RowsAffected() == 0 {
		return s.advanceConflict(ctx, batchID, unitID, dim, from)
	}
	return nil
}

// advanceConflict distinguishes an unknown unit, a CAS mismatch, and an
// integration claim blocked by incomplete extraction.
func (s *PostgresStore) advanceConflict(ctx context.Context, batchID, unitID string, dim model.Dimension, expected model.UnitStatus) error {
	var actual, extraction string
	var err error
	if dim == model.DimIntegration {
		err = s.pool.QueryRow(ctx,
			`SELECT integration_status, extraction_status FROM units WHERE batch_id = $1 AND id = $2`,
			batchID, unitID,
		).Scan(&actual, &extraction)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT `+dimColumn(dim)+` FROM units WHERE batch_id = $1 AND id = $2`,
			batchID, unitID,
		).Scan(&actual)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read status %s", unitID)
	}
	if model.UnitStatus(actual) != expected || dim != model.DimIntegration {
		return &model.StaleStatusError{
			BatchID:  batchID,
			UnitID:   unitID,
			Dim:      dim,
			Expected: expected,
			Actual:   model.UnitStatus(actual),
		}
	}
	return &model.StaleStatusError{
		BatchID:  batchID,
		UnitID:   unitID,
		Dim:      model.DimExtraction,
		Expected: model.StatusCompleted,
		Actual:   model.UnitStatus(extraction),
	}
}

func (s *PostgresStore) RecordError(ctx context.Context, batchID, unitID string, dim model.Dimension, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE units SET `+dimColumn(dim)+` = $1, error_message = $2, updated_at = $3 WHERE batch_id = $4 AND id = $5`,
		string(model.StatusError), message, time.Now().UTC(), batchID, unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record error %s", unitID)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	return nil
}

func (s *PostgresStore) RearmUnit(ctx context.Context, batchID, unitID string, dim model.Dimension, maxRetries int) error {
	col := dimColumn(dim)
	tag, err := s.pool.Exec(ctx,
		`UPDATE units SET `+col+` = $1, retry_count = retry_count + 1, error_message = '', updated_at = $2
		 WHERE batch_id = $3 AND id = $4 AND `+col+` = $5 AND retry_count < $6`,
		string(model.StatusPending), time.Now().UTC(), batchID, unitID, string(model.StatusError), maxRetries,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: rearm %s", unitID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	var retries int
	err = s.pool.QueryRow(ctx,
		`SELECT `+col+`, retry_count FROM units WHERE batch_id = $1 AND id = $2`,
		batchID, unitID,
	).Scan(&status, &retries)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read unit %s", unitID)
	}
	if model.UnitStatus(status) != model.StatusError {
		return &model.StaleStatusError{
			BatchID:  batchID,
			UnitID:   unitID,
			Dim:      dim,
			Expected: model.StatusError,
			Actual:   model.UnitStatus(status),
		}
	}
	return &model.RetryExhaustedError{UnitID: unitID, Dim: dim, Attempts: retries, Ceiling: maxRetries}
}

func (s *PostgresStore) SetUnitPointer(ctx context.Context, batchID, unitID string, ptr Pointer, value string) error {
	var col string
	switch ptr {
	case PointerRecord:
		col = "record_key"
	case PointerCRMCase:
		col = "crm_case_id"
	default:
		return eris.Errorf("postgres: unknown pointer %q", ptr)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE units SET `+col+` = $1, updated_at = $2 WHERE batch_id = $3 AND id = $4`,
		value, time.Now().UTC(), batchID, unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set %s on %s", col, unitID)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	return nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_batch"], batchID)
	b, err := scanBatchPg(row, batchID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) GetUnit(ctx context.Context, unitID string) (*model.Unit, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_unit"], unitID)
	u, err := scanUnit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get unit %s", unitID)
	}
	return u, nil
}

func (s *PostgresStore) GetBatchView(ctx context.Context, batchID string) (*model.Batch, []*model.Unit, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.pool.Query(ctx, preparedStatements["list_units"], batchID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "postgres: list units %s", batchID)
	}
	defer rows.Close()

	var units []*model.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, nil, eris.Wrap(err, "postgres: scan unit")
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: iterate units")
	}
	return batch, units, nil
}

func scanBatchPg(row pgx.Row, batchID string) (*model.Batch, error) {
	var b model.Batch
	var origin string
	err := row.Scan(&b.ID, &b.DeclaredCount, &b.ActualCount, &origin, &b.Company,
		&b.OriginPlace, &b.Notes, &b.Operator, &b.SourceKey, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "batch", ID: batchID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan batch %s", batchID)
	}
	b.Origin = model.Origin(origin)
	return &b, nil
}
