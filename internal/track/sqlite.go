package track

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/oficio-pipeline/internal/model"
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
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
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_units_batch_id ON units(batch_id);
CREATE INDEX IF NOT EXISTS idx_units_extraction_status ON units(extraction_status);
CREATE INDEX IF NOT EXISTS idx_units_integration_status ON units(integration_status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle so the SQL queue can share one database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) CreateBatch(ctx context.Context, batch *model.Batch, units []*model.Unit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, declared_count, actual_count, origin, company, origin_place, notes, operator, source_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.DeclaredCount, batch.ActualCount, string(batch.Origin),
		batch.Company, batch.OriginPlace, batch.Notes, batch.Operator, batch.SourceKey, batch.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return &model.DuplicateBatchError{BatchID: batch.ID}
		}
		return eris.Wrap(err, "sqlite: insert batch")
	}

	for _, u := range units {
		u.CreatedAt = now
		u.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO units (id, batch_id, sequence, ingestion_status, extraction_status, integration_status, artifact_key, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.BatchID, u.Sequence, string(u.IngestionStatus), string(u.ExtractionStatus),
			string(u.IntegrationStatus), u.ArtifactKey, now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert unit %s", u.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

func (s *SQLiteStore) AdvanceUnitStatus(ctx context.Context, batchID, unitID string, dim model.Dimension, from, to model.UnitStatus) error {
	if !model.CanTransition(from, to) {
		return eris.Errorf("sqlite: invalid transition %s -> %s", from, to)
	}
	col := dimColumn(dim)
	now := time.Now().UTC()

	set := col + ` = ?, updated_at = ?`
	args := []any{string(to), now}
	if from == model.StatusError {
		set += `, error_message = ''`
	}
	if dim == model.DimIntegration && to == model.StatusCompleted {
		set += `, completed_at = ?`
		args = append(args, now)
	}
	where := ` WHERE batch_id = ? AND id = ? AND ` + col + ` = ?`
	args = append(args, batchID, unitID, string(from))
	// Integration never starts before extraction has produced a record.
	if dim == model.DimIntegration && to == model.StatusProcessing {
		where += ` AND extraction_status = ?`
		args = append(args, string(model.StatusCompleted))
	}

	res, err := s.db.ExecContext(ctx, `UPDATE units SET `+set+where, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance %s %s", unitID, dim)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.advanceConflict(ctx, batchID, unitID, dim, from)
	}
	return nil
}

// advanceConflict distinguishes an unknown unit, a CAS mismatch, and an
// integration claim blocked by incomplete extraction.
func (s *SQLiteStore) advanceConflict(ctx context.Context, batchID, unitID string, dim model.Dimension, expected model.UnitStatus) error {
	var actual, extraction string
	var err error
	if dim == model.DimIntegration {
		err = s.db.QueryRowContext(ctx,
			`SELECT integration_status, extraction_status FROM units WHERE batch_id = ? AND id = ?`,
			batchID, unitID,
		).Scan(&actual, &extraction)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT `+dimColumn(dim)+` FROM units WHERE batch_id = ? AND id = ?`,
			batchID, unitID,
		).Scan(&actual)
	}
	if err == sql.ErrNoRows {
		return &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read status %s", unitID)
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

func (s *SQLiteStore) RecordError(ctx context.Context, batchID, unitID string, dim model.Dimension, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE units SET `+dimColumn(dim)+` = ?, error_message = ?, updated_at = ? WHERE batch_id = ? AND id = ?`,
		string(model.StatusError), message, time.Now().UTC(), batchID, unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record error %s", unitID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	return nil
}

func (s *SQLiteStore) RearmUnit(ctx context.Context, batchID, unitID string, dim model.Dimension, maxRetries int) error {
	col := dimColumn(dim)
	res, err := s.db.ExecContext(ctx,
		`UPDATE units SET `+col+` = ?, retry_count = retry_count + 1, error_message = '', updated_at = ?
		 WHERE batch_id = ? AND id = ? AND `+col+` = ? AND retry_count < ?`,
		string(model.StatusPending), time.Now().UTC(), batchID, unitID, string(model.StatusError), maxRetries,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: rearm %s", unitID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var status string
	var retries int
	err = s.db.QueryRowContext(ctx,
		`SELECT `+col+`, retry_count FROM units WHERE batch_id = ? AND id = ?`,
		batchID, unitID,
	).Scan(&status, &retries)
	if err == sql.ErrNoRows {
		return &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read unit %s", unitID)
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

func (s *SQLiteStore) SetUnitPointer(ctx context.Context, batchID, unitID string, ptr Pointer, value string) error {
	var col string
	switch ptr {
	case PointerRecord:
		col = "record_key"
	case PointerCRMCase:
		col = "crm_case_id"
	default:
		return eris.Errorf("sqlite: unknown pointer %q", ptr)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE units SET `+col+` = ?, updated_at = ? WHERE batch_id = ? AND id = ?`,
		value, time.Now().UTC(), batchID, unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set %s on %s", col, unitID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	return nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, declared_count, actual_count, origin, company, origin_place, notes, operator, source_key, created_at
		 FROM batches WHERE id = ?`, batchID)
	return scanBatch(row, batchID)
}

func (s *SQLiteStore) GetUnit(ctx context.Context, unitID string) (*model.Unit, error) {
	row := s.db.QueryRowContext(ctx, selectUnitSQLite+` WHERE id = ?`, unitID)
	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "unit", ID: unitID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get unit %s", unitID)
	}
	return u, nil
}

func (s *SQLiteStore) GetBatchView(ctx context.Context, batchID string) (*model.Batch, []*model.Unit, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectUnitSQLite+` WHERE batch_id = ? ORDER BY sequence`, batchID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: list units %s", batchID)
	}
	defer rows.Close()

	var units []*model.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: scan unit")
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: iterate units")
	}
	return batch, units, nil
}

const selectUnitSQLite = `SELECT id, batch_id, sequence, ingestion_status, extraction_status, integration_status,
	artifact_key, record_key, crm_case_id, error_message, retry_count, created_at, updated_at, completed_at FROM units`

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable, batchID string) (*model.Batch, error) {
	var b model.Batch
	var origin string
	err := row.Scan(&b.ID, &b.DeclaredCount, &b.ActualCount, &origin, &b.Company,
		&b.OriginPlace, &b.Notes, &b.Operator, &b.SourceKey, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "batch", ID: batchID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "scan batch %s", batchID)
	}
	b.Origin = model.Origin(origin)
	return &b, nil
}

func scanUnit(row scannable) (*model.Unit, error) {
	var u model.Unit
	var ing, ext, integ string
	var completedAt sql.NullTime
	err := row.Scan(&u.ID, &u.BatchID, &u.Sequence, &ing, &ext, &integ,
		&u.ArtifactKey, &u.RecordKey, &u.CRMCaseID, &u.ErrorMessage, &u.RetryCount,
		&u.CreatedAt, &u.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	u.IngestionStatus = model.UnitStatus(ing)
	u.ExtractionStatus = model.UnitStatus(ext)
	u.IntegrationStatus = model.UnitStatus(integ)
	if completedAt.Valid {
		t := completedAt.Time
		u.CompletedAt = &t
	}
	return &u, nil
}
