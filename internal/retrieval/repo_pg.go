package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres (or SQLite with the same SQL).
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

const taskColumns = `id, task_ref, case_ref, account, strategy, status, error, discovered, downloaded, failed, created_at, updated_at`

const recordColumns = `id, task_id, case_ref, document_number, delivery_number, name, file_url, file_type,
       status, file_path, size_bytes, page_count, error, created_at, updated_at`

// CreateTask inserts a new task.
func (r *PGRepo) CreateTask(ctx context.Context, task DocumentTask) error {
	const query = `
INSERT INTO document_tasks (` + taskColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.DB.ExecContext(ctx, query,
		task.ID,
		task.TaskRef,
		task.CaseRef,
		task.Account,
		task.Strategy,
		task.Status,
		nullString(task.Error),
		task.Discovered,
		task.Downloaded,
		task.Failed,
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create document task: %w", err)
	}
	return nil
}

// GetTask returns a task by ID.
func (r *PGRepo) GetTask(ctx context.Context, id string) (DocumentTask, error) {
	const query = `SELECT ` + taskColumns + ` FROM document_tasks WHERE id = $1`
	var t DocumentTask
	var errMsg sql.NullString
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.TaskRef, &t.CaseRef, &t.Account, &t.Strategy, &t.Status, &errMsg,
		&t.Discovered, &t.Downloaded, &t.Failed, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentTask{}, ErrNotFound
	}
	if err != nil {
		return DocumentTask{}, fmt.Errorf("get document task: %w", err)
	}
	t.Error = errMsg.String
	return t, nil
}

// UpdateTask writes the mutable task fields.
func (r *PGRepo) UpdateTask(ctx context.Context, task DocumentTask) error {
	const query = `
UPDATE document_tasks
SET strategy = $2, status = $3, error = $4, discovered = $5, downloaded = $6, failed = $7, updated_at = $8
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query,
		task.ID,
		task.Strategy,
		task.Status,
		nullString(task.Error),
		task.Discovered,
		task.Downloaded,
		task.Failed,
		task.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update document task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertRecord inserts a record or refreshes the existing one with the same external key.
// A record already downloaded keeps its success status and file.
func (r *PGRepo) UpsertRecord(ctx context.Context, rec DocumentRecord) (DocumentRecord, error) {
	const query = `
INSERT INTO document_records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (document_number, delivery_number) DO UPDATE SET
	task_id = excluded.task_id,
	case_ref = excluded.case_ref,
	name = excluded.name,
	file_url = excluded.file_url,
	file_type = excluded.file_type,
	status = CASE WHEN document_records.status = 'success' THEN document_records.status ELSE excluded.status END,
	error = CASE WHEN document_records.status = 'success' THEN document_records.error ELSE excluded.error END,
	updated_at = excluded.updated_at
RETURNING ` + recordColumns
	row := r.DB.QueryRowContext(ctx, query,
		rec.ID,
		rec.TaskID,
		rec.CaseRef,
		rec.DocumentNumber,
		rec.DeliveryNumber,
		rec.Name,
		rec.FileURL,
		rec.FileType,
		rec.Status,
		nullString(rec.FilePath),
		rec.SizeBytes,
		rec.PageCount,
		nullString(rec.Error),
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	stored, err := scanRecord(row)
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("upsert document record %s: %w", rec.Key(), err)
	}
	return stored, nil
}

// UpdateRecordResult stores the outcome of a download.
func (r *PGRepo) UpdateRecordResult(ctx context.Context, id, status, filePath string, size int64, pages int, errMsg string, at time.Time) error {
	const query = `
UPDATE document_records
SET status = $2, file_path = $3, size_bytes = $4, page_count = $5, error = $6, updated_at = $7
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id, status, nullString(filePath), size, pages, nullString(errMsg), at.UTC())
	if err != nil {
		return fmt.Errorf("update document record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecords returns the records last discovered by a task.
func (r *PGRepo) ListRecords(ctx context.Context, taskID string) ([]DocumentRecord, error) {
	const query = `SELECT ` + recordColumns + `
FROM document_records
WHERE task_id = $1
ORDER BY document_number ASC, delivery_number ASC`
	rows, err := r.DB.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list document records: %w", err)
	}
	defer rows.Close()

	var out []DocumentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (DocumentRecord, error) {
	var rec DocumentRecord
	var filePath, errMsg sql.NullString
	if err := row.Scan(
		&rec.ID, &rec.TaskID, &rec.CaseRef, &rec.DocumentNumber, &rec.DeliveryNumber, &rec.Name,
		&rec.FileURL, &rec.FileType, &rec.Status, &filePath, &rec.SizeBytes, &rec.PageCount,
		&errMsg, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return DocumentRecord{}, err
	}
	rec.FilePath = filePath.String
	rec.Error = errMsg.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
