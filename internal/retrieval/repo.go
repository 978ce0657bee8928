package retrieval

import (
	"context"
	"time"
)

// Repo defines persistence operations for document tasks and records.
type Repo interface {
	CreateTask(ctx context.Context, task DocumentTask) error
	GetTask(ctx context.Context, id string) (DocumentTask, error)
	UpdateTask(ctx context.Context, task DocumentTask) error
	// UpsertRecord inserts or updates by (document_number, delivery_number) and returns the stored row.
	UpsertRecord(ctx context.Context, rec DocumentRecord) (DocumentRecord, error)
	UpdateRecordResult(ctx context.Context, id, status, filePath string, size int64, pages int, errMsg string, at time.Time) error
	ListRecords(ctx context.Context, taskID string) ([]DocumentRecord, error)
}

// UpsertBatch upserts every record independently. One failing item never aborts the
// rest; failures are counted and keyed by document identity.
func UpsertBatch(ctx context.Context, repo Repo, recs []DocumentRecord) BatchResult {
	res := BatchResult{Errors: map[string]error{}}
	for _, rec := range recs {
		stored, err := repo.UpsertRecord(ctx, rec)
		if err != nil {
			res.Failed++
			res.Errors[rec.Key()] = err
			continue
		}
		res.Succeeded++
		res.Records = append(res.Records, stored)
	}
	return res
}
