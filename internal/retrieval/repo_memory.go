package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores tasks and records in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu      sync.RWMutex
	tasks   map[string]DocumentTask
	records map[string]DocumentRecord
	// byKey maps document identity to record ID.
	byKey map[string]string
	// FailKeys makes UpsertRecord fail for the listed document keys; tests only.
	FailKeys map[string]error
}

var _ Repo = (*MemoryRepo)(nil)

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tasks:   make(map[string]DocumentTask),
		records: make(map[string]DocumentRecord),
		byKey:   make(map[string]string),
	}
}

// CreateTask stores the task.
func (r *MemoryRepo) CreateTask(ctx context.Context, task DocumentTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	return nil
}

// GetTask returns a task by ID.
func (r *MemoryRepo) GetTask(ctx context.Context, id string) (DocumentTask, error) {
	if err := ctx.Err(); err != nil {
		return DocumentTask{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return DocumentTask{}, ErrNotFound
	}
	return t, nil
}

// UpdateTask replaces the mutable task fields.
func (r *MemoryRepo) UpdateTask(ctx context.Context, task DocumentTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Strategy = task.Strategy
	cur.Status = task.Status
	cur.Error = task.Error
	cur.Discovered = task.Discovered
	cur.Downloaded = task.Downloaded
	cur.Failed = task.Failed
	cur.UpdatedAt = task.UpdatedAt.UTC()
	r.tasks[task.ID] = cur
	return nil
}

// UpsertRecord mirrors the SQL upsert: identity is (document number, delivery number).
func (r *MemoryRepo) UpsertRecord(ctx context.Context, rec DocumentRecord) (DocumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return DocumentRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailKeys[rec.Key()]; err != nil {
		return DocumentRecord{}, err
	}
	id, ok := r.byKey[rec.Key()]
	if !ok {
		r.records[rec.ID] = rec
		r.byKey[rec.Key()] = rec.ID
		return rec, nil
	}
	cur := r.records[id]
	cur.TaskID = rec.TaskID
	cur.CaseRef = rec.CaseRef
	cur.Name = rec.Name
	cur.FileURL = rec.FileURL
	cur.FileType = rec.FileType
	if cur.Status != RecordSuccess {
		cur.Status = rec.Status
		cur.Error = rec.Error
	}
	cur.UpdatedAt = rec.UpdatedAt
	r.records[id] = cur
	return cur, nil
}

// UpdateRecordResult stores the outcome of a download.
func (r *MemoryRepo) UpdateRecordResult(ctx context.Context, id, status, filePath string, size int64, pages int, errMsg string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.FilePath = filePath
	rec.SizeBytes = size
	rec.PageCount = pages
	rec.Error = errMsg
	rec.UpdatedAt = at.UTC()
	r.records[id] = rec
	return nil
}

// ListRecords returns the records last discovered by a task.
func (r *MemoryRepo) ListRecords(ctx context.Context, taskID string) ([]DocumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []DocumentRecord
	for _, rec := range r.records {
		if rec.TaskID == taskID {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentNumber != out[j].DocumentNumber {
			return out[i].DocumentNumber < out[j].DocumentNumber
		}
		return out[i].DeliveryNumber < out[j].DeliveryNumber
	})
	return out, nil
}

// Len reports how many distinct documents are stored.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
