package retrieval

import "time"

// Acquisition strategies.
const (
	StrategyInterception = "interception"
	StrategyFallback     = "fallback"
)

// Task statuses. Pending covers the gap between Submit and the worker picking the task up.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// Record statuses.
const (
	RecordPending = "pending"
	RecordSuccess = "success"
	RecordFailed  = "failed"
)

// DocumentTask is one retrieval job for a delivery task on the court portal.
type DocumentTask struct {
	ID         string    `json:"id"`
	TaskRef    string    `json:"taskRef"`
	CaseRef    string    `json:"caseRef,omitempty"`
	Account    string    `json:"account,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Discovered int       `json:"discovered"`
	Downloaded int       `json:"downloaded"`
	Failed     int       `json:"failed"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DocumentRecord is one discovered document, unique on (DocumentNumber, DeliveryNumber).
type DocumentRecord struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"taskId"`
	CaseRef        string    `json:"caseRef,omitempty"`
	DocumentNumber string    `json:"documentNumber"`
	DeliveryNumber string    `json:"deliveryNumber"`
	Name           string    `json:"name"`
	FileURL        string    `json:"fileUrl"`
	FileType       string    `json:"fileType,omitempty"`
	Status         string    `json:"status"`
	FilePath       string    `json:"filePath,omitempty"`
	SizeBytes      int64     `json:"sizeBytes"`
	PageCount      int       `json:"pageCount"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Key is the external identity of a document.
func (r DocumentRecord) Key() string {
	return r.DocumentNumber + "/" + r.DeliveryNumber
}

// Discovered is a document listed by either acquisition strategy.
type Discovered struct {
	DocumentNumber string `json:"documentNumber"`
	DeliveryNumber string `json:"deliveryNumber"`
	Name           string `json:"name"`
	FileURL        string `json:"fileUrl"`
	FileType       string `json:"fileType"`
}

// Key matches DocumentRecord.Key.
func (d Discovered) Key() string {
	return d.DocumentNumber + "/" + d.DeliveryNumber
}

// DedupeDiscovered collapses entries naming the same document. The last entry wins;
// the position of the first is kept.
func DedupeDiscovered(docs []Discovered) []Discovered {
	if len(docs) < 2 {
		return docs
	}
	index := make(map[string]int, len(docs))
	out := make([]Discovered, 0, len(docs))
	for _, d := range docs {
		if i, seen := index[d.Key()]; seen {
			out[i] = d
			continue
		}
		index[d.Key()] = len(out)
		out = append(out, d)
	}
	return out
}

// TaskSummary is what the business layer reads back.
type TaskSummary struct {
	Task    DocumentTask     `json:"task"`
	Records []DocumentRecord `json:"records"`
}

// SubmitInput carries the caller-supplied fields of a new task.
type SubmitInput struct {
	TaskRef string
	CaseRef string
	Account string
}

// BatchResult counts per-item outcomes of UpsertBatch.
type BatchResult struct {
	Succeeded int
	Failed    int
	Records   []DocumentRecord
	Errors    map[string]error
}
