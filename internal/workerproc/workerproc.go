package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"litigation-backend/internal/queue"
	"litigation-backend/internal/quotes"
	"litigation-backend/internal/retrieval"
	"litigation-backend/internal/shared/util"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a payload that is not a valid job message.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrUnknownKind indicates a message for a job type this worker does not run.
type ErrUnknownKind struct {
	Kind      string
	RequestID string
}

func (e ErrUnknownKind) Error() string { return fmt.Sprintf("unknown job kind %q", e.Kind) }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	Kind      string
	TargetID  string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process " + e.Kind
	}
	return "process " + e.Kind + ": " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Retryable reports whether redelivering the message can succeed. A target that no
// longer exists never will.
func (e ErrProcess) Retryable() bool {
	return !errors.Is(e.Err, quotes.ErrNotFound) && !errors.Is(e.Err, retrieval.ErrNotFound)
}

// QuoteExecutor runs a stored quote request.
type QuoteExecutor interface {
	Execute(ctx context.Context, id string) (quotes.QuoteRequest, error)
}

// DocumentExecutor runs a stored document task.
type DocumentExecutor interface {
	Execute(ctx context.Context, id string) (retrieval.DocumentTask, error)
}

// Processors are the services a worker dispatches to by message kind.
type Processors struct {
	Quotes    QuoteExecutor
	Documents DocumentExecutor
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	return msg, meta, nil
}

// HandleMessage runs an already decoded message.
func HandleMessage(ctx context.Context, p Processors, msg queue.Message) error {
	ctx = util.WithRequestID(ctx, msg.RequestID)

	var err error
	switch msg.Kind {
	case queue.KindQuoteExecute:
		if p.Quotes == nil {
			return errors.New("quote service not configured")
		}
		_, err = p.Quotes.Execute(ctx, msg.TargetID)
		if errors.Is(err, quotes.ErrNoTokenAvailable) {
			// Recorded on the request; redelivery would only repeat the login.
			err = nil
		}
	case queue.KindDocumentsExecute:
		if p.Documents == nil {
			return errors.New("document service not configured")
		}
		_, err = p.Documents.Execute(ctx, msg.TargetID)
		if errors.Is(err, retrieval.ErrNoTokenAvailable) || errors.Is(err, retrieval.ErrFallbackFailed) {
			err = nil
		}
	default:
		return ErrUnknownKind{Kind: msg.Kind, RequestID: msg.RequestID}
	}
	if err != nil {
		return ErrProcess{Kind: msg.Kind, TargetID: msg.TargetID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}

// Discard reports whether a failed message can never succeed and should be dropped
// instead of redelivered.
func Discard(err error) bool {
	if err == nil {
		return false
	}
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		unknown ErrUnknownKind
		proc    ErrProcess
	)
	switch {
	case errors.As(err, &empty), errors.As(err, &decode), errors.As(err, &unknown):
		return true
	case errors.As(err, &proc):
		return !proc.Retryable()
	default:
		return false
	}
}
