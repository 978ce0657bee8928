package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"litigation-backend/internal/shared/util"
)

// MaxBodyBytes caps captured bodies; anything beyond is cut and marked.
const MaxBodyBytes = 64 * 1024

// RequestSnapshot is the outgoing call as sent, minus secrets.
type RequestSnapshot struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Query   map[string]string `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	SentAt  time.Time         `json:"sentAt"`
}

// ResponseSnapshot is what came back, or why nothing did.
type ResponseSnapshot struct {
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	DurationMs int64             `json:"durationMs"`
	Failure    *Failure          `json:"failure,omitempty"`
}

// Failure records the classified cause of an unsuccessful call.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Kind classifies a failure for persisted audit rows.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindHTTPError      Kind = "http_error"
	KindNoRateData     Kind = "no_rate_data"
	KindTransport      Kind = "transport_error"
	KindNoToken        Kind = "no_token"
	KindDownloadFailed Kind = "download_failed"
	KindInternal       Kind = "internal"
)

// SensitiveHeaders are masked by CaptureRequest in addition to any caller-named header.
var SensitiveHeaders = []string{"Authorization", "Cookie", "Bearer", "Token", "X-Auth-Token"}

// CaptureRequest snapshots req. Headers in SensitiveHeaders or extraSensitive are masked.
func CaptureRequest(req *http.Request, body []byte, sentAt time.Time, extraSensitive ...string) RequestSnapshot {
	snap := RequestSnapshot{
		Method: req.Method,
		SentAt: sentAt.UTC(),
	}
	if req.URL != nil {
		u := *req.URL
		snap.Query = flattenQuery(u.Query())
		u.RawQuery = ""
		snap.URL = u.String()
	}
	snap.Headers = RedactHeaders(req.Header, extraSensitive...)
	if len(body) > 0 {
		snap.Body, _ = Truncate(body, MaxBodyBytes)
	}
	return snap
}

// CaptureResponse snapshots a received response with an already-read body.
func CaptureResponse(resp *http.Response, body []byte, elapsed time.Duration) ResponseSnapshot {
	snap := ResponseSnapshot{DurationMs: elapsed.Milliseconds()}
	if resp != nil {
		snap.StatusCode = resp.StatusCode
		snap.Headers = RedactHeaders(resp.Header)
	}
	snap.Body, snap.Truncated = Truncate(body, MaxBodyBytes)
	return snap
}

// FailedResponse builds a snapshot for a call that produced no usable response.
func FailedResponse(kind Kind, err error, elapsed time.Duration) ResponseSnapshot {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ResponseSnapshot{
		DurationMs: elapsed.Milliseconds(),
		Failure:    &Failure{Kind: kind, Message: msg},
	}
}

// Truncate returns body as a string of at most limit bytes plus a marker when cut.
func Truncate(body []byte, limit int) (string, bool) {
	if limit <= 0 || len(body) <= limit {
		return string(body), false
	}
	cut := body[:limit]
	// Drop a trailing partial rune so the stored text stays valid UTF-8.
	for i := 0; i < 3 && len(cut) > 0; i++ {
		if r, size := utf8.DecodeLastRune(cut); r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return fmt.Sprintf("%s...[truncated %d bytes]", cut, len(body)-len(cut)), true
}

// RedactHeaders flattens h, masking credential-bearing values.
func RedactHeaders(h http.Header, extraSensitive ...string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	sensitive := make(map[string]struct{}, len(SensitiveHeaders)+len(extraSensitive))
	for _, name := range SensitiveHeaders {
		sensitive[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	for _, name := range extraSensitive {
		sensitive[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		joined := strings.Join(values, ", ")
		if _, ok := sensitive[http.CanonicalHeaderKey(name)]; ok {
			joined = util.MaskToken(strings.TrimSpace(strings.TrimPrefix(joined, "Bearer ")))
		}
		out[name] = joined
	}
	return out
}

func flattenQuery(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = strings.Join(values[k], ",")
	}
	return out
}

// Encode renders a snapshot for a TEXT column. Zero values encode as "".
func Encode(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeRequest parses a stored request snapshot.
func DecodeRequest(raw string) (RequestSnapshot, error) {
	var snap RequestSnapshot
	if strings.TrimSpace(raw) == "" {
		return snap, nil
	}
	err := json.Unmarshal([]byte(raw), &snap)
	return snap, err
}

// DecodeResponse parses a stored response snapshot.
func DecodeResponse(raw string) (ResponseSnapshot, error) {
	var snap ResponseSnapshot
	if strings.TrimSpace(raw) == "" {
		return snap, nil
	}
	err := json.Unmarshal([]byte(raw), &snap)
	return snap, err
}
