package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	tokenRefreshTotal       = newLabeledCounter()
	tokenCacheHitsTotal     atomic.Uint64
	quoteRequestsTotal      = newLabeledCounter()
	providerCallsTotal      = newLabeledCounter()
	documentTasksTotal      = newLabeledCounter()
	documentDiscoveryTotal  = newLabeledCounter()
	documentDownloadsTotal  = newLabeledCounter()
	workerJobsTotal         = newLabeledCounter()
	providerCallDuration    = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 15000, 30000})
	documentDownloadSeconds = newHistogram([]float64{0.5, 1, 2, 5, 10, 30, 60})
)

// IncTokenRefresh counts an interactive login attempt by outcome (success, rejected, timeout, error).
func IncTokenRefresh(outcome string) {
	tokenRefreshTotal.Inc(outcome)
}

// IncTokenCacheHit counts a Resolve served without a login.
func IncTokenCacheHit() {
	tokenCacheHitsTotal.Add(1)
}

// IncQuoteRequest counts a quote request reaching a terminal status.
func IncQuoteRequest(status string) {
	quoteRequestsTotal.Inc(status)
}

// ObserveProviderCall records one premium call by outcome and its duration.
func ObserveProviderCall(outcome string, durationMs float64) {
	providerCallsTotal.Inc(outcome)
	if durationMs < 0 {
		durationMs = 0
	}
	providerCallDuration.Observe(durationMs)
}

// IncDocumentTask counts a retrieval task by terminal status.
func IncDocumentTask(status string) {
	documentTasksTotal.Inc(status)
}

// IncDocumentDiscovery counts which strategy produced a document list (interception,
// fallback) or that both failed.
func IncDocumentDiscovery(strategy string) {
	documentDiscoveryTotal.Inc(strategy)
}

// ObserveDocumentDownload records one file download by outcome.
func ObserveDocumentDownload(outcome string, seconds float64) {
	documentDownloadsTotal.Inc(outcome)
	if seconds < 0 {
		seconds = 0
	}
	documentDownloadSeconds.Observe(seconds)
}

// IncWorkerJob counts a queue message by outcome (received, completed, failed, discarded).
func IncWorkerJob(outcome string) {
	workerJobsTotal.Inc(outcome)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeLabeledCounter(&buf, "token_refresh_total", "Interactive logins by outcome", "outcome", tokenRefreshTotal.Snapshot())
	writeCounter(&buf, "token_cache_hits_total", "Token resolutions served from cache", tokenCacheHitsTotal.Load())
	writeLabeledCounter(&buf, "quote_requests_total", "Quote requests by terminal status", "status", quoteRequestsTotal.Snapshot())
	writeLabeledCounter(&buf, "provider_calls_total", "Premium calls by outcome", "outcome", providerCallsTotal.Snapshot())
	writeHistogram(&buf, "provider_call_duration_ms", "Premium call duration in milliseconds", providerCallDuration.Snapshot())
	writeLabeledCounter(&buf, "document_tasks_total", "Document tasks by terminal status", "status", documentTasksTotal.Snapshot())
	writeLabeledCounter(&buf, "document_discovery_total", "Document list acquisitions by strategy", "strategy", documentDiscoveryTotal.Snapshot())
	writeLabeledCounter(&buf, "document_downloads_total", "Document downloads by outcome", "outcome", documentDownloadsTotal.Snapshot())
	writeHistogram(&buf, "document_download_seconds", "Document download duration in seconds", documentDownloadSeconds.Snapshot())
	writeLabeledCounter(&buf, "worker_jobs_total", "Queue messages by outcome", "outcome", workerJobsTotal.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: map[string]uint64{}}
}

func (c *labeledCounter) Inc(label string) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "unknown"
	}
	c.mu.Lock()
	c.values[label]++
	c.mu.Unlock()
}

func (c *labeledCounter) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe adds value to the first bucket that holds it; writeHistogram accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
