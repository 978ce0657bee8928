package quotes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	ok := func(code string, attempt int) QuoteResult {
		return QuoteResult{ProviderCode: code, Attempt: attempt, Status: ResultSuccess}
	}
	bad := func(code string, attempt int) QuoteResult {
		return QuoteResult{ProviderCode: code, Attempt: attempt, Status: ResultFailed}
	}

	tests := []struct {
		name      string
		providers []string
		results   []QuoteResult
		want      string
	}{
		{name: "all success", providers: []string{"A", "B"}, results: []QuoteResult{ok("A", 1), ok("B", 1)}, want: StatusCompleted},
		{name: "all failed", providers: []string{"A", "B"}, results: []QuoteResult{bad("A", 1), bad("B", 1)}, want: StatusFailed},
		{name: "mixed", providers: []string{"A", "B"}, results: []QuoteResult{ok("A", 1), bad("B", 1)}, want: StatusPartiallyFailed},
		{name: "retry fixed it", providers: []string{"A", "B"}, results: []QuoteResult{ok("A", 1), bad("B", 1), ok("B", 2)}, want: StatusCompleted},
		{name: "latest attempt wins over order", providers: []string{"A"}, results: []QuoteResult{bad("A", 2), ok("A", 1)}, want: StatusFailed},
		{name: "missing provider counts as failed", providers: []string{"A", "B"}, results: []QuoteResult{ok("A", 1)}, want: StatusPartiallyFailed},
		{name: "no results", providers: []string{"A"}, want: StatusFailed},
		{name: "no providers", want: StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.providers, LatestByProvider(tt.results)))
		})
	}
}

func TestSummarizeCountsQuoted(t *testing.T) {
	req := QuoteRequest{ID: "q1", Providers: []string{"B", "A", "C"}}
	results := []QuoteResult{
		{ProviderCode: "A", Attempt: 1, Status: ResultFailed},
		{ProviderCode: "A", Attempt: 2, Status: ResultSuccess},
		{ProviderCode: "B", Attempt: 1, Status: ResultFailed},
	}
	summary := Summarize(req, results)
	assert.Equal(t, 1, summary.Quoted)
	assert.Equal(t, 3, summary.Total)
	if assert.Len(t, summary.Results, 2) {
		assert.Equal(t, "B", summary.Results[0].ProviderCode)
		assert.Equal(t, 2, summary.Results[1].Attempt)
	}
}
