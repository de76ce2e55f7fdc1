package datadog

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"titlesearch/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func quietOptions(fs *fakeSubmitter) Options {
	return Options{
		JobName:   "job1",
		submitter: fs,
		now:       func() time.Time { return time.Unix(1000, 0) },
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

// TestResolveEnvTag verifies ENV wins over DD_ENV and the unknown fallback.
func TestResolveEnvTag(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("DD_ENV", "")
	if got := resolveEnvTag(); got != "env:unknown" {
		t.Fatalf("got %q, want env:unknown", got)
	}

	t.Setenv("DD_ENV", "staging")
	if got := resolveEnvTag(); got != "env:staging" {
		t.Fatalf("got %q, want env:staging", got)
	}

	t.Setenv("ENV", " prod ")
	if got := resolveEnvTag(); got != "env:prod" {
		t.Fatalf("got %q, want env:prod", got)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	s := []float64{1, 2, 3, 4, 5}
	cases := map[float64]float64{0: 1, 0.5: 3, 0.9: 5, 1: 5}
	for p, want := range cases {
		if got := percentileNearestRank(s, p); got != want {
			t.Fatalf("p=%v: got %v, want %v", p, got, want)
		}
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Fatalf("empty: got %v, want 0", got)
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := quietOptions(fs)
	opts.JobName = ""
	opts.Tags = []string{"service:titlesearch"}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:titlesearch") || !contains(b.baseTags, "service:titlesearch") {
		t.Fatalf("unexpected base tags: %v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

// TestFlush_SubmitsAndResets verifies Flush submits the extraction series and
// resets buffers.
func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "extracted"})
	b.IncCounter(metrics.FieldsDroppedTotal, 1, metrics.Labels{"field": "runtimes"})
	b.IncCounter(metrics.ItemsDroppedTotal, 2, nil)
	b.IncCounter(metrics.CompositeMismatchTotal, 1, nil)
	b.IncCounter(metrics.MergeConflictsTotal, 1, metrics.Labels{"field": "year"})
	b.ObserveHistogram(metrics.ParseDurationSeconds, 0.02, nil)
	b.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{"status": "200"})
	b.ObserveHistogram(metrics.HTTPRequestDurationSeconds, 0.1, metrics.Labels{"status": "200"})
	b.ObserveHistogram(metrics.HTTPDownloadBytes, 2048, metrics.Labels{"status": "200"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if !b.buf.isEmpty() {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	var names []string
	for _, s := range payload.Series {
		names = append(names, s.Metric)
	}
	sort.Strings(names)

	for _, w := range []string{
		"titlesearch.records.total",
		"titlesearch.fields_dropped.total",
		"titlesearch.items_dropped.total",
		"titlesearch.composite_mismatch.total",
		"titlesearch.merge_conflicts.total",
		"titlesearch.parse.duration_seconds.p50",
		"titlesearch.parse.duration_seconds.samples",
		"titlesearch.http.requests.total",
		"titlesearch.http.request_duration_seconds.p99",
		"titlesearch.http.download_bytes.max",
	} {
		if !contains(names, w) {
			t.Fatalf("payload missing metric %q; got=%v", w, names)
		}
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d", fs.count())
	}
}

func TestFlush_WrapsSubmitError(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("boom")}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.ItemsDroppedTotal, 1, nil)
	if err := b.Flush(); err == nil || !errors.Is(err, fs.err) {
		t.Fatalf("Flush() err=%v, want wrapped boom", err)
	}
	// buffers reset even though submission failed
	fs.err = nil
	if err := b.Flush(); err != nil || fs.count() != 1 {
		t.Fatalf("second Flush err=%v count=%d", err, fs.count())
	}
}

// TestLoopAndClose verifies the background loop flushes and Close performs a
// final flush.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.ItemsDroppedTotal, 1, nil)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected a background flush")
	}

	b.IncCounter(metrics.ItemsDroppedTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", fs.count())
	}
	// second Close must not panic
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v", err)
	}
}

func TestIgnoresUnknownAndInvalid(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter("unknown_total", 1, nil)
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{}) // no kind
	b.IncCounter(metrics.ItemsDroppedTotal, 0, nil)
	b.ObserveHistogram(metrics.ParseDurationSeconds, -1, nil)

	if !b.buf.isEmpty() {
		t.Fatalf("expected empty buffers, got %+v", b.buf)
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	got := ParseTagsCSV(" env:prod, ,service:titlesearch ")
	if len(got) != 2 || got[0] != "env:prod" || got[1] != "service:titlesearch" {
		t.Fatalf("unexpected tags: %v", got)
	}
	if ParseTagsCSV("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
