// Package datadog implements a Datadog backend for internal/metrics.
//
// Observations are buffered in memory and submitted on a ticker (default once
// per minute) plus once more on Close. Short CLI runs therefore still submit
// their numbers, and long directory runs produce a real time series.
//
// Flush snapshots and resets the buffers under the lock, then submits outside
// of it, so extraction goroutines never wait on the network.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"titlesearch/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "titlesearch".
	JobName string

	// Tags are extra Datadog tags (e.g. "service:titlesearch").
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// Defaults to 60 seconds.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf buffers
}

// buffers is one collection window. Counter maps are keyed by the single
// label that matters for that metric ("" when there is none).
type buffers struct {
	records      map[string]float64 // kind
	fieldDrops   map[string]float64 // field
	itemDrops    float64
	mismatches   float64
	conflicts    map[string]float64 // field
	parseSeconds []float64

	httpReqs  map[string]float64 // status
	httpErrs  map[string]float64 // status
	httpDur   map[string][]float64
	httpBytes map[string][]float64
}

func newBuffers() buffers {
	return buffers{
		records:    make(map[string]float64),
		fieldDrops: make(map[string]float64),
		conflicts:  make(map[string]float64),
		httpReqs:   make(map[string]float64),
		httpErrs:   make(map[string]float64),
		httpDur:    make(map[string][]float64),
		httpBytes:  make(map[string][]float64),
	}
}

func (s buffers) isEmpty() bool {
	return len(s.records) == 0 &&
		len(s.fieldDrops) == 0 &&
		s.itemDrops == 0 &&
		s.mismatches == 0 &&
		len(s.conflicts) == 0 &&
		len(s.parseSeconds) == 0 &&
		len(s.httpReqs) == 0 &&
		len(s.httpErrs) == 0 &&
		len(s.httpDur) == 0 &&
		len(s.httpBytes) == 0
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and starts
// its periodic flush loop. Credentials come from DD_API_KEY / DD_SITE via
// dd.NewDefaultContext.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "titlesearch"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		buf:        newBuffers(),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Calling Close more
// than once only flushes again.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func statusOf(labels metrics.Labels) string {
	if s := labels["status"]; s != "" {
		return s
	}
	return "unknown"
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.RecordsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.buf.records[kind] += delta
	case metrics.FieldsDroppedTotal:
		b.buf.fieldDrops[labels["field"]] += delta
	case metrics.ItemsDroppedTotal:
		b.buf.itemDrops += delta
	case metrics.CompositeMismatchTotal:
		b.buf.mismatches += delta
	case metrics.MergeConflictsTotal:
		b.buf.conflicts[labels["field"]] += delta
	case metrics.HTTPRequestsTotal:
		b.buf.httpReqs[statusOf(labels)] += delta
	case metrics.HTTPErrorsTotal:
		b.buf.httpErrs[statusOf(labels)] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.ParseDurationSeconds:
		b.buf.parseSeconds = append(b.buf.parseSeconds, value)
	case metrics.HTTPRequestDurationSeconds:
		s := statusOf(labels)
		b.buf.httpDur[s] = append(b.buf.httpDur[s], value)
	case metrics.HTTPDownloadBytes:
		s := statusOf(labels)
		b.buf.httpBytes[s] = append(b.buf.httpBytes[s], value)
	}
}

func (b *Backend) snapshotAndReset() buffers {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.buf
	b.buf = newBuffers()
	return s
}

// Flush submits buffered metrics and resets the buffers. Buffers are reset
// even when submission fails. Returns nil when there is nothing to submit.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries converts a snapshot into Datadog series at a fixed timestamp.
func (b *Backend) buildSeries(s buffers, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 32)

	countsBy := func(metric, tagKey string, m map[string]float64) {
		for _, k := range sortedKeys(m) {
			if m[k] == 0 {
				continue
			}
			tags := b.baseTags
			if k != "" {
				tags = withTags(b.baseTags, tagKey+":"+k)
			}
			series = append(series, countSeries(metric, m[k], tags, nowUnix))
		}
	}

	countsBy("titlesearch.records.total", "kind", s.records)
	countsBy("titlesearch.fields_dropped.total", "field", s.fieldDrops)
	countsBy("titlesearch.merge_conflicts.total", "field", s.conflicts)
	if s.itemDrops != 0 {
		series = append(series, countSeries("titlesearch.items_dropped.total", s.itemDrops, b.baseTags, nowUnix))
	}
	if s.mismatches != 0 {
		series = append(series, countSeries("titlesearch.composite_mismatch.total", s.mismatches, b.baseTags, nowUnix))
	}
	addPercentiles(&series, "titlesearch.parse.duration_seconds", s.parseSeconds, b.baseTags, nowUnix)

	countsBy("titlesearch.http.requests.total", "status", s.httpReqs)
	countsBy("titlesearch.http.errors.total", "status", s.httpErrs)
	for _, status := range sortedKeys(s.httpDur) {
		addPercentiles(&series, "titlesearch.http.request_duration_seconds", s.httpDur[status], withTags(b.baseTags, "status:"+status), nowUnix)
	}
	for _, status := range sortedKeys(s.httpBytes) {
		addPercentiles(&series, "titlesearch.http.download_bytes", s.httpBytes[status], withTags(b.baseTags, "status:"+status), nowUnix)
	}

	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges. It sorts a copy
// of samples and does nothing when samples is empty.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:titlesearch".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
