// Package metrics is a small backend-agnostic metrics facade.
//
// Extraction and CLI code call the package-level helpers; the process picks a
// concrete Backend once at startup via SetBackend. Until then every call goes
// to a no-op backend, so library code and tests never need a metrics setup.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions (e.g. {"field": "runtimes"}).
type Labels map[string]string

// Backend receives metric observations.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

// Metric names emitted by this module.
const (
	RecordsTotal           = "titlesearch_records_total"
	FieldsDroppedTotal     = "titlesearch_fields_dropped_total"
	ItemsDroppedTotal      = "titlesearch_items_dropped_total"
	CompositeMismatchTotal = "titlesearch_composite_mismatch_total"
	MergeConflictsTotal    = "titlesearch_merge_conflicts_total"
	ParseDurationSeconds   = "titlesearch_parse_duration_seconds"

	HTTPRequestsTotal          = "titlesearch_http_requests_total"
	HTTPErrorsTotal            = "titlesearch_http_errors_total"
	HTTPRequestDurationSeconds = "titlesearch_http_request_duration_seconds"
	HTTPDownloadBytes          = "titlesearch_http_download_bytes"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter on the current backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records value for the named histogram on the current backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// ObserveDuration records time elapsed since start, in seconds.
func ObserveDuration(name string, start time.Time, labels Labels) {
	ObserveHistogram(name, time.Since(start).Seconds(), labels)
}

// Flush flushes the current backend if it buffers. Otherwise it is a no-op.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordHTTP records one HTTP fetch. status is 0 when no response was received.
func RecordHTTP(status int, err error, dur time.Duration, bytes int64) {
	s := "none"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	l := Labels{"status": s}

	IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status < 200 || status >= 300 {
		IncCounter(HTTPErrorsTotal, 1, l)
	}
	ObserveHistogram(HTTPRequestDurationSeconds, dur.Seconds(), l)
	if bytes > 0 {
		ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
