// Package storage persists extracted title records.
//
// Backends register themselves by kind from an init function; import
// titlesearch/internal/storage/all to link every backend.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"titlesearch/internal/extract"
	"titlesearch/internal/titleinfo"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "titles"

// Config selects and configures a backend.
type Config struct {
	Kind  string
	DSN   string
	Table string
}

// TableName returns Table or DefaultTable.
func (c Config) TableName() string {
	if strings.TrimSpace(c.Table) == "" {
		return DefaultTable
	}
	return c.Table
}

// Repository stores titles keyed by title id.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureSchema creates the titles table if it does not exist.
	EnsureSchema(ctx context.Context) error

	// UpsertTitles inserts titles, replacing rows with the same id, and
	// returns the number of affected rows as reported by the driver.
	UpsertTitles(ctx context.Context, titles []Title) (int64, error)
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind (e.g. "postgres", "sqlite").
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Title is one row of the titles table.
type Title struct {
	ID         string
	RunID      string
	SourceFile string
	Title      string
	Kind       string
	Year       *int
	EndYear    *int
	IMDbIndex  string

	// Fields holds every other record field as a JSON object.
	Fields string

	LoadedAt time.Time
}

// Columns is the column order used by Values and every backend.
var Columns = []string{
	"title_id", "run_id", "source_file", "title", "kind",
	"year", "end_year", "imdb_index", "fields", "loaded_at",
}

// Values returns the row in Columns order. Absent years are nil.
func (t Title) Values() []any {
	return []any{
		t.ID, t.RunID, t.SourceFile, t.Title, t.Kind,
		intOrNil(t.Year), intOrNil(t.EndYear), t.IMDbIndex, t.Fields, t.LoadedAt.UTC(),
	}
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

// TitleFromRecord maps an assembled record to a row. The title, kind, year,
// end_year and imdbIndex fields get their own columns; the rest is encoded
// into Fields.
func TitleFromRecord(runID, sourceFile string, rec extract.Record, now time.Time) (Title, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return Title{}, fmt.Errorf("record has no id")
	}

	t := Title{
		ID:         rec.ID,
		RunID:      runID,
		SourceFile: sourceFile,
		LoadedAt:   now,
	}

	rest := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		switch k {
		case "title":
			t.Title = text(v)
		case titleinfo.FieldKind:
			t.Kind = text(v)
		case titleinfo.FieldIndex:
			t.IMDbIndex = text(v)
		case titleinfo.FieldYear:
			t.Year = year(v)
		case titleinfo.FieldEndYear:
			t.EndYear = year(v)
		default:
			rest[k] = v
		}
	}

	b, err := json.Marshal(rest)
	if err != nil {
		return Title{}, fmt.Errorf("encode fields of %s: %w", rec.ID, err)
	}
	t.Fields = string(b)
	return t, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func year(v any) *int {
	switch t := v.(type) {
	case int:
		return &t
	case int64:
		n := int(t)
		return &n
	case float64:
		n := int(t)
		return &n
	default:
		return nil
	}
}

// Dedupe keeps the last title for each id, in order of first appearance.
// Backends upsert one statement per batch, which cannot touch a row twice.
func Dedupe(titles []Title) []Title {
	pos := make(map[string]int, len(titles))
	out := make([]Title, 0, len(titles))
	for _, t := range titles {
		if i, ok := pos[t.ID]; ok {
			out[i] = t
			continue
		}
		pos[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}

// Batches splits titles into slices of at most size elements.
func Batches(titles []Title, size int) [][]Title {
	if size <= 0 {
		size = len(titles)
	}
	var out [][]Title
	for len(titles) > 0 {
		n := min(size, len(titles))
		out = append(out, titles[:n])
		titles = titles[n:]
	}
	return out
}
