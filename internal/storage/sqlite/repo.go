package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"titlesearch/internal/storage"
)

// maxRowsPerStatement keeps a batch under SQLite's default limit of 32766
// bound parameters.
const maxRowsPerStatement = 500

// Repo implements storage.Repository for SQLite.
//
// SQLite has no native timestamp type; loaded_at is stored as an RFC3339Nano
// string for reliable round-trips and easy debugging.
type Repo struct {
	db    *sql.DB
	table string
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a file path or "file::memory:").
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, table: cfg.TableName()}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureSchema creates the titles table if needed.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(r.table)); err != nil {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}
	return nil
}

// UpsertTitles writes titles in one transaction, replacing existing rows
// with the same title_id.
func (r *Repo) UpsertTitles(ctx context.Context, titles []storage.Title) (int64, error) {
	titles = storage.Dedupe(titles)
	if len(titles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	for _, batch := range storage.Batches(titles, maxRowsPerStatement) {
		q, args := buildUpsertSQL(r.table, batch)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", r.table, err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Lookup reads one title back by id.
func (r *Repo) Lookup(ctx context.Context, id string) (storage.Title, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE "title_id" = ?`, columnList(), sqlIdent(r.table))

	var (
		t        storage.Title
		year     sql.NullInt64
		endYear  sql.NullInt64
		loadedAt string
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.RunID, &t.SourceFile, &t.Title, &t.Kind,
		&year, &endYear, &t.IMDbIndex, &t.Fields, &loadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Title{}, false, nil
	}
	if err != nil {
		return storage.Title{}, false, err
	}

	if year.Valid {
		y := int(year.Int64)
		t.Year = &y
	}
	if endYear.Valid {
		y := int(endYear.Int64)
		t.EndYear = &y
	}
	if t.LoadedAt, err = parseSQLiteTime(loadedAt); err != nil {
		return storage.Title{}, false, fmt.Errorf("loaded_at of %s: %w", id, err)
	}
	return t, true, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func columnList() string {
	cols := make([]string, len(storage.Columns))
	for i, c := range storage.Columns {
		cols[i] = sqlIdent(c)
	}
	return strings.Join(cols, ", ")
}

func buildCreateSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + sqlIdent(table) + ` (
  "title_id" TEXT PRIMARY KEY,
  "run_id" TEXT NOT NULL,
  "source_file" TEXT NOT NULL DEFAULT '',
  "title" TEXT NOT NULL DEFAULT '',
  "kind" TEXT NOT NULL DEFAULT '',
  "year" INTEGER,
  "end_year" INTEGER,
  "imdb_index" TEXT NOT NULL DEFAULT '',
  "fields" TEXT NOT NULL DEFAULT '{}',
  "loaded_at" TEXT NOT NULL
)`
}

// buildUpsertSQL builds one multi-row INSERT ... ON CONFLICT DO UPDATE.
// loaded_at is bound as an RFC3339Nano string.
func buildUpsertSQL(table string, titles []storage.Title) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(columnList())
	b.WriteString(") VALUES ")

	row := "(" + strings.TrimRight(strings.Repeat("?, ", len(storage.Columns)), ", ") + ")"
	args := make([]any, 0, len(titles)*len(storage.Columns))
	for i, t := range titles {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
		vals := t.Values()
		vals[len(vals)-1] = formatSQLiteTime(t.LoadedAt)
		args = append(args, vals...)
	}

	b.WriteString(` ON CONFLICT ("title_id") DO UPDATE SET `)
	for i, c := range storage.Columns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", sqlIdent(c), sqlIdent(c))
	}
	return b.String(), args
}

// formatSQLiteTime is the storage form of loaded_at.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime parses the timestamp formats SQLite and this package write:
//
//	RFC3339Nano / RFC3339
//	"2006-01-02 15:04:05Z07:00"
//	"2006-01-02 15:04:05.999999999Z07:00"
//	"2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
