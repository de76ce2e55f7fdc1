package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"titlesearch/internal/storage"
)

// maxRowsPerStatement keeps each MERGE within SQL Server's 2100 parameter
// limit.
const maxRowsPerStatement = 200

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Upserts use MERGE over a VALUES source, one statement per batch, inside a
// single transaction per call. MERGE rejects a source that matches the same
// target row twice, so batches are deduplicated first.
type Repo struct {
	db    dbConn
	table string
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}, table: cfg.TableName()}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureSchema creates the titles table when it is missing.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(r.table)); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", r.table, err)
	}
	return nil
}

// UpsertTitles merges titles into the table by title_id.
func (r *Repo) UpsertTitles(ctx context.Context, titles []storage.Title) (n int64, err error) {
	titles = storage.Dedupe(titles)
	if len(titles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, batch := range storage.Batches(titles, maxRowsPerStatement) {
		q, args := buildMergeSQL(r.table, batch)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: merge %s: %w", r.table, err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// buildCreateSQL wraps CREATE TABLE in an OBJECT_ID guard so it can run on
// every start.
func buildCreateSQL(table string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s ("+
			"[title_id] NVARCHAR(16) NOT NULL PRIMARY KEY, "+
			"[run_id] NVARCHAR(64) NOT NULL, "+
			"[source_file] NVARCHAR(400) NOT NULL DEFAULT '', "+
			"[title] NVARCHAR(1000) NOT NULL DEFAULT '', "+
			"[kind] NVARCHAR(100) NOT NULL DEFAULT '', "+
			"[year] INT NULL, "+
			"[end_year] INT NULL, "+
			"[imdb_index] NVARCHAR(16) NOT NULL DEFAULT '', "+
			"[fields] NVARCHAR(MAX) NOT NULL DEFAULT '{}', "+
			"[loaded_at] DATETIME2 NOT NULL"+
			"); END;",
		strings.ReplaceAll(table, "'", "''"),
		mssqlTableIdent(table),
	)
}

// buildMergeSQL builds one MERGE statement for titles using @pN placeholders.
//
// Example (two columns shown):
//
//	MERGE INTO [titles] AS tgt
//	USING (VALUES (@p1, @p2), (@p3, @p4)) AS src ([title_id], [run_id])
//	ON tgt.[title_id] = src.[title_id]
//	WHEN MATCHED THEN UPDATE SET tgt.[run_id] = src.[run_id]
//	WHEN NOT MATCHED THEN INSERT ([title_id], [run_id]) VALUES (src.[title_id], src.[run_id]);
func buildMergeSQL(table string, titles []storage.Title) (string, []any) {
	cols := make([]string, len(storage.Columns))
	srcCols := make([]string, len(storage.Columns))
	for i, c := range storage.Columns {
		cols[i] = mssqlIdent(c)
		srcCols[i] = "src." + cols[i]
	}

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" AS tgt USING (VALUES ")

	args := make([]any, 0, len(titles)*len(cols))
	p := 1
	for i, t := range titles {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range t.Values() {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}

	fmt.Fprintf(&b, ") AS src (%s) ON tgt.%s = src.%s WHEN MATCHED THEN UPDATE SET ",
		strings.Join(cols, ", "), cols[0], cols[0])
	for i, c := range cols[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "tgt.%s = src.%s", c, c)
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		strings.Join(cols, ", "), strings.Join(srcCols, ", "))
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.titles" -> [dbo].[titles]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is the part of *sql.DB this package uses.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the part of *sql.Tx this package uses.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	return s.db.BeginTx(ctx, opts)
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
