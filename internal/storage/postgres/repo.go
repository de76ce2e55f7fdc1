package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"titlesearch/internal/storage"
)

// maxRowsPerStatement keeps a batch well under the 65535 bind parameter limit.
const maxRowsPerStatement = 1000

// Repo implements storage.Repository for Postgres.
//
// Upserts use INSERT ... ON CONFLICT (title_id) DO UPDATE inside one
// transaction per call.
type Repo struct {
	pool  *pgxpool.Pool
	table pgx.Identifier
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool, table: tableIdent(cfg.TableName())}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureSchema creates the schema (for qualified names) and the titles table.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, q := range buildCreateSQL(r.table) {
		if _, err := r.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("create %s: %w", r.table.Sanitize(), err)
		}
	}
	return nil
}

// UpsertTitles writes titles, replacing rows with the same title_id.
func (r *Repo) UpsertTitles(ctx context.Context, titles []storage.Title) (int64, error) {
	titles = storage.Dedupe(titles)
	if len(titles) == 0 {
		return 0, nil
	}

	var n int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, batch := range storage.Batches(titles, maxRowsPerStatement) {
			q, args := buildUpsertSQL(r.table, batch)
			cmd, err := tx.Exec(ctx, q, args...)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", r.table.Sanitize(), err)
			}
			n += cmd.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// tableIdent splits "schema.table" into a pgx identifier.
func tableIdent(name string) pgx.Identifier {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return pgx.Identifier(parts)
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// buildCreateSQL returns the DDL statements for table: CREATE SCHEMA first
// when the name is schema-qualified.
func buildCreateSQL(table pgx.Identifier) []string {
	var out []string
	if len(table) > 1 {
		out = append(out, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{table[0]}.Sanitize())
	}
	out = append(out, `CREATE TABLE IF NOT EXISTS `+table.Sanitize()+` (
  "title_id" text PRIMARY KEY,
  "run_id" text NOT NULL,
  "source_file" text NOT NULL DEFAULT '',
  "title" text NOT NULL DEFAULT '',
  "kind" text NOT NULL DEFAULT '',
  "year" integer,
  "end_year" integer,
  "imdb_index" text NOT NULL DEFAULT '',
  "fields" jsonb NOT NULL DEFAULT '{}'::jsonb,
  "loaded_at" timestamptz NOT NULL
)`)
	return out
}

// buildUpsertSQL constructs one multi-row upsert and its args.
//
// It is pure so placeholder numbering and the conflict clause can be unit
// tested without a database.
func buildUpsertSQL(table pgx.Identifier, titles []storage.Title) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table.Sanitize())
	b.WriteString(" (")
	for i, c := range storage.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(titles)*len(storage.Columns))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(` ON CONFLICT ("title_id") DO UPDATE SET `)
	for i, c := range storage.Columns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", pgIdent(c), pgIdent(c))
	}
	return b.String(), args
}
