package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titlesearch/internal/storage"
	"titlesearch/internal/storage/sqlite"
)

const page = `<html><body>
<div class="lister-item mode-advanced">
  <div class="lister-item-content">
    <h3 class="lister-item-header"><a href="/title/tt0133093/?ref_=adv_li_tt">The Matrix</a>
      <span class="lister-item-year text-muted unbold">(1999)</span></h3>
    <p class="text-muted"><span class="genre">Action, Sci-Fi</span></p>
  </div>
</div>
<div class="lister-item mode-advanced">
  <div class="lister-item-content">
    <h3 class="lister-item-header"><a href="/title/tt0106062/">Matrix</a>
      <span class="lister-item-year text-muted unbold">(1993– )</span></h3>
  </div>
</div>
</body></html>`

type outRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func runCmd(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr, http.DefaultClient)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// TestRun_Stdin verifies the default rules over stdin produce JSON records
// with expanded annotations.
func TestRun_Stdin(t *testing.T) {
	t.Parallel()

	code, out, errOut := runCmd(t, page)
	require.Equal(t, 0, code, errOut)

	var got []outRecord
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	require.Len(t, got, 2)

	assert.Equal(t, "0133093", got[0].ID)
	assert.Equal(t, "The Matrix", got[0].Fields["title"])
	assert.Equal(t, []any{"Action", "Sci-Fi"}, got[0].Fields["genres"])
	assert.Equal(t, float64(1999), got[0].Fields["year"])
	assert.Equal(t, "movie", got[0].Fields["kind"])

	assert.Equal(t, "0106062", got[1].ID)
	assert.Equal(t, "tv series", got[1].Fields["kind"])
}

func TestRun_LimitAndDump(t *testing.T) {
	t.Parallel()

	code, out, errOut := runCmd(t, page, "-limit", "1")
	require.Equal(t, 0, code, errOut)
	var got []outRecord
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got, 1)

	code, out, errOut = runCmd(t, page, "-dump")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "extract.Record")
	assert.Contains(t, out, `"0106062"`)
}

// TestRun_TitleSearch verifies -title builds the search URL against the
// configured base URL and fetches it.
func TestRun_TitleSearch(t *testing.T) {
	t.Parallel()

	var gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.URL.Query().Get("title")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	cfgPath := writeFile(t, t.TempDir(), "c.yaml", "search:\n  base_url: "+srv.URL+"/search/title/\n")

	code, out, errOut := runCmd(t, "", "-config", cfgPath, "-title", "matrix")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "matrix", gotTitle)

	var got []outRecord
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got, 2)
}

func TestRun_URLNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	code, _, errOut := runCmd(t, "", "-url", srv.URL)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "http status 503")
}

func TestRun_Pages(t *testing.T) {
	t.Parallel()

	code, out, errOut := runCmd(t, "", "-title", "matrix", "-pages", "60")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t,
		"https://www.imdb.com/search/title/?title=matrix\n"+
			"https://www.imdb.com/search/title/?start=51&title=matrix\n",
		out)
}

func TestRun_DebugSelectorText(t *testing.T) {
	t.Parallel()

	code, out, errOut := runCmd(t, page, "-selector", "span.lister-item-year", "-text")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "(1999)")
	assert.Contains(t, out, "(1993– )")
}

func TestRun_CustomRules(t *testing.T) {
	t.Parallel()

	rules := writeFile(t, t.TempDir(), "rules.json", `{"rules":[
		{"key":"data","foreach":"div.lister-item-content","id_field":"link","id_normalizer":"title_id","fields":[
			{"key":"link","selector":"h3 > a","extract":"attr","attr":"href"},
			{"key":"name","selector":"h3 > a","transforms":[{"name":"lower"}]}
		]}]}`)

	code, out, errOut := runCmd(t, page, "-rules", rules)
	require.Equal(t, 0, code, errOut)

	var got []outRecord
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, map[string]any{"name": "the matrix"}, got[0].Fields)
}

// TestRun_DirStore parses a directory of pages and upserts them into a
// sqlite database configured through a config file.
func TestRun_DirStore(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	pages := filepath.Join(tmp, "pages")
	require.NoError(t, os.Mkdir(pages, 0o700))
	writeFile(t, pages, "p1.html", page)
	dbPath := filepath.Join(tmp, "titles.db")
	cfgPath := writeFile(t, tmp, "c.yaml", "storage:\n  kind: sqlite\n  dsn: "+dbPath+"\n")

	code, out, errOut := runCmd(t, "", "-config", cfgPath, "-dir", pages, "-store")
	require.Equal(t, 0, code, errOut)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "p1.html", got[0]["source_file"])

	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dbPath})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	title, ok, err := repo.(*sqlite.Repo).Lookup(context.Background(), "0106062")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Matrix", title.Title)
	assert.Equal(t, "tv series", title.Kind)
	assert.Equal(t, "p1.html", title.SourceFile)
	assert.NotEmpty(t, title.RunID)
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	badRules := writeFile(t, t.TempDir(), "rules.json", `{"rules":[{"key":"x","selector":"div["}]}`)

	tests := map[string][]string{
		"unknown flag":        {"-nope"},
		"pages without title": {"-pages", "10"},
		"store without kind":  {"-store"},
		"bad rules":           {"-rules", badRules},
		"missing config":      {"-config", filepath.Join(t.TempDir(), "none.yaml")},
	}
	for name, args := range tests {
		code, _, _ := runCmd(t, page, args...)
		assert.Equal(t, 2, code, name)
	}
}
