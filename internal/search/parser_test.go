package search

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"titlesearch/internal/extract"

	"github.com/PuerkitoBio/goquery"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func readFixture(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "search_results.html"))
	require.NoError(t, err)
	return string(b)
}

func wantFixtureRecords() []extract.Record {
	return []extract.Record{
		{ID: "0335345", Fields: map[string]any{
			"title":        "The Passion of the Christ",
			"certificates": []string{"R"},
			"runtimes":     []string{"127"},
			"genres":       []string{"Drama"},
			"directors":    []string{"Mel Gibson"},
			"stars":        []string{"Jim Caviezel", "Monica Bellucci"},
			"gross":        "$370.27M",
			"cover url":    "https://m.media-amazon.com/images/M/passion.jpg",
			"year":         2004,
			"kind":         "movie",
		}},
		{ID: "1135968", Fields: map[string]any{
			"title":     "The Passion",
			"runtimes":  []string{"60"},
			"genres":    []string{"Drama", "History"},
			"stars":     []string{"Joseph Mawle"},
			"cover url": "https://m.media-amazon.com/images/M/passion-series.jpg",
			"imdbIndex": "I",
			"year":      2008,
			"kind":      "tv series",
		}},
		{ID: "0420000", Fields: map[string]any{
			"title": "Passion Play",
			"year":  2004,
			"kind":  "video movie",
		}},
	}
}

// TestParser_Fixture runs the whole pipeline over a saved result page: the
// item with a non-title link is dropped, the unparseable runtime of the last
// item is dropped, and annotations are expanded.
func TestParser_Fixture(t *testing.T) {
	t.Parallel()

	p, err := NewParser(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	got, err := p.Parse(readFixture(t))
	require.NoError(t, err)
	assert.Equal(t, wantFixtureRecords(), got, spew.Sdump(got))
}

func TestParser_Limit(t *testing.T) {
	t.Parallel()

	html := readFixture(t)
	for k := 0; k <= 4; k++ {
		p, err := NewParser(WithLimit(LimitTo(k)))
		require.NoError(t, err)

		got, err := p.Parse(html)
		require.NoError(t, err)
		assert.Len(t, got, min(k, 3), "k=%d", k)
		if k > 0 {
			assert.Equal(t, "0335345", got[0].ID)
		}
	}
}

func TestParser_ConcurrentParses(t *testing.T) {
	t.Parallel()

	p, err := NewParser()
	require.NoError(t, err)
	html := readFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	outs := make([][]extract.Record, 8)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = p.Parse(html)
		}(i)
	}
	wg.Wait()

	for i := range outs {
		require.NoError(t, errs[i])
		assert.Equal(t, wantFixtureRecords(), outs[i])
	}
}

// TestParser_IdentifierFailureDropsOnlyThatItem covers a page with one good
// and one bad item.
func TestParser_IdentifierFailureDropsOnlyThatItem(t *testing.T) {
	t.Parallel()

	html := `
<div class="lister-item-content"><h3><a href="/list/ls000/">Bad</a><span class="lister-item-year">(1999)</span></h3></div>
<div class="lister-item-content"><h3><a href="/title/tt0133093/">The Matrix</a><span class="lister-item-year">(1999)</span></h3></div>`

	p, err := NewParser()
	require.NoError(t, err)
	got, err := p.Parse(html)
	require.NoError(t, err)

	assert.Equal(t, []extract.Record{{ID: "0133093", Fields: map[string]any{
		"title": "The Matrix", "year": 1999, "kind": "movie",
	}}}, got)
}

func TestParser_NoBreakSpaceInAnnotation(t *testing.T) {
	t.Parallel()

	html := `<div class="lister-item-content"><h3><a href="/title/tt0000001/">X</a>` +
		`<span class="lister-item-year">(2008&ndash;&nbsp;)</span></h3></div>`

	p, err := NewParser()
	require.NoError(t, err)
	got, err := p.Parse(html)
	require.NoError(t, err)

	assert.Equal(t, []extract.Record{{ID: "0000001", Fields: map[string]any{
		"title": "X", "year": 2008, "kind": "tv series",
	}}}, got)
}

func TestParser_EmptyPage(t *testing.T) {
	t.Parallel()

	p, err := NewParser()
	require.NoError(t, err)
	got, err := p.Parse("")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestNewParser_InvalidRules(t *testing.T) {
	t.Parallel()

	_, err := NewParser(WithRules([]extract.Rule{&extract.FieldRule{Key: "x"}}))
	assert.Error(t, err)
}

func TestParser_CustomRulesFromFile(t *testing.T) {
	t.Parallel()

	rf, err := extract.ParseRuleFile([]byte(`{"rules":[{"key":"data","foreach":"div.lister-item-content","id_field":"link","id_normalizer":"title_id",
		"fields":[{"key":"link","selector":"h3 > a","extract":"attr","attr":"href"},{"key":"secondary_info","selector":"span.lister-item-year"}]}]}`))
	require.NoError(t, err)
	rules, err := rf.Compile(Normalizers)
	require.NoError(t, err)

	p, err := NewParser(WithRules(rules), WithLimit(LimitTo(1)))
	require.NoError(t, err)
	got, err := p.Parse(readFixture(t))
	require.NoError(t, err)
	assert.Equal(t, []extract.Record{{ID: "0335345", Fields: map[string]any{"year": 2004, "kind": "movie"}}}, got)
}

func TestPreprocess(t *testing.T) {
	t.Parallel()

	in := `<p>Directors:<a>A</a>, <a>B</a><span>|</span> Star:<a>C</a></p>` +
		`<span>Gross:</span> <span name="nv">$1M</span>` +
		`<h3><small>Episode:</small><a>Pilot</a></h3>`
	out := Preprocess(in)

	assert.Contains(t, out, `<div class="DIRECTORS"><a>A</a>, <a>B</a></div><span>|</span>`)
	assert.Contains(t, out, `<div class="STARS"><a>C</a></div></p>`)
	assert.Contains(t, out, `<span name="GROSS">$1M</span>`)
	assert.Contains(t, out, `<small>Episode:<a>Pilot</a></small></h3>`)
	assert.Equal(t, `<br class="ADD_A_PLOT"/>`, Preprocess("Add a Plot"))
}

func TestPreprocessDOM(t *testing.T) {
	t.Parallel()

	html := Preprocess(`<div id="c"><p class="plot"><a href="#">Add a Plot</a></p><p class="keep">x</p></div>`)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	PreprocessDOM(doc)
	assert.Equal(t, 0, doc.Find("p.plot").Length())
	assert.Equal(t, 1, doc.Find("p.keep").Length())
}

func TestTitleID(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"/title/tt0133093/?ref_=adv_li_tt":       "0133093",
		"https://www.imdb.com/title/tt12345678/": "12345678",
		"/title/tt0133093":                       "0133093",
	} {
		got, err := TitleID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"", "/name/nm0000154/", "/title/tt12/", "/title/tt0133093x/"} {
		_, err := TitleID(in)
		assert.ErrorIs(t, err, ErrNoTitleID, in)
	}
}
