// Package titleinfo decodes the annotation printed next to a title in search
// listings, e.g. "(I) (2004– )" or "(2004) (Video)", into the title's index,
// year span and kind.
package titleinfo

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Output field names, as merged into a record.
const (
	FieldIndex   = "imdbIndex"
	FieldYear    = "year"
	FieldEndYear = "end_year"
	FieldKind    = "kind"
)

// Kinds produced without an explicit category.
const (
	KindMovie    = "movie"
	KindTVSeries = "tv series"
)

// ErrGrammarMismatch is returned when the annotation does not have the
// expected shape. The accompanying Info still carries the default kind.
var ErrGrammarMismatch = errors.New("annotation does not match grammar")

// Info is a decoded annotation. Kind is always set.
type Info struct {
	IMDbIndex string
	Year      *int
	EndYear   *int
	Kind      string
}

// Fields returns the present fields keyed by their record names.
func (i Info) Fields() map[string]any {
	out := map[string]any{FieldKind: i.Kind}
	if i.IMDbIndex != "" {
		out[FieldIndex] = i.IMDbIndex
	}
	if i.Year != nil {
		out[FieldYear] = *i.Year
	}
	if i.EndYear != nil {
		out[FieldEndYear] = *i.EndYear
	}
	return out
}

// annotation grammar:
//
//	[(ROMAN) ]([LABEL ]YEAR[–[YEAR]][ TEXT])[ (TRAILER)]
//
// LABEL, TEXT and TRAILER are free-text categories; a bare roman numeral or
// number there is a mismatch.
var reAnnotation = regexp.MustCompile(`^\s*` +
	`(?:\((?P<index>[IVXLCM]+)\)\s+)?` +
	`\(` +
	`(?:(?P<label>[^()\d]*?)\s+)?` +
	`(?P<year>\d{4})` +
	`(?:\s*(?P<dash>[–—-])\s*(?P<end>\d{4})?)?` +
	`(?:\s+(?P<text>[^()]*?))?` +
	`\s*\)` +
	`(?:\s*\((?P<trailer>[^()]*)\))?` +
	`\s*$`)

// reNotCategory matches text that is an index or a year, never a category.
var reNotCategory = regexp.MustCompile(`^(?:[IVXLCM]+|\d+)$`)

// categoryGroups are the groups holding free-text categories.
var categoryGroups = []string{"label", "text", "trailer"}

// groups holds the named captures of one match; absent groups are "".
type groups map[string]string

// match applies the grammar to the NFKC form of s, which turns no-break and
// other typographic spaces into plain ones.
func match(s string) (groups, bool) {
	m := reAnnotation.FindStringSubmatch(norm.NFKC.String(s))
	if m == nil {
		return nil, false
	}
	g := make(groups, len(m))
	for i, name := range reAnnotation.SubexpNames() {
		if name != "" {
			g[name] = strings.TrimSpace(m[i])
		}
	}
	for _, name := range categoryGroups {
		if reNotCategory.MatchString(g[name]) {
			return nil, false
		}
	}
	return g, true
}

// fieldTable maps capture groups to Info fields. A rule runs only when its
// group is present.
var fieldTable = []struct {
	group string
	set   func(*Info, string) error
}{
	{"index", func(i *Info, v string) error { i.IMDbIndex = v; return nil }},
	{"year", func(i *Info, v string) error { return setInt(&i.Year, v) }},
	{"end", func(i *Info, v string) error { return setInt(&i.EndYear, v) }},
}

// kindTable decides the kind. The first row that applies wins: an explicit
// category always beats the open-range inference.
var kindTable = []struct {
	name string
	kind func(groups) (string, bool)
}{
	{"inline category", explicit("text")},
	{"trailing category", explicit("trailer")},
	{"leading label", explicit("label")},
	{"open range", func(g groups) (string, bool) {
		return KindTVSeries, g["dash"] != "" && g["end"] == ""
	}},
	{"default", func(groups) (string, bool) { return KindMovie, true }},
}

// renames maps category text to the canonical kind name.
var renames = map[string]string{
	"tv short": "tv short movie",
	"video":    "video movie",
}

func explicit(group string) func(groups) (string, bool) {
	return func(g groups) (string, bool) {
		v := normalizeKind(g[group])
		return v, v != ""
	}
}

// normalizeKind folds width and case and collapses whitespace. A Caser is
// stateful, so each call gets its own.
func normalizeKind(s string) string {
	s = cases.Lower(language.Und).String(norm.NFKC.String(s))
	s = strings.Join(strings.Fields(s), " ")
	if r, ok := renames[s]; ok {
		return r
	}
	return s
}

func setInt(dst **int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %q: %w", v, err)
	}
	*dst = &n
	return nil
}

// Parse decodes an annotation.
//
// Input outside the grammar returns Info{Kind: "movie"} together with an error
// wrapping ErrGrammarMismatch; callers that treat malformed markup as normal
// can keep the Info and ignore the error.
func Parse(s string) (Info, error) {
	g, ok := match(s)
	if !ok {
		return Info{Kind: KindMovie}, fmt.Errorf("%w: %q", ErrGrammarMismatch, s)
	}

	var info Info
	for _, row := range fieldTable {
		if v := g[row.group]; v != "" {
			if err := row.set(&info, v); err != nil {
				return Info{Kind: KindMovie}, fmt.Errorf("%s: %w", row.group, err)
			}
		}
	}
	for _, row := range kindTable {
		if k, ok := row.kind(g); ok {
			info.Kind = k
			break
		}
	}
	return info, nil
}
