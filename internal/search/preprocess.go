package search

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// substitution rewrites raw listing markup before it is parsed.
type substitution struct {
	re   *regexp.Regexp
	repl string
}

// substitutions wrap the unstructured credit and gross text in elements the
// rules can select, mark the "Add a Plot" placeholder for removal, and move
// the episode title inside its heading.
var substitutions = []substitution{
	{regexp.MustCompile(`(?s)Directors?:(.*?)(<span|</p>)`), `<div class="DIRECTORS">${1}</div>${2}`},
	{regexp.MustCompile(`(?s)Stars?:(.*?)(<span|</p>)`), `<div class="STARS">${1}</div>${2}`},
	{regexp.MustCompile(`(?s)(Gross:.*?<span name=)"nv"`), `${1}"GROSS"`},
	{regexp.MustCompile(`Add a Plot`), `<br class="ADD_A_PLOT"/>`},
	{regexp.MustCompile(`(?s)(Episode:)(</small>)(.*?)(</h3>)`), `${1}${3}${2}${4}`},
}

// Preprocess applies the markup substitutions in order.
func Preprocess(html string) string {
	for _, s := range substitutions {
		html = s.re.ReplaceAllString(html, s.repl)
	}
	return html
}

// PreprocessDOM removes the block holding each "Add a Plot" placeholder.
func PreprocessDOM(doc *goquery.Document) {
	doc.Find("br.ADD_A_PLOT").Parent().Parent().Remove()
}
