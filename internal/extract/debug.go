package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DebugPrintSelector prints the outer HTML (or trimmed text) of every node
// matching expr, each followed by a blank line. It backs the CLI's
// "-selector" mode, which is used when writing new rules.
func DebugPrintSelector(w io.Writer, html, expr string, textOnly bool) error {
	sel, err := CompileSelector(expr)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	var werr error
	sel.Nodes(doc.Selection).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var out string
		if textOnly {
			out = strings.TrimSpace(s.Text())
		} else if out, err = goquery.OuterHtml(s); err != nil {
			out, _ = s.Html()
		}
		_, werr = fmt.Fprintf(w, "%s\n\n", out)
		return werr == nil
	})
	return werr
}
