package search

import (
	"titlesearch/internal/extract"
)

// IDNormalizer is the rule-file name of TitleID.
const IDNormalizer = "title_id"

// Normalizers exposes TitleID to rule files.
var Normalizers = extract.Normalizers{IDNormalizer: TitleID}

// DefaultRules returns the rule-set for advanced title search result pages.
// Each call compiles a fresh copy.
func DefaultRules() []extract.Rule {
	sel := extract.MustSelector
	return []extract.Rule{
		&extract.RecordRule{
			Key:   DataKey,
			Items: sel("div.lister-item-content"),
			Fields: []extract.FieldRule{
				{Key: "link", Selector: sel("h3 > a", extract.Attr("href"))},
				{Key: "title", Selector: sel("h3 > a")},
				{Key: SecondaryInfoKey, Selector: sel("h3 > span.lister-item-year")},
				{Key: "state", Selector: sel("b")},
				{Key: "certificates", Selector: sel("span.certificate"), Transform: extract.Wrap()},
				{Key: "runtimes", Selector: sel("span.runtime"), Transform: extract.FirstNumber()},
				{Key: "genres", Selector: sel("span.genre"), Transform: extract.Split(",")},
				{Key: "directors", Selector: sel("div.DIRECTORS a"), Reduce: extract.AllAsList},
				{Key: "stars", Selector: sel("div.STARS a"), Reduce: extract.AllAsList},
				{Key: "gross", Selector: sel(`span[name="GROSS"]`)},
				{Key: "cover url", Selector: sel("a img", extract.Attr("loadlate"), extract.FromParent())},
			},
			Split: extract.PopField("link", TitleID),
		},
	}
}
