package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Extract selects what a matched node contributes as a value.
type Extract string

const (
	// ExtractText yields the trimmed text content of the node.
	ExtractText Extract = "text"
	// ExtractAttr yields the trimmed value of one attribute.
	ExtractAttr Extract = "attr"
)

// Scope selects the node a selector is evaluated under.
type Scope int

const (
	// ScopeSelf matches descendants of the node.
	ScopeSelf Scope = iota
	// ScopeParent matches descendants of the node's parent.
	ScopeParent
)

// Selector is a compiled CSS query plus an extraction mode.
//
// A Selector is immutable after compilation and safe for concurrent use.
type Selector struct {
	expr    string
	matcher cascadia.Selector
	extract Extract
	attr    string
	scope   Scope
}

// SelectorOption configures a Selector at compile time.
type SelectorOption func(*Selector)

// Attr makes the selector yield the named attribute instead of text.
func Attr(name string) SelectorOption {
	return func(s *Selector) {
		s.extract = ExtractAttr
		s.attr = name
	}
}

// FromParent evaluates the selector under the node's parent.
func FromParent() SelectorOption {
	return func(s *Selector) { s.scope = ScopeParent }
}

// CompileSelector compiles a CSS expression. An invalid expression, or an
// attribute selector without an attribute name, yields *SelectorCompileError.
func CompileSelector(expr string, opts ...SelectorOption) (*Selector, error) {
	expr = strings.TrimSpace(expr)
	m, err := cascadia.Compile(expr)
	if err != nil {
		return nil, &SelectorCompileError{Expr: expr, Err: err}
	}

	s := &Selector{expr: expr, matcher: m, extract: ExtractText}
	for _, opt := range opts {
		opt(s)
	}
	if s.extract == ExtractAttr && s.attr == "" {
		return nil, &SelectorCompileError{Expr: expr, Err: errEmptyAttr}
	}
	return s, nil
}

// MustSelector is CompileSelector for static rule tables. It panics on error.
func MustSelector(expr string, opts ...SelectorOption) *Selector {
	s, err := CompileSelector(expr, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source expression.
func (s *Selector) String() string { return s.expr }

// Nodes returns the matching nodes under node in document order.
func (s *Selector) Nodes(node *goquery.Selection) *goquery.Selection {
	root := node
	if s.scope == ScopeParent {
		root = node.Parent()
	}
	return root.FindMatcher(s.matcher)
}

// Values returns the extracted value of every matching node in document order.
// Nodes lacking the attribute contribute "".
func (s *Selector) Values(node *goquery.Selection) []string {
	matches := s.Nodes(node)
	out := make([]string, 0, matches.Length())
	matches.Each(func(_ int, sel *goquery.Selection) {
		out = append(out, s.valueOf(sel))
	})
	return out
}

func (s *Selector) valueOf(sel *goquery.Selection) string {
	switch s.extract {
	case ExtractAttr:
		v, _ := sel.Attr(s.attr)
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(sel.Text())
	}
}
