// Package search parses advanced title search result pages into records.
//
// A Parser runs three stages per page: markup preprocessing, rule-based
// extraction (internal/extract), and assembly, which truncates the result
// list and expands each title's annotation (internal/titleinfo).
package search

import (
	"fmt"
	"strings"
	"time"

	"titlesearch/internal/extract"
	"titlesearch/internal/metrics"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Parser parses title search pages. It is immutable after construction and
// safe for concurrent use.
type Parser struct {
	engine   *extract.Engine
	assemble AssembleOptions
	log      *zap.Logger
}

type parserConfig struct {
	rules       []extract.Rule
	limit       Limit
	strictMerge bool
	log         *zap.Logger
}

// ParserOption configures NewParser.
type ParserOption func(*parserConfig)

// WithRules replaces the default rule-set.
func WithRules(rules []extract.Rule) ParserOption {
	return func(c *parserConfig) { c.rules = rules }
}

// WithLimit bounds the number of returned records.
func WithLimit(l Limit) ParserOption {
	return func(c *parserConfig) { c.limit = l }
}

// WithStrictMerge makes annotation merge conflicts fail the parse.
func WithStrictMerge(strict bool) ParserOption {
	return func(c *parserConfig) { c.strictMerge = strict }
}

// WithLogger sets the logger for the parser and its engine.
func WithLogger(l *zap.Logger) ParserOption {
	return func(c *parserConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// NewParser builds a Parser. Rule validation errors are returned here and
// never at parse time.
func NewParser(opts ...ParserOption) (*Parser, error) {
	cfg := parserConfig{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.rules == nil {
		cfg.rules = DefaultRules()
	}

	engine, err := extract.NewEngine(cfg.rules, extract.WithLogger(cfg.log.Named("extract")))
	if err != nil {
		return nil, fmt.Errorf("build rules: %w", err)
	}

	return &Parser{
		engine: engine,
		assemble: AssembleOptions{
			Limit:       cfg.limit,
			StrictMerge: cfg.strictMerge,
			Logger:      cfg.log,
		},
		log: cfg.log,
	}, nil
}

// Parse extracts the records of one result page. Only unparseable HTML or a
// strict-mode merge conflict produce an error; missing or malformed fields
// and items are dropped.
func (p *Parser) Parse(html string) ([]extract.Record, error) {
	start := time.Now()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(Preprocess(html)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	PreprocessDOM(doc)

	recs, err := Assemble(p.engine.Evaluate(doc.Selection), p.assemble)
	if err != nil {
		return nil, err
	}

	metrics.ObserveDuration(metrics.ParseDurationSeconds, start, nil)
	metrics.IncCounter(metrics.RecordsTotal, float64(len(recs)), metrics.Labels{"kind": "extracted"})
	p.log.Debug("parsed page", zap.Int("records", len(recs)), zap.Stringer("limit", p.assemble.Limit))
	return recs, nil
}
