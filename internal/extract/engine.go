package extract

import (
	"errors"
	"fmt"
	"strings"

	"titlesearch/internal/metrics"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Engine evaluates a fixed rule-set against document trees.
//
// An Engine holds no per-document state: every Evaluate call builds its
// output from scratch, so one Engine can serve many goroutines at once.
type Engine struct {
	rules []Rule
	log   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for dropped fields and items.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine validates rules and returns an Engine. Rules with no key, no
// selector, or a duplicate top-level key are rejected.
func NewEngine(rules []Rule, opts ...Option) (*Engine, error) {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[r.RuleKey()] {
			return nil, fmt.Errorf("rule %d: duplicate key %q", i, r.RuleKey())
		}
		seen[r.RuleKey()] = true
	}

	e := &Engine{
		rules: append([]Rule(nil), rules...),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func validateRule(r Rule) error {
	switch rule := r.(type) {
	case *FieldRule:
		return validateField(rule)
	case *RecordRule:
		if strings.TrimSpace(rule.Key) == "" {
			return errors.New("record rule without key")
		}
		if rule.Items == nil {
			return fmt.Errorf("record rule %q: missing item selector", rule.Key)
		}
		if rule.Split == nil {
			return fmt.Errorf("record rule %q: missing split", rule.Key)
		}
		for i := range rule.Fields {
			if err := validateField(&rule.Fields[i]); err != nil {
				return fmt.Errorf("record rule %q: %w", rule.Key, err)
			}
		}
		return nil
	case nil:
		return errors.New("nil rule")
	default:
		return fmt.Errorf("unsupported rule type %T", r)
	}
}

func validateField(r *FieldRule) error {
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("field rule without key")
	}
	if r.Selector == nil {
		return fmt.Errorf("field %q: missing selector", r.Key)
	}
	return nil
}

// Rules returns a copy of the engine's rules.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate applies every rule to root and returns the merged output.
//
// Record rules always produce a (possibly empty) []Record in document order.
// Field rules only produce a key when a value is present.
func (e *Engine) Evaluate(root *goquery.Selection) Output {
	out := make(Output, len(e.rules))
	for _, r := range e.rules {
		switch rule := r.(type) {
		case *FieldRule:
			if v, ok := e.evalField(root, rule); ok {
				out[rule.Key] = v
			}
		case *RecordRule:
			out[rule.Key] = e.evalRecords(root, rule)
		}
	}
	return out
}

// EvaluateHTML parses html and evaluates it.
func (e *Engine) EvaluateHTML(html string) (Output, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return e.Evaluate(doc.Selection), nil
}

func (e *Engine) evalRecords(root *goquery.Selection, rule *RecordRule) []Record {
	records := []Record{}

	rule.Items.Nodes(root).Each(func(i int, item *goquery.Selection) {
		fields := make(map[string]any, len(rule.Fields))
		for j := range rule.Fields {
			fr := &rule.Fields[j]
			if v, ok := e.evalField(item, fr); ok {
				fields[fr.Key] = v
			}
		}

		id, rest, err := rule.Split(fields)
		if err != nil {
			err = &ItemIdentifierError{Rule: rule.Key, Err: err}
			e.log.Debug("dropping item", zap.Int("index", i), zap.Error(err))
			metrics.IncCounter(metrics.ItemsDroppedTotal, 1, metrics.Labels{"rule": rule.Key})
			return
		}
		records = append(records, Record{ID: id, Fields: rest})
	})

	return records
}

// evalField runs selector, reduction and transform. ok is false when the
// field is absent or its transform failed.
func (e *Engine) evalField(node *goquery.Selection, rule *FieldRule) (any, bool) {
	v, ok := rule.Reduce.Reduce(rule.Selector.Values(node))
	if !ok {
		return nil, false
	}

	out, err := rule.Transform.Apply(v)
	if err != nil {
		err = &FieldTransformError{Key: rule.Key, Transform: rule.Transform.Name(), Err: err}
		e.log.Debug("dropping field", zap.String("field", rule.Key), zap.Error(err))
		metrics.IncCounter(metrics.FieldsDroppedTotal, 1, metrics.Labels{"field": rule.Key})
		return nil, false
	}
	switch x := out.(type) {
	case nil:
		return nil, false
	case []string:
		if len(x) == 0 {
			return nil, false
		}
	}
	return out, true
}
