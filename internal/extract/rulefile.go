package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// FieldSpec is one field rule as written in a rule file.
type FieldSpec struct {
	Key        string          `json:"key"`
	Selector   string          `json:"selector"`
	Extract    string          `json:"extract,omitempty"` // "text" (default) or "attr"
	Attr       string          `json:"attr,omitempty"`    // used when Extract == "attr"
	Scope      string          `json:"scope,omitempty"`   // "self" (default) or "parent"
	Reduce     string          `json:"reduce,omitempty"`  // "first" (default) or "all"
	Transforms []TransformSpec `json:"transforms,omitempty"`
}

// TransformSpec names a built-in transform. Arg is the separator for "split"
// and the expression for "expr".
type TransformSpec struct {
	Name string `json:"name"`
	Arg  string `json:"arg,omitempty"`
}

// RuleSpec is a top-level rule. Foreach turns it into a record rule whose
// items are split on IDField (normalized by the named IDNormalizer, if any).
type RuleSpec struct {
	FieldSpec
	Foreach      string      `json:"foreach,omitempty"`
	Fields       []FieldSpec `json:"fields,omitempty"`
	IDField      string      `json:"id_field,omitempty"`
	IDNormalizer string      `json:"id_normalizer,omitempty"`
}

// RuleFile describes a JSON rule file.
type RuleFile struct {
	Rules []RuleSpec `json:"rules"`
}

// Normalizers maps IDNormalizer names to functions.
type Normalizers map[string]func(string) (string, error)

// LoadRuleFile reads and decodes a JSON rule file. It does not compile it.
func LoadRuleFile(path string) (*RuleFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRuleFile(b)
}

// ParseRuleFile decodes rule-file JSON and rejects files without rules.
func ParseRuleFile(b []byte) (*RuleFile, error) {
	var rf RuleFile
	if err := json.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("parse rules json: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, errors.New("rules file has no rules")
	}
	return &rf, nil
}

// Compile turns the file into rules. Any invalid selector, transform or
// normalizer name fails the whole file.
func (rf *RuleFile) Compile(normalizers Normalizers) ([]Rule, error) {
	rules := make([]Rule, 0, len(rf.Rules))
	for i, rs := range rf.Rules {
		r, err := rs.compile(normalizers)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rs.Key, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (rs RuleSpec) compile(normalizers Normalizers) (Rule, error) {
	if strings.TrimSpace(rs.Foreach) == "" {
		fr, err := rs.FieldSpec.compile()
		if err != nil {
			return nil, err
		}
		return &fr, nil
	}

	items, err := CompileSelector(rs.Foreach)
	if err != nil {
		return nil, err
	}
	if rs.IDField == "" {
		return nil, errors.New("record rule needs id_field")
	}

	var normalize func(string) (string, error)
	if rs.IDNormalizer != "" {
		fn, ok := normalizers[rs.IDNormalizer]
		if !ok {
			return nil, fmt.Errorf("unknown id_normalizer %q", rs.IDNormalizer)
		}
		normalize = fn
	}

	fields := make([]FieldRule, 0, len(rs.Fields))
	for _, fs := range rs.Fields {
		fr, err := fs.compile()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fs.Key, err)
		}
		fields = append(fields, fr)
	}

	return &RecordRule{
		Key:    rs.Key,
		Items:  items,
		Fields: fields,
		Split:  PopField(rs.IDField, normalize),
	}, nil
}

func (fs FieldSpec) compile() (FieldRule, error) {
	var opts []SelectorOption
	switch fs.Extract {
	case "", string(ExtractText):
	case string(ExtractAttr):
		opts = append(opts, Attr(fs.Attr))
	default:
		return FieldRule{}, fmt.Errorf("unknown extract %q", fs.Extract)
	}
	switch fs.Scope {
	case "", "self":
	case "parent":
		opts = append(opts, FromParent())
	default:
		return FieldRule{}, fmt.Errorf("unknown scope %q", fs.Scope)
	}

	sel, err := CompileSelector(fs.Selector, opts...)
	if err != nil {
		return FieldRule{}, err
	}
	red, err := ParseReduction(fs.Reduce)
	if err != nil {
		return FieldRule{}, err
	}
	tr, err := compileTransforms(fs.Transforms)
	if err != nil {
		return FieldRule{}, err
	}
	return FieldRule{Key: fs.Key, Selector: sel, Reduce: red, Transform: tr}, nil
}

func compileTransforms(specs []TransformSpec) (Transform, error) {
	ts := make([]Transform, 0, len(specs))
	for _, s := range specs {
		t, err := builtinTransform(s)
		if err != nil {
			return Transform{}, err
		}
		ts = append(ts, t)
	}
	switch len(ts) {
	case 0:
		return Identity(), nil
	case 1:
		return ts[0], nil
	default:
		return Chain(ts...), nil
	}
}

func builtinTransform(s TransformSpec) (Transform, error) {
	switch s.Name {
	case "identity":
		return Identity(), nil
	case "list":
		return Wrap(), nil
	case "split":
		sep := s.Arg
		if sep == "" {
			sep = ","
		}
		return Split(sep), nil
	case "first_number":
		return FirstNumber(), nil
	case "int":
		return Int(), nil
	case "lower":
		return Lower(), nil
	case "expr":
		return Expr(s.Arg)
	default:
		return Transform{}, fmt.Errorf("unknown transform %q", s.Name)
	}
}
