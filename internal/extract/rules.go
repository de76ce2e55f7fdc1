package extract

// Rule is one top-level extraction rule: a *FieldRule or a *RecordRule.
//
// Rules are static configuration. They are built once and shared by every
// Evaluate call, including concurrent ones.
type Rule interface {
	// RuleKey is the output key the rule writes to.
	RuleKey() string
	isRule()
}

// FieldRule binds a key to a selector, a reduction and a transform.
type FieldRule struct {
	Key       string
	Selector  *Selector
	Reduce    Reduction
	Transform Transform
}

func (r *FieldRule) RuleKey() string { return r.Key }
func (*FieldRule) isRule()           {}

// SplitFunc separates an item's identifier from its other fields. It must not
// modify fields; it returns the remaining fields as a new map.
type SplitFunc func(fields map[string]any) (id string, rest map[string]any, err error)

// RecordRule enumerates item sub-trees with Items and evaluates Fields against
// each of them. Split turns each assembled item into a Record.
type RecordRule struct {
	Key    string
	Items  *Selector
	Fields []FieldRule
	Split  SplitFunc
}

func (r *RecordRule) RuleKey() string { return r.Key }
func (*RecordRule) isRule()           {}

// Record is one extracted item: an identifier and its field values.
// Values are string, int, or []string.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Output maps rule keys to results. A RecordRule key maps to []Record.
type Output map[string]any

// PopField returns a SplitFunc that takes the identifier from field key and
// passes it through normalize (when non-nil). A missing or non-string field
// is an error.
func PopField(key string, normalize func(string) (string, error)) SplitFunc {
	return func(fields map[string]any) (string, map[string]any, error) {
		raw, ok := fields[key].(string)
		if !ok {
			return "", nil, errMissingField(key)
		}
		id := raw
		if normalize != nil {
			var err error
			if id, err = normalize(raw); err != nil {
				return "", nil, err
			}
		}
		rest := make(map[string]any, len(fields))
		for k, v := range fields {
			if k != key {
				rest[k] = v
			}
		}
		return id, rest, nil
	}
}
