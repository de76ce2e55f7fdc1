package extract

import "fmt"

// Reduction collapses a selector's matches into at most one value.
type Reduction int

const (
	// FirstNonEmpty yields the first non-empty match as a string.
	FirstNonEmpty Reduction = iota
	// AllAsList yields every non-empty match as a []string.
	AllAsList
)

func (r Reduction) String() string {
	switch r {
	case FirstNonEmpty:
		return "first"
	case AllAsList:
		return "all"
	default:
		return fmt.Sprintf("Reduction(%d)", int(r))
	}
}

// ParseReduction maps a rule-file name to a Reduction. "" means FirstNonEmpty.
func ParseReduction(name string) (Reduction, error) {
	switch name {
	case "", "first":
		return FirstNonEmpty, nil
	case "all":
		return AllAsList, nil
	default:
		return 0, fmt.Errorf("unknown reduction %q", name)
	}
}

// Reduce applies r to values. ok is false when nothing is present.
func (r Reduction) Reduce(values []string) (v any, ok bool) {
	switch r {
	case AllAsList:
		var out []string
		for _, s := range values {
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		for _, s := range values {
			if s != "" {
				return s, true
			}
		}
		return nil, false
	}
}
