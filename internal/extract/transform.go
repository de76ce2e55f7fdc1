package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Transform reshapes a reduced value. The zero Transform is the identity.
//
// Transforms must be pure. A transform that returns an error or panics makes
// the engine drop that single field.
type Transform struct {
	name string
	fn   func(any) (any, error)
}

// NewTransform names fn as a Transform.
func NewTransform(name string, fn func(any) (any, error)) Transform {
	return Transform{name: name, fn: fn}
}

// Name returns the transform name used in logs and errors.
func (t Transform) Name() string {
	if t.name == "" {
		return "identity"
	}
	return t.name
}

// Apply runs the transform. Panics are converted into errors.
func (t Transform) Apply(v any) (out any, err error) {
	if t.fn == nil {
		return v, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(v)
}

var (
	errNotString = errors.New("value is not a string")
	errNoNumber  = errors.New("no numeric word")
)

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %T", errNotString, v)
	}
	return s, nil
}

// Identity returns the value unchanged.
func Identity() Transform { return Transform{} }

// Wrap puts a scalar into a one-element list. Lists pass through.
func Wrap() Transform {
	return NewTransform("list", func(v any) (any, error) {
		switch x := v.(type) {
		case []string:
			return x, nil
		case string:
			return []string{x}, nil
		default:
			return nil, fmt.Errorf("%w: %T", errNotString, v)
		}
	})
}

// Split splits a string on sep, trims each part and drops empty parts.
func Split(sep string) Transform {
	return NewTransform("split", func(v any) (any, error) {
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, p := range strings.Split(s, sep) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	})
}

// FirstNumber keeps the first whitespace-separated word made only of digits,
// wrapped in a list ("142 min" gives ["142"]). It fails when there is none.
func FirstNumber() Transform {
	return NewTransform("first_number", func(v any) (any, error) {
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		for _, w := range strings.Fields(s) {
			if isDigits(w) {
				return []string{w}, nil
			}
		}
		return nil, fmt.Errorf("%w in %q", errNoNumber, s)
	})
}

// Int parses a base-10 integer.
func Int() Transform {
	return NewTransform("int", func(v any) (any, error) {
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return strconv.Atoi(strings.TrimSpace(s))
	})
}

// Lower lower-cases a string.
func Lower() Transform {
	return NewTransform("lower", func(v any) (any, error) {
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	})
}

// Chain applies ts in order and stops at the first error.
func Chain(ts ...Transform) Transform {
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Name())
	}
	return NewTransform(strings.Join(names, "|"), func(v any) (any, error) {
		var err error
		for _, t := range ts {
			if v, err = t.Apply(v); err != nil {
				return nil, err
			}
		}
		return v, nil
	})
}

// Expr compiles an expr-lang expression evaluated with the reduced value bound
// to `value`, e.g. `trim(split(value, "|")[0])`. The result must be nil, a
// string, an integer or a list of strings; anything else fails the transform.
func Expr(code string) (Transform, error) {
	prog, err := expr.Compile(code)
	if err != nil {
		return Transform{}, fmt.Errorf("compile expr %q: %w", code, err)
	}
	return NewTransform("expr", func(v any) (any, error) {
		return runExpr(prog, v)
	}), nil
}

var errExprResult = errors.New("expr result is not a string, integer or list of strings")

func runExpr(prog *vm.Program, v any) (any, error) {
	out, err := expr.Run(prog, map[string]any{"value": v})
	if err != nil {
		return nil, err
	}
	switch o := out.(type) {
	case nil, string, int, []string:
		return o, nil
	case int64:
		return int(o), nil
	case []any:
		strs := make([]string, 0, len(o))
		for i, e := range o {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", errExprResult, i, e)
			}
			strs = append(strs, s)
		}
		return strs, nil
	default:
		return nil, fmt.Errorf("%w: %T", errExprResult, out)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
