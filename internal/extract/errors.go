package extract

import (
	"errors"
	"fmt"
)

var errEmptyAttr = errors.New("attr extraction needs an attribute name")

// ErrMissingField is returned by PopField when the identifier field is absent.
var ErrMissingField = errors.New("missing field")

func errMissingField(key string) error {
	return fmt.Errorf("%w %q", ErrMissingField, key)
}

// SelectorCompileError reports an invalid selector expression. It is returned
// at rule construction and is never recoverable per document.
type SelectorCompileError struct {
	Expr string
	Err  error
}

func (e *SelectorCompileError) Error() string {
	return fmt.Sprintf("compile selector %q: %v", e.Expr, e.Err)
}

func (e *SelectorCompileError) Unwrap() error { return e.Err }

// FieldTransformError reports a transform that failed on one reduced value.
// The engine drops the field and keeps the rest of the item.
type FieldTransformError struct {
	Key       string
	Transform string
	Err       error
}

func (e *FieldTransformError) Error() string {
	return fmt.Sprintf("field %q: transform %s: %v", e.Key, e.Transform, e.Err)
}

func (e *FieldTransformError) Unwrap() error { return e.Err }

// ItemIdentifierError reports an item whose identifier could not be split out.
// The engine drops the whole item.
type ItemIdentifierError struct {
	Rule string
	Err  error
}

func (e *ItemIdentifierError) Error() string {
	return fmt.Sprintf("rule %q: item identifier: %v", e.Rule, e.Err)
}

func (e *ItemIdentifierError) Unwrap() error { return e.Err }
