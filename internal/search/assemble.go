package search

import (
	"fmt"
	"maps"
	"slices"

	"titlesearch/internal/extract"
	"titlesearch/internal/metrics"
	"titlesearch/internal/titleinfo"

	"go.uber.org/zap"
)

// Keys used by the title search rule-set.
const (
	DataKey          = "data"
	SecondaryInfoKey = "secondary_info"
)

// Limit bounds the number of assembled records. The zero value is NoLimit.
type Limit struct {
	n   int
	set bool
}

// NoLimit keeps every record.
var NoLimit = Limit{}

// LimitTo keeps at most n records. Negative n is treated as 0.
func LimitTo(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n, set: true}
}

// Apply returns how many of total items to keep.
func (l Limit) Apply(total int) int {
	if !l.set || l.n >= total {
		return total
	}
	return l.n
}

func (l Limit) String() string {
	if !l.set {
		return "none"
	}
	return fmt.Sprint(l.n)
}

// MergeConflictError reports a decoded annotation field that already existed
// on the record. It is only returned when StrictMerge is set.
type MergeConflictError struct {
	ID       string
	Field    string
	Existing any
	Incoming any
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("record %s: field %q already set to %v (incoming %v)", e.ID, e.Field, e.Existing, e.Incoming)
}

// AssembleOptions controls Assemble.
type AssembleOptions struct {
	Limit Limit

	// StrictMerge turns a merge conflict into an error. Without it the
	// decoded value wins and the conflict is logged.
	StrictMerge bool

	Logger *zap.Logger
}

// Assemble turns engine output into the final record list: missing data
// becomes an empty list, the list is truncated to the limit, and each
// record's secondary_info annotation is replaced by its decoded fields.
//
// The input is not modified. Assembling already assembled records returns
// them unchanged.
func Assemble(out extract.Output, opts AssembleOptions) ([]extract.Record, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	recs, _ := out[DataKey].([]extract.Record)
	recs = recs[:opts.Limit.Apply(len(recs))]

	result := make([]extract.Record, 0, len(recs))
	for _, rec := range recs {
		merged, err := expandSecondaryInfo(rec, opts.StrictMerge, log)
		if err != nil {
			return nil, err
		}
		result = append(result, merged)
	}
	return result, nil
}

func expandSecondaryInfo(rec extract.Record, strict bool, log *zap.Logger) (extract.Record, error) {
	raw, ok := rec.Fields[SecondaryInfoKey]
	if !ok {
		return rec, nil
	}

	fields := maps.Clone(rec.Fields)
	delete(fields, SecondaryInfoKey)

	text, _ := raw.(string)
	info, err := titleinfo.Parse(text)
	if err != nil {
		// Malformed markup is expected; info still carries the default kind.
		log.Debug("unparsed secondary info", zap.String("id", rec.ID), zap.Error(err))
		metrics.IncCounter(metrics.CompositeMismatchTotal, 1, nil)
	}

	decoded := info.Fields()
	for _, k := range slices.Sorted(maps.Keys(decoded)) {
		v := decoded[k]
		if existing, dup := fields[k]; dup {
			if strict {
				return extract.Record{}, &MergeConflictError{ID: rec.ID, Field: k, Existing: existing, Incoming: v}
			}
			log.Warn("overwriting field from secondary info",
				zap.String("id", rec.ID), zap.String("field", k),
				zap.Any("existing", existing), zap.Any("incoming", v))
			metrics.IncCounter(metrics.MergeConflictsTotal, 1, metrics.Labels{"field": k})
		}
		fields[k] = v
	}

	return extract.Record{ID: rec.ID, Fields: fields}, nil
}
