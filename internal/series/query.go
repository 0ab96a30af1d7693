package series

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/skyscribe/internal/models"
)

// Op is a numeric comparator usable in a Filter.
type Op string

const (
	OpGT  Op = ">"
	OpLT  Op = "<"
	OpGTE Op = ">="
	OpLTE Op = "<="
	OpEQ  Op = "="
)

func (o Op) Valid() bool {
	switch o {
	case OpGT, OpLT, OpGTE, OpLTE, OpEQ:
		return true
	}
	return false
}

// Compare reports whether "v o bound" holds.
func (o Op) Compare(v, bound float64) bool {
	switch o {
	case OpGT:
		return v > bound
	case OpLT:
		return v < bound
	case OpGTE:
		return v >= bound
	case OpLTE:
		return v <= bound
	case OpEQ:
		return v == bound
	}
	return false
}

type Condition struct {
	Op    Op
	Value float64
}

// Filter maps a field name to conditions on that field. Conditions are ANDed
// both within a field and across fields.
type Filter map[string][]Condition

func (f Filter) Validate() error {
	for field, conds := range f {
		if field == "" || field == models.TimestampField {
			return fmt.Errorf("%w: cannot filter on field %q", ErrMalformedQuery, field)
		}
		for _, c := range conds {
			if !c.Op.Valid() {
				return fmt.Errorf("%w: unknown operator %q on %s", ErrMalformedQuery, c.Op, field)
			}
			if math.IsNaN(c.Value) {
				return fmt.Errorf("%w: NaN bound on %s", ErrMalformedQuery, field)
			}
		}
	}
	return nil
}

// Match evaluates the filter against s. A sample missing a filtered field
// never matches.
func (f Filter) Match(s models.Sample) bool {
	for field, conds := range f {
		v, ok := s.Value(field)
		if !ok {
			return false
		}
		for _, c := range conds {
			if !c.Op.Compare(v, c.Value) {
				return false
			}
		}
	}
	return true
}

// Fields returns the filtered field names in sorted order.
func (f Filter) Fields() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ParseFilter converts query-string values such as temp_c=">=10" into a
// Filter. A value with no operator prefix is an equality test.
func ParseFilter(values map[string][]string) (Filter, error) {
	f := make(Filter, len(values))
	for field, raws := range values {
		for _, raw := range raws {
			c, err := parseCondition(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", field, err)
			}
			f[field] = append(f[field], c)
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func parseCondition(raw string) (Condition, error) {
	raw = strings.TrimSpace(raw)
	i := 0
	for i < len(raw) && strings.ContainsRune("><=", rune(raw[i])) {
		i++
	}
	op := Op(raw[:i])
	if op == "" || op == "==" {
		op = OpEQ
	}
	if !op.Valid() {
		return Condition{}, fmt.Errorf("%w: unknown operator %q", ErrMalformedQuery, raw[:i])
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw[i:]), 64)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: bad number %q", ErrMalformedQuery, raw[i:])
	}
	return Condition{Op: op, Value: v}, nil
}

type Order int

const (
	Ascending Order = iota
	Descending
)

// Query describes a read against a Collection. Zero values mean "no
// constraint": a zero At matches any timestamp, zero From/To leave the range
// open on that side, and nil Fields returns every field.
type Query struct {
	At     time.Time
	From   time.Time
	To     time.Time
	Filter Filter
	Fields []string
	Order  Order
	Limit  int
}

// MatchTime reports whether ts satisfies the query's timestamp constraints.
func (q Query) MatchTime(ts time.Time) bool {
	if !q.At.IsZero() && !ts.Equal(q.At) {
		return false
	}
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ts.After(q.To) {
		return false
	}
	return true
}

func (q Query) Match(s models.Sample) bool {
	return q.MatchTime(s.Timestamp()) && q.Filter.Match(s)
}

// Patch is a single-field update. When Field is models.TimestampField the
// sample is re-keyed to Timestamp and Value is ignored.
type Patch struct {
	Field     string
	Value     float64
	Timestamp time.Time
}

func SetField(field string, v float64) Patch {
	return Patch{Field: field, Value: v}
}

func SetTimestamp(ts time.Time) Patch {
	return Patch{Field: models.TimestampField, Timestamp: models.TruncateTimestamp(ts)}
}

func (p Patch) IsRename() bool { return p.Field == models.TimestampField }

// Apply returns s with the patch applied.
func (p Patch) Apply(s models.Sample) models.Sample {
	if p.IsRename() {
		return s.WithTimestamp(p.Timestamp)
	}
	return s.With(p.Field, p.Value)
}
