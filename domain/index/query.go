package index

import "fmt"

// Option applies a modification to a Query.
type Option func(Query) Query

// Query holds conditions, ordering, and pagination for store lookups.
type Query struct {
	conditions []Condition
	orders     []Order
	limit      int
	offset     int
}

// Build creates a Query from a set of options.
func Build(options ...Option) Query {
	q := Query{}
	for _, opt := range options {
		q = opt(q)
	}
	return q
}

// Conditions returns the query conditions.
func (q Query) Conditions() []Condition {
	result := make([]Condition, len(q.conditions))
	copy(result, q.conditions)
	return result
}

// Orders returns the query ordering specifications.
func (q Query) Orders() []Order {
	result := make([]Order, len(q.orders))
	copy(result, q.orders)
	return result
}

// LimitValue returns the limit (0 means no limit).
func (q Query) LimitValue() int {
	return q.limit
}

// OffsetValue returns the offset.
func (q Query) OffsetValue() int {
	return q.offset
}

// Condition represents a single query condition: an equality, an IN over a
// slice, or a raw SQL fragment with placeholder arguments.
type Condition struct {
	field string
	value any
	in    bool
	raw   string
	args  []any
}

// Field returns the condition field name (empty for raw conditions).
func (c Condition) Field() string { return c.field }

// Value returns the condition value.
func (c Condition) Value() any { return c.value }

// In returns true if this is an IN condition (value is a slice).
func (c Condition) In() bool { return c.in }

// Raw returns the raw SQL fragment, or empty for structured conditions.
func (c Condition) Raw() string { return c.raw }

// Args returns the placeholder arguments for a raw condition.
func (c Condition) Args() []any { return c.args }

// String returns a readable representation.
func (c Condition) String() string {
	if c.raw != "" {
		return c.raw
	}
	if c.in {
		return fmt.Sprintf("%s IN %v", c.field, c.value)
	}
	return fmt.Sprintf("%s = %v", c.field, c.value)
}

// Order represents a sort specification.
type Order struct {
	field     string
	ascending bool
}

// Field returns the order field name.
func (o Order) Field() string { return o.field }

// Ascending returns true for ASC, false for DESC.
func (o Order) Ascending() bool { return o.ascending }

// --- Generic options reused across all store lookups ---

// WithCondition adds a field = value equality condition.
func WithCondition(field string, value any) Option {
	return func(q Query) Query {
		q.conditions = append(q.conditions, Condition{field: field, value: value})
		return q
	}
}

// WithConditionIn adds a field IN (values) condition.
func WithConditionIn(field string, values any) Option {
	return func(q Query) Query {
		q.conditions = append(q.conditions, Condition{field: field, value: values, in: true})
		return q
	}
}

// WithWhere adds a raw SQL condition with ? placeholders.
func WithWhere(raw string, args ...any) Option {
	return func(q Query) Query {
		q.conditions = append(q.conditions, Condition{raw: raw, args: args})
		return q
	}
}

// WithLimit sets the maximum number of results.
func WithLimit(n int) Option {
	return func(q Query) Query {
		q.limit = n
		return q
	}
}

// WithOffset sets the result offset.
func WithOffset(n int) Option {
	return func(q Query) Query {
		q.offset = n
		return q
	}
}

// WithOrderAsc adds ascending ordering on a field.
func WithOrderAsc(field string) Option {
	return func(q Query) Query {
		q.orders = append(q.orders, Order{field: field, ascending: true})
		return q
	}
}

// WithOrderDesc adds descending ordering on a field.
func WithOrderDesc(field string) Option {
	return func(q Query) Query {
		q.orders = append(q.orders, Order{field: field, ascending: false})
		return q
	}
}

// --- Typed options for the index store's columns ---

// WithID filters by the "id" column.
func WithID(id int64) Option {
	return WithCondition("id", id)
}

// WithFileID filters by the "file_id" column.
func WithFileID(id int64) Option {
	return WithCondition("file_id", id)
}

// WithPath filters by the "path" column.
func WithPath(path string) Option {
	return WithCondition("path", path)
}

// WithLang filters by the "lang" column.
func WithLang(lang string) Option {
	return WithCondition("lang", lang)
}

// WithSpanHash filters by the "span_hash" column.
func WithSpanHash(hash string) Option {
	return WithCondition("span_hash", hash)
}

// WithSpanHashIn filters by the "span_hash" column using IN.
func WithSpanHashIn(hashes []string) Option {
	return WithConditionIn("span_hash", hashes)
}

// WithKind filters by the "kind" column.
func WithKind(kind Kind) Option {
	return WithCondition("kind", string(kind))
}
