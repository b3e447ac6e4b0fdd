package db

import (
	"strconv"
	"strings"
	"time"
)

// whereBuilder accumulates a conjunction of SQL predicates with positional
// arguments. An absent filter field simply contributes no clause, which is
// the "tautology" rule: it can never exclude rows.
type whereBuilder struct {
	clauses []string
	args    []any
}

// arg registers a query argument and returns its positional placeholder.
func (b *whereBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// add appends a ready predicate clause.
func (b *whereBuilder) add(clause string) {
	b.clauses = append(b.clauses, clause)
}

// equal adds `expr = value` when value is non-nil.
func equal[T any](b *whereBuilder, expr string, value *T) {
	if value != nil {
		b.add(expr + " = " + b.arg(*value))
	}
}

// containsFold adds a case-insensitive substring match when value is non-nil.
func containsFold(b *whereBuilder, expr string, value *string) {
	if value != nil {
		pattern := "%" + strings.ToLower(*value) + "%"
		b.add("LOWER(" + expr + ") LIKE " + b.arg(pattern))
	}
}

// timeRange adds inclusive bounds for whichever of from/to are present.
func timeRange(b *whereBuilder, expr string, from, to *time.Time) {
	if from != nil {
		b.add(expr + " >= " + b.arg(*from))
	}
	if to != nil {
		b.add(expr + " <= " + b.arg(*to))
	}
}

// day adds a whole-calendar-day bound (UTC) when value is non-nil.
func day(b *whereBuilder, expr string, value *time.Time) {
	if value != nil {
		start := value.UTC().Truncate(24 * time.Hour)
		b.add(expr + " >= " + b.arg(start))
		b.add(expr + " < " + b.arg(start.Add(24*time.Hour)))
	}
}

// seekAfter adds the composite keyset predicate that resumes a page strictly
// after the cursor row. This is one combined condition, not two independent
// range filters: rows sharing the boundary timestamp are kept and
// disambiguated by the id comparison, which is what makes the cursor stable
// under concurrent inserts that tie with the boundary row.
func seekAfter(b *whereBuilder, tsExpr, idExpr string, timestamp time.Time, id int64) {
	b.add("(" + tsExpr + " >= " + b.arg(timestamp) + " AND " + idExpr + " > " + b.arg(id) + ")")
}

// where renders the accumulated conjunction, or an empty string when no
// predicate was added (a full scan, still paginated).
func (b *whereBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}
