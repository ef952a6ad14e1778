package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/batchsettle/internal/domain"
)

// listQuery builds a filtered, paginated SELECT with positional arguments.
type listQuery struct {
	sql  strings.Builder
	args []any
}

// newListQuery starts a query from base, which must end in a WHERE clause
// (use "WHERE TRUE" when there is no fixed condition).
func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sql.WriteString(base)
	return q
}

// where appends "AND cond", where cond holds one %d for the placeholder.
func (q *listQuery) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sql.WriteString(" AND ")
	fmt.Fprintf(&q.sql, cond, len(q.args))
}

// timeRange applies opts.Since and opts.Until to col.
func (q *listQuery) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col+" <= $%d", *opts.Until)
	}
}

// page appends the ORDER BY clause and opts' limit and offset.
func (q *listQuery) page(orderBy string, opts domain.ListOpts) {
	q.sql.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		fmt.Fprintf(&q.sql, " LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		fmt.Fprintf(&q.sql, " OFFSET $%d", len(q.args))
	}
}

func (q *listQuery) String() string { return q.sql.String() }
