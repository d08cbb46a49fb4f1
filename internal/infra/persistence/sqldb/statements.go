package sqldb

import (
	"strings"

	"graphsync/pkg/domain"
)

type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *builder) bind(v any) {
	b.args = append(b.args, v)
	b.sb.WriteString(b.d.Placeholder(len(b.args)))
}

// placeholder reserves the next parameter slot without a value.
func (b *builder) placeholder() {
	b.args = append(b.args, nil)
	b.sb.WriteString(b.d.Placeholder(len(b.args)))
}

func (b *builder) columnList(cols []string) {
	for i, c := range cols {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.d.QuoteIdent(c))
	}
}

func (b *builder) String() string { return b.sb.String() }

// selectSQL renders a single-table select with bound condition values.
func selectSQL(d Dialect, q domain.SelectQuery) (string, []any, error) {
	b := &builder{d: d}
	b.write("SELECT ")
	if len(q.Columns) == 0 {
		b.write("*")
	} else {
		b.columnList(q.Columns)
	}
	b.write(" FROM ", d.QuoteIdent(q.Table))
	for i, c := range q.Where {
		if i == 0 {
			b.write(" WHERE ")
		} else {
			b.write(" AND ")
		}
		if err := condition(b, c); err != nil {
			return "", nil, err
		}
	}
	for i, o := range q.OrderBy {
		if i == 0 {
			b.write(" ORDER BY ")
		} else {
			b.write(", ")
		}
		b.write(d.QuoteIdent(o.Column))
		if o.Descending {
			b.write(" DESC")
		}
	}
	if q.Limit > 0 || q.Offset > 0 {
		b.write(" ", d.LimitOffset(q.Limit, q.Offset))
	}
	return b.String(), b.args, nil
}

func condition(b *builder, c domain.Condition) error {
	col := b.d.QuoteIdent(c.Column)
	switch c.Op {
	case domain.OpIsNull, domain.OpNotNull:
		b.write(col, " ", string(c.Op))
	case domain.OpEq, domain.OpNe, domain.OpLt, domain.OpLe, domain.OpGt, domain.OpGe, domain.OpLike:
		if c.Value == nil {
			return Error.New("condition on %s: nil operand for %s", c.Column, c.Op)
		}
		b.write(col, " ", string(c.Op), " ")
		b.bind(c.Value)
	case domain.OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return Error.New("IN on %s needs []any, got %T", c.Column, c.Value)
		}
		if len(values) == 0 {
			b.write("1 = 0")
			return nil
		}
		b.write(col, " IN (")
		for i, v := range values {
			if i > 0 {
				b.write(", ")
			}
			b.bind(v)
		}
		b.write(")")
	default:
		return Error.New("unsupported operator %q", c.Op)
	}
	return nil
}

// insertSQL renders the statement for one row of an insert batch.
func insertSQL(d Dialect, batch domain.InsertBatch, returning bool) string {
	b := &builder{d: d}
	b.write("INSERT INTO ", d.QuoteIdent(batch.Table), " (")
	b.columnList(batch.Columns)
	b.write(") VALUES (")
	for i := range batch.Columns {
		if i > 0 {
			b.write(", ")
		}
		b.placeholder()
	}
	b.write(")")
	if returning && len(batch.Generated) > 0 {
		b.write(" RETURNING ")
		b.columnList(batch.Generated)
	}
	return b.String()
}

// updateSQL renders the statement shared by every row of an update batch.
func updateSQL(d Dialect, batch domain.UpdateBatch) string {
	b := &builder{d: d}
	b.write("UPDATE ", d.QuoteIdent(batch.Table), " SET ")
	for i, col := range batch.Set {
		if i > 0 {
			b.write(", ")
		}
		b.write(d.QuoteIdent(col), " = ")
		b.placeholder()
	}
	qualifier(b, batch.Where, batch.NullWhere)
	return b.String()
}

// deleteSQL renders the statement shared by every row of a delete batch.
func deleteSQL(d Dialect, batch domain.DeleteBatch) string {
	b := &builder{d: d}
	b.write("DELETE FROM ", d.QuoteIdent(batch.Table))
	qualifier(b, batch.Where, batch.NullWhere)
	return b.String()
}

func qualifier(b *builder, where, nullWhere []string) {
	first := true
	and := func() {
		if first {
			b.write(" WHERE ")
			first = false
		} else {
			b.write(" AND ")
		}
	}
	for _, col := range where {
		and()
		b.write(b.d.QuoteIdent(col), " = ")
		b.placeholder()
	}
	for _, col := range nullWhere {
		and()
		b.write(b.d.QuoteIdent(col), " IS NULL")
	}
}
