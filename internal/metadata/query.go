package metadata

import (
	"graphsync/pkg/domain"
)

// TranslateQuery converts an object query into a select on the entity's
// primary table. Conditions may name primary table attributes or to-one
// relationships; the latter compare against an ObjectID.
func (r *Resolver) TranslateQuery(q domain.ObjectQuery) (*domain.Entity, domain.SelectQuery, error) {
	e, err := r.Entity(q.Entity)
	if err != nil {
		return nil, domain.SelectQuery{}, err
	}
	sq := domain.SelectQuery{
		Table:   e.Table,
		Columns: PrimaryColumns(e),
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	for _, c := range q.Where {
		conds, err := translateCondition(e, c)
		if err != nil {
			return nil, domain.SelectQuery{}, err
		}
		sq.Where = append(sq.Where, conds...)
	}
	for _, o := range q.OrderBy {
		a, ok := e.Attribute(o.Column)
		if !ok || e.TableOf(a) != e.Table {
			return nil, domain.SelectQuery{}, domain.ErrProgrammer.New("%s: cannot order by %q", e.Name, o.Column)
		}
		sq.OrderBy = append(sq.OrderBy, domain.Ordering{Column: a.Column, Descending: o.Descending})
	}
	return e, sq, nil
}

func translateCondition(e *domain.Entity, c domain.Condition) ([]domain.Condition, error) {
	if a, ok := e.Attribute(c.Column); ok {
		if e.TableOf(a) != e.Table {
			return nil, domain.ErrProgrammer.New("%s: cannot qualify on secondary table attribute %q", e.Name, c.Column)
		}
		return []domain.Condition{{Column: a.Column, Op: c.Op, Value: c.Value}}, nil
	}
	rel, ok := e.Relationship(c.Column)
	if !ok || rel.ToMany || rel.Flattened() {
		return nil, domain.ErrProgrammer.New("%s: unknown qualifier property %q", e.Name, c.Column)
	}
	var target domain.ObjectID
	switch v := c.Value.(type) {
	case nil:
	case domain.ObjectID:
		target = v
	default:
		return nil, domain.ErrProgrammer.New("%s: relationship %q must be compared with an ObjectID", e.Name, c.Column)
	}
	if target.IsTemporary() {
		return nil, domain.ErrProgrammer.New("%s: cannot qualify %q on an uncommitted object", e.Name, c.Column)
	}
	var out []domain.Condition
	for _, j := range rel.Joins {
		switch {
		case target.IsZero() && c.Op == domain.OpNe:
			out = append(out, domain.Condition{Column: j.Source, Op: domain.OpNotNull})
		case target.IsZero():
			out = append(out, domain.Condition{Column: j.Source, Op: domain.OpIsNull})
		default:
			v, _ := target.Value(j.Target)
			out = append(out, domain.Condition{Column: j.Source, Op: c.Op, Value: v})
		}
	}
	return out, nil
}

// SecondaryQuery selects the secondary table rows of the given primary rows.
func SecondaryQuery(e *domain.Entity, st *domain.SecondaryTable, ids []domain.ObjectID) domain.SelectQuery {
	q := domain.SelectQuery{Table: st.Name, Columns: SecondaryColumns(e, st)}
	if len(st.Joins) == 1 {
		j := st.Joins[0]
		values := make([]any, 0, len(ids))
		for _, id := range ids {
			v, _ := id.Value(j.Source)
			values = append(values, v)
		}
		q.Where = []domain.Condition{{Column: j.Target, Op: domain.OpIn, Value: values}}
		return q
	}
	if len(ids) == 1 {
		for _, j := range st.Joins {
			v, _ := ids[0].Value(j.Source)
			q.Where = append(q.Where, domain.Condition{Column: j.Target, Op: domain.OpEq, Value: v})
		}
	}
	return q
}

// SecondaryRowID maps a secondary table row back to the owning identity.
func SecondaryRowID(e *domain.Entity, st *domain.SecondaryTable, row domain.Row) (domain.ObjectID, bool) {
	pk := make(map[string]any, len(st.Joins))
	for _, j := range st.Joins {
		v := row[j.Target]
		if v == nil {
			return domain.ObjectID{}, false
		}
		pk[j.Source] = v
	}
	return domain.NewObjectID(e.Name, pk), true
}

// ToManyQuery selects the target rows of a non-flattened to-many relationship
// for source.
func ToManyQuery(target *domain.Entity, rel *domain.Relationship, source domain.ObjectID) domain.SelectQuery {
	q := domain.SelectQuery{Table: target.Table, Columns: PrimaryColumns(target)}
	for _, j := range rel.Joins {
		v, _ := source.Value(j.Source)
		q.Where = append(q.Where, domain.Condition{Column: j.Target, Op: domain.OpEq, Value: v})
	}
	return q
}

// JoinRowsQuery selects the join table rows of a flattened relationship for
// source.
func JoinRowsQuery(rel *domain.Relationship, source domain.ObjectID) domain.SelectQuery {
	jt := rel.JoinTable
	q := domain.SelectQuery{Table: jt.Name}
	for _, j := range jt.TargetJoins {
		q.Columns = append(q.Columns, j.Source)
	}
	for _, j := range jt.SourceJoins {
		v, _ := source.Value(j.Source)
		q.Where = append(q.Where, domain.Condition{Column: j.Target, Op: domain.OpEq, Value: v})
	}
	return q
}

// JoinRowTarget maps a join table row to the target identity.
func JoinRowTarget(rel *domain.Relationship, row domain.Row) (domain.ObjectID, bool) {
	pk := make(map[string]any, len(rel.JoinTable.TargetJoins))
	for _, j := range rel.JoinTable.TargetJoins {
		v := row[j.Source]
		if v == nil {
			return domain.ObjectID{}, false
		}
		pk[j.Target] = v
	}
	return domain.NewObjectID(rel.Target, pk), true
}

// ByIDQuery selects one object by identity.
func ByIDQuery(e *domain.Entity, id domain.ObjectID) domain.SelectQuery {
	q := domain.SelectQuery{Table: e.Table, Columns: PrimaryColumns(e)}
	pk := id.PK()
	for _, col := range SortedKeys(pk) {
		q.Where = append(q.Where, domain.Condition{Column: col, Op: domain.OpEq, Value: pk[col]})
	}
	return q
}

// JoinRow returns the join table column values linking source to target.
// ok is false when either side is still temporary.
func JoinRow(rel *domain.Relationship, source, target domain.ObjectID) (map[string]any, bool) {
	if source.IsTemporary() || target.IsTemporary() {
		return nil, false
	}
	spk, tpk := source.PK(), target.PK()
	out := make(map[string]any)
	for _, j := range rel.JoinTable.SourceJoins {
		out[j.Target] = spk[j.Source]
	}
	for _, j := range rel.JoinTable.TargetJoins {
		out[j.Source] = tpk[j.Target]
	}
	return out, true
}
