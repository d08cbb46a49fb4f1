package memory

import (
	"graphsync/internal/metadata"
	"graphsync/pkg/domain"
)

type foreignKey struct {
	table   string
	cols    []string
	ref     string
	refCols []string
}

// schema holds the constraints implied by a mapping model. A nil schema
// checks nothing.
type schema struct {
	keys map[string][]string
	fks  []foreignKey
}

func newSchema(r *metadata.Resolver) *schema {
	s := &schema{keys: make(map[string][]string)}
	seenJoin := make(map[string]bool)
	for _, e := range r.Entities() {
		var pk []string
		for _, a := range e.PrimaryKey() {
			pk = append(pk, a.Column)
		}
		s.keys[e.Table] = pk
		for _, st := range e.SecondaryTables {
			fk := foreignKey{table: st.Name, ref: e.Table}
			for _, j := range st.Joins {
				fk.cols = append(fk.cols, j.Target)
				fk.refCols = append(fk.refCols, j.Source)
			}
			s.keys[st.Name] = fk.cols
			s.fks = append(s.fks, fk)
		}
		for i := range e.Relationships {
			rel := &e.Relationships[i]
			target, err := r.Entity(rel.Target)
			if err != nil {
				continue
			}
			switch {
			case rel.Flattened():
				if seenJoin[rel.JoinTable.Name] {
					continue
				}
				seenJoin[rel.JoinTable.Name] = true
				src := foreignKey{table: rel.JoinTable.Name, ref: e.Table}
				for _, j := range rel.JoinTable.SourceJoins {
					src.cols = append(src.cols, j.Target)
					src.refCols = append(src.refCols, j.Source)
				}
				dst := foreignKey{table: rel.JoinTable.Name, ref: target.Table}
				for _, j := range rel.JoinTable.TargetJoins {
					dst.cols = append(dst.cols, j.Source)
					dst.refCols = append(dst.refCols, j.Target)
				}
				s.keys[rel.JoinTable.Name] = append(append([]string(nil), src.cols...), dst.cols...)
				s.fks = append(s.fks, src, dst)
			case !rel.ToMany:
				fk := foreignKey{table: e.Table, ref: target.Table}
				for _, j := range rel.Joins {
					fk.cols = append(fk.cols, j.Source)
					fk.refCols = append(fk.refCols, j.Target)
				}
				s.fks = append(s.fks, fk)
			}
		}
	}
	return s
}

func (s *schema) checkInsert(tables map[string][]domain.Row, table string, row domain.Row) error {
	if s == nil {
		return nil
	}
	if key, ok := s.keys[table]; ok {
		for _, existing := range tables[table] {
			if sameKey(existing, row, key) {
				return Error.New("insert into %s: duplicate primary key", table)
			}
		}
	}
	return s.checkOutgoing(tables, table, row)
}

func (s *schema) checkUpdate(tables map[string][]domain.Row, table string, before, after domain.Row) error {
	if s == nil {
		return nil
	}
	if key, ok := s.keys[table]; ok && !sameKey(before, after, key) {
		return Error.New("update %s: primary key columns are immutable", table)
	}
	return s.checkOutgoing(tables, table, after)
}

func (s *schema) checkOutgoing(tables map[string][]domain.Row, table string, row domain.Row) error {
	for _, fk := range s.fks {
		if fk.table != table {
			continue
		}
		values, ok := columnValues(row, fk.cols)
		if !ok {
			continue
		}
		if !exists(tables[fk.ref], fk.refCols, values) && !(fk.ref == table && rowMatches(row, fk.refCols, values)) {
			return Error.New("%s: foreign key %v references a missing %s row", table, fk.cols, fk.ref)
		}
	}
	return nil
}

func (s *schema) checkDelete(tables map[string][]domain.Row, table string, row domain.Row) error {
	if s == nil {
		return nil
	}
	for _, fk := range s.fks {
		if fk.ref != table {
			continue
		}
		values, ok := columnValues(row, fk.refCols)
		if !ok {
			continue
		}
		for _, other := range tables[fk.table] {
			if fk.table == table && sameKey(other, row, s.keys[table]) {
				continue
			}
			if rowMatches(other, fk.cols, values) {
				return Error.New("delete from %s: row is referenced by %s %v", table, fk.table, fk.cols)
			}
		}
	}
	return nil
}

func columnValues(row domain.Row, cols []string) ([]any, bool) {
	out := make([]any, len(cols))
	for i, col := range cols {
		v := row[col]
		if v == nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func exists(rows []domain.Row, cols []string, values []any) bool {
	for _, row := range rows {
		if rowMatches(row, cols, values) {
			return true
		}
	}
	return false
}

func rowMatches(row domain.Row, cols []string, values []any) bool {
	for i, col := range cols {
		if !domain.ValuesEqual(row[col], values[i]) {
			return false
		}
	}
	return true
}

func sameKey(a, b domain.Row, key []string) bool {
	if len(key) == 0 {
		return false
	}
	for _, col := range key {
		if a[col] == nil || !domain.ValuesEqual(a[col], b[col]) {
			return false
		}
	}
	return true
}
