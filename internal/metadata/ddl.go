package metadata

import (
	"fmt"
	"strings"

	"graphsync/pkg/domain"
)

// AutoPKTable is the table used by the TABLE key strategy.
const AutoPKTable = "AUTO_PK_SUPPORT"

// DDLDialect supplies the vendor-specific parts of generated DDL.
type DDLDialect interface {
	Name() string
	QuoteIdent(name string) string
	ColumnType(t domain.ValueType) string
	// GeneratedKeyColumn renders a DB_GENERATED single-column primary key.
	GeneratedKeyColumn(column string) string
	SupportsSequences() bool
}

// GenerateDDL renders CREATE statements for every mapped table in dependency
// order, followed by key generation support objects. Statements are
// idempotent (IF NOT EXISTS).
func (r *Resolver) GenerateDDL(d DDLDialect) []string {
	var out []string
	for _, table := range r.order {
		if e, ok := r.tableOwner[table]; ok {
			if table == e.Table {
				out = append(out, r.primaryTableDDL(d, e))
			} else {
				st, _ := e.SecondaryTable(table)
				out = append(out, r.secondaryTableDDL(d, e, st))
			}
			continue
		}
		if jt, ok := r.joinTables[table]; ok {
			out = append(out, r.joinTableDDL(d, jt))
		}
	}
	needsAutoPK := false
	for _, e := range r.Entities() {
		switch e.PKStrategy {
		case domain.PKTable:
			needsAutoPK = true
		case domain.PKSequence:
			if d.SupportsSequences() {
				out = append(out, fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s START WITH 200", d.QuoteIdent(e.Sequence)))
			} else {
				needsAutoPK = true
			}
		}
	}
	if needsAutoPK {
		out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s NOT NULL PRIMARY KEY, %s %s NOT NULL)",
			d.QuoteIdent(AutoPKTable),
			d.QuoteIdent("TABLE_NAME"), d.ColumnType(domain.TypeText),
			d.QuoteIdent("NEXT_ID"), d.ColumnType(domain.TypeInt)))
	}
	return out
}

type ddlTable struct {
	d       DDLDialect
	name    string
	columns []string
	seen    map[string]bool
	pk      []string
	fks     []string
}

func newDDLTable(d DDLDialect, name string) *ddlTable {
	return &ddlTable{d: d, name: name, seen: make(map[string]bool)}
}

func (t *ddlTable) column(name string, typ domain.ValueType, notNull bool) {
	if t.seen[name] {
		return
	}
	t.seen[name] = true
	def := t.d.QuoteIdent(name) + " " + t.d.ColumnType(typ)
	if notNull {
		def += " NOT NULL"
	}
	t.columns = append(t.columns, def)
}

func (t *ddlTable) raw(name, def string) {
	t.seen[name] = true
	t.columns = append(t.columns, def)
}

func (t *ddlTable) foreignKey(cols []string, ref string, refCols []string) {
	q := func(names []string) string {
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = t.d.QuoteIdent(n)
		}
		return strings.Join(quoted, ", ")
	}
	t.fks = append(t.fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", q(cols), t.d.QuoteIdent(ref), q(refCols)))
}

func (t *ddlTable) String() string {
	parts := append([]string(nil), t.columns...)
	if len(t.pk) > 0 {
		quoted := make([]string, len(t.pk))
		for i, n := range t.pk {
			quoted[i] = t.d.QuoteIdent(n)
		}
		parts = append(parts, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	parts = append(parts, t.fks...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", t.d.QuoteIdent(t.name), strings.Join(parts, ",\n  "))
}

func pkType(e *domain.Entity, column string) domain.ValueType {
	for _, a := range e.PrimaryKey() {
		if a.Column == column {
			return a.Type
		}
	}
	return domain.TypeInt
}

func (r *Resolver) primaryTableDDL(d DDLDialect, e *domain.Entity) string {
	t := newDDLTable(d, e.Table)
	pks := e.PrimaryKey()
	if e.PKStrategy == domain.PKDBGenerated && len(pks) == 1 {
		t.raw(pks[0].Column, d.GeneratedKeyColumn(pks[0].Column))
	} else {
		for _, a := range pks {
			t.column(a.Column, a.Type, true)
			t.pk = append(t.pk, a.Column)
		}
	}
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if a.PrimaryKey || e.TableOf(a) != e.Table {
			continue
		}
		t.column(a.Column, a.Type, a.Mandatory)
	}
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if rel.ToMany || rel.Flattened() {
			continue
		}
		target := r.entities[rel.Target]
		var cols, refCols []string
		for _, j := range rel.Joins {
			t.column(j.Source, pkType(target, j.Target), false)
			cols = append(cols, j.Source)
			refCols = append(refCols, j.Target)
		}
		if r.TableIndex(target.Table) <= r.TableIndex(e.Table) {
			t.foreignKey(cols, target.Table, refCols)
		}
	}
	return t.String()
}

func (r *Resolver) secondaryTableDDL(d DDLDialect, e *domain.Entity, st *domain.SecondaryTable) string {
	t := newDDLTable(d, st.Name)
	var cols, refCols []string
	for _, j := range st.Joins {
		t.column(j.Target, pkType(e, j.Source), true)
		t.pk = append(t.pk, j.Target)
		cols = append(cols, j.Target)
		refCols = append(refCols, j.Source)
	}
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if e.TableOf(a) == st.Name {
			t.column(a.Column, a.Type, a.Mandatory)
		}
	}
	t.foreignKey(cols, e.Table, refCols)
	return t.String()
}

func (r *Resolver) joinTableDDL(d DDLDialect, jt *domain.JoinTable) string {
	t := newDDLTable(d, jt.Name)
	var source, target *domain.Entity
	for _, e := range r.Entities() {
		for i := range e.Relationships {
			rel := &e.Relationships[i]
			if rel.JoinTable != nil && rel.JoinTable.Name == jt.Name && source == nil {
				source, target = e, r.entities[rel.Target]
			}
		}
	}
	var sCols, sRef, tCols, tRef []string
	for _, j := range jt.SourceJoins {
		t.column(j.Target, pkType(source, j.Source), true)
		t.pk = append(t.pk, j.Target)
		sCols, sRef = append(sCols, j.Target), append(sRef, j.Source)
	}
	for _, j := range jt.TargetJoins {
		t.column(j.Source, pkType(target, j.Target), true)
		t.pk = append(t.pk, j.Source)
		tCols, tRef = append(tCols, j.Source), append(tRef, j.Target)
	}
	t.foreignKey(sCols, source.Table, sRef)
	t.foreignKey(tCols, target.Table, tRef)
	return t.String()
}
