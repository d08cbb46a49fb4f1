package metadata

import (
	"errors"

	"graphsync/pkg/domain"
)

func (r *Resolver) validate() error {
	var problems []error
	fail := func(format string, args ...any) {
		problems = append(problems, domain.ErrMapping.New(format, args...))
	}

	for _, e := range r.Entities() {
		if e.Table == "" {
			fail("entity %q has no table", e.Name)
			continue
		}
		r.claimTable(e, e.Table, fail)
		for _, st := range e.SecondaryTables {
			r.claimTable(e, st.Name, fail)
		}
	}

	for _, e := range r.Entities() {
		r.validateAttributes(e, fail)
		r.validateSecondaryTables(e, fail)
		for i := range e.Relationships {
			r.validateRelationship(e, &e.Relationships[i], fail)
		}
	}
	return errors.Join(problems...)
}

func (r *Resolver) claimTable(e *domain.Entity, table string, fail func(string, ...any)) {
	if table == "" {
		fail("entity %q declares a secondary table without a name", e.Name)
		return
	}
	if owner, ok := r.tableOwner[table]; ok && owner != e {
		fail("table %q is mapped by both %q and %q", table, owner.Name, e.Name)
		return
	} else if ok {
		fail("entity %q maps table %q twice", e.Name, table)
		return
	}
	r.tableOwner[table] = e
}

func (r *Resolver) validateAttributes(e *domain.Entity, fail func(string, ...any)) {
	names := make(map[string]bool)
	columns := make(map[string]bool)
	pks := 0
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if a.Name == "" {
			fail("entity %q: attribute #%d has no name", e.Name, i)
			continue
		}
		if names[a.Name] {
			fail("entity %q: duplicate attribute %q", e.Name, a.Name)
		}
		names[a.Name] = true
		table := e.TableOf(a)
		if table != e.Table {
			if _, ok := e.SecondaryTable(table); !ok {
				fail("entity %q: attribute %q maps unknown table %q", e.Name, a.Name, table)
			}
		}
		key := table + "." + a.Column
		if columns[key] {
			fail("entity %q: column %q mapped twice", e.Name, key)
		}
		columns[key] = true
		switch a.Type {
		case domain.TypeInt, domain.TypeText, domain.TypeReal, domain.TypeBool, domain.TypeBlob, domain.TypeTime:
		default:
			fail("entity %q: attribute %q has unknown type %q", e.Name, a.Name, a.Type)
		}
		if a.PrimaryKey {
			pks++
			if table != e.Table {
				fail("entity %q: primary key attribute %q must live in table %q", e.Name, a.Name, e.Table)
			}
		}
	}
	if pks == 0 {
		fail("entity %q has no primary key attribute", e.Name)
	}
	switch e.PKStrategy {
	case domain.PKProvided:
	case domain.PKDBGenerated, domain.PKTable, domain.PKSequence:
		if pks > 1 {
			fail("entity %q: %s key generation needs a single-column key", e.Name, e.PKStrategy)
		}
	default:
		fail("entity %q: unknown key strategy %q", e.Name, e.PKStrategy)
	}
	switch e.Lock {
	case domain.LockNone, domain.LockOptimistic:
	default:
		fail("entity %q: unknown lock type %q", e.Name, e.Lock)
	}
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if names[rel.Name] {
			fail("entity %q: relationship %q clashes with an attribute", e.Name, rel.Name)
		}
		if !rel.ToMany && !rel.Flattened() {
			for _, j := range rel.Joins {
				if columns[e.Table+"."+j.Source] {
					fail("entity %q: foreign key column %q of %q is also mapped as an attribute", e.Name, j.Source, rel.Name)
				}
			}
		}
	}
}

func (r *Resolver) validateSecondaryTables(e *domain.Entity, fail func(string, ...any)) {
	pkCols := pkColumnSet(e)
	for _, st := range e.SecondaryTables {
		if len(st.Joins) != len(pkCols) {
			fail("entity %q: secondary table %q must join on every primary key column", e.Name, st.Name)
			continue
		}
		for _, j := range st.Joins {
			if !pkCols[j.Source] {
				fail("entity %q: secondary table %q joins non-key column %q", e.Name, st.Name, j.Source)
			}
		}
	}
}

func (r *Resolver) validateRelationship(e *domain.Entity, rel *domain.Relationship, fail func(string, ...any)) {
	if rel.Name == "" {
		fail("entity %q: relationship without a name", e.Name)
		return
	}
	target, ok := r.entities[rel.Target]
	if !ok {
		fail("entity %q: relationship %q targets unknown entity %q", e.Name, rel.Name, rel.Target)
		return
	}
	if rel.UsedForLocking && rel.ToMany {
		fail("entity %q: to-many relationship %q cannot be used for locking", e.Name, rel.Name)
	}
	switch rel.DeleteRule {
	case domain.DeleteNoAction, domain.DeleteNullify, domain.DeleteCascade, domain.DeleteDeny:
	default:
		fail("entity %q: relationship %q has unknown delete rule %d", e.Name, rel.Name, rel.DeleteRule)
	}

	var rev *domain.Relationship
	if rel.Reverse != "" {
		rev, ok = target.Relationship(rel.Reverse)
		if !ok {
			fail("entity %q: relationship %q names unknown reverse %q.%q", e.Name, rel.Name, target.Name, rel.Reverse)
			return
		}
		if rev.Target != e.Name || rev.Reverse != rel.Name {
			fail("entity %q: relationship %q and reverse %q.%q do not point at each other", e.Name, rel.Name, target.Name, rev.Name)
			return
		}
	}

	switch {
	case rel.Flattened():
		r.validateJoinTable(e, target, rel, rev, fail)
	case rel.ToMany:
		if rev == nil {
			fail("entity %q: to-many relationship %q needs a to-one reverse", e.Name, rel.Name)
			return
		}
		if rev.ToMany || rev.Flattened() {
			fail("entity %q: reverse of to-many %q must be a to-one", e.Name, rel.Name)
			return
		}
		if !mirrored(rel.Joins, rev.Joins) {
			fail("entity %q: joins of %q do not mirror reverse %q.%q", e.Name, rel.Name, target.Name, rev.Name)
		}
	default:
		if len(rel.Joins) == 0 {
			fail("entity %q: to-one relationship %q has no joins", e.Name, rel.Name)
			return
		}
		targetPK := pkColumnSet(target)
		if len(rel.Joins) != len(targetPK) {
			fail("entity %q: to-one relationship %q must join every key column of %q", e.Name, rel.Name, target.Name)
		}
		for _, j := range rel.Joins {
			if !targetPK[j.Target] {
				fail("entity %q: to-one relationship %q joins non-key column %q of %q", e.Name, rel.Name, j.Target, target.Name)
			}
		}
	}
}

func (r *Resolver) validateJoinTable(e, target *domain.Entity, rel, rev *domain.Relationship, fail func(string, ...any)) {
	jt := rel.JoinTable
	if !rel.ToMany {
		fail("entity %q: flattened relationship %q must be to-many", e.Name, rel.Name)
	}
	if jt.Name == "" {
		fail("entity %q: relationship %q has a join table without a name", e.Name, rel.Name)
		return
	}
	if _, ok := r.tableOwner[jt.Name]; ok {
		fail("entity %q: join table %q of %q is also an entity table", e.Name, jt.Name, rel.Name)
	}
	srcPK, dstPK := pkColumnSet(e), pkColumnSet(target)
	if len(jt.SourceJoins) != len(srcPK) || len(jt.TargetJoins) != len(dstPK) {
		fail("entity %q: join table %q must cover both primary keys", e.Name, jt.Name)
	}
	for _, j := range jt.SourceJoins {
		if !srcPK[j.Source] {
			fail("entity %q: join table %q references non-key column %q", e.Name, jt.Name, j.Source)
		}
	}
	for _, j := range jt.TargetJoins {
		if !dstPK[j.Target] {
			fail("entity %q: join table %q references non-key column %q of %q", e.Name, jt.Name, j.Target, target.Name)
		}
	}
	if existing, ok := r.joinTables[jt.Name]; ok {
		if rev == nil || rev.JoinTable == nil || rev.JoinTable.Name != jt.Name {
			fail("join table %q is used by unrelated relationships", jt.Name)
		} else if !mirrored(existing.SourceJoins, jt.TargetJoins) || !mirrored(existing.TargetJoins, jt.SourceJoins) {
			fail("join table %q: relationship %q does not mirror its reverse", jt.Name, rel.Name)
		}
		return
	}
	r.joinTables[jt.Name] = jt
}

func pkColumnSet(e *domain.Entity) map[string]bool {
	out := make(map[string]bool)
	for _, a := range e.PrimaryKey() {
		out[a.Column] = true
	}
	return out
}

// mirrored reports whether b is a with source and target swapped.
func mirrored(a, b []domain.Join) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for _, ja := range a {
		found := false
		for _, jb := range b {
			if ja.Source == jb.Target && ja.Target == jb.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
