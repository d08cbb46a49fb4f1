package flush

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"graphsync/internal/metadata"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

// Option configures an Action.
type Option func(*Action)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Action) {
		if log != nil {
			a.log = log.Named("flush")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(a *Action) { a.metrics = observability.OrNop(m) }
}

// Action flushes requests against data nodes. It is stateless and safe for
// concurrent use.
type Action struct {
	resolver *metadata.Resolver
	log      *zap.Logger
	metrics  observability.MetricsRecorder
}

// New constructs an Action for the entities of resolver.
func New(resolver *metadata.Resolver, opts ...Option) *Action {
	a := &Action{resolver: resolver, log: zap.NewNop(), metrics: observability.Nop{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes req in one transaction of node: inserts parent tables first,
// then updates, then deletes child tables first. An empty request performs no
// I/O. On failure the transaction is rolled back and nothing of req is
// considered applied.
func (a *Action) Run(ctx context.Context, node domain.DataNode, req Request) (_ Result, err error) {
	if req.Empty() {
		return Result{}, nil
	}
	done := observability.Track(ctx, a.metrics, observability.OpFlush)
	defer func() { done(err) }()

	tx, err := node.Begin(ctx)
	if err != nil {
		return Result{}, commitError(err)
	}
	f := newFlusher(a, tx, req)
	if err := f.run(ctx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.log.Warn("rollback after failed flush", zap.Error(rbErr))
		}
		return Result{}, commitError(err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, commitError(err)
	}
	a.log.Info("flushed",
		zap.String("node", node.Name()),
		zap.Int("statements", f.res.Statements),
		zap.Int("snapshots", len(f.res.Snapshots)),
		zap.Int("deleted", len(f.res.Deleted)),
		zap.Int("id_changes", len(f.res.IDChanges)))
	return f.res, nil
}

// commitError keeps distinguished errors as they are and wraps everything
// else in domain.ErrCommit after unwrapping one level.
func commitError(err error) error {
	var lock *domain.OptimisticLockError
	switch {
	case errors.As(err, &lock):
		return lock
	case domain.ErrProgrammer.Has(err), domain.ErrMapping.Has(err), domain.ErrCommit.Has(err):
		return err
	}
	if cause := errors.Unwrap(err); cause != nil {
		err = cause
	}
	return domain.ErrCommit.Wrap(err)
}

type entityWork struct {
	entity  *domain.Entity
	inserts []*ObjectRow
	updates []*ObjectRow
	deletes []*ObjectRow
}

type flusher struct {
	a        *Action
	tx       domain.NodeTx
	objects  []*ObjectRow
	joins    []JoinRow
	byEntity map[string]*entityWork
	ids      map[domain.ObjectID]domain.ObjectID
	rows     map[*ObjectRow]map[string]secondaryRow
	res      Result
}

// secondaryRow is the state of an object's row in one secondary table.
type secondaryRow int

const (
	rowAbsent secondaryRow = iota
	rowPresent
	rowInserted
)

func newFlusher(a *Action, tx domain.NodeTx, req Request) *flusher {
	f := &flusher{
		a:        a,
		tx:       tx,
		joins:    req.Joins,
		byEntity: make(map[string]*entityWork),
		ids:      make(map[domain.ObjectID]domain.ObjectID),
		rows:     make(map[*ObjectRow]map[string]secondaryRow),
	}
	for i := range req.Objects {
		o := &req.Objects[i]
		f.objects = append(f.objects, o)
		w := f.byEntity[o.Entity.Name]
		if w == nil {
			w = &entityWork{entity: o.Entity}
			f.byEntity[o.Entity.Name] = w
		}
		switch o.Op {
		case Insert:
			w.inserts = append(w.inserts, o)
		case Update:
			w.updates = append(w.updates, o)
		case Delete:
			w.deletes = append(w.deletes, o)
		}
	}
	return f
}

func (f *flusher) run(ctx context.Context) error {
	tables := f.a.resolver.SortTables()
	for _, t := range tables {
		if err := f.insertTable(ctx, t); err != nil {
			return err
		}
	}
	for _, t := range tables {
		if err := f.updateTable(ctx, t); err != nil {
			return err
		}
	}
	for i := len(tables) - 1; i >= 0; i-- {
		if err := f.deleteTable(ctx, tables[i]); err != nil {
			return err
		}
	}
	return f.snapshots()
}

func (f *flusher) resolve(id domain.ObjectID) domain.ObjectID {
	if next, ok := f.ids[id]; ok {
		return next
	}
	return id
}

func (f *flusher) executed(op Operation, table string, rows int) {
	f.res.Statements++
	f.a.log.Debug("batch", zap.Stringer("op", op), zap.String("table", table), zap.Int("rows", rows))
}

// work returns the dirty objects of the entity owning table and, when table
// is one of its secondary tables, that table.
func (f *flusher) work(table string) (*entityWork, *domain.SecondaryTable) {
	e, ok := f.a.resolver.EntityForTable(table)
	if !ok {
		return nil, nil
	}
	w := f.byEntity[e.Name]
	if w == nil || e.Table == table {
		return w, nil
	}
	st, _ := e.SecondaryTable(table)
	return w, st
}

func (f *flusher) insertTable(ctx context.Context, table string) error {
	if _, ok := f.a.resolver.JoinTable(table); ok {
		return f.joinTable(ctx, table, Insert)
	}
	w, st := f.work(table)
	switch {
	case w == nil:
		return nil
	case st == nil:
		return f.insertPrimary(ctx, w)
	default:
		return f.insertSecondary(ctx, w, st)
	}
}

func (f *flusher) updateTable(ctx context.Context, table string) error {
	w, st := f.work(table)
	switch {
	case w == nil || len(w.updates) == 0:
		return nil
	case st == nil:
		return f.updatePrimary(ctx, w)
	default:
		return f.updateSecondary(ctx, w, st)
	}
}

func (f *flusher) deleteTable(ctx context.Context, table string) error {
	if _, ok := f.a.resolver.JoinTable(table); ok {
		return f.joinTable(ctx, table, Delete)
	}
	w, st := f.work(table)
	switch {
	case w == nil || len(w.deletes) == 0:
		return nil
	case st == nil:
		return f.deletePrimary(ctx, w)
	default:
		return f.deleteSecondary(ctx, w, st)
	}
}

// assignKey gives a temporary identity its permanent identity before insert.
// Explicitly set key attributes win over the entity's strategy;
// DB_GENERATED keys are read back after the insert instead.
func (f *flusher) assignKey(ctx context.Context, o *ObjectRow) error {
	if !o.ID.IsTemporary() {
		return nil
	}
	e := o.Entity
	if id, ok := e.IDFromValues(o.Values); ok {
		f.ids[o.ID] = id
		return nil
	}
	switch e.PKStrategy {
	case domain.PKDBGenerated:
		return nil
	case domain.PKTable, domain.PKSequence:
		pk := e.PrimaryKey()
		if len(pk) != 1 {
			return domain.ErrMapping.New("entity %s: generated keys need exactly one key attribute", e.Name)
		}
		key, err := f.tx.NextPrimaryKey(ctx, e)
		if err != nil {
			return err
		}
		f.ids[o.ID] = domain.NewSingleKeyID(e.Name, pk[0].Column, key)
		return nil
	default:
		return domain.ErrProgrammer.New("%s: primary key is not set", o.ID)
	}
}

type insertBatch struct {
	table     string
	columns   []string
	generated []string
	rows      [][]any
	objects   []*ObjectRow
}

func (b *insertBatch) accepts(cols, generated []string) bool {
	return len(b.rows) == 0 || (slices.Equal(b.columns, cols) && slices.Equal(b.generated, generated))
}

func (b *insertBatch) add(o *ObjectRow, cols, generated []string, vals []any) {
	b.columns, b.generated = cols, generated
	b.rows = append(b.rows, vals)
	b.objects = append(b.objects, o)
}

func (f *flusher) insertPrimary(ctx context.Context, w *entityWork) error {
	if len(w.inserts) == 0 {
		return nil
	}
	e := w.entity
	objs := selfOrder(e, w.inserts, func(o *ObjectRow) map[string]domain.ObjectID { return o.ToOne })
	for _, o := range objs {
		if err := f.assignKey(ctx, o); err != nil {
			return err
		}
	}
	batch := &insertBatch{table: e.Table}
	for _, o := range objs {
		cols, gen, vals, ok := f.primaryRow(o)
		if !ok || !batch.accepts(cols, gen) {
			// A pending row may be the one o references.
			if err := f.execInsert(ctx, batch); err != nil {
				return err
			}
			if !ok {
				if cols, gen, vals, ok = f.primaryRow(o); !ok {
					return domain.ErrCommit.New("%s references an object that has no key", o.ID)
				}
			}
		}
		batch.add(o, cols, gen, vals)
	}
	return f.execInsert(ctx, batch)
}

// primaryRow builds the primary table row of o. ok is false while a to-one
// target has no permanent identity yet.
func (f *flusher) primaryRow(o *ObjectRow) (cols, generated []string, vals []any, ok bool) {
	e := o.Entity
	id := f.resolve(o.ID)
	pk := id.PK()
	values := make(map[string]any)
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if e.TableOf(a) != e.Table {
			continue
		}
		if a.PrimaryKey {
			if id.IsTemporary() {
				generated = append(generated, a.Column)
			} else {
				values[a.Column] = pk[a.Column]
			}
			continue
		}
		values[a.Column] = o.Values[a.Name]
	}
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if rel.ToMany || rel.Flattened() {
			continue
		}
		fk, ok := metadata.FKValues(rel, f.resolve(o.ToOne[rel.Name]))
		if !ok {
			return nil, nil, nil, false
		}
		for col, v := range fk {
			values[col] = v
		}
	}
	cols = metadata.SortedKeys(values)
	vals = make([]any, len(cols))
	for i, col := range cols {
		vals[i] = values[col]
	}
	return cols, generated, vals, true
}

func (f *flusher) execInsert(ctx context.Context, b *insertBatch) error {
	if len(b.rows) == 0 {
		return nil
	}
	objects, generated := b.objects, b.generated
	res, err := f.tx.Insert(ctx, domain.InsertBatch{Table: b.table, Columns: b.columns, Rows: b.rows, Generated: generated})
	b.rows, b.objects, b.columns, b.generated = nil, nil, nil, nil
	if err != nil {
		return err
	}
	f.executed(Insert, b.table, len(objects))
	if len(generated) == 0 {
		return nil
	}
	if len(res.Generated) != len(objects) {
		return domain.ErrCommit.New("insert into %s returned %d generated keys for %d rows", b.table, len(res.Generated), len(objects))
	}
	for i, o := range objects {
		pk := make(map[string]any, len(generated))
		for _, col := range generated {
			v := res.Generated[i][col]
			if v == nil {
				return domain.ErrCommit.New("insert into %s returned no value for %s", b.table, col)
			}
			pk[col] = v
		}
		f.ids[o.ID] = domain.NewObjectID(o.Entity.Name, pk)
	}
	return nil
}

func (f *flusher) insertSecondary(ctx context.Context, w *entityWork, st *domain.SecondaryTable) error {
	e := w.entity
	var candidates []*ObjectRow
	for _, o := range w.inserts {
		if hasTableValues(e, st, o.Values) {
			candidates = append(candidates, o)
		}
	}
	if err := f.secondaryRows(ctx, w, st); err != nil {
		return err
	}
	for _, o := range w.updates {
		if f.rows[o][st.Name] == rowAbsent && hasTableValues(e, st, o.Values) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	cols := metadata.SecondaryColumns(e, st)
	rows := make([][]any, 0, len(candidates))
	for _, o := range candidates {
		pk := f.resolve(o.ID).PK()
		row := make([]any, 0, len(cols))
		for _, j := range st.Joins {
			row = append(row, pk[j.Source])
		}
		for i := range e.Attributes {
			if a := &e.Attributes[i]; e.TableOf(a) == st.Name {
				row = append(row, o.Values[a.Name])
			}
		}
		rows = append(rows, row)
	}
	if _, err := f.tx.Insert(ctx, domain.InsertBatch{Table: st.Name, Columns: cols, Rows: rows}); err != nil {
		return err
	}
	f.executed(Insert, st.Name, len(rows))
	for _, o := range candidates {
		f.markRow(o, st.Name, rowInserted)
	}
	return nil
}

func (f *flusher) markRow(o *ObjectRow, table string, state secondaryRow) {
	if f.rows[o] == nil {
		f.rows[o] = make(map[string]secondaryRow)
	}
	f.rows[o][table] = state
}

// secondaryTables lists the secondary tables holding a row for o after the
// flush.
func (f *flusher) secondaryTables(o *ObjectRow) map[string]bool {
	out := make(map[string]bool, len(f.rows[o]))
	for table, state := range f.rows[o] {
		out[table] = state != rowAbsent
	}
	return out
}

// secondaryRows records which updated objects already have a row in st. The
// snapshot answers for objects that carry one; the rest are looked up.
func (f *flusher) secondaryRows(ctx context.Context, w *entityWork, st *domain.SecondaryTable) error {
	var unknown []*ObjectRow
	for _, o := range w.updates {
		switch {
		case !o.Snapshot.IsZero():
			if metadata.SecondaryRowExists(o.Snapshot, st) {
				f.markRow(o, st.Name, rowPresent)
			}
		case hasTableValues(w.entity, st, o.Values):
			unknown = append(unknown, o)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	ids := make([]domain.ObjectID, len(unknown))
	for i, o := range unknown {
		ids[i] = f.resolve(o.ID)
	}
	found, err := f.tx.Select(ctx, metadata.SecondaryQuery(w.entity, st, ids))
	if err != nil {
		return err
	}
	existing := make(map[domain.ObjectID]bool, len(found))
	for _, row := range found {
		if id, ok := metadata.SecondaryRowID(w.entity, st, row); ok {
			existing[id] = true
		}
	}
	for i, o := range unknown {
		if existing[ids[i]] {
			f.markRow(o, st.Name, rowPresent)
		}
	}
	return nil
}

// hasTableValues reports whether values hold a non-nil attribute stored in st.
func hasTableValues(e *domain.Entity, st *domain.SecondaryTable, values map[string]any) bool {
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if e.TableOf(a) == st.Name && values[a.Name] != nil {
			return true
		}
	}
	return false
}

// shapeGroups collects rows by statement shape in first-seen order.
type shapeGroups struct {
	index  map[string]*shapeGroup
	groups []*shapeGroup
}

type shapeGroup struct {
	set     []string
	where   []string
	null    []string
	rows    []domain.UpdateRow
	objects []*ObjectRow
}

func (s *shapeGroups) add(o *ObjectRow, set, where map[string]any) {
	setCols := metadata.SortedKeys(set)
	var whereCols, nullCols []string
	for _, col := range metadata.SortedKeys(where) {
		if where[col] == nil {
			nullCols = append(nullCols, col)
		} else {
			whereCols = append(whereCols, col)
		}
	}
	key := strings.Join(setCols, ",") + "|" + strings.Join(whereCols, ",") + "|" + strings.Join(nullCols, ",")
	if s.index == nil {
		s.index = make(map[string]*shapeGroup)
	}
	g, ok := s.index[key]
	if !ok {
		g = &shapeGroup{set: setCols, where: whereCols, null: nullCols}
		s.index[key] = g
		s.groups = append(s.groups, g)
	}
	row := domain.UpdateRow{Set: make([]any, len(setCols)), Where: make([]any, len(whereCols))}
	for i, col := range setCols {
		row.Set[i] = set[col]
	}
	for i, col := range whereCols {
		row.Where[i] = where[col]
	}
	g.rows = append(g.rows, row)
	g.objects = append(g.objects, o)
}

// qualifier returns the key columns of o plus, for optimistically locked
// entities, the baseline values of its locking attributes and relationships.
func (f *flusher) qualifier(o *ObjectRow) map[string]any {
	e := o.Entity
	out := make(map[string]any)
	for col, v := range f.resolve(o.ID).PK() {
		out[col] = v
	}
	if !e.OptimisticLocking() {
		return out
	}
	for _, a := range metadata.LockingAttributes(e) {
		out[a.Column] = o.Baseline[a.Name]
	}
	for _, rel := range metadata.LockingRelationships(e) {
		fk, ok := metadata.FKValues(rel, o.BaselineToOne[rel.Name])
		if !ok {
			continue
		}
		for col, v := range fk {
			out[col] = v
		}
	}
	return out
}

func (f *flusher) updatePrimary(ctx context.Context, w *entityWork) error {
	e := w.entity
	var groups shapeGroups
	for _, o := range w.updates {
		set := make(map[string]any)
		for i := range e.Attributes {
			a := &e.Attributes[i]
			if a.PrimaryKey || e.TableOf(a) != e.Table {
				continue
			}
			if !domain.ValuesEqual(o.Values[a.Name], o.Baseline[a.Name]) {
				set[a.Column] = o.Values[a.Name]
			}
		}
		for i := range e.Relationships {
			rel := &e.Relationships[i]
			if rel.ToMany || rel.Flattened() {
				continue
			}
			current := f.resolve(o.ToOne[rel.Name])
			if current == f.resolve(o.BaselineToOne[rel.Name]) {
				continue
			}
			fk, ok := metadata.FKValues(rel, current)
			if !ok {
				return domain.ErrCommit.New("%s: %s references an object that has no key", o.ID, rel.Name)
			}
			for col, v := range fk {
				set[col] = v
			}
		}
		if len(set) == 0 {
			continue
		}
		groups.add(o, set, f.qualifier(o))
	}
	for _, g := range groups.groups {
		res, err := f.tx.Update(ctx, domain.UpdateBatch{Table: e.Table, Set: g.set, Where: g.where, NullWhere: g.null, Rows: g.rows})
		if err != nil {
			return err
		}
		f.executed(Update, e.Table, len(g.rows))
		if err := checkAffected(e, e.Table, "update", g.objects, res.Affected); err != nil {
			return err
		}
	}
	return nil
}

func (f *flusher) updateSecondary(ctx context.Context, w *entityWork, st *domain.SecondaryTable) error {
	e := w.entity
	var groups shapeGroups
	for _, o := range w.updates {
		if f.rows[o][st.Name] != rowPresent {
			continue
		}
		set := make(map[string]any)
		for i := range e.Attributes {
			a := &e.Attributes[i]
			if e.TableOf(a) == st.Name && !domain.ValuesEqual(o.Values[a.Name], o.Baseline[a.Name]) {
				set[a.Column] = o.Values[a.Name]
			}
		}
		if len(set) > 0 {
			groups.add(o, set, secondaryKey(st, f.resolve(o.ID)))
		}
	}
	for _, g := range groups.groups {
		if _, err := f.tx.Update(ctx, domain.UpdateBatch{Table: st.Name, Set: g.set, Where: g.where, NullWhere: g.null, Rows: g.rows}); err != nil {
			return err
		}
		f.executed(Update, st.Name, len(g.rows))
	}
	return nil
}

func secondaryKey(st *domain.SecondaryTable, id domain.ObjectID) map[string]any {
	pk := id.PK()
	out := make(map[string]any, len(st.Joins))
	for _, j := range st.Joins {
		out[j.Target] = pk[j.Source]
	}
	return out
}

func (f *flusher) deletePrimary(ctx context.Context, w *entityWork) error {
	e := w.entity
	objs := selfOrder(e, w.deletes, func(o *ObjectRow) map[string]domain.ObjectID { return o.BaselineToOne })
	var groups shapeGroups
	for i := len(objs) - 1; i >= 0; i-- {
		groups.add(objs[i], nil, f.qualifier(objs[i]))
	}
	for _, g := range groups.groups {
		rows := make([][]any, len(g.rows))
		for i, r := range g.rows {
			rows[i] = r.Where
		}
		res, err := f.tx.Delete(ctx, domain.DeleteBatch{Table: e.Table, Where: g.where, NullWhere: g.null, Rows: rows})
		if err != nil {
			return err
		}
		f.executed(Delete, e.Table, len(rows))
		if err := checkAffected(e, e.Table, "delete", g.objects, res.Affected); err != nil {
			return err
		}
		for _, o := range g.objects {
			f.res.Deleted = append(f.res.Deleted, o.ID)
		}
	}
	return nil
}

func (f *flusher) deleteSecondary(ctx context.Context, w *entityWork, st *domain.SecondaryTable) error {
	var groups shapeGroups
	for _, o := range w.deletes {
		groups.add(o, nil, secondaryKey(st, o.ID))
	}
	for _, g := range groups.groups {
		rows := make([][]any, len(g.rows))
		for i, r := range g.rows {
			rows[i] = r.Where
		}
		if _, err := f.tx.Delete(ctx, domain.DeleteBatch{Table: st.Name, Where: g.where, NullWhere: g.null, Rows: rows}); err != nil {
			return err
		}
		f.executed(Delete, st.Name, len(rows))
	}
	return nil
}

// checkAffected reports an optimistic lock failure for the first row of a
// locked entity that matched nothing.
func checkAffected(e *domain.Entity, table, op string, objects []*ObjectRow, affected []int64) error {
	if !e.OptimisticLocking() {
		return nil
	}
	for i, o := range objects {
		if i < len(affected) && affected[i] == 0 {
			return &domain.OptimisticLockError{Entity: e.Name, ID: o.ID, Table: table, Op: op}
		}
	}
	return nil
}

func (f *flusher) joinTable(ctx context.Context, table string, op Operation) error {
	var cols []string
	var rows [][]any
	seen := make(map[string]bool)
	for _, j := range f.joins {
		if j.Op != op || j.Relationship.JoinTable == nil || j.Relationship.JoinTable.Name != table {
			continue
		}
		values, ok := metadata.JoinRow(j.Relationship, f.resolve(j.Source), f.resolve(j.Target))
		if !ok {
			return domain.ErrCommit.New("join row %s -> %s has no key", j.Source, j.Target)
		}
		if cols == nil {
			cols = metadata.SortedKeys(values)
		}
		row := make([]any, len(cols))
		for i, col := range cols {
			row[i] = values[col]
		}
		key := fmt.Sprintf("%#v", row)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	var err error
	if op == Insert {
		_, err = f.tx.Insert(ctx, domain.InsertBatch{Table: table, Columns: cols, Rows: rows})
	} else {
		_, err = f.tx.Delete(ctx, domain.DeleteBatch{Table: table, Where: cols, Rows: rows})
	}
	if err != nil {
		return err
	}
	f.executed(op, table, len(rows))
	return nil
}

// snapshots derives the post-commit snapshot of every inserted or updated
// object from its pending values and resolved targets.
func (f *flusher) snapshots() error {
	if len(f.ids) > 0 {
		f.res.IDChanges = make(map[domain.ObjectID]domain.ObjectID, len(f.ids))
		for k, v := range f.ids {
			f.res.IDChanges[k] = v
		}
	}
	for _, o := range f.objects {
		if o.Op == Delete {
			continue
		}
		id := f.resolve(o.ID)
		toOne := make(map[string]domain.ObjectID, len(o.ToOne))
		for name, target := range o.ToOne {
			toOne[name] = f.resolve(target)
		}
		cols, ok := metadata.SnapshotColumns(o.Entity, id, o.Values, toOne, f.secondaryTables(o))
		if !ok {
			return domain.ErrCommit.New("%s: cannot build snapshot, a target has no key", id)
		}
		snap := domain.NewSnapshot(cols)
		if !o.Snapshot.IsZero() {
			snap = snap.WithReplacesVersion(o.Snapshot.Version())
		}
		if f.res.Snapshots == nil {
			f.res.Snapshots = make(map[domain.ObjectID]domain.Snapshot)
		}
		f.res.Snapshots[id] = snap
	}
	return nil
}

// selfOrder sorts objects of a self-referencing entity so that every object
// comes after the objects it references through refs. Reference cycles keep
// the given order.
func selfOrder(e *domain.Entity, objs []*ObjectRow, refs func(*ObjectRow) map[string]domain.ObjectID) []*ObjectRow {
	var self []string
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if !rel.ToMany && !rel.Flattened() && rel.Target == e.Name {
			self = append(self, rel.Name)
		}
	}
	if len(self) == 0 || len(objs) < 2 {
		return objs
	}
	index := make(map[domain.ObjectID]*ObjectRow, len(objs))
	for _, o := range objs {
		index[o.ID] = o
	}
	const (
		visiting = 1
		visited  = 2
	)
	state := make(map[*ObjectRow]int, len(objs))
	out := make([]*ObjectRow, 0, len(objs))
	var visit func(o *ObjectRow)
	visit = func(o *ObjectRow) {
		if state[o] != 0 {
			return
		}
		state[o] = visiting
		targets := refs(o)
		for _, name := range self {
			if t, ok := index[targets[name]]; ok && t != o {
				visit(t)
			}
		}
		state[o] = visited
		out = append(out, o)
	}
	for _, o := range objs {
		visit(o)
	}
	return out
}
