// Package memory provides an in-process DataNode used by tests and ephemeral
// environments. Transactions operate on a cloned copy of the tables and swap
// it in on commit.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"graphsync/internal/metadata"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

// Error is the error class of the memory node.
var Error = errs.Class("memory node")

// FirstKey is the first value handed out by NextPrimaryKey and generated
// key columns.
const FirstKey = 200

// Compile-time contract assertions.
var (
	_ domain.DataNode = (*Node)(nil)
	_ domain.NodeTx   = (*tx)(nil)
)

// Statement is one executed statement as seen by the node.
type Statement struct {
	Kind  string
	Table string
	Rows  int
}

// Statement kinds.
const (
	KindSelect = "select"
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
)

type state struct {
	version int64
	tables  map[string][]domain.Row
}

func (s state) clone() state {
	cp := state{version: s.version, tables: make(map[string][]domain.Row, len(s.tables))}
	for name, rows := range s.tables {
		out := make([]domain.Row, len(rows))
		for i, row := range rows {
			out[i] = cloneRow(row)
		}
		cp.tables[name] = out
	}
	return cp
}

func cloneRow(row domain.Row) domain.Row {
	out := make(domain.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(n *Node) {
		if log != nil {
			n.log = log.Named("memory")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(n *Node) { n.metrics = observability.OrNop(m) }
}

// WithSchema enables primary key uniqueness and foreign key checks derived
// from the mapping model.
func WithSchema(r *metadata.Resolver) Option {
	return func(n *Node) { n.schema = newSchema(r) }
}

// WithFailure installs a hook consulted before every statement; a non-nil
// result fails the statement.
func WithFailure(fn func(Statement) error) Option {
	return func(n *Node) { n.failure = fn }
}

// Node is an in-memory DataNode.
type Node struct {
	name    string
	log     *zap.Logger
	metrics observability.MetricsRecorder
	schema  *schema
	failure func(Statement) error

	mu       sync.RWMutex
	state    state
	counters map[string]int64

	logMu      sync.Mutex
	statements []Statement
	commits    int
	rollbacks  int
}

// New constructs an empty node.
func New(name string, opts ...Option) *Node {
	n := &Node{
		name:     name,
		log:      zap.NewNop(),
		metrics:  observability.Nop{},
		state:    state{tables: make(map[string][]domain.Row)},
		counters: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Close is a no-op.
func (n *Node) Close() error { return nil }

// Begin starts a transaction over a private copy of the tables.
func (n *Node) Begin(ctx context.Context) (domain.NodeTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return &tx{node: n, state: n.state.clone(), base: n.state.version}, nil
}

// Seed inserts rows directly into a table outside any transaction.
func (n *Node) Seed(table string, rows ...domain.Row) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, row := range rows {
		cp := make(domain.Row, len(row))
		for k, v := range row {
			cp[k] = domain.NormalizeValue(v)
		}
		n.state.tables[table] = append(n.state.tables[table], cp)
	}
	n.state.version++
}

// Rows returns a copy of the committed rows of a table.
func (n *Node) Rows(table string) []domain.Row {
	n.mu.RLock()
	defer n.mu.RUnlock()
	rows := n.state.tables[table]
	out := make([]domain.Row, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}
	return out
}

// Statements returns the statements executed so far, committed or not.
func (n *Node) Statements() []Statement {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	return append([]Statement(nil), n.statements...)
}

// WriteCount returns the number of insert, update and delete statements
// executed so far.
func (n *Node) WriteCount() int {
	count := 0
	for _, s := range n.Statements() {
		if s.Kind != KindSelect {
			count++
		}
	}
	return count
}

// ResetStatements clears the statement log.
func (n *Node) ResetStatements() {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	n.statements = nil
}

// Commits returns the number of committed write transactions.
func (n *Node) Commits() int {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	return n.commits
}

// Rollbacks returns the number of rolled back transactions.
func (n *Node) Rollbacks() int {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	return n.rollbacks
}

func (n *Node) record(s Statement) error {
	if n.failure != nil {
		if err := n.failure(s); err != nil {
			return err
		}
	}
	n.logMu.Lock()
	n.statements = append(n.statements, s)
	n.logMu.Unlock()
	n.metrics.Add(observability.Statements, 1)
	n.log.Debug("statement", zap.String("kind", s.Kind), zap.String("table", s.Table), zap.Int("rows", s.Rows))
	return nil
}

func (n *Node) nextKey(name string) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.counters[name]
	if !ok {
		v = FirstKey
	}
	n.counters[name] = v + 1
	return v
}

type tx struct {
	node  *Node
	state state
	base  int64
	wrote bool
	done  bool
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return Error.New("transaction already finished")
	}
	return ctx.Err()
}

func (t *tx) Select(ctx context.Context, q domain.SelectQuery) ([]domain.Row, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	rows, err := selectRows(t.state.tables[q.Table], q)
	if err != nil {
		return nil, err
	}
	if err := t.node.record(Statement{Kind: KindSelect, Table: q.Table, Rows: len(rows)}); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *tx) Iterate(ctx context.Context, q domain.SelectQuery) (domain.RowIterator, error) {
	rows, err := t.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows, pos: -1}, nil
}

func (t *tx) Insert(ctx context.Context, b domain.InsertBatch) (domain.BatchResult, error) {
	if err := t.check(ctx); err != nil {
		return domain.BatchResult{}, err
	}
	if err := t.node.record(Statement{Kind: KindInsert, Table: b.Table, Rows: len(b.Rows)}); err != nil {
		return domain.BatchResult{}, err
	}
	res := domain.BatchResult{Affected: make([]int64, 0, len(b.Rows))}
	for _, values := range b.Rows {
		if len(values) != len(b.Columns) {
			return domain.BatchResult{}, Error.New("insert into %s: %d values for %d columns", b.Table, len(values), len(b.Columns))
		}
		row := make(domain.Row, len(b.Columns)+len(b.Generated))
		for i, col := range b.Columns {
			row[col] = domain.NormalizeValue(values[i])
		}
		var generated domain.Row
		if len(b.Generated) > 0 {
			generated = make(domain.Row, len(b.Generated))
			for _, col := range b.Generated {
				if row[col] == nil {
					row[col] = t.node.nextKey(b.Table + "." + col)
				}
				generated[col] = row[col]
			}
		}
		if err := t.node.schema.checkInsert(t.state.tables, b.Table, row); err != nil {
			return domain.BatchResult{}, err
		}
		t.state.tables[b.Table] = append(t.state.tables[b.Table], row)
		res.Affected = append(res.Affected, 1)
		if generated != nil {
			res.Generated = append(res.Generated, generated)
		}
	}
	t.node.metrics.Add(observability.RowsInserted, int64(len(b.Rows)))
	t.wrote = true
	return res, nil
}

func (t *tx) Update(ctx context.Context, b domain.UpdateBatch) (domain.BatchResult, error) {
	if err := t.check(ctx); err != nil {
		return domain.BatchResult{}, err
	}
	if err := t.node.record(Statement{Kind: KindUpdate, Table: b.Table, Rows: len(b.Rows)}); err != nil {
		return domain.BatchResult{}, err
	}
	res := domain.BatchResult{Affected: make([]int64, 0, len(b.Rows))}
	rows := t.state.tables[b.Table]
	var total int64
	for _, u := range b.Rows {
		if len(u.Set) != len(b.Set) || len(u.Where) != len(b.Where) {
			return domain.BatchResult{}, Error.New("update %s: row shape does not match batch", b.Table)
		}
		var affected int64
		for i, row := range rows {
			if !qualifies(row, b.Where, u.Where, b.NullWhere) {
				continue
			}
			updated := cloneRow(row)
			for j, col := range b.Set {
				updated[col] = domain.NormalizeValue(u.Set[j])
			}
			if err := t.node.schema.checkUpdate(t.state.tables, b.Table, row, updated); err != nil {
				return domain.BatchResult{}, err
			}
			rows[i] = updated
			affected++
		}
		res.Affected = append(res.Affected, affected)
		total += affected
	}
	t.node.metrics.Add(observability.RowsUpdated, total)
	t.wrote = true
	return res, nil
}

func (t *tx) Delete(ctx context.Context, b domain.DeleteBatch) (domain.BatchResult, error) {
	if err := t.check(ctx); err != nil {
		return domain.BatchResult{}, err
	}
	if err := t.node.record(Statement{Kind: KindDelete, Table: b.Table, Rows: len(b.Rows)}); err != nil {
		return domain.BatchResult{}, err
	}
	res := domain.BatchResult{Affected: make([]int64, 0, len(b.Rows))}
	var total int64
	for _, where := range b.Rows {
		if len(where) != len(b.Where) {
			return domain.BatchResult{}, Error.New("delete from %s: row shape does not match batch", b.Table)
		}
		rows := t.state.tables[b.Table]
		kept := rows[:0:0]
		var affected int64
		for _, row := range rows {
			if qualifies(row, b.Where, where, b.NullWhere) {
				affected++
				if err := t.node.schema.checkDelete(t.state.tables, b.Table, row); err != nil {
					return domain.BatchResult{}, err
				}
				continue
			}
			kept = append(kept, row)
		}
		t.state.tables[b.Table] = kept
		res.Affected = append(res.Affected, affected)
		total += affected
	}
	t.node.metrics.Add(observability.RowsDeleted, total)
	t.wrote = true
	return res, nil
}

func (t *tx) NextPrimaryKey(ctx context.Context, e *domain.Entity) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	switch e.PKStrategy {
	case domain.PKTable:
		return t.node.nextKey(metadata.AutoPKTable + "." + e.Table), nil
	case domain.PKSequence:
		return t.node.nextKey("sequence." + e.Sequence), nil
	default:
		return 0, Error.New("entity %s does not reserve keys (strategy %s)", e.Name, e.PKStrategy)
	}
}

// Commit swaps the transaction's tables in. It fails when another write
// transaction committed since Begin.
func (t *tx) Commit() error {
	if t.done {
		return Error.New("transaction already finished")
	}
	t.done = true
	if !t.wrote {
		return nil
	}
	n := t.node
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.version != t.base {
		return Error.New("concurrent commit conflict on %s", n.name)
	}
	t.state.version = n.state.version + 1
	n.state = t.state
	n.logMu.Lock()
	n.commits++
	n.logMu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	n := t.node
	n.logMu.Lock()
	n.rollbacks++
	n.logMu.Unlock()
	return nil
}

func qualifies(row domain.Row, cols []string, values []any, nullCols []string) bool {
	for i, col := range cols {
		v, ok := row[col]
		if !ok || v == nil || !domain.ValuesEqual(v, domain.NormalizeValue(values[i])) {
			return false
		}
	}
	for _, col := range nullCols {
		if row[col] != nil {
			return false
		}
	}
	return true
}

type iterator struct {
	rows   []domain.Row
	pos    int
	closed bool
}

func (it *iterator) Next() bool {
	if it.closed || it.pos+1 >= len(it.rows) {
		return false
	}
	it.pos++
	return true
}

func (it *iterator) Row() domain.Row {
	if it.pos < 0 || it.pos >= len(it.rows) {
		return nil
	}
	return it.rows[it.pos]
}

func (it *iterator) Err() error { return nil }

func (it *iterator) Close() error {
	it.closed = true
	return nil
}

func (s Statement) String() string {
	return fmt.Sprintf("%s %s (%d)", s.Kind, s.Table, s.Rows)
}
