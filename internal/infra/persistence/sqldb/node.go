package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"graphsync/internal/metadata"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

// Error is the error class of the sql node.
var Error = errs.Class("sqldb")

// Compile-time contract assertions.
var (
	_ domain.DataNode = (*Node)(nil)
	_ domain.NodeTx   = (*tx)(nil)
)

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(n *Node) {
		if log != nil {
			n.log = log.Named("sqldb")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(n *Node) { n.metrics = observability.OrNop(m) }
}

// Node is a DataNode backed by a *sql.DB.
type Node struct {
	name    string
	db      *sql.DB
	dialect Dialect
	log     *zap.Logger
	metrics observability.MetricsRecorder
}

// New wraps db. The node owns db and closes it on Close.
func New(name string, db *sql.DB, d Dialect, opts ...Option) *Node {
	n := &Node{name: name, db: db, dialect: d, log: zap.NewNop(), metrics: observability.Nop{}}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// DB exposes the underlying database for integration testing hooks.
func (n *Node) DB() *sql.DB { return n.db }

// Dialect returns the node's dialect.
func (n *Node) Dialect() Dialect { return n.dialect }

// Close closes the database.
func (n *Node) Close() error { return n.db.Close() }

// Begin starts a database transaction.
func (n *Node) Begin(ctx context.Context) (domain.NodeTx, error) {
	sqlTx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("begin: %w", err))
	}
	return &tx{node: n, tx: sqlTx}, nil
}

// ApplyDDL creates every table and sequence of the model that does not exist
// yet, in one transaction.
func (n *Node) ApplyDDL(ctx context.Context, r *metadata.Resolver) error {
	stmts := r.GenerateDDL(n.dialect)
	if err := n.execAll(ctx, "ddl", stmts); err != nil {
		return err
	}
	n.log.Info("schema applied", zap.Int("statements", len(stmts)), zap.String("dialect", n.dialect.Name()))
	return nil
}

// execAll runs stmts in one transaction.
func (n *Node) execAll(ctx context.Context, what string, stmts []string) (retErr error) {
	sqlTx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(fmt.Errorf("begin %s: %w", what, err))
	}
	defer func() {
		if retErr != nil {
			_ = sqlTx.Rollback()
		}
	}()
	for _, stmt := range stmts {
		n.log.Debug(what, zap.String("sql", stmt))
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return Error.Wrap(fmt.Errorf("execute %s: %w", what, err))
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return Error.Wrap(fmt.Errorf("commit %s: %w", what, err))
	}
	return nil
}

type tx struct {
	node *Node
	tx   *sql.Tx
}

func (t *tx) statement(sqlText string, rows int) {
	t.node.metrics.Add(observability.Statements, 1)
	t.node.log.Debug("statement", zap.String("sql", sqlText), zap.Int("rows", rows))
}

func (t *tx) Select(ctx context.Context, q domain.SelectQuery) ([]domain.Row, error) {
	it, err := t.Iterate(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	var out []domain.Row
	for it.Next() {
		out = append(out, it.Row())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *tx) Iterate(ctx context.Context, q domain.SelectQuery) (domain.RowIterator, error) {
	sqlText, args, err := selectSQL(t.node.dialect, q)
	if err != nil {
		return nil, err
	}
	t.statement(sqlText, 0)
	rows, err := t.tx.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("select %s: %w", q.Table, err))
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, Error.Wrap(err)
	}
	return &iterator{rows: rows, cols: cols}, nil
}

func (t *tx) Insert(ctx context.Context, b domain.InsertBatch) (domain.BatchResult, error) {
	returning := t.node.dialect.SupportsReturning()
	sqlText := insertSQL(t.node.dialect, b, returning)
	t.statement(sqlText, len(b.Rows))
	stmt, err := t.tx.PrepareContext(ctx, sqlText)
	if err != nil {
		return domain.BatchResult{}, Error.Wrap(fmt.Errorf("prepare insert into %s: %w", b.Table, err))
	}
	defer func() { _ = stmt.Close() }()

	res := domain.BatchResult{Affected: make([]int64, 0, len(b.Rows))}
	for _, values := range b.Rows {
		if len(b.Generated) > 0 && returning {
			dest := make([]any, len(b.Generated))
			ptrs := make([]any, len(dest))
			for i := range dest {
				ptrs[i] = &dest[i]
			}
			if err := stmt.QueryRowContext(ctx, values...).Scan(ptrs...); err != nil {
				return domain.BatchResult{}, Error.Wrap(fmt.Errorf("insert into %s: %w", b.Table, err))
			}
			gen := make(domain.Row, len(dest))
			for i, col := range b.Generated {
				gen[col] = domain.NormalizeValue(dest[i])
			}
			res.Generated = append(res.Generated, gen)
			res.Affected = append(res.Affected, 1)
			continue
		}
		result, err := stmt.ExecContext(ctx, values...)
		if err != nil {
			return domain.BatchResult{}, Error.Wrap(fmt.Errorf("insert into %s: %w", b.Table, err))
		}
		if len(b.Generated) == 1 {
			id, err := result.LastInsertId()
			if err != nil {
				return domain.BatchResult{}, Error.Wrap(fmt.Errorf("insert into %s: read generated key: %w", b.Table, err))
			}
			res.Generated = append(res.Generated, domain.Row{b.Generated[0]: id})
		} else if len(b.Generated) > 1 {
			return domain.BatchResult{}, Error.New("insert into %s: %d generated columns need RETURNING", b.Table, len(b.Generated))
		}
		affected, _ := result.RowsAffected()
		res.Affected = append(res.Affected, affected)
	}
	t.node.metrics.Add(observability.RowsInserted, int64(len(b.Rows)))
	return res, nil
}

func (t *tx) Update(ctx context.Context, b domain.UpdateBatch) (domain.BatchResult, error) {
	sqlText := updateSQL(t.node.dialect, b)
	args := make([][]any, len(b.Rows))
	for i, row := range b.Rows {
		args[i] = append(append([]any(nil), row.Set...), row.Where...)
	}
	res, err := t.execBatch(ctx, sqlText, args)
	if err != nil {
		return domain.BatchResult{}, Error.Wrap(fmt.Errorf("update %s: %w", b.Table, err))
	}
	t.node.metrics.Add(observability.RowsUpdated, sum(res.Affected))
	return res, nil
}

func (t *tx) Delete(ctx context.Context, b domain.DeleteBatch) (domain.BatchResult, error) {
	sqlText := deleteSQL(t.node.dialect, b)
	res, err := t.execBatch(ctx, sqlText, b.Rows)
	if err != nil {
		return domain.BatchResult{}, Error.Wrap(fmt.Errorf("delete from %s: %w", b.Table, err))
	}
	t.node.metrics.Add(observability.RowsDeleted, sum(res.Affected))
	return res, nil
}

func (t *tx) execBatch(ctx context.Context, sqlText string, rows [][]any) (domain.BatchResult, error) {
	t.statement(sqlText, len(rows))
	stmt, err := t.tx.PrepareContext(ctx, sqlText)
	if err != nil {
		return domain.BatchResult{}, err
	}
	defer func() { _ = stmt.Close() }()
	res := domain.BatchResult{Affected: make([]int64, 0, len(rows))}
	for _, args := range rows {
		result, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return domain.BatchResult{}, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return domain.BatchResult{}, err
		}
		res.Affected = append(res.Affected, affected)
	}
	return res, nil
}

func (t *tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return Error.New("transaction already finished")
		}
		return Error.Wrap(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (t *tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return Error.Wrap(fmt.Errorf("rollback: %w", err))
	}
	return nil
}

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

type iterator struct {
	rows *sql.Rows
	cols []string
	row  domain.Row
	err  error
}

func (it *iterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	dest := make([]any, len(it.cols))
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = Error.Wrap(err)
		return false
	}
	row := make(domain.Row, len(dest))
	for i, col := range it.cols {
		row[col] = domain.NormalizeValue(dest[i])
	}
	it.row = row
	return true
}

func (it *iterator) Row() domain.Row { return it.row }

func (it *iterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if err := it.rows.Err(); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

func (it *iterator) Close() error { return it.rows.Close() }
