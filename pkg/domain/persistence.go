package domain

import "context"

// Row is one table row keyed by column name.
type Row map[string]any

// DataNode is the SQL-execution collaborator: it executes row-level batches
// inside transactions. Implementations exist for memory, SQLite and Postgres.
type DataNode interface {
	Name() string
	Begin(ctx context.Context) (NodeTx, error)
	Close() error
}

// NodeTx is a unit of work against a DataNode. Exactly one of Commit or
// Rollback must be called.
type NodeTx interface {
	Select(ctx context.Context, q SelectQuery) ([]Row, error)
	Iterate(ctx context.Context, q SelectQuery) (RowIterator, error)
	Insert(ctx context.Context, b InsertBatch) (BatchResult, error)
	Update(ctx context.Context, b UpdateBatch) (BatchResult, error)
	Delete(ctx context.Context, b DeleteBatch) (BatchResult, error)
	// NextPrimaryKey reserves a key for an entity using its TABLE or
	// SEQUENCE strategy.
	NextPrimaryKey(ctx context.Context, e *Entity) (int64, error)
	Commit() error
	Rollback() error
}

// RowIterator streams rows. Close must be called by the goroutine that
// opened the iterator.
type RowIterator interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// InsertBatch inserts rows sharing one column set. Generated names columns
// whose database-generated values must be read back per row.
type InsertBatch struct {
	Table     string
	Columns   []string
	Rows      [][]any
	Generated []string
}

// UpdateRow carries SET values and qualifier values for one row.
type UpdateRow struct {
	Set   []any
	Where []any
}

// UpdateBatch updates rows sharing one SET column list and one qualifier
// shape. NullWhere columns are qualified with IS NULL and carry no value.
type UpdateBatch struct {
	Table     string
	Set       []string
	Where     []string
	NullWhere []string
	Rows      []UpdateRow
}

// DeleteBatch deletes rows sharing one qualifier shape.
type DeleteBatch struct {
	Table     string
	Where     []string
	NullWhere []string
	Rows      [][]any
}

// BatchResult reports per-row affected counts and, for inserts, generated
// values per row.
type BatchResult struct {
	Affected  []int64
	Generated []Row
}

// Operator is a comparison used in select qualifiers.
type Operator string

// Operators.
const (
	OpEq      Operator = "="
	OpNe      Operator = "<>"
	OpLt      Operator = "<"
	OpLe      Operator = "<="
	OpGt      Operator = ">"
	OpGe      Operator = ">="
	OpIsNull  Operator = "IS NULL"
	OpNotNull Operator = "IS NOT NULL"
	OpIn      Operator = "IN"
	OpLike    Operator = "LIKE"
)

// Condition is one conjunct of a qualifier. For OpIn Value holds []any.
type Condition struct {
	Column string
	Op     Operator
	Value  any
}

// Ordering sorts a select.
type Ordering struct {
	Column     string
	Descending bool
}

// SelectQuery is a single-table select. Conditions are combined with AND.
type SelectQuery struct {
	Table   string
	Columns []string
	Where   []Condition
	OrderBy []Ordering
	Limit   int
	Offset  int
}

// ObjectQuery selects objects of one entity by attribute. Conditions name
// attributes or to-one relationships (compared against an ObjectID).
type ObjectQuery struct {
	Entity  string
	Where   []Condition
	OrderBy []Ordering
	Limit   int
	Offset  int
}
