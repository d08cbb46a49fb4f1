// Package postgres provides the Postgres dialect and an opener for sqldb nodes
// backed by the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"graphsync/internal/infra/persistence/sqldb"
	"graphsync/pkg/domain"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/graphsync?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the function used to open database handles and
// returns a restore func. Tests use it to inject a stub driver.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

// Dialect is the Postgres dialect.
type Dialect struct{}

var _ sqldb.Dialect = Dialect{}

// Name implements sqldb.Dialect.
func (Dialect) Name() string { return "postgres" }

// QuoteIdent implements sqldb.Dialect.
func (Dialect) QuoteIdent(name string) string { return sqldb.QuoteDouble(name) }

// Placeholder implements sqldb.Dialect.
func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// SupportsReturning implements sqldb.Dialect.
func (Dialect) SupportsReturning() bool { return true }

// SupportsSequences implements sqldb.Dialect.
func (Dialect) SupportsSequences() bool { return true }

// NextValSQL implements sqldb.Dialect.
func (d Dialect) NextValSQL(sequence string) string {
	return "SELECT nextval('" + strings.ReplaceAll(d.QuoteIdent(sequence), "'", "''") + "')"
}

// LimitOffset implements sqldb.Dialect.
func (Dialect) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return fmt.Sprintf("LIMIT ALL OFFSET %d", offset)
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

// GeneratedKeyColumn implements sqldb.Dialect.
func (d Dialect) GeneratedKeyColumn(column string) string {
	return d.QuoteIdent(column) + " BIGSERIAL PRIMARY KEY"
}

// ColumnType implements sqldb.Dialect.
func (Dialect) ColumnType(t domain.ValueType) string {
	switch t {
	case domain.TypeInt:
		return "BIGINT"
	case domain.TypeReal:
		return "DOUBLE PRECISION"
	case domain.TypeBool:
		return "BOOLEAN"
	case domain.TypeBlob:
		return "BYTEA"
	case domain.TypeTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// Open connects to dsn (defaultDSN when empty) and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...sqldb.Option) (*sqldb.Node, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return sqldb.New("postgres", db, Dialect{}, opts...), nil
}
