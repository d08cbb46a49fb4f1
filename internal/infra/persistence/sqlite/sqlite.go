// Package sqlite provides the SQLite dialect and an opener for sqldb nodes
// backed by the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"graphsync/internal/infra/persistence/sqldb"
	"graphsync/pkg/domain"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const defaultPath = "graphsync.db"

// Dialect is the SQLite dialect.
type Dialect struct{}

var _ sqldb.Dialect = Dialect{}

// Name implements sqldb.Dialect.
func (Dialect) Name() string { return "sqlite" }

// QuoteIdent implements sqldb.Dialect.
func (Dialect) QuoteIdent(name string) string { return sqldb.QuoteDouble(name) }

// Placeholder implements sqldb.Dialect.
func (Dialect) Placeholder(int) string { return "?" }

// SupportsReturning implements sqldb.Dialect.
func (Dialect) SupportsReturning() bool { return true }

// SupportsSequences implements sqldb.Dialect. SEQUENCE entities fall back to
// AUTO_PK_SUPPORT.
func (Dialect) SupportsSequences() bool { return false }

// NextValSQL implements sqldb.Dialect.
func (Dialect) NextValSQL(string) string { return "" }

// LimitOffset implements sqldb.Dialect.
func (Dialect) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		limit = -1
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

// GeneratedKeyColumn implements sqldb.Dialect.
func (d Dialect) GeneratedKeyColumn(column string) string {
	return d.QuoteIdent(column) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

// ColumnType implements sqldb.Dialect.
func (Dialect) ColumnType(t domain.ValueType) string {
	switch t {
	case domain.TypeInt:
		return "INTEGER"
	case domain.TypeReal:
		return "REAL"
	case domain.TypeBool:
		return "BOOLEAN"
	case domain.TypeBlob:
		return "BLOB"
	case domain.TypeTime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// Open opens (creating when needed) the database at path with foreign keys
// enforced. MemoryPath yields a private in-memory database pinned to one
// connection.
func Open(ctx context.Context, path string, opts ...sqldb.Option) (*sqldb.Node, error) {
	if path == "" {
		path = defaultPath
	}
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return sqldb.New("sqlite:"+path, db, Dialect{}, opts...), nil
}
