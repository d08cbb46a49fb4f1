// Package sqldb implements domain.DataNode over database/sql. Vendor
// differences (placeholders, quoting, key generation, DDL types) are supplied
// by a Dialect; the sqlite and postgres packages provide the concrete ones.
package sqldb

import (
	"strings"

	"graphsync/internal/metadata"
)

// Dialect describes one SQL vendor.
type Dialect interface {
	metadata.DDLDialect
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool
	// NextValSQL returns a query yielding the next value of a sequence. It is
	// only called when SupportsSequences is true.
	NextValSQL(sequence string) string
	// LimitOffset renders the paging clause; limit 0 means unbounded.
	LimitOffset(limit, offset int) string
}

// QuoteDouble quotes an identifier with double quotes, escaping embedded
// quotes.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
