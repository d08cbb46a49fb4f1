package sqldb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/pkg/domain"
)

type numberedDialect struct{}

func (numberedDialect) Name() string                         { return "numbered" }
func (numberedDialect) QuoteIdent(name string) string        { return QuoteDouble(name) }
func (numberedDialect) ColumnType(t domain.ValueType) string { return strings.ToUpper(string(t)) }
func (numberedDialect) GeneratedKeyColumn(column string) string {
	return QuoteDouble(column) + " SERIAL"
}
func (numberedDialect) SupportsSequences() bool      { return true }
func (numberedDialect) Placeholder(n int) string     { return fmt.Sprintf("$%d", n) }
func (numberedDialect) SupportsReturning() bool      { return true }
func (numberedDialect) NextValSQL(seq string) string { return "SELECT nextval('" + seq + "')" }
func (numberedDialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func TestSelectSQL(t *testing.T) {
	sqlText, args, err := selectSQL(numberedDialect{}, domain.SelectQuery{
		Table:   "PAINTING",
		Columns: []string{"ID", "TITLE"},
		Where: []domain.Condition{
			{Column: "ARTIST_ID", Op: domain.OpEq, Value: int64(7)},
			{Column: "GALLERY_ID", Op: domain.OpIsNull},
			{Column: "ID", Op: domain.OpIn, Value: []any{int64(1), int64(2)}},
		},
		OrderBy: []domain.Ordering{{Column: "TITLE"}, {Column: "ID", Descending: true}},
		Limit:   10,
		Offset:  20,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "ID", "TITLE" FROM "PAINTING" WHERE "ARTIST_ID" = $1 AND "GALLERY_ID" IS NULL AND "ID" IN ($2, $3) ORDER BY "TITLE", "ID" DESC LIMIT 10 OFFSET 20`, sqlText)
	assert.Equal(t, []any{int64(7), int64(1), int64(2)}, args)

	sqlText, args, err = selectSQL(numberedDialect{}, domain.SelectQuery{Table: "T", Where: []domain.Condition{{Column: "ID", Op: domain.OpIn, Value: []any{}}}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "T" WHERE 1 = 0`, sqlText)
	assert.Empty(t, args)

	_, _, err = selectSQL(numberedDialect{}, domain.SelectQuery{Table: "T", Where: []domain.Condition{{Column: "ID", Op: domain.OpEq}}})
	require.Error(t, err)
	_, _, err = selectSQL(numberedDialect{}, domain.SelectQuery{Table: "T", Where: []domain.Condition{{Column: "ID", Op: "~"}}})
	require.Error(t, err)
}

func TestWriteSQL(t *testing.T) {
	d := numberedDialect{}
	assert.Equal(t,
		`INSERT INTO "PAINTING" ("TITLE", "ARTIST_ID") VALUES ($1, $2) RETURNING "ID"`,
		insertSQL(d, domain.InsertBatch{Table: "PAINTING", Columns: []string{"TITLE", "ARTIST_ID"}, Generated: []string{"ID"}}, true))
	assert.Equal(t,
		`INSERT INTO "PAINTING" ("TITLE") VALUES ($1)`,
		insertSQL(d, domain.InsertBatch{Table: "PAINTING", Columns: []string{"TITLE"}, Generated: []string{"ID"}}, false))
	assert.Equal(t,
		`UPDATE "ARTIST" SET "NAME" = $1, "BORN" = $2 WHERE "ID" = $3 AND "NAME" = $4 AND "MENTOR_ID" IS NULL`,
		updateSQL(d, domain.UpdateBatch{Table: "ARTIST", Set: []string{"NAME", "BORN"}, Where: []string{"ID", "NAME"}, NullWhere: []string{"MENTOR_ID"}}))
	assert.Equal(t,
		`DELETE FROM "ARTIST_EXHIBIT" WHERE "ARTIST_ID" = $1 AND "EXHIBIT_ID" = $2`,
		deleteSQL(d, domain.DeleteBatch{Table: "ARTIST_EXHIBIT", Where: []string{"ARTIST_ID", "EXHIBIT_ID"}}))
}

func TestQuoteDouble(t *testing.T) {
	assert.Equal(t, `"a""b"`, QuoteDouble(`a"b`))
}
