package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/infra/persistence/postgres/testutil"
	"graphsync/internal/metadata/metadatatest"
	"graphsync/pkg/domain"
)

func openStub(t *testing.T) (*testutil.StubConn, func()) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return db, nil
	})
	return conn, func() {
		restore()
		assert.Equal(t, defaultDriver, gotDriver)
		assert.Equal(t, defaultDSN, gotDSN)
	}
}

func TestOpenAppliesDDLAndReservesKeys(t *testing.T) {
	ctx := context.Background()
	conn, done := openStub(t)
	defer done()

	node, err := Open(ctx, "")
	require.NoError(t, err)
	defer func() { _ = node.Close() }()
	assert.Equal(t, "postgres", node.Name())

	require.NoError(t, node.ApplyDDL(ctx, metadatatest.Resolver()))
	var sequences, autoPK int
	for _, stmt := range conn.Execs {
		if strings.HasPrefix(stmt, `CREATE SEQUENCE IF NOT EXISTS "pk_gallery"`) {
			sequences++
		}
		if strings.Contains(stmt, `"AUTO_PK_SUPPORT"`) {
			autoPK++
		}
	}
	assert.Equal(t, 1, sequences)
	assert.Equal(t, 1, autoPK, "ARTIST reserves keys from the support table")
	assert.Contains(t, strings.Join(conn.Execs, "\n"), `"ID" BIGSERIAL PRIMARY KEY`)

	gallery, _ := metadatatest.Resolver().Entity(metadatatest.Gallery)
	tx, err := node.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.NextPrimaryKey(ctx, gallery)
	require.NoError(t, err)
	assert.Equal(t, int64(200), id)
	assert.Contains(t, conn.Queries, `SELECT nextval('"pk_gallery"')`)

	res, err := tx.Insert(ctx, domain.InsertBatch{
		Table:     "PAINTING",
		Columns:   []string{"TITLE"},
		Rows:      [][]any{{"Haystacks"}, {"Water Lilies"}},
		Generated: []string{"ID"},
	})
	require.NoError(t, err)
	require.Len(t, res.Generated, 2)
	assert.Equal(t, int64(201), res.Generated[0]["ID"])
	assert.Equal(t, int64(202), res.Generated[1]["ID"])
	assert.Len(t, conn.Tables["PAINTING"], 2)

	del, err := tx.Delete(ctx, domain.DeleteBatch{Table: "PAINTING", Where: []string{"ID"}, Rows: [][]any{{int64(201)}, {int64(999)}}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, del.Affected)
	require.NoError(t, tx.Commit())
}

func TestOpenPingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	_, err := Open(context.Background(), "postgres://example/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres")
}

func TestOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	_, err := Open(context.Background(), "postgres://example/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open postgres")
}

func TestCommitFailure(t *testing.T) {
	ctx := context.Background()
	conn, done := openStub(t)
	defer done()
	node, err := Open(ctx, "")
	require.NoError(t, err)
	defer func() { _ = node.Close() }()
	conn.FailCommit = true
	tx, err := node.Begin(ctx)
	require.NoError(t, err)
	require.Error(t, tx.Commit())
}

func TestDialect(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "$3", d.Placeholder(3))
	assert.Equal(t, "LIMIT ALL OFFSET 5", d.LimitOffset(0, 5))
	assert.Equal(t, "LIMIT 2 OFFSET 0", d.LimitOffset(2, 0))
	assert.Equal(t, `SELECT nextval('"seq"')`, d.NextValSQL("seq"))
	assert.Equal(t, `SELECT nextval('"o''brien"')`, d.NextValSQL("o'brien"))
	assert.Equal(t, "DOUBLE PRECISION", d.ColumnType(domain.TypeReal))
	assert.Equal(t, "BYTEA", d.ColumnType(domain.TypeBlob))
	assert.Equal(t, "TIMESTAMPTZ", d.ColumnType(domain.TypeTime))
	assert.Equal(t, "BIGINT", d.ColumnType(domain.TypeInt))
}
