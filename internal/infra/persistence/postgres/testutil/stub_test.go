package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	_, err := conn.ExecContext(ctx, `INSERT INTO "EXHIBIT" ("ID", "TITLE") VALUES ($1, $2)`, []driver.NamedValue{
		{Value: int64(1)},
		{Value: "Spring"},
	})
	if err != nil {
		t.Fatalf("ExecContext insert: %v", err)
	}
	if len(conn.Tables["EXHIBIT"]) != 1 {
		t.Fatalf("expected exhibit row to be stored, got %v", conn.Tables["EXHIBIT"])
	}

	res, err := conn.ExecContext(ctx, `DELETE FROM "EXHIBIT" WHERE "ID" = $1`, []driver.NamedValue{{Value: int64(1)}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected one deleted row, got %d", n)
	}

	conn.Tables["EXHIBIT"] = []map[string]any{{"ID": int64(2), "TITLE": "Autumn"}}
	rows, err := conn.QueryContext(ctx, `SELECT "ID", "TITLE" FROM "EXHIBIT"`, nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()

	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != int64(2) || dest[1] != "Autumn" {
		t.Fatalf("unexpected row values: %v", dest)
	}
}

func TestStubGeneratesKeys(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	rows, err := conn.QueryContext(ctx, `INSERT INTO "PAINTING" ("TITLE") VALUES ($1) RETURNING "ID"`, []driver.NamedValue{{Value: "Haystacks"}})
	if err != nil {
		t.Fatalf("QueryContext insert: %v", err)
	}
	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != int64(200) {
		t.Fatalf("unexpected generated key: %v", dest[0])
	}
	if got := conn.Tables["PAINTING"][0]["ID"]; got != int64(200) {
		t.Fatalf("generated key not stored: %v", got)
	}

	rows, err = conn.QueryContext(ctx, `SELECT nextval('"pk_gallery"')`, nil)
	if err != nil {
		t.Fatalf("QueryContext nextval: %v", err)
	}
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != int64(201) {
		t.Fatalf("unexpected sequence value: %v", dest[0])
	}
}
