package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"graphsync/internal/metadata"
	"graphsync/pkg/domain"
)

// FirstKey is the first key handed out for a table that has no
// AUTO_PK_SUPPORT row yet.
const FirstKey = 200

const maxReserveAttempts = 5

// NextPrimaryKey reserves one key for e. SEQUENCE entities use the database
// sequence when the dialect has sequences and fall back to AUTO_PK_SUPPORT
// otherwise.
func (t *tx) NextPrimaryKey(ctx context.Context, e *domain.Entity) (int64, error) {
	d := t.node.dialect
	switch e.PKStrategy {
	case domain.PKSequence:
		if d.SupportsSequences() {
			sqlText := d.NextValSQL(e.Sequence)
			t.statement(sqlText, 1)
			var next int64
			if err := t.tx.QueryRowContext(ctx, sqlText).Scan(&next); err != nil {
				return 0, Error.Wrap(fmt.Errorf("next value of %s: %w", e.Sequence, err))
			}
			return next, nil
		}
		return t.reserveFromTable(ctx, e.Sequence)
	case domain.PKTable:
		return t.reserveFromTable(ctx, e.Table)
	default:
		return 0, Error.New("entity %s does not reserve keys (strategy %s)", e.Name, e.PKStrategy)
	}
}

// reserveFromTable increments the AUTO_PK_SUPPORT counter for name with a
// compare-and-set update, creating the row on first use.
func (t *tx) reserveFromTable(ctx context.Context, name string) (int64, error) {
	d := t.node.dialect
	table := d.QuoteIdent(metadata.AutoPKTable)
	nameCol, nextCol := d.QuoteIdent("TABLE_NAME"), d.QuoteIdent("NEXT_ID")
	selectText := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", nextCol, table, nameCol, d.Placeholder(1))
	insertText := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)", table, nameCol, nextCol, d.Placeholder(1), d.Placeholder(2))
	updateText := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s AND %s = %s",
		table, nextCol, d.Placeholder(1), nameCol, d.Placeholder(2), nextCol, d.Placeholder(3))

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		t.statement(selectText, 1)
		var next int64
		err := t.tx.QueryRowContext(ctx, selectText, name).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			t.statement(insertText, 1)
			if _, err := t.tx.ExecContext(ctx, insertText, name, int64(FirstKey+1)); err != nil {
				return 0, Error.Wrap(fmt.Errorf("create key counter for %s: %w", name, err))
			}
			return FirstKey, nil
		}
		if err != nil {
			return 0, Error.Wrap(fmt.Errorf("read key counter for %s: %w", name, err))
		}
		t.statement(updateText, 1)
		res, err := t.tx.ExecContext(ctx, updateText, next+1, name, next)
		if err != nil {
			return 0, Error.Wrap(fmt.Errorf("advance key counter for %s: %w", name, err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return next, nil
		}
		t.node.log.Debug("key counter moved, retrying", zap.String("name", name), zap.Int("attempt", attempt+1))
	}
	return 0, Error.New("could not reserve a key for %s after %d attempts", name, maxReserveAttempts)
}
