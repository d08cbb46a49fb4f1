package sqldb

import (
	"bufio"
	"context"
	"strings"

	"go.uber.org/zap"
)

// ExecScript runs a semicolon-terminated SQL script in one transaction.
func (n *Node) ExecScript(ctx context.Context, script string) error {
	stmts := SplitStatements(script)
	if len(stmts) == 0 {
		return nil
	}
	if err := n.execAll(ctx, "script", stmts); err != nil {
		return err
	}
	n.log.Info("script executed", zap.Int("statements", len(stmts)))
	return nil
}

// SplitStatements splits a script into statements. Blank lines and lines
// starting with "--" are dropped; a trailing statement without a semicolon
// is kept.
func SplitStatements(script string) []string {
	scanner := bufio.NewScanner(strings.NewReader(script))
	var stmts []string
	var cur strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"); stmt != "" {
				stmts = append(stmts, stmt)
			}
			cur.Reset()
		}
	}
	if tail := strings.TrimSpace(cur.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}
