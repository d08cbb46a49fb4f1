package memory

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"graphsync/pkg/domain"
)

func selectRows(rows []domain.Row, q domain.SelectQuery) ([]domain.Row, error) {
	var matched []domain.Row
	for _, row := range rows {
		ok, err := matchAll(row, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := compareValues(matched[i][o.Column], matched[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]domain.Row, 0, len(matched))
	for _, row := range matched {
		if len(q.Columns) == 0 {
			out = append(out, cloneRow(row))
			continue
		}
		projected := make(domain.Row, len(q.Columns))
		for _, col := range q.Columns {
			projected[col] = row[col]
		}
		out = append(out, projected)
	}
	return out, nil
}

func matchAll(row domain.Row, conds []domain.Condition) (bool, error) {
	for _, c := range conds {
		ok, err := match(row[c.Column], c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(v any, c domain.Condition) (bool, error) {
	switch c.Op {
	case domain.OpIsNull:
		return v == nil, nil
	case domain.OpNotNull:
		return v != nil, nil
	}
	if v == nil {
		return false, nil
	}
	switch c.Op {
	case domain.OpEq:
		return c.Value != nil && domain.ValuesEqual(v, c.Value), nil
	case domain.OpNe:
		return c.Value != nil && !domain.ValuesEqual(v, c.Value), nil
	case domain.OpLt:
		return compareValues(v, c.Value) < 0, nil
	case domain.OpLe:
		return compareValues(v, c.Value) <= 0, nil
	case domain.OpGt:
		return compareValues(v, c.Value) > 0, nil
	case domain.OpGe:
		return compareValues(v, c.Value) >= 0, nil
	case domain.OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return false, Error.New("IN on %s needs []any, got %T", c.Column, c.Value)
		}
		for _, candidate := range values {
			if domain.ValuesEqual(v, candidate) {
				return true, nil
			}
		}
		return false, nil
	case domain.OpLike:
		s, ok := v.(string)
		pattern, pok := c.Value.(string)
		if !ok || !pok {
			return false, Error.New("LIKE on %s needs string operands", c.Column)
		}
		return like(s, pattern), nil
	default:
		return false, Error.New("unsupported operator %q", c.Op)
	}
}

// compareValues orders nil first, then values of the same kind. Values of
// unrelated kinds compare by their type name.
func compareValues(a, b any) int {
	a, b = domain.NormalizeValue(a), domain.NormalizeValue(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch at := a.(type) {
	case int64:
		switch bt := b.(type) {
		case int64:
			return cmp3(at < bt, at > bt)
		case float64:
			return cmp3(float64(at) < bt, float64(at) > bt)
		}
	case float64:
		switch bt := b.(type) {
		case float64:
			return cmp3(at < bt, at > bt)
		case int64:
			return cmp3(at < float64(bt), at > float64(bt))
		}
	case string:
		if bt, ok := b.(string); ok {
			return strings.Compare(at, bt)
		}
	case bool:
		if bt, ok := b.(bool); ok {
			return cmp3(!at && bt, at && !bt)
		}
	case time.Time:
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	case []byte:
		if bt, ok := b.([]byte); ok {
			return bytes.Compare(at, bt)
		}
	}
	return strings.Compare(typeName(a), typeName(b))
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}

func typeName(v any) string {
	switch v.(type) {
	case int64:
		return "int64"
	case float64:
		return "float64"
	case string:
		return "string"
	case bool:
		return "bool"
	case time.Time:
		return "time"
	case []byte:
		return "bytes"
	default:
		return "other"
	}
}

// like matches SQL LIKE patterns: % matches any run, _ one character.
func like(s, pattern string) bool {
	sr, pr := []rune(s), []rune(pattern)
	var rec func(i, j int) bool
	rec = func(i, j int) bool {
		for j < len(pr) {
			switch pr[j] {
			case '%':
				for j < len(pr) && pr[j] == '%' {
					j++
				}
				if j == len(pr) {
					return true
				}
				for k := i; k <= len(sr); k++ {
					if rec(k, j) {
						return true
					}
				}
				return false
			case '_':
				if i >= len(sr) {
					return false
				}
			default:
				if i >= len(sr) || sr[i] != pr[j] {
					return false
				}
			}
			i++
			j++
		}
		return i == len(sr)
	}
	return rec(0, 0)
}
