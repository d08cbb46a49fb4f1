package domain

import (
	"bytes"
	"math"
	"reflect"
	"time"
)

// NormalizeValue folds driver-specific scalar representations into a small
// canonical set: nil, bool, int64, uint64 (only above MaxInt64), float64,
// string, []byte and time.Time. Other values are returned unchanged.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return normalizeUnsigned(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUnsigned(t)
	case float32:
		return float64(t)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *int64:
		if t == nil {
			return nil
		}
		return *t
	case time.Time:
		return t
	}
	return v
}

func normalizeUnsigned(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// ValuesEqual compares two column values after normalization. Byte slices are
// compared by content and times by instant.
func ValuesEqual(a, b any) bool {
	a, b = NormalizeValue(a), NormalizeValue(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch at := a.(type) {
	case []byte:
		bt, ok := b.([]byte)
		return ok && bytes.Equal(at, bt)
	case time.Time:
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	case int64:
		if bf, ok := b.(float64); ok {
			return float64(at) == bf
		}
	case float64:
		if bi, ok := b.(int64); ok {
			return at == float64(bi)
		}
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func cloneValue(v any) any {
	if b, ok := v.([]byte); ok {
		return bytes.Clone(b)
	}
	return v
}
