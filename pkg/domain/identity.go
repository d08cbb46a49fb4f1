// Package domain defines the object-graph vocabulary shared by the graphsync
// packages: identities, snapshots, persistence states, mapping metadata, the
// row-level persistence contract and the validate-on-commit rules surface.
package domain

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	keySep   = "\x1f"
	valueSep = "\x1e"
)

// ObjectID identifies a persistent object. Permanent identities are built from
// the entity name and the primary key values; temporary identities are issued
// to objects that have not been inserted yet. ObjectID is comparable and may be
// used as a map key; two identities are equal when entity and key are equal.
//
// The zero value identifies no object.
type ObjectID struct {
	entity string
	key    string
	temp   string
}

// NewObjectID builds a permanent identity from primary key column values.
// Values are normalized so that keys read back from different drivers compare
// equal (an int32 42 and an int64 42 produce the same identity).
func NewObjectID(entity string, pk map[string]any) ObjectID {
	cols := make([]string, 0, len(pk))
	for col := range pk {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	var b strings.Builder
	for i, col := range cols {
		if i > 0 {
			b.WriteString(keySep)
		}
		b.WriteString(col)
		b.WriteString(valueSep)
		b.WriteString(encodeKeyValue(pk[col]))
	}
	return ObjectID{entity: entity, key: b.String()}
}

// NewSingleKeyID is a shorthand for identities with a one-column primary key.
func NewSingleKeyID(entity, column string, value any) ObjectID {
	return NewObjectID(entity, map[string]any{column: value})
}

// NewTempID issues a fresh temporary identity for entity.
func NewTempID(entity string) ObjectID {
	return ObjectID{entity: entity, temp: uuid.NewString()}
}

// IsZero reports whether id identifies nothing.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// IsTemporary reports whether id was issued by NewTempID.
func (id ObjectID) IsTemporary() bool {
	return id.temp != ""
}

// Entity returns the entity name.
func (id ObjectID) Entity() string {
	return id.entity
}

// PK decodes the primary key values. Temporary identities return nil.
func (id ObjectID) PK() map[string]any {
	if id.temp != "" || id.key == "" {
		return nil
	}
	out := make(map[string]any)
	for _, part := range strings.Split(id.key, keySep) {
		col, raw, ok := strings.Cut(part, valueSep)
		if !ok {
			continue
		}
		out[col] = decodeKeyValue(raw)
	}
	return out
}

// Value returns a single primary key value.
func (id ObjectID) Value(column string) (any, bool) {
	v, ok := id.PK()[column]
	return v, ok
}

// HasNullKey reports whether any primary key value is nil. Such identities can
// never be stored.
func (id ObjectID) HasNullKey() bool {
	if id.temp != "" {
		return false
	}
	if id.key == "" {
		return true
	}
	for _, v := range id.PK() {
		if v == nil {
			return true
		}
	}
	return false
}

// String renders the identity for logs, e.g. Artist{id=42} or Artist{temp:uuid}.
func (id ObjectID) String() string {
	if id.IsZero() {
		return "<nil>"
	}
	if id.temp != "" {
		return id.entity + "{temp:" + id.temp + "}"
	}
	parts := strings.Split(id.key, keySep)
	for i, part := range parts {
		col, raw, _ := strings.Cut(part, valueSep)
		parts[i] = col + "=" + fmt.Sprint(decodeKeyValue(raw))
	}
	return id.entity + "{" + strings.Join(parts, ",") + "}"
}

// MarshalText renders the identity as text so it can be used in JSON payloads.
func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func encodeKeyValue(v any) string {
	switch t := NormalizeValue(v).(type) {
	case nil:
		return "n"
	case bool:
		return "b:" + strconv.FormatBool(t)
	case int64:
		return "i:" + strconv.FormatInt(t, 10)
	case uint64:
		return "u:" + strconv.FormatUint(t, 10)
	case float64:
		return "f:" + strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return "s:" + strconv.Quote(t)
	case []byte:
		return "x:" + hex.EncodeToString(t)
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	default:
		return "s:" + strconv.Quote(fmt.Sprint(t))
	}
}

func decodeKeyValue(raw string) any {
	tag, body, _ := strings.Cut(raw, ":")
	switch tag {
	case "n":
		return nil
	case "b":
		v, _ := strconv.ParseBool(body)
		return v
	case "i":
		v, _ := strconv.ParseInt(body, 10, 64)
		return v
	case "u":
		v, _ := strconv.ParseUint(body, 10, 64)
		return v
	case "f":
		v, _ := strconv.ParseFloat(body, 64)
		return v
	case "s":
		v, err := strconv.Unquote(body)
		if err != nil {
			return body
		}
		return v
	case "x":
		v, _ := hex.DecodeString(body)
		return v
	case "t":
		v, _ := time.Parse(time.RFC3339Nano, body)
		return v
	default:
		return raw
	}
}
