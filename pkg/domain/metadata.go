package domain

import (
	"fmt"
	"strings"
)

// DeleteRule decides what happens to related objects when the source object
// of a relationship is deleted.
type DeleteRule int

// Delete rules.
const (
	// DeleteNoAction leaves related objects untouched.
	DeleteNoAction DeleteRule = iota
	// DeleteNullify clears the reverse relationship on related objects.
	DeleteNullify
	// DeleteCascade deletes related objects recursively.
	DeleteCascade
	// DeleteDeny refuses the delete while related objects exist.
	DeleteDeny
)

func (r DeleteRule) String() string {
	switch r {
	case DeleteNullify:
		return "nullify"
	case DeleteCascade:
		return "cascade"
	case DeleteDeny:
		return "deny"
	default:
		return "no_action"
	}
}

// ParseDeleteRule maps a textual rule name to a DeleteRule. The empty string
// means DeleteNoAction.
func ParseDeleteRule(s string) (DeleteRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "no_action", "noaction", "none":
		return DeleteNoAction, nil
	case "nullify":
		return DeleteNullify, nil
	case "cascade":
		return DeleteCascade, nil
	case "deny":
		return DeleteDeny, nil
	default:
		return DeleteNoAction, fmt.Errorf("unknown delete rule %q", s)
	}
}

// PKStrategy selects how primary keys of new objects are produced.
type PKStrategy string

// Primary key strategies.
const (
	// PKProvided expects the application to set the key attributes.
	PKProvided PKStrategy = "provided"
	// PKDBGenerated reads back a key generated by the database on insert.
	PKDBGenerated PKStrategy = "db_generated"
	// PKTable reserves keys from the AUTO_PK_SUPPORT table.
	PKTable PKStrategy = "table"
	// PKSequence reserves keys from a database sequence.
	PKSequence PKStrategy = "sequence"
)

// LockType selects the concurrency control applied to updates and deletes.
type LockType string

// Lock types.
const (
	LockNone       LockType = "none"
	LockOptimistic LockType = "optimistic"
)

// ValueType is the storage type of an attribute; it only matters for DDL.
type ValueType string

// Value types.
const (
	TypeInt  ValueType = "int"
	TypeText ValueType = "text"
	TypeReal ValueType = "real"
	TypeBool ValueType = "bool"
	TypeBlob ValueType = "blob"
	TypeTime ValueType = "time"
)

// Attribute maps an object property to a column.
type Attribute struct {
	Name   string
	Column string
	// Table is empty for attributes stored in the entity's primary table.
	Table          string
	Type           ValueType
	PrimaryKey     bool
	Mandatory      bool
	UsedForLocking bool
}

// Join pairs a column on the source side with a column on the target side.
type Join struct {
	Source string
	Target string
}

// JoinTable describes the intermediate table of a flattened many-to-many
// relationship. SourceJoins map source primary key columns to join table
// columns; TargetJoins map join table columns to target primary key columns.
type JoinTable struct {
	Name        string
	SourceJoins []Join
	TargetJoins []Join
}

// Relationship maps a navigable link between two entities.
//
// For a to-one relationship Joins pair foreign key columns of the source's
// primary table with key columns of the target. For a to-many relationship
// without a join table Joins pair key columns of the source with foreign key
// columns of the target; such a relationship is always the reverse of a to-one.
type Relationship struct {
	Name           string
	Target         string
	ToMany         bool
	Joins          []Join
	JoinTable      *JoinTable
	Reverse        string
	DeleteRule     DeleteRule
	UsedForLocking bool
}

// Flattened reports whether the relationship goes through a join table.
func (r *Relationship) Flattened() bool {
	return r.JoinTable != nil
}

// SecondaryTable is an additional table holding attributes of an entity. Joins
// pair primary table key columns with the secondary table's key columns.
type SecondaryTable struct {
	Name  string
	Joins []Join
}

// Entity maps an object type to one primary table and optional secondary tables.
type Entity struct {
	Name            string
	Table           string
	SecondaryTables []SecondaryTable
	Attributes      []Attribute
	Relationships   []Relationship
	PKStrategy      PKStrategy
	Sequence        string
	Lock            LockType
	ReadOnly        bool
}

// Attribute looks up an attribute by name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	for i := range e.Attributes {
		if e.Attributes[i].Name == name {
			return &e.Attributes[i], true
		}
	}
	return nil, false
}

// Relationship looks up a relationship by name.
func (e *Entity) Relationship(name string) (*Relationship, bool) {
	for i := range e.Relationships {
		if e.Relationships[i].Name == name {
			return &e.Relationships[i], true
		}
	}
	return nil, false
}

// PrimaryKey returns the primary key attributes in declaration order.
func (e *Entity) PrimaryKey() []*Attribute {
	var out []*Attribute
	for i := range e.Attributes {
		if e.Attributes[i].PrimaryKey {
			out = append(out, &e.Attributes[i])
		}
	}
	return out
}

// TableOf returns the table an attribute is stored in.
func (e *Entity) TableOf(a *Attribute) string {
	if a.Table == "" {
		return e.Table
	}
	return a.Table
}

// Tables returns the primary table followed by the secondary tables.
func (e *Entity) Tables() []string {
	out := []string{e.Table}
	for _, st := range e.SecondaryTables {
		out = append(out, st.Name)
	}
	return out
}

// SecondaryTable looks up a secondary table by name.
func (e *Entity) SecondaryTable(name string) (*SecondaryTable, bool) {
	for i := range e.SecondaryTables {
		if e.SecondaryTables[i].Name == name {
			return &e.SecondaryTables[i], true
		}
	}
	return nil, false
}

// IDFromValues builds an identity from attribute values keyed by attribute name.
// It reports false when a key attribute is missing or nil.
func (e *Entity) IDFromValues(values map[string]any) (ObjectID, bool) {
	pk := make(map[string]any)
	for _, a := range e.PrimaryKey() {
		v, ok := values[a.Name]
		if !ok || v == nil {
			return ObjectID{}, false
		}
		pk[a.Column] = v
	}
	if len(pk) == 0 {
		return ObjectID{}, false
	}
	return NewObjectID(e.Name, pk), true
}

// OptimisticLocking reports whether updates and deletes are qualified with
// locking attribute values.
func (e *Entity) OptimisticLocking() bool {
	return e.Lock == LockOptimistic
}
