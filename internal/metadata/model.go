package metadata

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"graphsync/pkg/domain"
)

// Model is the YAML representation of a mapping model:
//
//	entities:
//	  - name: Artist
//	    table: ARTIST
//	    pk: db_generated        # provided | db_generated | table | sequence
//	    lock: optimistic        # none | optimistic
//	    attributes:
//	      - {name: id, column: ID, type: int, primaryKey: true}
//	      - {name: name, column: NAME, mandatory: true, usedForLocking: true}
//	    relationships:
//	      - name: paintings
//	        target: Painting
//	        toMany: true
//	        joins: [{source: ID, target: ARTIST_ID}]
//	        reverse: artist
//	        deleteRule: cascade
type Model struct {
	Entities []EntityModel `yaml:"entities"`
}

// EntityModel is one entity of a Model.
type EntityModel struct {
	Name            string                `yaml:"name"`
	Table           string                `yaml:"table"`
	PK              string                `yaml:"pk,omitempty"`
	Sequence        string                `yaml:"sequence,omitempty"`
	Lock            string                `yaml:"lock,omitempty"`
	ReadOnly        bool                  `yaml:"readOnly,omitempty"`
	SecondaryTables []SecondaryTableModel `yaml:"secondaryTables,omitempty"`
	Attributes      []AttributeModel      `yaml:"attributes"`
	Relationships   []RelationshipModel   `yaml:"relationships,omitempty"`
}

// SecondaryTableModel is a secondary table of an EntityModel.
type SecondaryTableModel struct {
	Name  string      `yaml:"name"`
	Joins []JoinModel `yaml:"joins"`
}

// AttributeModel is an attribute of an EntityModel.
type AttributeModel struct {
	Name           string `yaml:"name"`
	Column         string `yaml:"column,omitempty"`
	Table          string `yaml:"table,omitempty"`
	Type           string `yaml:"type,omitempty"`
	PrimaryKey     bool   `yaml:"primaryKey,omitempty"`
	Mandatory      bool   `yaml:"mandatory,omitempty"`
	UsedForLocking bool   `yaml:"usedForLocking,omitempty"`
}

// JoinModel is a column pair.
type JoinModel struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// JoinTableModel is the join table of a flattened relationship.
type JoinTableModel struct {
	Name        string      `yaml:"name"`
	SourceJoins []JoinModel `yaml:"sourceJoins"`
	TargetJoins []JoinModel `yaml:"targetJoins"`
}

// RelationshipModel is a relationship of an EntityModel.
type RelationshipModel struct {
	Name           string          `yaml:"name"`
	Target         string          `yaml:"target"`
	ToMany         bool            `yaml:"toMany,omitempty"`
	Joins          []JoinModel     `yaml:"joins,omitempty"`
	JoinTable      *JoinTableModel `yaml:"joinTable,omitempty"`
	Reverse        string          `yaml:"reverse,omitempty"`
	DeleteRule     string          `yaml:"deleteRule,omitempty"`
	UsedForLocking bool            `yaml:"usedForLocking,omitempty"`
}

// LoadYAML decodes a model document into entity definitions. Unknown keys are
// rejected.
func LoadYAML(r io.Reader) ([]domain.Entity, error) {
	var m Model
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil, domain.ErrMapping.New("empty model document")
		}
		return nil, domain.ErrMapping.Wrap(fmt.Errorf("parse model: %w", err))
	}
	return m.Build()
}

// LoadFile reads a model file and returns a validated resolver.
func LoadFile(path string) (*Resolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer func() { _ = f.Close() }()
	entities, err := LoadYAML(f)
	if err != nil {
		return nil, err
	}
	return NewResolver(entities...)
}

// Build converts the model into entity definitions.
func (m Model) Build() ([]domain.Entity, error) {
	if len(m.Entities) == 0 {
		return nil, domain.ErrMapping.New("model declares no entities")
	}
	out := make([]domain.Entity, 0, len(m.Entities))
	for _, em := range m.Entities {
		e, err := em.entity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (em EntityModel) entity() (domain.Entity, error) {
	e := domain.Entity{
		Name:     em.Name,
		Table:    em.Table,
		Sequence: em.Sequence,
		ReadOnly: em.ReadOnly,
	}
	if em.PK != "" {
		e.PKStrategy = domain.PKStrategy(strings.ToLower(em.PK))
	}
	if em.Lock != "" {
		e.Lock = domain.LockType(strings.ToLower(em.Lock))
	}
	for _, st := range em.SecondaryTables {
		e.SecondaryTables = append(e.SecondaryTables, domain.SecondaryTable{Name: st.Name, Joins: joins(st.Joins)})
	}
	for _, am := range em.Attributes {
		e.Attributes = append(e.Attributes, domain.Attribute{
			Name:           am.Name,
			Column:         am.Column,
			Table:          am.Table,
			Type:           domain.ValueType(strings.ToLower(am.Type)),
			PrimaryKey:     am.PrimaryKey,
			Mandatory:      am.Mandatory,
			UsedForLocking: am.UsedForLocking,
		})
	}
	for _, rm := range em.Relationships {
		rule, err := domain.ParseDeleteRule(rm.DeleteRule)
		if err != nil {
			return domain.Entity{}, domain.ErrMapping.New("entity %q relationship %q: %v", em.Name, rm.Name, err)
		}
		rel := domain.Relationship{
			Name:           rm.Name,
			Target:         rm.Target,
			ToMany:         rm.ToMany,
			Joins:          joins(rm.Joins),
			Reverse:        rm.Reverse,
			DeleteRule:     rule,
			UsedForLocking: rm.UsedForLocking,
		}
		if rm.JoinTable != nil {
			rel.JoinTable = &domain.JoinTable{
				Name:        rm.JoinTable.Name,
				SourceJoins: joins(rm.JoinTable.SourceJoins),
				TargetJoins: joins(rm.JoinTable.TargetJoins),
			}
		}
		e.Relationships = append(e.Relationships, rel)
	}
	return e, nil
}

func joins(in []JoinModel) []domain.Join {
	out := make([]domain.Join, 0, len(in))
	for _, j := range in {
		out = append(out, domain.Join{Source: j.Source, Target: j.Target})
	}
	return out
}
