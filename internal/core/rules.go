package core

import (
	"context"
	"fmt"

	"graphsync/internal/metadata"
	"graphsync/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine(resolver *metadata.Resolver) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewMandatoryAttributesRule(resolver))
	return engine
}

// NewMandatoryAttributesRule blocks inserts and updates that leave a
// mandatory attribute empty. Primary keys are exempt since they may be
// generated during the flush.
func NewMandatoryAttributesRule(resolver *metadata.Resolver) domain.Rule {
	return mandatoryAttributesRule{resolver: resolver}
}

type mandatoryAttributesRule struct {
	resolver *metadata.Resolver
}

func (mandatoryAttributesRule) Name() string { return "mandatory_attributes" }

func (r mandatoryAttributesRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ch := range changes {
		if ch.Action == domain.ActionDelete {
			continue
		}
		e, err := r.resolver.Entity(ch.Entity)
		if err != nil {
			return domain.Result{}, err
		}
		for _, a := range e.Attributes {
			if !a.Mandatory || a.PrimaryKey || ch.After[a.Name] != nil {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "mandatory_attributes",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s.%s is mandatory", e.Name, a.Name),
				Entity:   e.Name,
				ID:       ch.ID,
			})
		}
	}
	return res, nil
}
