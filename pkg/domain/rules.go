package domain

import (
	"context"
	"strings"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks the commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action indicates the type of modification performed.
type Action string

// Change actions mirror the statements a commit will issue.
const (
	// ActionCreate indicates an object is pending insert.
	ActionCreate Action = "create"
	// ActionUpdate indicates an object is pending update.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one object about to be committed. Before holds the
// committed attribute values (nil for creates), After the pending values (nil
// for deletes).
type Change struct {
	Entity string
	ID     ObjectID
	Action Action
	Before map[string]any
	After  map[string]any
}

// ObjectView is a read-only projection of a registered object.
type ObjectView struct {
	ID     ObjectID
	Entity string
	State  PersistenceState
	Values map[string]any
}

// RuleView provides read-only access to the session being committed.
type RuleView interface {
	Objects(entity string) []ObjectView
	Find(id ObjectID) (ObjectView, bool)
}

// Rule defines an evaluation executed before changes are flushed.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Len returns the number of registered rules.
func (e *RulesEngine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   string
	ID       ObjectID
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var msgs []string
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Message)
		}
	}
	if len(msgs) == 0 {
		return "commit blocked by rules"
	}
	return "commit blocked by rules: " + strings.Join(msgs, "; ")
}
