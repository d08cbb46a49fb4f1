package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRule struct {
	name     string
	severity Severity
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: r.severity}}}, nil
}

type failingRule struct{}

func (failingRule) Name() string { return "fail" }

func (failingRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, errors.New("boom")
}

type emptyView struct{}

func (emptyView) Objects(string) []ObjectView      { return nil }
func (emptyView) Find(ObjectID) (ObjectView, bool) { return ObjectView{}, false }

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	assert.False(t, result.HasBlocking())
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	assert.True(t, result.HasBlocking())
	assert.NotEmpty(t, RuleViolationError{Result: result}.Error())
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn", SeverityWarn})
	engine.Register(staticRule{"block", SeverityBlock})
	assert.Equal(t, 2, engine.Len())

	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Violations, 2)
	assert.True(t, res.HasBlocking())

	engine.Register(failingRule{})
	_, err = engine.Evaluate(context.Background(), emptyView{}, nil)
	assert.EqualError(t, err, "boom")

	var nilEngine *RulesEngine
	assert.Zero(t, nilEngine.Len())
}

func TestErrorsClassifyAndFormat(t *testing.T) {
	id := NewSingleKeyID("Artist", "id", 1)
	err := ErrCommit.Wrap(&OptimisticLockError{Entity: "Artist", ID: id, Table: "ARTIST", Op: "update"})
	assert.True(t, ErrCommit.Has(err))

	var ole *OptimisticLockError
	require.True(t, errors.As(err, &ole))
	assert.Equal(t, id, ole.ID)

	deny := &DeleteDenyError{Entity: "Artist", ID: id, Relationship: "paintings", Count: 2}
	assert.Contains(t, deny.Error(), "paintings")
	assert.Contains(t, (&FaultFailureError{ID: id}).Error(), "Artist{id=1}")
	assert.True(t, ErrProgrammer.Has(ErrProgrammer.New("x")))
}

func TestParseDeleteRule(t *testing.T) {
	for in, want := range map[string]DeleteRule{
		"":        DeleteNoAction,
		"Cascade": DeleteCascade,
		"nullify": DeleteNullify,
		"deny":    DeleteDeny,
	} {
		got, err := ParseDeleteRule(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEmpty(t, got.String())
	}
	_, err := ParseDeleteRule("explode")
	assert.Error(t, err)
}

func TestPersistenceStateHelpers(t *testing.T) {
	assert.False(t, Transient.Registered())
	assert.True(t, Hollow.Registered())
	assert.True(t, New.Dirty())
	assert.True(t, Deleted.Dirty())
	assert.False(t, Committed.Dirty())
	assert.Equal(t, "modified", Modified.String())
}
