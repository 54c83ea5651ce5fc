package dq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/porter/internal"
)

func TestCheckRequiredFlagsEmptyAndMissingValues(t *testing.T) {
	checker := New()

	rows := []internal.Row{
		{"id": "1", "name": "alice"},
		{"id": "2", "name": ""},
		{"id": "3"},
		{"id": "4", "name": "dana"},
	}

	violations, err := checker.Check(rows, "name", "required", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`row 2: field "name" must not be empty`,
		`row 3: field "name" must not be empty`,
	}, violations)
}

func TestCheckCleanBatchHasNoViolations(t *testing.T) {
	checker := New()

	rows := []internal.Row{
		{"id": "1"},
		{"id": "2"},
	}

	violations, err := checker.Check(rows, "id", "required", 0)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckUsesAbsoluteRowNumbers(t *testing.T) {
	checker := New()

	// Second batch of a stream, rows 11 and 12 overall.
	rows := []internal.Row{
		{"id": "11", "name": "kim"},
		{"id": "12", "name": ""},
	}

	violations, err := checker.Check(rows, "name", "required", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`row 12: field "name" must not be empty`,
	}, violations)
}

func TestCheckSupportsValidatorTags(t *testing.T) {
	checker := New()

	rows := []internal.Row{
		{"email": "alice@example.com"},
		{"email": "not-an-email"},
		{"email": "bob@example.com"},
	}

	violations, err := checker.Check(rows, "email", "email", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`row 2: field "email" violates rule "email"`,
	}, violations)
}

func TestCheckNumericRule(t *testing.T) {
	checker := New()

	rows := []internal.Row{
		{"amount": "10.50"},
		{"amount": "abc"},
	}

	violations, err := checker.Check(rows, "amount", "numeric", 0)
	require.NoError(t, err)
	assert.Len(t, violations, 1)
	assert.Contains(t, violations[0], "row 2")
}

func TestCheckRejectsMalformedRule(t *testing.T) {
	checker := New()

	rows := []internal.Row{{"id": "1"}}

	_, err := checker.Check(rows, "id", "definitely-not-a-rule", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rule")
}

func TestValidateRule(t *testing.T) {
	checker := New()

	assert.NoError(t, checker.ValidateRule("required"))
	assert.NoError(t, checker.ValidateRule("email"))
	assert.Error(t, checker.ValidateRule("nope-not-real"))
}
