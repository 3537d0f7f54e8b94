package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/warden/internal/types"
)

func testTemplates() []types.ActionTemplate {
	return []types.ActionTemplate{
		{ID: "enable_circuit_breaker", Category: types.CategoryRemediation, BaseRisk: 0.4},
		{ID: "restart_service", Category: types.CategoryRemediation, BaseRisk: 0.6, RequiresApproval: true},
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	dup := append(testTemplates(), types.ActionTemplate{
		ID: "restart_service", Category: types.CategoryRemediation, BaseRisk: 0.1,
	})
	_, err := New(dup)
	assert.ErrorContains(t, err, "duplicate template id")
}

func TestNew_RejectsInvalidTemplate(t *testing.T) {
	_, err := New([]types.ActionTemplate{{ID: "bad", Category: "nope"}})
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}

func TestGet_UnknownTemplate(t *testing.T) {
	c, err := New(testTemplates())
	require.NoError(t, err)

	_, err = c.Get("never_registered")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestRequireApproval_AppliedAtReadTime(t *testing.T) {
	c, err := New(testTemplates())
	require.NoError(t, err)

	before, err := c.Get("enable_circuit_breaker")
	require.NoError(t, err)
	assert.False(t, before.RequiresApproval)

	require.NoError(t, c.RequireApproval("enable_circuit_breaker", "4 failures in learning window"))

	after, err := c.Get("enable_circuit_breaker")
	require.NoError(t, err)
	assert.True(t, after.RequiresApproval)

	// The override map, not the template set, carries the change.
	overrides := c.Overrides()
	require.Contains(t, overrides, "enable_circuit_breaker")
	assert.Equal(t, "4 failures in learning window", overrides["enable_circuit_breaker"].Reason)
}

func TestRequireApproval_VersionIncrements(t *testing.T) {
	c, err := New(testTemplates())
	require.NoError(t, err)

	assert.Equal(t, 0, c.Version())
	require.NoError(t, c.RequireApproval("enable_circuit_breaker", "test"))
	assert.Equal(t, 1, c.Version())

	// Re-applying still bumps the version; the reason may have changed.
	require.NoError(t, c.RequireApproval("enable_circuit_breaker", "still failing"))
	assert.Equal(t, 2, c.Version())
}

func TestResetOverride(t *testing.T) {
	c, err := New(testTemplates())
	require.NoError(t, err)

	require.NoError(t, c.RequireApproval("enable_circuit_breaker", "test"))
	require.NoError(t, c.ResetOverride("enable_circuit_breaker"))

	tmpl, err := c.Get("enable_circuit_breaker")
	require.NoError(t, err)
	assert.False(t, tmpl.RequiresApproval)

	// Resetting a template with no override is a no-op, not an error.
	require.NoError(t, c.ResetOverride("enable_circuit_breaker"))
	assert.ErrorIs(t, c.ResetOverride("never_registered"), ErrUnknownTemplate)
}

func TestDefaultTemplates(t *testing.T) {
	c, err := New(DefaultTemplates())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultTemplates()), c.Len())

	// The scenario templates the synthesizer depends on must exist.
	for _, id := range []string{"enable_circuit_breaker", "restart_service", "scale_resources"} {
		_, err := c.Get(id)
		assert.NoError(t, err, id)
	}
}
