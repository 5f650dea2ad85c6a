package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/types"
)

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "%server_memory%", Placeholder("Server Memory"))
	assert.Equal(t, "%port%", Placeholder("PORT"))
	assert.Equal(t, "%max_players%", Placeholder("Max Players"))
}

func TestProcess(t *testing.T) {
	t.Run("substitutes effective values", func(t *testing.T) {
		vars := []types.Variable{
			{Name: "Server Memory", Default: "1024", Value: "2048"},
			{Name: "Port", Default: "25565"},
		}
		out, err := Process("java -Xmx%server_memory%M -Dport=%port%", vars)
		require.NoError(t, err)
		assert.Equal(t, "java -Xmx2048M -Dport=25565", out)
	})

	t.Run("unresolved placeholders are left intact", func(t *testing.T) {
		out, err := Process("run --flag %unknown_var%", nil)
		require.NoError(t, err)
		assert.Equal(t, "run --flag %unknown_var%", out)
	})

	t.Run("substitution is a single pass", func(t *testing.T) {
		// A value containing a placeholder token must not be re-expanded.
		vars := []types.Variable{
			{Name: "One", Value: "%two%"},
			{Name: "Two", Value: "boom"},
		}
		out, err := Process("%one% %two%", vars)
		require.NoError(t, err)
		assert.Equal(t, "%two% boom", out)
	})

	t.Run("validation failure rejects the whole operation", func(t *testing.T) {
		vars := []types.Variable{
			{Name: "Ok", Value: "fine"},
			{Name: "Bad", Value: "toolong", Rules: "string|max:3"},
		}
		_, err := Process("%ok%", vars)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max length")
	})
}

func TestValidate(t *testing.T) {
	t.Run("empty rules accept anything", func(t *testing.T) {
		assert.NoError(t, Validate(types.Variable{Name: "X"}, "anything"))
	})

	t.Run("nullable short-circuits empty values", func(t *testing.T) {
		v := types.Variable{Name: "X", Rules: "nullable|max:3"}
		assert.NoError(t, Validate(v, ""))
	})

	t.Run("nullable does not bypass rules for non-empty values", func(t *testing.T) {
		v := types.Variable{Name: "X", Rules: "nullable|max:3"}
		assert.Error(t, Validate(v, "toolong"))
	})

	t.Run("max accepts at the boundary", func(t *testing.T) {
		v := types.Variable{Name: "X", Rules: "max:5"}
		assert.NoError(t, Validate(v, "12345"))
		assert.Error(t, Validate(v, "123456"))
	})

	t.Run("unknown rules are rejected", func(t *testing.T) {
		v := types.Variable{Name: "X", Rules: "integer"}
		err := Validate(v, "42")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown rule")
	})

	t.Run("malformed max is rejected", func(t *testing.T) {
		v := types.Variable{Name: "X", Rules: "max:abc"}
		assert.Error(t, Validate(v, "x"))
	})
}
