package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEscapeChar(t *testing.T) {
	t.Run("empty defaults to ctrl-]", func(t *testing.T) {
		c, err := ParseEscapeChar("")
		require.NoError(t, err)
		assert.Equal(t, byte(DefaultEscapeChar), c)
	})

	t.Run("single character", func(t *testing.T) {
		c, err := ParseEscapeChar("q")
		require.NoError(t, err)
		assert.Equal(t, byte('q'), c)
	})

	t.Run("caret notation", func(t *testing.T) {
		c, err := ParseEscapeChar("^]")
		require.NoError(t, err)
		assert.Equal(t, byte(0x1D), c)

		c, err = ParseEscapeChar("^A")
		require.NoError(t, err)
		assert.Equal(t, byte(1), c)
	})

	t.Run("invalid forms rejected", func(t *testing.T) {
		_, err := ParseEscapeChar("^1")
		assert.Error(t, err)
		_, err = ParseEscapeChar("abc")
		assert.Error(t, err)
	})
}

func TestFormatEscapeChar(t *testing.T) {
	assert.Equal(t, "^]", FormatEscapeChar(0x1D))
	assert.Equal(t, "^A", FormatEscapeChar(1))
	assert.Equal(t, "q", FormatEscapeChar('q'))
}
