package logstream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer(t *testing.T) {
	t.Run("retains insertion order", func(t *testing.T) {
		b := NewBuffer(10)
		b.Push("a")
		b.Push("b")
		b.Push("c")
		assert.Equal(t, []string{"a", "b", "c"}, b.Lines())
	})

	t.Run("drops oldest when full", func(t *testing.T) {
		b := NewBuffer(3)
		for i := 0; i < 5; i++ {
			b.Push(fmt.Sprintf("line-%d", i))
		}
		assert.Equal(t, []string{"line-2", "line-3", "line-4"}, b.Lines())
		assert.Equal(t, 3, b.Len())
	})

	t.Run("lines returns a detached copy", func(t *testing.T) {
		b := NewBuffer(3)
		b.Push("a")
		lines := b.Lines()
		b.Push("b")
		assert.Equal(t, []string{"a"}, lines)
	})

	t.Run("non-positive max falls back to default", func(t *testing.T) {
		b := NewBuffer(0)
		for i := 0; i < DefaultBufferSize+10; i++ {
			b.Push("x")
		}
		assert.Equal(t, DefaultBufferSize, b.Len())
	})
}
