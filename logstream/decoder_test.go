package logstream

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame builds one wire frame: tag byte, three reserved bytes, big-endian
// length, payload.
func frame(tag byte, payload string) []byte {
	buf := make([]byte, headerLen+len(payload))
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	return buf
}

func TestDecoderNext(t *testing.T) {
	t.Run("decodes a stdout frame", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader(frame(1, "hello")))

		line, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, OriginStdout, line.Origin)
		assert.Equal(t, "hello", line.Text)

		_, err = dec.Next()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("non-stdout tags decode as stderr", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader(frame(2, "oops")))
		line, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, OriginStderr, line.Origin)
	})

	t.Run("trims trailing whitespace", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader(frame(1, "ready\r\n")))
		line, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, "ready", line.Text)
	})

	t.Run("skips empty payload frames", func(t *testing.T) {
		var stream bytes.Buffer
		stream.Write(frame(1, ""))
		stream.Write(frame(1, "  \n"))
		stream.Write(frame(1, "real"))

		dec := NewDecoder(&stream)
		line, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, "real", line.Text)
	})

	t.Run("reassembles frames split across reads", func(t *testing.T) {
		full := append(frame(1, "first"), frame(1, "second")...)
		dec := NewDecoder(iotest(full, 3)) // 3-byte reads

		line, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, "first", line.Text)

		line, err = dec.Next()
		require.NoError(t, err)
		assert.Equal(t, "second", line.Text)
	})

	t.Run("truncated header is an unexpected EOF", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader([]byte{1, 0, 0}))
		_, err := dec.Next()
		require.Error(t, err)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated payload is an unexpected EOF", func(t *testing.T) {
		full := frame(1, "hello")
		dec := NewDecoder(bytes.NewReader(full[:headerLen+2]))
		_, err := dec.Next()
		require.Error(t, err)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("errors are sticky", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader([]byte{1}))
		_, err1 := dec.Next()
		_, err2 := dec.Next()
		assert.Equal(t, err1, err2)
	})

	t.Run("rejects oversized payload length", func(t *testing.T) {
		// A corrupt header can declare up to 4 GiB; the declared length
		// must never be allocated wholesale.
		header := make([]byte, headerLen)
		header[0] = 1
		binary.BigEndian.PutUint32(header[4:8], uint32(MaxFrameSize+1))
		dec := NewDecoder(bytes.NewReader(header))

		_, err := dec.Next()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds limit")
	})
}

// iotest returns a reader that yields at most n bytes per Read call.
func iotest(data []byte, n int) io.Reader {
	return &shortReader{data: data, n: n}
}

type shortReader struct {
	data []byte
	n    int
}

func (r *shortReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copied := copy(p, r.data[:n])
	r.data = r.data[copied:]
	return copied, nil
}
