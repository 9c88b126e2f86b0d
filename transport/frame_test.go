package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/opd-ai/btspider/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns at most chunkSize bytes per Read, like a busy stream.
type chunkReader struct {
	data      []byte
	chunkSize int
	readCalls int
}

func (c *chunkReader) Read(b []byte) (int, error) {
	c.readCalls++
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.chunkSize
	if n > len(b) {
		n = len(b)
	}
	if n > len(c.data) {
		n = len(c.data)
	}
	copy(b, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestFrameLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))

	out := buf.Bytes()
	require.Len(t, out, limits.FrameHeaderSize+5)
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(out[:4]))
	assert.Equal(t, "hello", string(out[limits.FrameHeaderSize:]))
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("a"),
		bytes.Repeat([]byte{0xAB}, 70000),
		make([]byte, limits.MaxTaskFrame),
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&buf, p))
	}
	for _, p := range payloads {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameHandlesPartialReads(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("xyz"), 1000)
	require.NoError(t, WriteFrame(&buf, payload))

	r := &chunkReader{data: buf.Bytes(), chunkSize: 7}
	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Greater(t, r.readCalls, 100)
}

func TestFrameErrors(t *testing.T) {
	t.Run("write empty", func(t *testing.T) {
		assert.ErrorIs(t, WriteFrame(io.Discard, nil), limits.ErrMessageEmpty)
	})

	t.Run("write oversized", func(t *testing.T) {
		err := WriteFrame(io.Discard, make([]byte, limits.MaxTaskFrame+1))
		assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
	})

	t.Run("zero length header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
		assert.ErrorIs(t, err, limits.ErrMessageEmpty)
	})

	t.Run("oversized header", func(t *testing.T) {
		header := createLengthPrefix(limits.MaxTaskFrame + 1)
		_, err := ReadFrame(bytes.NewReader(header))
		assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated body", func(t *testing.T) {
		data := append(createLengthPrefix(10), []byte("short")...)
		_, err := ReadFrame(bytes.NewReader(data))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}
