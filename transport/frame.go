package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/btspider/limits"
)

// WriteFrame writes payload as one length-prefixed frame: a 4-byte big-endian
// length followed by the payload. Prefix and payload go out in one Write.
func WriteFrame(w io.Writer, payload []byte) error {
	if err := limits.ValidateTaskFrame(payload); err != nil {
		return err
	}

	frame := make([]byte, 0, limits.FrameHeaderSize+len(payload))
	frame = append(frame, createLengthPrefix(len(payload))...)
	frame = append(frame, payload...)

	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed frame and returns its body.
// Partial reads are retried until the frame is complete.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, limits.FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return nil, limits.ErrMessageEmpty
	}
	if length > limits.MaxTaskFrame {
		return nil, fmt.Errorf("%w: frame length %d exceeds limit %d", limits.ErrMessageTooLarge, length, limits.MaxTaskFrame)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("short frame body: %w", err)
	}
	return data, nil
}

// createLengthPrefix creates a 4-byte length prefix for n bytes of data.
func createLengthPrefix(n int) []byte {
	prefix := make([]byte, limits.FrameHeaderSize)
	binary.BigEndian.PutUint32(prefix, uint32(n))
	return prefix
}
