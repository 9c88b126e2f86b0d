// Package limits provides centralized size limits for the crawler's wire protocols.
// This ensures consistent validation across the DHT, metadata and worker components.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagram is the largest UDP datagram the front-end reads.
	// KRPC messages are far smaller; anything above is truncated garbage.
	MaxDatagram = 2048

	// MetadataPieceSize is the fixed ut_metadata piece length (16 KiB, BEP 9).
	MetadataPieceSize = 16384

	// MaxMetadataPieces caps the number of pieces a peer may declare.
	MaxMetadataPieces = 1000

	// MaxMetadataSize is the largest metadata_size accepted from a peer.
	// Larger declarations are treated as protocol abuse.
	MaxMetadataSize = MetadataPieceSize * MaxMetadataPieces

	// MaxPeerMessage is the largest length-prefixed BitTorrent message read from a peer.
	MaxPeerMessage = 20 * 1024 * 1024

	// MaxTaskFrame is the largest serialized task frame exchanged with a worker (2 MiB).
	MaxTaskFrame = 2 * 1024 * 1024

	// FrameHeaderSize is the length prefix size of a task frame; the body starts at this offset.
	FrameHeaderSize = 4

	// MaxActiveTasks is the process-wide ceiling of concurrently active task executions.
	// Submissions beyond it are shed.
	MaxActiveTasks = 1000
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateTaskFrame validates a serialized task against MaxTaskFrame.
func ValidateTaskFrame(frame []byte) error {
	if len(frame) == 0 {
		return ErrMessageEmpty
	}
	if len(frame) > MaxTaskFrame {
		return fmt.Errorf("%w: task frame size %d exceeds limit %d", ErrMessageTooLarge, len(frame), MaxTaskFrame)
	}
	return nil
}

// ValidateMetadataSize checks a peer-declared metadata_size.
// Zero or negative sizes are reported as empty.
func ValidateMetadataSize(size int64) error {
	if size <= 0 {
		return ErrMessageEmpty
	}
	if size > MaxMetadataSize {
		return fmt.Errorf("%w: metadata size %d exceeds limit %d", ErrMessageTooLarge, size, MaxMetadataSize)
	}
	return nil
}

// ValidateMetadataPiece validates a single received metadata piece.
func ValidateMetadataPiece(piece []byte) error {
	if len(piece) == 0 {
		return ErrMessageEmpty
	}
	if len(piece) > MetadataPieceSize {
		return fmt.Errorf("%w: metadata piece size %d exceeds limit %d", ErrMessageTooLarge, len(piece), MetadataPieceSize)
	}
	return nil
}

// PieceCount returns the number of ut_metadata pieces needed for size bytes.
func PieceCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + MetadataPieceSize - 1) / MetadataPieceSize)
}
