// Package limits provides centralized size constants and validation functions
// for the crawler's wire protocols.
//
// # Size Hierarchy
//
//   - MaxDatagram (2048 bytes): the read buffer of every KRPC UDP socket.
//
//   - MetadataPieceSize (16 KiB): the fixed ut_metadata piece length defined by BEP 9.
//
//   - MaxMetadataSize (1000 pieces): the largest metadata_size a peer may declare.
//     Anything larger is rejected before a single piece is requested.
//
//   - MaxTaskFrame (2 MiB): the largest serialized task exchanged between the
//     front-end and a worker.
//
//   - MaxActiveTasks (1000): the process-wide ceiling of concurrently active
//     task executions. Submissions above it are shed, not queued.
//
// # Validation Functions
//
//	err := limits.ValidateMetadataSize(declared)
//	if err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
package limits
