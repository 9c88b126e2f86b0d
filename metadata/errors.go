package metadata

import (
	"errors"
	"fmt"
)

// Fetch failure conditions. Every error returned by Client.Fetch wraps
// exactly one of them.
var (
	ErrConnect          = errors.New("connect failed")
	ErrSend             = errors.New("send failed")
	ErrRecv             = errors.New("receive failed")
	ErrHandshake        = errors.New("handshake rejected")
	ErrInfoHashMismatch = errors.New("info-hash mismatch")
	ErrNoUTMetadata     = errors.New("peer does not support ut_metadata")
	ErrMetadataSize     = errors.New("invalid metadata size")
	ErrPeerRejected     = errors.New("peer rejected piece request")
	ErrProtocol         = errors.New("protocol violation")
	ErrHashMismatch     = errors.New("metadata hash mismatch")
	ErrUndecodable      = errors.New("metadata undecodable")
)

// Fetch stages reported in FetchError.
const (
	StageConnect   = "connect"
	StageHandshake = "handshake"
	StageExtension = "extension handshake"
	StagePiece     = "piece"
	StageVerify    = "verify"
)

// FetchError represents a failed metadata fetch
type FetchError struct {
	Stage string
	Addr  string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("metadata %s failed for %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
