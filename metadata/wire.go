package metadata

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/btspider/bencode"
	"github.com/opd-ai/btspider/limits"
)

const (
	protocolName = "BitTorrent protocol"

	// handshakeLen is pstrlen(1) + pstr(19) + reserved(8) + info_hash(20) + peer_id(20).
	handshakeLen = 1 + len(protocolName) + 8 + 20 + 20

	msgExtended    = 20
	extHandshakeID = 0

	// localUTMetadataID is the id we advertise for ut_metadata; peers
	// address their metadata messages to it.
	localUTMetadataID = 1

	// Metadata message types (BEP 9).
	msgTypeRequest = 0
	msgTypeData    = 1
	msgTypeReject  = 2
)

// reserved advertises the extension protocol (BEP 10): bit 0x10 of byte 5.
var reserved = [8]byte{0, 0, 0, 0, 0, 0x10, 0, 0}

func buildHandshake(infoHash, peerID [20]byte) []byte {
	buf := make([]byte, 0, handshakeLen)
	buf = append(buf, byte(len(protocolName)))
	buf = append(buf, protocolName...)
	buf = append(buf, reserved[:]...)
	buf = append(buf, infoHash[:]...)
	buf = append(buf, peerID[:]...)
	return buf
}

// checkHandshake validates the peer's 68-byte handshake reply.
func checkHandshake(reply []byte, infoHash [20]byte) error {
	if len(reply) != handshakeLen {
		return fmt.Errorf("%w: short handshake (%d bytes)", ErrHandshake, len(reply))
	}
	if int(reply[0]) != len(protocolName) {
		return fmt.Errorf("%w: protocol length %d", ErrHandshake, reply[0])
	}
	if string(reply[1:20]) != protocolName {
		return fmt.Errorf("%w: unknown protocol %q", ErrHandshake, reply[1:20])
	}
	if reply[25]&0x10 == 0 {
		return fmt.Errorf("%w: extension protocol not supported", ErrNoUTMetadata)
	}
	if string(reply[28:48]) != string(infoHash[:]) {
		return ErrInfoHashMismatch
	}
	return nil
}

// extendedMessage builds a length-prefixed extended message.
func extendedMessage(extID byte, payload *bencode.Dict) ([]byte, error) {
	body, err := bencode.Encode(payload)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 4, 4+2+len(body))
	binary.BigEndian.PutUint32(msg, uint32(2+len(body)))
	msg = append(msg, msgExtended, extID)
	return append(msg, body...), nil
}

func extHandshakeMessage() ([]byte, error) {
	m := bencode.NewDict().Set("ut_metadata", localUTMetadataID)
	return extendedMessage(extHandshakeID, bencode.NewDict().Set("m", m))
}

func pieceRequestMessage(utMetadata byte, piece int) ([]byte, error) {
	return extendedMessage(utMetadata, bencode.NewDict().
		Set("msg_type", msgTypeRequest).
		Set("piece", piece))
}

// readMessage reads one length-prefixed peer message.
// Keep-alives are returned as an empty body.
func readMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecv, err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > limits.MaxPeerMessage {
		return nil, fmt.Errorf("%w: message length %d", ErrProtocol, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecv, err)
	}
	return body, nil
}

// splitPiece separates a ut_metadata message into its leading dictionary and
// the raw piece bytes that follow it.
func splitPiece(payload []byte) (*bencode.Dict, []byte, error) {
	dec := bencode.NewDecoder(payload)
	v, err := dec.Next()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	dict, ok := v.(*bencode.Dict)
	if !ok {
		return nil, nil, fmt.Errorf("%w: piece header is not a dictionary", ErrProtocol)
	}
	return dict, payload[dec.Pos():], nil
}
