package dht

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"net"
	"strconv"
)

// IDLength is the length of node identities and info-hashes.
const IDLength = 20

// ErrInvalidID is returned when a byte string is not a 20-byte identity.
var ErrInvalidID = errors.New("invalid node id length")

// NodeID is a 160-bit DHT identity. Info-hashes share the same space.
type NodeID [IDLength]byte

// RandomNodeID returns a uniformly random identity.
func RandomNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return id
}

// NodeIDFromString converts a raw 20-byte string, as carried on the wire, into a NodeID.
func NodeIDFromString(s string) (NodeID, error) {
	var id NodeID
	if len(s) != IDLength {
		return id, fmt.Errorf("%w: got %d bytes", ErrInvalidID, len(s))
	}
	copy(id[:], s)
	return id, nil
}

// NodeIDFromHex parses a 40-character hex identity.
func NodeIDFromHex(s string) (NodeID, error) {
	var id NodeID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid hex node id: %w", err)
	}
	if len(decoded) != IDLength {
		return id, fmt.Errorf("%w: got %d bytes", ErrInvalidID, len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// Bytes returns the wire representation of the identity.
func (id NodeID) Bytes() string {
	return string(id[:])
}

// String returns the hex form of the identity.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Xor returns the XOR distance between two identities.
func (id NodeID) Xor(other NodeID) NodeID {
	var d NodeID
	for i := 0; i < IDLength; i++ {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// BitLen returns the position of the highest set bit, 1..160, or 0 for the zero identity.
// Applied to a distance it yields the bucket index.
func (id NodeID) BitLen() int {
	for i := 0; i < IDLength; i++ {
		if id[i] != 0 {
			return (IDLength-i)*8 - bits.LeadingZeros8(id[i])
		}
	}
	return 0
}

// Less reports whether id is numerically smaller than other.
func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// NeighborID returns target[0:10] ++ self[10:20], the id the crawler
// presents to a peer asking about target.
func NeighborID(target, self NodeID) NodeID {
	var id NodeID
	copy(id[:IDLength/2], target[:IDLength/2])
	copy(id[IDLength/2:], self[IDLength/2:])
	return id
}

// Node is a peer observed in the DHT.
type Node struct {
	ID    NodeID
	IP    string
	Port  uint16
	Score int64
}

// NewNode creates a node record with a zero score.
func NewNode(id NodeID, ip string, port uint16) Node {
	return Node{ID: id, IP: ip, Port: port}
}

// Addr returns the UDP address of the node.
func (n Node) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(n.IP), Port: int(n.Port)}
}

// HostPort returns "ip:port".
func (n Node) HostPort() string {
	return net.JoinHostPort(n.IP, strconv.Itoa(int(n.Port)))
}

// Distance calculates the XOR distance between this node and an identity.
func (n Node) Distance(target NodeID) NodeID {
	return n.ID.Xor(target)
}
