package dht

import (
	"encoding/binary"
	"net"
)

// CompactNodeSize is the length of one packed node record:
// id(20) || ipv4(4) || port(2), network byte order.
const CompactNodeSize = IDLength + 4 + 2

// DecodeCompactNodes unpacks a compact node list. Input whose length is not a
// positive multiple of CompactNodeSize yields an empty list.
func DecodeCompactNodes(data []byte) []Node {
	if len(data) == 0 || len(data)%CompactNodeSize != 0 {
		return []Node{}
	}

	nodes := make([]Node, 0, len(data)/CompactNodeSize)
	for off := 0; off < len(data); off += CompactNodeSize {
		rec := data[off : off+CompactNodeSize]

		var id NodeID
		copy(id[:], rec[:IDLength])
		ip := net.IPv4(rec[20], rec[21], rec[22], rec[23])
		port := binary.BigEndian.Uint16(rec[24:26])

		nodes = append(nodes, NewNode(id, ip.String(), port))
	}
	return nodes
}

// EncodeCompactNodes packs nodes into the compact format.
// Nodes without an IPv4 address are skipped.
func EncodeCompactNodes(nodes []Node) []byte {
	out := make([]byte, 0, len(nodes)*CompactNodeSize)
	for _, n := range nodes {
		ip := net.ParseIP(n.IP).To4()
		if ip == nil {
			continue
		}
		out = append(out, n.ID[:]...)
		out = append(out, ip...)
		out = binary.BigEndian.AppendUint16(out, n.Port)
	}
	return out
}
