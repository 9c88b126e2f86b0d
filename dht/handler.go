package dht

import (
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

// Transport sends an encoded KRPC message from the engine's local socket.
type Transport interface {
	Send(data []byte, addr net.Addr) error
}

// TaskSink receives the follow-up work the engine derives from a packet.
// Implementations must not block the caller.
type TaskSink interface {
	// FindNode probes addr for nodes near target.
	FindNode(addr *net.UDPAddr, target NodeID)
	// GetPeers asks the closest known nodes about infoHash.
	GetPeers(infoHash NodeID)
	// FetchMetadata downloads the metadata of infoHash from a peer.
	FetchMetadata(ip string, port uint16, infoHash NodeID)
	// Respond sends reply to addr later.
	Respond(reply *Reply, addr *net.UDPAddr)
}

// Engine interprets inbound KRPC messages for one listening port.
// It holds no per-packet state; everything it learns goes to the routing table.
type Engine struct {
	table        *RoutingTable
	transport    Transport
	tasks        TaskSink
	deferReplies bool
}

// NewEngine creates a protocol engine around a routing table.
func NewEngine(table *RoutingTable, transport Transport, tasks TaskSink) *Engine {
	return &Engine{
		table:     table,
		transport: transport,
		tasks:     tasks,
	}
}

// SetDeferredReplies makes the engine hand replies to the task sink instead
// of sending them inline.
func (e *Engine) SetDeferredReplies(deferred bool) {
	e.deferReplies = deferred
}

// Table returns the routing table the engine feeds.
func (e *Engine) Table() *RoutingTable {
	return e.table
}

// HandlePacket decodes a datagram and processes it.
// A non-nil error means the datagram was dropped without side effects.
func (e *Engine) HandlePacket(data []byte, from *net.UDPAddr) error {
	msg, err := ParseMessage(data)
	if err != nil {
		return err
	}
	return e.HandleMessage(msg, from)
}

// HandleMessage processes a decoded message received from the given address.
func (e *Engine) HandleMessage(msg *Message, from *net.UDPAddr) error {
	switch msg.Y {
	case TypeQuery:
		return e.handleQuery(msg, from)
	case TypeReply:
		return e.handleReply(msg)
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrMalformedMessage, msg.Y)
	}
}

func (e *Engine) handleQuery(msg *Message, from *net.UDPAddr) error {
	switch msg.Q {
	case MethodPing:
		return e.handlePing(msg, from)
	case MethodFindNode:
		return e.handleFindNode(msg, from)
	case MethodGetPeers:
		return e.handleGetPeers(msg, from)
	case MethodAnnouncePeer:
		return e.handleAnnouncePeer(msg, from)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, msg.Q)
	}
}

// senderOrRandom returns the sender's claimed id, or a random one when the
// claim is missing or malformed.
func senderOrRandom(msg *Message) (NodeID, bool) {
	if id, ok := msg.SenderID(); ok {
		return id, true
	}
	return RandomNodeID(), false
}

func (e *Engine) handlePing(msg *Message, from *net.UDPAddr) error {
	sender, _ := senderOrRandom(msg)
	e.reply(&Reply{
		Kind: ReplyPing,
		TxID: msg.T,
		ID:   NeighborID(sender, e.table.ID()),
	}, from)
	e.tasks.FindNode(from, sender)
	return nil
}

func (e *Engine) handleFindNode(msg *Message, from *net.UDPAddr) error {
	sender, _ := senderOrRandom(msg)
	e.reply(&Reply{
		Kind: ReplyFindNode,
		TxID: msg.T,
		ID:   NeighborID(sender, e.table.ID()),
	}, from)
	e.tasks.FindNode(from, sender)
	return nil
}

func (e *Engine) handleGetPeers(msg *Message, from *net.UDPAddr) error {
	infoHash, err := infoHashArg(msg)
	if err != nil {
		return err
	}

	sender, valid := senderOrRandom(msg)
	if valid {
		e.table.AddNode(NewNode(sender, from.IP.String(), uint16(from.Port)))
	}

	e.reply(&Reply{
		Kind:  ReplyGetPeers,
		TxID:  msg.T,
		ID:    NeighborID(sender, e.table.ID()),
		Token: Token(infoHash),
	}, from)
	e.tasks.FindNode(from, sender)
	e.tasks.GetPeers(infoHash)
	return nil
}

func (e *Engine) handleAnnouncePeer(msg *Message, from *net.UDPAddr) error {
	infoHash, err := infoHashArg(msg)
	if err != nil {
		return err
	}

	e.reply(&Reply{
		Kind: ReplyAnnouncePeer,
		TxID: msg.T,
		ID:   e.table.ID(),
	}, from)

	port, ok := announcedPort(msg, from)
	if !ok {
		return fmt.Errorf("%w: announce_peer without usable port", ErrMalformedMessage)
	}
	e.tasks.FetchMetadata(from.IP.String(), port, infoHash)
	return nil
}

func (e *Engine) handleReply(msg *Message) error {
	raw, ok := msg.R.String("nodes")
	if !ok {
		return nil
	}

	nodes := DecodeCompactNodes([]byte(raw))
	for _, node := range nodes {
		e.table.AddNode(node)
		e.tasks.FindNode(node.Addr(), node.ID)
	}
	return nil
}

func (e *Engine) reply(r *Reply, to *net.UDPAddr) {
	if e.deferReplies {
		e.tasks.Respond(r, to)
		return
	}

	data, err := r.Encode()
	if err == nil {
		err = e.transport.Send(data, to)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"method":   r.Kind.String(),
			"to":       to.String(),
			"error":    err.Error(),
		}).Debug("Failed to send KRPC reply")
	}
}

// Token derives the opaque get_peers token from an info-hash.
// Tokens are never validated; they only keep announcers talking to us.
func Token(infoHash NodeID) string {
	return string(infoHash[:2])
}

func infoHashArg(msg *Message) (NodeID, error) {
	raw, ok := msg.A.String("info_hash")
	if !ok {
		return NodeID{}, fmt.Errorf("%w: missing info_hash", ErrMalformedMessage)
	}
	id, err := NodeIDFromString(raw)
	if err != nil {
		return NodeID{}, errors.Join(ErrMalformedMessage, err)
	}
	return id, nil
}

// announcedPort returns the peer port of an announce_peer query, honouring
// implied_port (BEP 5).
func announcedPort(msg *Message, from *net.UDPAddr) (uint16, bool) {
	if implied, ok := msg.A.Int("implied_port"); ok && implied == 1 {
		return uint16(from.Port), from.Port > 0
	}
	port, ok := msg.A.Int("port")
	if !ok || port <= 0 || port > 65535 {
		return 0, false
	}
	return uint16(port), true
}
