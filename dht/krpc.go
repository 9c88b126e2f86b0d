package dht

import (
	"errors"
	"fmt"

	"github.com/opd-ai/btspider/bencode"
)

// KRPC method names (BEP 5).
const (
	MethodPing         = "ping"
	MethodFindNode     = "find_node"
	MethodGetPeers     = "get_peers"
	MethodAnnouncePeer = "announce_peer"
)

// KRPC message types.
const (
	TypeQuery = "q"
	TypeReply = "r"
)

// QueryTransactionID is the transaction id on every outgoing query.
// Replies are never matched against outstanding queries, so a constant suffices.
const QueryTransactionID = "bt"

var (
	// ErrMalformedMessage marks a datagram that is not a usable KRPC message.
	ErrMalformedMessage = errors.New("malformed krpc message")

	// ErrUnknownMethod marks a query for a method this node does not serve.
	ErrUnknownMethod = errors.New("unknown krpc method")
)

// Message is a decoded KRPC message.
type Message struct {
	T string
	Y string
	Q string
	A *bencode.Dict
	R *bencode.Dict
}

// ParseMessage decodes a datagram into a Message. Queries must carry both
// "q" and "a", replies must carry "r".
func ParseMessage(data []byte) (*Message, error) {
	dict, err := bencode.DecodeDict(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msg := &Message{}
	msg.T, _ = dict.String("t")
	y, ok := dict.String("y")
	if !ok {
		return nil, fmt.Errorf("%w: missing y", ErrMalformedMessage)
	}
	msg.Y = y

	switch y {
	case TypeQuery:
		if msg.Q, ok = dict.String("q"); !ok {
			return nil, fmt.Errorf("%w: query without method", ErrMalformedMessage)
		}
		if msg.A, ok = dict.Dict("a"); !ok {
			return nil, fmt.Errorf("%w: query without arguments", ErrMalformedMessage)
		}
	case TypeReply:
		if msg.R, ok = dict.Dict("r"); !ok {
			return nil, fmt.Errorf("%w: reply without values", ErrMalformedMessage)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedMessage, y)
	}
	return msg, nil
}

// SenderID returns the "id" argument of a query or reply.
func (m *Message) SenderID() (NodeID, bool) {
	args := m.A
	if m.Y == TypeReply {
		args = m.R
	}
	raw, ok := args.String("id")
	if !ok {
		return NodeID{}, false
	}
	id, err := NodeIDFromString(raw)
	return id, err == nil
}

// Keys below are inserted in sorted order so encoded messages are canonical.

func query(method string, args *bencode.Dict) *bencode.Dict {
	return bencode.NewDict().
		Set("a", args).
		Set("q", method).
		Set("t", QueryTransactionID).
		Set("y", TypeQuery)
}

func reply(t string, values *bencode.Dict) *bencode.Dict {
	return bencode.NewDict().
		Set("r", values).
		Set("t", t).
		Set("y", TypeReply)
}

// PingQuery builds a ping query.
func PingQuery(id NodeID) *bencode.Dict {
	return query(MethodPing, bencode.NewDict().Set("id", id.Bytes()))
}

// FindNodeQuery builds a find_node query.
func FindNodeQuery(id, target NodeID) *bencode.Dict {
	return query(MethodFindNode, bencode.NewDict().
		Set("id", id.Bytes()).
		Set("target", target.Bytes()))
}

// GetPeersQuery builds a get_peers query.
func GetPeersQuery(id, infoHash NodeID) *bencode.Dict {
	return query(MethodGetPeers, bencode.NewDict().
		Set("id", id.Bytes()).
		Set("info_hash", infoHash.Bytes()))
}

// AnnouncePeerQuery builds an announce_peer query.
func AnnouncePeerQuery(id, infoHash NodeID, port uint16, token string) *bencode.Dict {
	return query(MethodAnnouncePeer, bencode.NewDict().
		Set("id", id.Bytes()).
		Set("info_hash", infoHash.Bytes()).
		Set("port", int64(port)).
		Set("token", token))
}

// ReplyKind enumerates the replies this node sends.
type ReplyKind uint8

const (
	ReplyPing ReplyKind = iota + 1
	ReplyFindNode
	ReplyGetPeers
	ReplyAnnouncePeer
)

// String returns the method the reply answers.
func (k ReplyKind) String() string {
	switch k {
	case ReplyPing:
		return MethodPing
	case ReplyFindNode:
		return MethodFindNode
	case ReplyGetPeers:
		return MethodGetPeers
	case ReplyAnnouncePeer:
		return MethodAnnouncePeer
	default:
		return fmt.Sprintf("reply(%d)", uint8(k))
	}
}

// Reply is a reply to an inbound query.
type Reply struct {
	Kind  ReplyKind
	TxID  string
	ID    NodeID
	Nodes []byte
	Token string
}

// Dict builds the reply message.
func (r *Reply) Dict() (*bencode.Dict, error) {
	values := bencode.NewDict().Set("id", r.ID.Bytes())
	switch r.Kind {
	case ReplyPing, ReplyAnnouncePeer:
	case ReplyFindNode:
		values.Set("nodes", string(r.Nodes))
	case ReplyGetPeers:
		values.Set("nodes", string(r.Nodes)).Set("token", r.Token)
	default:
		return nil, fmt.Errorf("unknown reply kind %d", r.Kind)
	}
	return reply(r.TxID, values), nil
}

// Encode serializes the reply.
func (r *Reply) Encode() ([]byte, error) {
	d, err := r.Dict()
	if err != nil {
		return nil, err
	}
	return bencode.Encode(d)
}
