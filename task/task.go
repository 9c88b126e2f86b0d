package task

import (
	"context"
	"fmt"
	"net"

	"github.com/opd-ai/btspider/bencode"
	"github.com/opd-ai/btspider/dht"
)

// Kind identifies a task variant on the wire and in counters.
type Kind uint8

const (
	KindBootstrap Kind = iota + 1
	KindFindNode
	KindGetPeers
	KindFetchMetadata
	KindResponse
)

// Kinds lists every task kind in display order.
var Kinds = []Kind{KindBootstrap, KindFindNode, KindGetPeers, KindFetchMetadata, KindResponse}

func (k Kind) String() string {
	switch k {
	case KindBootstrap:
		return "bootstrap"
	case KindFindNode:
		return "find_node"
	case KindGetPeers:
		return "get_peers"
	case KindFetchMetadata:
		return "fetch_metadata"
	case KindResponse:
		return "response"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Task is a unit of deferred work executed by a worker.
type Task interface {
	Kind() Kind
	Run(ctx context.Context, env Env) error
}

// Submitter accepts tasks for asynchronous execution.
type Submitter interface {
	Submit(t Task) error
}

// Env is the crawler state tasks run against. Tables are indexed in
// listening-port order; Send uses the socket that owns the table.
type Env interface {
	Submitter

	// Tables returns one routing table per listening port.
	Tables() []*dht.RoutingTable

	// Send transmits an encoded KRPC message from the socket of table.
	Send(table int, data []byte, addr *net.UDPAddr) error

	// BootstrapNodes resolves the configured bootstrap routers.
	BootstrapNodes(ctx context.Context) []*net.UDPAddr

	// FetchMetadata downloads the metadata of infoHash from a peer.
	FetchMetadata(ctx context.Context, addr string, infoHash dht.NodeID) (*bencode.Dict, error)

	// Seen reports whether infoHash was already recorded.
	Seen(infoHash dht.NodeID) bool

	// Record persists downloaded metadata.
	Record(infoHash dht.NodeID, info *bencode.Dict) error
}
