package task

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/opd-ai/btspider/bencode"
	"github.com/opd-ai/btspider/dht"
	"github.com/sirupsen/logrus"
)

// DefaultTries is the retry budget of a freshly announced metadata fetch.
const DefaultTries = 3

// ErrNoBootstrapNodes is returned when no bootstrap router resolves.
var ErrNoBootstrapNodes = errors.New("no bootstrap nodes resolved")

// Bootstrap probes the configured routers from every table with a random
// neighbor target, seeding or refreshing the tables.
type Bootstrap struct{}

func (*Bootstrap) Kind() Kind { return KindBootstrap }

func (t *Bootstrap) Run(ctx context.Context, env Env) error {
	nodes := env.BootstrapNodes(ctx)
	if len(nodes) == 0 {
		return ErrNoBootstrapNodes
	}

	target := dht.RandomNodeID()
	var errs []error
	for i, table := range env.Tables() {
		query, err := bencode.Encode(dht.FindNodeQuery(table.ID(), dht.NeighborID(target, table.ID())))
		if err != nil {
			return err
		}
		for _, addr := range nodes {
			if err := sendQuery(env, i, query, addr); err != nil {
				errs = append(errs, err)
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bootstrap.Run",
		"routers":  len(nodes),
		"tables":   len(env.Tables()),
		"failed":   len(errs),
	}).Debug("Bootstrap probes sent")
	return errors.Join(errs...)
}

// FindNode asks one node for neighbors of Target from every table.
type FindNode struct {
	IP     string     `msgpack:"ip"`
	Port   uint16     `msgpack:"port"`
	Target dht.NodeID `msgpack:"target"`
}

func (*FindNode) Kind() Kind { return KindFindNode }

func (t *FindNode) Run(ctx context.Context, env Env) error {
	addr, err := udpAddr(t.IP, t.Port)
	if err != nil {
		return err
	}

	target := t.Target
	if target == (dht.NodeID{}) {
		target = dht.RandomNodeID()
	}

	var errs []error
	for i, table := range env.Tables() {
		query, err := bencode.Encode(dht.FindNodeQuery(table.ID(), dht.NeighborID(target, table.ID())))
		if err != nil {
			return err
		}
		if err := sendQuery(env, i, query, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetPeers asks the nodes closest to InfoHash in every table for peers.
type GetPeers struct {
	InfoHash dht.NodeID `msgpack:"info_hash"`
}

func (*GetPeers) Kind() Kind { return KindGetPeers }

func (t *GetPeers) Run(ctx context.Context, env Env) error {
	var errs []error
	for i, table := range env.Tables() {
		query, err := bencode.Encode(dht.GetPeersQuery(table.ID(), t.InfoHash))
		if err != nil {
			return err
		}
		for _, node := range table.GetTopNodesByNodeID(t.InfoHash, dht.BucketSize) {
			if err := sendQuery(env, i, query, node.Addr()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// FetchMetadata downloads and records the metadata of an announced torrent.
// A failed download is re-submitted with one try less until Tries is spent.
type FetchMetadata struct {
	IP       string     `msgpack:"ip"`
	Port     uint16     `msgpack:"port"`
	InfoHash dht.NodeID `msgpack:"info_hash"`
	Tries    int        `msgpack:"tries"`
}

func (*FetchMetadata) Kind() Kind { return KindFetchMetadata }

func (t *FetchMetadata) Run(ctx context.Context, env Env) error {
	if env.Seen(t.InfoHash) {
		return nil
	}

	addr := net.JoinHostPort(t.IP, strconv.Itoa(int(t.Port)))
	info, err := env.FetchMetadata(ctx, addr, t.InfoHash)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "FetchMetadata.Run",
			"peer":      addr,
			"info_hash": t.InfoHash.String(),
			"tries":     t.Tries,
			"error":     err.Error(),
		}).Debug("Metadata fetch failed")

		if t.Tries > 0 {
			retry := *t
			retry.Tries--
			return env.Submit(&retry)
		}
		return nil
	}

	name, ok := info.String("name")
	if !ok || name == "" {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":  "FetchMetadata.Run",
		"info_hash": t.InfoHash.String(),
	}).Info(name)
	return env.Record(t.InfoHash, info)
}

// Response sends a deferred reply to an inbound query from the socket of Table.
type Response struct {
	Table int           `msgpack:"table"`
	Reply dht.ReplyKind `msgpack:"reply"`
	TxID  string        `msgpack:"t"`
	IP    string        `msgpack:"ip"`
	Port  uint16        `msgpack:"port"`
	ID    dht.NodeID    `msgpack:"id"`
	Token string        `msgpack:"token,omitempty"`
}

func (*Response) Kind() Kind { return KindResponse }

func (t *Response) Run(ctx context.Context, env Env) error {
	addr, err := udpAddr(t.IP, t.Port)
	if err != nil {
		return err
	}

	reply := &dht.Reply{Kind: t.Reply, TxID: t.TxID, ID: t.ID, Token: t.Token}
	data, err := reply.Encode()
	if err != nil {
		return err
	}
	return env.Send(t.Table, data, addr)
}

func sendQuery(env Env, table int, query []byte, addr *net.UDPAddr) error {
	if err := env.Send(table, query, addr); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

func udpAddr(ip string, port uint16) (*net.UDPAddr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || port == 0 {
		return nil, fmt.Errorf("invalid node address %s:%d", ip, port)
	}
	return &net.UDPAddr{IP: parsed, Port: int(port)}, nil
}
