package dht

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/opd-ai/btspider/bencode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockTransport implements Transport for testing
type MockTransport struct {
	sendFunc      func(data []byte, addr net.Addr) error
	sentPackets   [][]byte
	sentAddresses []net.Addr
	mu            sync.Mutex
}

func newMockTransport() *MockTransport {
	return &MockTransport{
		sendFunc: func(data []byte, addr net.Addr) error { return nil },
	}
}

func (m *MockTransport) Send(data []byte, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentPackets = append(m.sentPackets, data)
	m.sentAddresses = append(m.sentAddresses, addr)
	return m.sendFunc(data, addr)
}

func (m *MockTransport) GetSentPackets() ([][]byte, []net.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	packets := make([][]byte, len(m.sentPackets))
	addrs := make([]net.Addr, len(m.sentAddresses))
	copy(packets, m.sentPackets)
	copy(addrs, m.sentAddresses)
	return packets, addrs
}

type findNodeCall struct {
	addr   *net.UDPAddr
	target NodeID
}

type fetchCall struct {
	ip       string
	port     uint16
	infoHash NodeID
}

// mockSink records follow-up work
type mockSink struct {
	mu        sync.Mutex
	findNodes []findNodeCall
	getPeers  []NodeID
	fetches   []fetchCall
	responses []*Reply
}

func (s *mockSink) FindNode(addr *net.UDPAddr, target NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findNodes = append(s.findNodes, findNodeCall{addr: addr, target: target})
}

func (s *mockSink) GetPeers(infoHash NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getPeers = append(s.getPeers, infoHash)
}

func (s *mockSink) FetchMetadata(ip string, port uint16, infoHash NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, fetchCall{ip: ip, port: port, infoHash: infoHash})
}

func (s *mockSink) Respond(reply *Reply, addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, reply)
}

func newTestEngine(t *testing.T) (*Engine, *MockTransport, *mockSink) {
	t.Helper()
	transport := newMockTransport()
	sink := &mockSink{}
	return NewEngine(NewRoutingTable(), transport, sink), transport, sink
}

var testPeer = &net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 51413}

func encodeMsg(t *testing.T, d *bencode.Dict) []byte {
	t.Helper()
	data, err := bencode.Encode(d)
	require.NoError(t, err)
	return data
}

func decodeReply(t *testing.T, data []byte) *bencode.Dict {
	t.Helper()
	msg, err := ParseMessage(data)
	require.NoError(t, err)
	require.Equal(t, TypeReply, msg.Y)
	return msg.R
}

func TestPingReplyUsesNeighborID(t *testing.T) {
	engine, transport, sink := newTestEngine(t)
	sender := RandomNodeID()

	q := PingQuery(sender)
	q.Set("t", "aa")
	require.NoError(t, engine.HandlePacket(encodeMsg(t, q), testPeer))

	packets, addrs := transport.GetSentPackets()
	require.Len(t, packets, 1)
	assert.Equal(t, testPeer, addrs[0])

	r := decodeReply(t, packets[0])
	id, ok := r.String("id")
	require.True(t, ok)
	local := engine.Table().ID()
	assert.Equal(t, string(sender[:10])+string(local[10:]), id)

	msg, err := ParseMessage(packets[0])
	require.NoError(t, err)
	assert.Equal(t, "aa", msg.T)

	require.Len(t, sink.findNodes, 1)
	assert.Equal(t, sender, sink.findNodes[0].target)
	assert.Equal(t, testPeer, sink.findNodes[0].addr)
}

func TestFindNodeQueryRepliesWithEmptyNodes(t *testing.T) {
	engine, transport, sink := newTestEngine(t)
	sender := RandomNodeID()

	require.NoError(t, engine.HandlePacket(encodeMsg(t, FindNodeQuery(sender, RandomNodeID())), testPeer))

	packets, _ := transport.GetSentPackets()
	require.Len(t, packets, 1)
	r := decodeReply(t, packets[0])
	nodes, ok := r.String("nodes")
	assert.True(t, ok)
	assert.Empty(t, nodes)
	assert.Len(t, sink.findNodes, 1)
	assert.Equal(t, 0, engine.Table().Len())
}

func TestGetPeersAddsSenderAndSchedulesLookup(t *testing.T) {
	engine, transport, sink := newTestEngine(t)
	sender := RandomNodeID()
	infoHash := RandomNodeID()

	require.NoError(t, engine.HandlePacket(encodeMsg(t, GetPeersQuery(sender, infoHash)), testPeer))

	packets, _ := transport.GetSentPackets()
	require.Len(t, packets, 1)
	r := decodeReply(t, packets[0])
	token, ok := r.String("token")
	require.True(t, ok)
	assert.Equal(t, string(infoHash[:2]), token)

	nodes := engine.Table().Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, sender, nodes[0].ID)
	assert.Equal(t, "203.0.113.9", nodes[0].IP)
	assert.Equal(t, uint16(51413), nodes[0].Port)

	assert.Len(t, sink.findNodes, 1)
	assert.Equal(t, []NodeID{infoHash}, sink.getPeers)
}

func TestAnnouncePeerSchedulesFetch(t *testing.T) {
	engine, transport, sink := newTestEngine(t)
	infoHash := RandomNodeID()

	q := AnnouncePeerQuery(RandomNodeID(), infoHash, 6881, Token(infoHash))
	require.NoError(t, engine.HandlePacket(encodeMsg(t, q), testPeer))

	packets, _ := transport.GetSentPackets()
	require.Len(t, packets, 1)
	r := decodeReply(t, packets[0])
	id, _ := r.String("id")
	assert.Equal(t, engine.Table().ID().Bytes(), id)

	require.Len(t, sink.fetches, 1)
	assert.Equal(t, fetchCall{ip: "203.0.113.9", port: 6881, infoHash: infoHash}, sink.fetches[0])
}

func TestAnnouncePeerImpliedPort(t *testing.T) {
	engine, _, sink := newTestEngine(t)
	infoHash := RandomNodeID()

	q := AnnouncePeerQuery(RandomNodeID(), infoHash, 1, "xx")
	args, _ := q.Dict("a")
	args.Set("implied_port", int64(1))
	require.NoError(t, engine.HandlePacket(encodeMsg(t, q), testPeer))

	require.Len(t, sink.fetches, 1)
	assert.Equal(t, uint16(51413), sink.fetches[0].port)
}

func TestFindNodeReplyGrowsTable(t *testing.T) {
	engine, transport, sink := newTestEngine(t)
	packed := EncodeCompactNodes([]Node{
		NewNode(RandomNodeID(), "198.51.100.1", 6881),
		NewNode(RandomNodeID(), "198.51.100.2", 6882),
	})
	require.Len(t, packed, 2*CompactNodeSize)

	r := &Reply{Kind: ReplyFindNode, TxID: QueryTransactionID, ID: RandomNodeID(), Nodes: packed}
	data, err := r.Encode()
	require.NoError(t, err)
	require.NoError(t, engine.HandlePacket(data, testPeer))

	assert.Equal(t, 2, engine.Table().Len())
	require.Len(t, sink.findNodes, 2)
	assert.Equal(t, "198.51.100.1:6881", sink.findNodes[0].addr.String())
	assert.Equal(t, "198.51.100.2:6882", sink.findNodes[1].addr.String())

	packets, _ := transport.GetSentPackets()
	assert.Empty(t, packets, "replies are never answered")
}

func TestDeferredReplies(t *testing.T) {
	engine, transport, sink := newTestEngine(t)
	engine.SetDeferredReplies(true)

	require.NoError(t, engine.HandlePacket(encodeMsg(t, PingQuery(RandomNodeID())), testPeer))

	packets, _ := transport.GetSentPackets()
	assert.Empty(t, packets)
	require.Len(t, sink.responses, 1)
	assert.Equal(t, ReplyPing, sink.responses[0].Kind)
}

func TestDroppedMessagesHaveNoSideEffects(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"garbage", []byte("not bencode"), ErrMalformedMessage},
		{"truncated", []byte("d1:y1:q1:q4:pi"), ErrMalformedMessage},
		{"missing y", []byte("d1:t2:aae"), ErrMalformedMessage},
		{"query without args", []byte("d1:q4:ping1:t2:aa1:y1:qe"), ErrMalformedMessage},
		{"reply without r", []byte("d1:t2:aa1:y1:re"), ErrMalformedMessage},
		{"error message", []byte("d1:eli201e4:oopse1:t2:aa1:y1:ee"), ErrMalformedMessage},
		{"unknown method", []byte("d1:ad2:id20:abcdefghij0123456789e1:q4:vote1:t2:aa1:y1:qe"), ErrUnknownMethod},
		{"get_peers without info_hash", []byte("d1:ad2:id20:abcdefghij0123456789e1:q9:get_peers1:t2:aa1:y1:qe"), ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, transport, sink := newTestEngine(t)
			err := engine.HandlePacket(tt.data, testPeer)
			assert.True(t, errors.Is(err, tt.wantErr), "error %v", err)

			packets, _ := transport.GetSentPackets()
			assert.Empty(t, packets)
			assert.Empty(t, sink.findNodes)
			assert.Empty(t, sink.getPeers)
			assert.Empty(t, sink.fetches)
			assert.Equal(t, 0, engine.Table().Len())
		})
	}
}

func TestReplyWithoutNodesIsIgnored(t *testing.T) {
	engine, _, sink := newTestEngine(t)
	r := &Reply{Kind: ReplyPing, TxID: "bt", ID: RandomNodeID()}
	data, err := r.Encode()
	require.NoError(t, err)

	assert.NoError(t, engine.HandlePacket(data, testPeer))
	assert.Empty(t, sink.findNodes)
}

func TestSendFailureDoesNotStopFollowups(t *testing.T) {
	engine, transport, sink := newTestEngine(t)
	transport.sendFunc = func([]byte, net.Addr) error { return errors.New("network unreachable") }

	require.NoError(t, engine.HandlePacket(encodeMsg(t, PingQuery(RandomNodeID())), testPeer))
	assert.Len(t, sink.findNodes, 1)
}

func TestQueryBuildersAreCanonical(t *testing.T) {
	var id, target NodeID
	copy(id[:], "abcdefghij0123456789")
	copy(target[:], "mnopqrstuvwxyz123456")

	assert.Equal(t,
		"d1:ad2:id20:abcdefghij01234567896:target20:mnopqrstuvwxyz123456e1:q9:find_node1:t2:bt1:y1:qe",
		string(encodeMsg(t, FindNodeQuery(id, target))))

	r := &Reply{Kind: ReplyGetPeers, TxID: "aa", ID: id, Token: "ab"}
	data, err := r.Encode()
	require.NoError(t, err)
	assert.Equal(t, "d1:rd2:id20:abcdefghij01234567895:nodes0:5:token2:abe1:t2:aa1:y1:re", string(data))
}
