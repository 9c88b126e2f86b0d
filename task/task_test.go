package task

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/opd-ai/btspider/bencode"
	"github.com/opd-ai/btspider/dht"
	"github.com/opd-ai/btspider/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type sentPacket struct {
	table int
	msg   *dht.Message
	addr  *net.UDPAddr
}

// fakeEnv records everything tasks do.
type fakeEnv struct {
	mu         sync.Mutex
	tables     []*dht.RoutingTable
	routers    []*net.UDPAddr
	sent       []sentPacket
	submitted  []Task
	fetchAddrs []string
	fetch      func(addr string) (*bencode.Dict, error)
	seen       map[dht.NodeID]bool
	records    map[dht.NodeID]*bencode.Dict
	sendErr    error
}

func newFakeEnv(tables int) *fakeEnv {
	env := &fakeEnv{
		seen:    make(map[dht.NodeID]bool),
		records: make(map[dht.NodeID]*bencode.Dict),
	}
	for i := 0; i < tables; i++ {
		env.tables = append(env.tables, dht.NewRoutingTable())
	}
	return env
}

func (e *fakeEnv) Submit(t Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, t)
	return nil
}

func (e *fakeEnv) Tables() []*dht.RoutingTable { return e.tables }

func (e *fakeEnv) Send(table int, data []byte, addr *net.UDPAddr) error {
	if e.sendErr != nil {
		return e.sendErr
	}
	msg, err := dht.ParseMessage(data)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, sentPacket{table: table, msg: msg, addr: addr})
	return nil
}

func (e *fakeEnv) BootstrapNodes(ctx context.Context) []*net.UDPAddr { return e.routers }

func (e *fakeEnv) FetchMetadata(ctx context.Context, addr string, infoHash dht.NodeID) (*bencode.Dict, error) {
	e.mu.Lock()
	e.fetchAddrs = append(e.fetchAddrs, addr)
	e.mu.Unlock()
	return e.fetch(addr)
}

func (e *fakeEnv) Seen(infoHash dht.NodeID) bool { return e.seen[infoHash] }

func (e *fakeEnv) Record(infoHash dht.NodeID, info *bencode.Dict) error {
	e.records[infoHash] = info
	e.seen[infoHash] = true
	return nil
}

func argID(t *testing.T, msg *dht.Message, key string) dht.NodeID {
	t.Helper()
	raw, ok := msg.A.String(key)
	require.True(t, ok, "missing %s", key)
	id, err := dht.NodeIDFromString(raw)
	require.NoError(t, err)
	return id
}

func TestMarshalRoundTrip(t *testing.T) {
	tasks := []Task{
		&Bootstrap{},
		&FindNode{IP: "198.51.100.1", Port: 6881, Target: dht.RandomNodeID()},
		&GetPeers{InfoHash: dht.RandomNodeID()},
		&FetchMetadata{IP: "198.51.100.2", Port: 51413, InfoHash: dht.RandomNodeID(), Tries: 3},
		&Response{Table: 1, Reply: dht.ReplyGetPeers, TxID: "aa", IP: "198.51.100.3", Port: 1, ID: dht.RandomNodeID(), Token: "xy"},
	}

	for _, original := range tasks {
		t.Run(original.Kind().String(), func(t *testing.T) {
			data, err := Marshal(original)
			require.NoError(t, err)
			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, original, got)
		})
	}
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte{0xc1})
	assert.Error(t, err)

	data, err := msgpack.Marshal(&envelope{Kind: 99, Payload: msgpack.RawMessage{0x80}})
	require.NoError(t, err)
	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "fetch_metadata", KindFetchMetadata.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
	assert.Len(t, Kinds, 5)
}

func TestBootstrapRun(t *testing.T) {
	env := newFakeEnv(2)
	env.routers = []*net.UDPAddr{
		{IP: net.IPv4(192, 0, 2, 1), Port: 6881},
		{IP: net.IPv4(192, 0, 2, 2), Port: 6881},
	}

	require.NoError(t, (&Bootstrap{}).Run(context.Background(), env))
	require.Len(t, env.sent, 4)

	var prefix string
	for _, p := range env.sent {
		table := env.tables[p.table]
		assert.Equal(t, dht.MethodFindNode, p.msg.Q)
		assert.Equal(t, table.ID(), argID(t, p.msg, "id"))

		target := argID(t, p.msg, "target")
		assert.Equal(t, table.ID().Bytes()[10:], target.Bytes()[10:])
		if prefix == "" {
			prefix = target.Bytes()[:10]
		}
		assert.Equal(t, prefix, target.Bytes()[:10], "one random target per run")
	}
}

func TestBootstrapWithoutRouters(t *testing.T) {
	env := newFakeEnv(1)
	assert.ErrorIs(t, (&Bootstrap{}).Run(context.Background(), env), ErrNoBootstrapNodes)
	assert.Empty(t, env.sent)
}

func TestFindNodeRun(t *testing.T) {
	env := newFakeEnv(3)
	target := dht.RandomNodeID()

	task := &FindNode{IP: "198.51.100.1", Port: 6881, Target: target}
	require.NoError(t, task.Run(context.Background(), env))
	require.Len(t, env.sent, 3)

	for i, p := range env.sent {
		assert.Equal(t, i, p.table)
		assert.Equal(t, "198.51.100.1:6881", p.addr.String())
		assert.Equal(t, dht.NeighborID(target, env.tables[i].ID()), argID(t, p.msg, "target"))
		assert.Equal(t, dht.QueryTransactionID, p.msg.T)
	}
}

func TestFindNodeErrors(t *testing.T) {
	env := newFakeEnv(1)
	assert.Error(t, (&FindNode{IP: "not-an-ip", Port: 6881}).Run(context.Background(), env))
	assert.Error(t, (&FindNode{IP: "198.51.100.1"}).Run(context.Background(), env))

	env.sendErr = errors.New("rate limited")
	err := (&FindNode{IP: "198.51.100.1", Port: 6881}).Run(context.Background(), env)
	assert.ErrorIs(t, err, env.sendErr)
}

func TestGetPeersRun(t *testing.T) {
	env := newFakeEnv(1)
	table := env.tables[0]
	for i := 0; i < 20; i++ {
		table.AddNode(dht.NewNode(dht.RandomNodeID(), fmt.Sprintf("198.51.100.%d", i+1), 6881))
	}
	infoHash := dht.RandomNodeID()

	require.NoError(t, (&GetPeers{InfoHash: infoHash}).Run(context.Background(), env))

	want := table.GetTopNodesByNodeID(infoHash, dht.BucketSize)
	require.Len(t, env.sent, len(want))
	for i, p := range env.sent {
		assert.Equal(t, dht.MethodGetPeers, p.msg.Q)
		assert.Equal(t, infoHash, argID(t, p.msg, "info_hash"))
		assert.Equal(t, want[i].HostPort(), p.addr.String())
	}
}

func TestFetchMetadataRetriesOnFailure(t *testing.T) {
	env := newFakeEnv(1)
	env.fetch = func(addr string) (*bencode.Dict, error) {
		return nil, &metadata.FetchError{Stage: metadata.StagePiece, Addr: addr, Err: metadata.ErrPeerRejected}
	}
	infoHash := dht.RandomNodeID()

	task := &FetchMetadata{IP: "198.51.100.9", Port: 51413, InfoHash: infoHash, Tries: 3}
	require.NoError(t, task.Run(context.Background(), env))

	assert.Equal(t, []string{"198.51.100.9:51413"}, env.fetchAddrs)
	require.Len(t, env.submitted, 1)
	assert.Equal(t, &FetchMetadata{IP: "198.51.100.9", Port: 51413, InfoHash: infoHash, Tries: 2}, env.submitted[0])
	assert.Equal(t, 3, task.Tries, "the failed task itself is unchanged")
	assert.Empty(t, env.records)
}

func TestFetchMetadataExhausted(t *testing.T) {
	env := newFakeEnv(1)
	env.fetch = func(string) (*bencode.Dict, error) { return nil, metadata.ErrConnect }

	task := &FetchMetadata{IP: "198.51.100.9", Port: 51413, InfoHash: dht.RandomNodeID(), Tries: 0}
	assert.NoError(t, task.Run(context.Background(), env))
	assert.Empty(t, env.submitted)
}

func TestFetchMetadataRecords(t *testing.T) {
	env := newFakeEnv(1)
	withName := bencode.NewDict().Set("name", "ubuntu.iso").Set("length", 42)
	env.fetch = func(string) (*bencode.Dict, error) { return withName, nil }
	infoHash := dht.RandomNodeID()

	task := &FetchMetadata{IP: "198.51.100.9", Port: 51413, InfoHash: infoHash, Tries: 3}
	require.NoError(t, task.Run(context.Background(), env))
	assert.Same(t, withName, env.records[infoHash])

	// Already recorded: no second download.
	require.NoError(t, task.Run(context.Background(), env))
	assert.Len(t, env.fetchAddrs, 1)
}

func TestFetchMetadataWithoutNameIsDiscarded(t *testing.T) {
	env := newFakeEnv(1)
	env.fetch = func(string) (*bencode.Dict, error) { return bencode.NewDict().Set("length", 1), nil }

	task := &FetchMetadata{IP: "198.51.100.9", Port: 51413, InfoHash: dht.RandomNodeID(), Tries: 3}
	require.NoError(t, task.Run(context.Background(), env))
	assert.Empty(t, env.records)
	assert.Empty(t, env.submitted)
}

func TestResponseRun(t *testing.T) {
	env := newFakeEnv(2)
	id := dht.RandomNodeID()

	task := &Response{Table: 1, Reply: dht.ReplyGetPeers, TxID: "zz", IP: "198.51.100.4", Port: 6881, ID: id, Token: "ab"}
	require.NoError(t, task.Run(context.Background(), env))

	require.Len(t, env.sent, 1)
	p := env.sent[0]
	assert.Equal(t, 1, p.table)
	assert.Equal(t, dht.TypeReply, p.msg.Y)
	assert.Equal(t, "zz", p.msg.T)
	token, _ := p.msg.R.String("token")
	assert.Equal(t, "ab", token)
	gotID, _ := p.msg.R.String("id")
	assert.Equal(t, id.Bytes(), gotID)

	bad := &Response{Table: 0, Reply: dht.ReplyKind(0), IP: "198.51.100.4", Port: 6881}
	assert.Error(t, bad.Run(context.Background(), env))
}

type recordingSubmitter struct {
	tasks []Task
	err   error
}

func (r *recordingSubmitter) Submit(t Task) error {
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func TestSinkSubmitsTasks(t *testing.T) {
	sub := &recordingSubmitter{}
	sink := NewSink(sub, 2)
	addr := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 5), Port: 6881}
	id := dht.RandomNodeID()

	sink.FindNode(addr, id)
	sink.GetPeers(id)
	sink.FetchMetadata("203.0.113.5", 51413, id)
	sink.Respond(&dht.Reply{Kind: dht.ReplyPing, TxID: "aa", ID: id}, addr)

	require.Len(t, sub.tasks, 4)
	assert.Equal(t, &FindNode{IP: "203.0.113.5", Port: 6881, Target: id}, sub.tasks[0])
	assert.Equal(t, &GetPeers{InfoHash: id}, sub.tasks[1])
	assert.Equal(t, &FetchMetadata{IP: "203.0.113.5", Port: 51413, InfoHash: id, Tries: DefaultTries}, sub.tasks[2])
	assert.Equal(t, &Response{Table: 2, Reply: dht.ReplyPing, TxID: "aa", IP: "203.0.113.5", Port: 6881, ID: id}, sub.tasks[3])

	var _ dht.TaskSink = sink
}

func TestSinkDropsRejectedTasks(t *testing.T) {
	sub := &recordingSubmitter{err: errors.New("overloaded")}
	sink := NewSink(sub, 0)
	assert.NotPanics(t, func() { sink.GetPeers(dht.RandomNodeID()) })
	assert.Empty(t, sub.tasks)
}
