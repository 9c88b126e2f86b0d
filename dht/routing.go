package dht

import (
	"math/rand/v2"
	"sort"
	"sync"
)

const (
	// BucketSize is the number of slots per bucket.
	BucketSize = 8
	// NumBuckets is the number of buckets, one per distance bit length.
	NumBuckets = IDLength * 8
)

// KBucket is a fixed array of slots holding nodes at one distance bit length.
// Occupied slots are kept dense at the front of the array.
type KBucket struct {
	slots [BucketSize]Node
	count int
	mu    sync.Mutex
}

// addNode inserts node, bumping the score of an existing entry or evicting
// a random slot when the bucket is full.
func (kb *KBucket) addNode(node Node) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i := 0; i < kb.count; i++ {
		if kb.slots[i].ID == node.ID {
			kb.slots[i].Score++
			return
		}
	}

	node.Score = 0
	if kb.count < BucketSize {
		kb.slots[kb.count] = node
		kb.count++
		return
	}

	kb.slots[rand.IntN(BucketSize)] = node
}

// removeNode deletes the entry with id and compacts the slots.
func (kb *KBucket) removeNode(id NodeID) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i := 0; i < kb.count; i++ {
		if kb.slots[i].ID == id {
			copy(kb.slots[i:kb.count], kb.slots[i+1:kb.count])
			kb.count--
			kb.slots[kb.count] = Node{}
			return true
		}
	}
	return false
}

// GetNodes returns a copy of all occupied slots.
func (kb *KBucket) GetNodes() []Node {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	result := make([]Node, kb.count)
	copy(result, kb.slots[:kb.count])
	return result
}

// Len returns the number of occupied slots.
func (kb *KBucket) Len() int {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.count
}

// RoutingTable stores known nodes by XOR distance from a local identity.
// Buckets are locked independently; writes to different buckets never contend
// and concurrent writes to one bucket are last-write-wins.
type RoutingTable struct {
	selfID  NodeID
	buckets [NumBuckets + 1]*KBucket // index 0 unused: distance 0 is self
}

// NewRoutingTable creates a table with a random local identity.
func NewRoutingTable() *RoutingTable {
	return NewRoutingTableWithID(RandomNodeID())
}

// NewRoutingTableWithID creates a table around a fixed local identity.
func NewRoutingTableWithID(selfID NodeID) *RoutingTable {
	rt := &RoutingTable{selfID: selfID}
	for i := 1; i <= NumBuckets; i++ {
		rt.buckets[i] = &KBucket{}
	}
	return rt
}

// ID returns the local identity.
func (rt *RoutingTable) ID() NodeID {
	return rt.selfID
}

// BucketIndex returns the bucket a given identity belongs to (0 for self).
func (rt *RoutingTable) BucketIndex(id NodeID) int {
	return rt.selfID.Xor(id).BitLen()
}

// AddNode inserts or refreshes node. It returns false only for the local
// identity or a node without an address.
func (rt *RoutingTable) AddNode(node Node) bool {
	if node.IP == "" {
		return false
	}
	index := rt.BucketIndex(node.ID)
	if index == 0 {
		return false
	}
	rt.buckets[index].addNode(node)
	return true
}

// AddNodes inserts each node in turn.
func (rt *RoutingTable) AddNodes(nodes []Node) {
	for _, n := range nodes {
		rt.AddNode(n)
	}
}

// DelNodeByNodeID removes the node with the given identity.
// Returns true if the node was found and removed, false otherwise.
func (rt *RoutingTable) DelNodeByNodeID(id NodeID) bool {
	index := rt.BucketIndex(id)
	if index == 0 {
		return false
	}
	return rt.buckets[index].removeNode(id)
}

// GetTopNodes returns up to size nodes scanning buckets from the closest
// distance outward.
func (rt *RoutingTable) GetTopNodes(size int) []Node {
	result := make([]Node, 0, size)
	if size <= 0 {
		return result
	}
	for i := 1; i <= NumBuckets && len(result) < size; i++ {
		nodes := rt.buckets[i].GetNodes()
		if remaining := size - len(result); len(nodes) > remaining {
			nodes = nodes[:remaining]
		}
		result = append(result, nodes...)
	}
	return result
}

// GetTopNodesByNodeID returns the size nodes closest to target.
//
// Every stored node is sorted by distance; the table holds at most
// NumBuckets*BucketSize entries, which keeps the full sort cheap.
func (rt *RoutingTable) GetTopNodesByNodeID(target NodeID, size int) []Node {
	if size <= 0 {
		return []Node{}
	}
	nodes := rt.Nodes()
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Distance(target).Less(nodes[j].Distance(target))
	})
	if len(nodes) > size {
		nodes = nodes[:size]
	}
	return nodes
}

// Nodes returns every stored node.
func (rt *RoutingTable) Nodes() []Node {
	var all []Node
	for i := 1; i <= NumBuckets; i++ {
		all = append(all, rt.buckets[i].GetNodes()...)
	}
	return all
}

// Len returns the number of stored nodes.
func (rt *RoutingTable) Len() int {
	total := 0
	for i := 1; i <= NumBuckets; i++ {
		total += rt.buckets[i].Len()
	}
	return total
}

// BucketLen returns the number of nodes in bucket index (1..160).
func (rt *RoutingTable) BucketLen(index int) int {
	if index < 1 || index > NumBuckets {
		return 0
	}
	return rt.buckets[index].Len()
}
