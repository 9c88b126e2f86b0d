// Package dht implements the Mainline DHT side of the crawler: node identities,
// the Kademlia routing table, the compact node format, KRPC message builders
// and the protocol engine that turns inbound queries and replies into
// follow-up work.
//
// # Routing Table
//
// Each listening port owns one RoutingTable with its own random identity.
// Nodes are bucketed by the bit length of their XOR distance to that identity
// (1..160); each bucket is a fixed array of eight slots:
//
//	table := dht.NewRoutingTable()
//	table.AddNode(dht.NewNode(id, "198.51.100.7", 6881))
//	closest := table.GetTopNodesByNodeID(target, 8)
//
// Re-observing a node bumps its score. Inserting into a full bucket
// overwrites a uniformly random slot; there is no liveness probe.
//
// # Protocol Engine
//
// The Engine handles ping, find_node, get_peers and announce_peer queries and
// any reply carrying a compact "nodes" list. It replies immediately through
// its Transport (or through the TaskSink when replies are deferred) and
// hands probes, peer lookups and metadata fetches to the TaskSink:
//
//	engine := dht.NewEngine(table, udpSocket, sink)
//	if err := engine.HandlePacket(datagram, from); err != nil {
//	    // dropped: malformed or unsupported
//	}
//
// The crawler answers with a neighbor id (the requester's id prefix joined to
// its own suffix) and never returns real neighbor lists.
//
// # Thread Safety
//
// RoutingTable buckets carry their own mutex, so the front-end and the
// worker tasks can update a table concurrently. The Engine itself is
// stateless and safe for concurrent use.
package dht
