package transport

import (
	"net"
)

// PacketHandler processes one inbound datagram.
// The data slice is only valid until the handler returns.
type PacketHandler func(data []byte, addr *net.UDPAddr)

// Transport defines the interface for the datagram sockets the crawler listens on.
// The DHT engine only needs Send; the front-end also owns Close and LocalAddr.
type Transport interface {
	// Send sends an encoded message to the specified address.
	Send(data []byte, addr net.Addr) error

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr
}
