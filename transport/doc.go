// Package transport provides the network plumbing of the crawler: the UDP
// sockets the DHT front-end listens on, the length-prefixed frame codec used
// between the front-end and its workers, and outbound TCP dialers (direct,
// SOCKS5 or HTTP CONNECT) for metadata fetches.
//
// # UDP Transport
//
//	t, err := transport.NewUDPTransport("0.0.0.0:6882")
//	t.SetHandler(func(data []byte, addr *net.UDPAddr) { ... })
//	go t.Serve(ctx)
//
// Serve hands datagrams to the handler inline. Handlers must not block; the
// DHT engine only decodes, replies and submits tasks.
//
// # Frames
//
// A frame is a 4-byte big-endian length followed by the body. Bodies are at
// most limits.MaxTaskFrame bytes:
//
//	err := transport.WriteFrame(conn, payload)
//	body, err := transport.ReadFrame(conn)
//
// # Dialers
//
//	cfg, _ := transport.ParseProxyURL("socks5://127.0.0.1:9050")
//	dialer, err := transport.NewDialer(cfg, 5*time.Second)
//	conn, err := dialer.DialContext(ctx, "tcp", "203.0.113.9:6881")
//
// A nil config yields a plain *net.Dialer.
package transport
