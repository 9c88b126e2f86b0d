package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/btspider/limits"
	"github.com/sirupsen/logrus"
)

// readTimeout bounds each blocking read so the loop notices cancellation.
const readTimeout = 100 * time.Millisecond

// UDPTransport implements UDP-based communication for the KRPC protocol.
// It satisfies the Transport interface.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handler    PacketHandler
	mu         sync.RWMutex

	received atomic.Uint64
	sent     atomic.Uint64
}

// NewUDPTransport creates a new UDP transport listener.
// Packets are not read until Serve is called.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "NewUDPTransport",
			"listen_addr": listenAddr,
			"error":       err.Error(),
		}).Error("Failed to bind UDP socket")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": conn.LocalAddr().String(),
	}).Info("UDP transport listening")

	return &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
	}, nil
}

// SetHandler installs the handler that receives every inbound datagram.
func (t *UDPTransport) SetHandler(handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Send sends a datagram to the specified address.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	if err := limits.ValidateMessageSize(data, limits.MaxDatagram); err != nil {
		return err
	}

	if _, err := t.conn.WriteTo(data, addr); err != nil {
		return err
	}
	t.sent.Add(1)
	return nil
}

// Close shuts down the transport. A running Serve returns shortly after.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}

// Stats returns the number of datagrams received and sent.
func (t *UDPTransport) Stats() (received, sent uint64) {
	return t.received.Load(), t.sent.Load()
}

// Serve reads datagrams and hands each to the handler inline until ctx is
// cancelled or the socket is closed. It never returns an error for a closed
// socket.
func (t *UDPTransport) Serve(ctx context.Context) error {
	buffer := make([]byte, limits.MaxDatagram)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, addr, err := t.readPacketData(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if !isTimeout(err) {
				logrus.WithFields(logrus.Fields{
					"function":   "Serve",
					"local_addr": t.listenAddr.String(),
					"error":      err.Error(),
				}).Debug("UDP read failed")
			}
			continue
		}

		t.dispatchPacket(data, addr)
	}
}

// readPacketData reads data from the connection with timeout handling.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, *net.UDPAddr, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readTimeout))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, err
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, nil, errors.New("non-UDP source address")
	}
	return buffer[:n], udpAddr, nil
}

// dispatchPacket runs the handler for one datagram.
func (t *UDPTransport) dispatchPacket(data []byte, addr *net.UDPAddr) {
	t.received.Add(1)

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()

	if handler != nil {
		handler(data, addr)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
