package metadata

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/opd-ai/btspider/bencode"
	"github.com/opd-ai/btspider/dht"
	"github.com/opd-ai/btspider/limits"
	"github.com/opd-ai/btspider/transport"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds the connect and every single read or write.
	DefaultTimeout = 5 * time.Second

	// maxSkippedMessages is how many unrelated peer messages (bitfield,
	// have, keep-alive) are tolerated while waiting for an answer.
	maxSkippedMessages = 64
)

// Client downloads torrent metadata from peers (BEP 9).
// It is safe for concurrent use; each Fetch opens its own connection.
type Client struct {
	dialer  transport.Dialer
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithDialer routes connections through d, typically a proxy dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient creates a metadata client.
func NewClient(opts ...Option) *Client {
	c := &Client{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{Timeout: c.timeout}
	}
	return c
}

// Fetch connects to the peer at addr and downloads the metadata of infoHash.
// The returned dictionary has been verified against infoHash and has its
// "piece length" and "pieces" keys removed.
func (c *Client) Fetch(ctx context.Context, addr string, infoHash dht.NodeID) (*bencode.Dict, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return nil, &FetchError{Stage: StageConnect, Addr: addr, Err: fmt.Errorf("%w: %v", ErrConnect, err)}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s := &session{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		addr:     addr,
		infoHash: infoHash,
		timeout:  c.timeout,
	}
	return s.run()
}

// session is one metadata download over one connection.
type session struct {
	conn     net.Conn
	reader   *bufio.Reader
	addr     string
	infoHash dht.NodeID
	timeout  time.Duration
}

func (s *session) fail(stage string, err error) error {
	return &FetchError{Stage: stage, Addr: s.addr, Err: err}
}

func (s *session) run() (*bencode.Dict, error) {
	if err := s.handshake(); err != nil {
		return nil, s.fail(StageHandshake, err)
	}

	utMetadata, size, err := s.extensionHandshake()
	if err != nil {
		return nil, s.fail(StageExtension, err)
	}

	raw := make([]byte, 0, size)
	pieces := limits.PieceCount(size)
	for i := 0; i < pieces; i++ {
		piece, err := s.fetchPiece(utMetadata, i)
		if err != nil {
			return nil, s.fail(StagePiece, fmt.Errorf("piece %d: %w", i, err))
		}
		raw = append(raw, piece...)
	}

	info, err := s.verify(raw, size)
	if err != nil {
		return nil, s.fail(StageVerify, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Fetch",
		"peer":      s.addr,
		"info_hash": s.infoHash.String(),
		"size":      size,
		"pieces":    pieces,
	}).Debug("Metadata downloaded")
	return info, nil
}

func (s *session) send(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}

func (s *session) recv() ([]byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	return readMessage(s.reader)
}

func (s *session) handshake() error {
	var peerID [20]byte
	if _, err := rand.Read(peerID[:]); err != nil {
		return fmt.Errorf("%w: peer id: %v", ErrSend, err)
	}

	if err := s.send(buildHandshake(s.infoHash, peerID)); err != nil {
		return err
	}

	reply := make([]byte, handshakeLen)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	if _, err := io.ReadFull(s.reader, reply); err != nil {
		return fmt.Errorf("%w: %v", ErrRecv, err)
	}
	return checkHandshake(reply, s.infoHash)
}

// extensionHandshake exchanges BEP 10 handshakes and returns the peer's
// ut_metadata id and the declared metadata size.
func (s *session) extensionHandshake() (byte, int64, error) {
	msg, err := extHandshakeMessage()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrSend, err)
	}
	if err := s.send(msg); err != nil {
		return 0, 0, err
	}

	payload, err := s.awaitExtended(extHandshakeID)
	if err != nil {
		return 0, 0, err
	}

	dict, err := bencode.DecodeDict(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	m, _ := dict.Dict("m")
	id, ok := m.Int("ut_metadata")
	if !ok || id <= 0 || id > 255 {
		return 0, 0, ErrNoUTMetadata
	}

	size, ok := dict.Int("metadata_size")
	if !ok {
		return 0, 0, fmt.Errorf("%w: missing metadata_size", ErrMetadataSize)
	}
	if err := limits.ValidateMetadataSize(size); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMetadataSize, err)
	}
	return byte(id), size, nil
}

func (s *session) fetchPiece(utMetadata byte, index int) ([]byte, error) {
	msg, err := pieceRequestMessage(utMetadata, index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSend, err)
	}
	if err := s.send(msg); err != nil {
		return nil, err
	}

	payload, err := s.awaitExtended(localUTMetadataID)
	if err != nil {
		return nil, err
	}

	header, piece, err := splitPiece(payload)
	if err != nil {
		return nil, err
	}

	msgType, _ := header.Int("msg_type")
	switch msgType {
	case msgTypeData:
	case msgTypeReject:
		return nil, ErrPeerRejected
	default:
		return nil, fmt.Errorf("%w: unexpected msg_type %d", ErrProtocol, msgType)
	}

	if got, ok := header.Int("piece"); ok && got != int64(index) {
		return nil, fmt.Errorf("%w: got piece %d", ErrProtocol, got)
	}
	if err := limits.ValidateMetadataPiece(piece); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return piece, nil
}

// awaitExtended reads messages until an extended message with extID arrives
// and returns its payload. Other messages are skipped within a budget.
func (s *session) awaitExtended(extID byte) ([]byte, error) {
	for skipped := 0; skipped < maxSkippedMessages; skipped++ {
		body, err := s.recv()
		if err != nil {
			return nil, err
		}
		if len(body) >= 2 && body[0] == msgExtended && body[1] == extID {
			return body[2:], nil
		}
	}
	return nil, fmt.Errorf("%w: no extended message %d after %d messages", ErrProtocol, extID, maxSkippedMessages)
}

func (s *session) verify(raw []byte, size int64) (*bencode.Dict, error) {
	if int64(len(raw)) != size {
		return nil, fmt.Errorf("%w: got %d bytes, declared %d", ErrProtocol, len(raw), size)
	}

	if dht.NodeID(sha1.Sum(raw)) != s.infoHash {
		return nil, ErrHashMismatch
	}

	info, err := bencode.DecodeDict(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	info.Delete("piece length")
	info.Delete("pieces")
	return info, nil
}
