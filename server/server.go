package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/opd-ai/btspider/bencode"
	"github.com/opd-ai/btspider/dht"
	"github.com/opd-ai/btspider/metadata"
	"github.com/opd-ai/btspider/process"
	"github.com/opd-ai/btspider/status"
	"github.com/opd-ai/btspider/storage"
	"github.com/opd-ai/btspider/task"
	"github.com/opd-ai/btspider/transport"
	"github.com/opd-ai/btspider/worker"
)

// Registry entry of the front-end itself. Workers use ids from 1.
const (
	serverProcessID = 0
	serverName      = "btspider.Server"
)

// sendWaitMax bounds how long a task waits for the outbound limiter.
const sendWaitMax = time.Second

var (
	// ErrUnknownTable is returned by Send for a table index with no socket.
	ErrUnknownTable = errors.New("unknown routing table")
	// ErrRateLimited is returned by Send when the limiter would delay the
	// message longer than sendWaitMax.
	ErrRateLimited = errors.New("outbound rate limit exceeded")
	// ErrNoPorts is returned by New when no listening port is configured.
	ErrNoPorts = errors.New("no listening ports configured")
)

// Resolver looks up the addresses of bootstrap hosts. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// listener is one UDP port with its routing table and protocol engine.
type listener struct {
	transport *transport.UDPTransport
	table     *dht.RoutingTable
	engine    *dht.Engine
}

// Server is the crawler front-end: it owns the UDP sockets and routing
// tables, feeds the worker pool and serves as the environment tasks run in.
// It implements task.Env.
type Server struct {
	opts      Options
	listeners []*listener
	pool      *worker.Pool
	registry  *process.Registry
	info      *process.Info
	fetcher   *metadata.Client
	data      *storage.DataLog
	limiter   *rate.Limiter
	resolver  Resolver
	clock     process.TimeProvider
}

// New binds every configured port and prepares the worker pool. Nothing is
// read or sent until Run.
func New(opts Options) (*Server, error) {
	if len(opts.Ports) == 0 {
		return nil, ErrNoPorts
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = process.RealTimeProvider{}
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.FindNodeInterval <= 0 {
		opts.FindNodeInterval = 10 * time.Second
	}

	fetcher, err := newFetcher(opts)
	if err != nil {
		return nil, err
	}

	data, err := storage.NewDataLog(opts.DataFile, opts.FilterCapacity, opts.TimeProvider)
	if err != nil {
		return nil, err
	}

	registry := process.NewRegistry()
	wcfg := opts.Worker
	wcfg.Registry = registry
	wcfg.TimeProvider = opts.TimeProvider

	s := &Server{
		opts:     opts,
		pool:     worker.NewPool(wcfg),
		registry: registry,
		info:     process.NewInfo(serverProcessID, serverName, serverName, opts.TimeProvider),
		fetcher:  fetcher,
		data:     data,
		resolver: opts.Resolver,
		clock:    opts.TimeProvider,
	}
	if opts.SendRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendRate)
	}

	for i, port := range opts.Ports {
		l, err := s.listen(i, port)
		if err != nil {
			s.closeListeners()
			data.Close()
			return nil, err
		}
		s.listeners = append(s.listeners, l)
	}
	return s, nil
}

func newFetcher(opts Options) (*metadata.Client, error) {
	var proxyCfg *transport.ProxyConfig
	if opts.Proxy != "" {
		cfg, err := transport.ParseProxyURL(opts.Proxy)
		if err != nil {
			return nil, err
		}
		proxyCfg = cfg
	}

	timeout := opts.MetadataTimeout
	if timeout <= 0 {
		timeout = metadata.DefaultTimeout
	}
	dialer, err := transport.NewDialer(proxyCfg, timeout)
	if err != nil {
		return nil, err
	}
	return metadata.NewClient(metadata.WithDialer(dialer), metadata.WithTimeout(timeout)), nil
}

// listen binds one port and wires its engine to the pool.
func (s *Server) listen(index, port int) (*listener, error) {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
	udp, err := transport.NewUDPTransport(addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	table := dht.NewRoutingTable()
	engine := dht.NewEngine(table, udp, task.NewSink(s.pool, index))
	engine.SetDeferredReplies(s.opts.DeferredReplies)

	udp.SetHandler(func(data []byte, from *net.UDPAddr) {
		if err := engine.HandlePacket(data, from); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.handlePacket",
				"from":     from.String(),
				"error":    err.Error(),
			}).Debug("Dropped datagram")
		}
	})

	logrus.WithFields(logrus.Fields{
		"function": "Server.listen",
		"addr":     udp.LocalAddr().String(),
		"node_id":  table.ID().String(),
	}).Info("Routing table created")

	return &listener{transport: udp, table: table, engine: engine}, nil
}

// Run serves every socket, runs the worker pool and the periodic bootstrap
// and status jobs until ctx is cancelled or a socket fails. Sockets and the
// data log are closed on return.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	s.registry.Set(s.info)
	defer s.registry.Delete(s.info.ID)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.pool.Run(gctx, s)
	})

	for _, l := range s.listeners {
		g.Go(func() error {
			return l.transport.Serve(gctx)
		})
	}

	g.Go(func() error {
		process.Tick(gctx, s.clock, s.opts.FindNodeInterval, s.submitBootstrap)
		return nil
	})

	g.Go(func() error {
		process.Tick(gctx, s.clock, StatsInterval, func() {
			s.info.UpdateMemory()
			s.writeStatus()
		})
		return nil
	})

	logrus.WithFields(logrus.Fields{
		"function":  "Server.Run",
		"listeners": len(s.listeners),
		"pid":       os.Getpid(),
	}).Info("Server started")

	err := g.Wait()

	logrus.WithFields(logrus.Fields{
		"function":      "Server.Run",
		"tasks_started": s.pool.TasksStarted(),
		"records":       s.data.Records(),
	}).Info("Server stopped")
	return err
}

func (s *Server) submitBootstrap() {
	if err := s.pool.Submit(&task.Bootstrap{}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.submitBootstrap",
			"error":    err.Error(),
		}).Debug("Bootstrap task not submitted")
	}
}

func (s *Server) writeStatus() {
	if s.opts.StatsFile == "" {
		return
	}
	if err := status.WriteFile(s.opts.StatsFile, s.Status()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.writeStatus",
			"path":     s.opts.StatsFile,
			"error":    err.Error(),
		}).Warn("Failed to write status board")
	}
}

// Status collects the current status board data.
func (s *Server) Status() status.Data {
	d := status.Data{
		PID:          os.Getpid(),
		StartTime:    s.info.StartTime,
		TasksStarted: s.pool.TasksStarted(),
		ActiveTasks:  s.pool.Active(),
		Records:      s.data.Records(),
		Processes:    status.Processes(s.registry),
		Workers:      s.pool.Snapshots(),
	}
	for _, l := range s.listeners {
		received, sent := l.transport.Stats()
		d.Listeners = append(d.Listeners, status.Listener{
			Addr:      l.transport.LocalAddr().String(),
			TableSize: l.table.Len(),
			Received:  received,
			Sent:      sent,
		})
	}
	return d
}

// Addrs returns the bound UDP addresses in table order.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.listeners))
	for i, l := range s.listeners {
		addrs[i] = l.transport.LocalAddr()
	}
	return addrs
}

func (s *Server) close() {
	s.closeListeners()
	if err := s.data.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.close",
			"error":    err.Error(),
		}).Warn("Failed to close data log")
	}
}

func (s *Server) closeListeners() {
	for _, l := range s.listeners {
		l.transport.Close()
	}
}

// Submit hands t to the worker pool.
func (s *Server) Submit(t task.Task) error {
	return s.pool.Submit(t)
}

// Tables returns one routing table per listening port.
func (s *Server) Tables() []*dht.RoutingTable {
	tables := make([]*dht.RoutingTable, len(s.listeners))
	for i, l := range s.listeners {
		tables[i] = l.table
	}
	return tables
}

// Send transmits data from the socket owning table, subject to the
// outbound rate limit.
func (s *Server) Send(table int, data []byte, addr *net.UDPAddr) error {
	if table < 0 || table >= len(s.listeners) {
		return fmt.Errorf("%w: %d", ErrUnknownTable, table)
	}
	if s.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sendWaitMax)
		err := s.limiter.Wait(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return s.listeners[table].transport.Send(data, addr)
}

// BootstrapNodes resolves the configured routers to IPv4 addresses.
// Unresolvable entries are logged and skipped.
func (s *Server) BootstrapNodes(ctx context.Context) []*net.UDPAddr {
	var addrs []*net.UDPAddr
	for _, node := range s.opts.BootstrapNodes {
		addr, err := s.resolve(ctx, node)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.BootstrapNodes",
				"node":     node,
				"error":    err.Error(),
			}).Debug("Bootstrap node not resolved")
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

func (s *Server) resolve(ctx context.Context, hostPort string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}

	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}

	ips, err := s.resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPv4 address for %s", host)
	}
	return &net.UDPAddr{IP: ips[0], Port: port}, nil
}

// FetchMetadata downloads metadata over BEP 9.
func (s *Server) FetchMetadata(ctx context.Context, addr string, infoHash dht.NodeID) (*bencode.Dict, error) {
	return s.fetcher.Fetch(ctx, addr, infoHash)
}

// Seen reports whether infoHash was already recorded.
func (s *Server) Seen(infoHash dht.NodeID) bool {
	return s.data.Seen(infoHash)
}

// Record persists metadata to the data log.
func (s *Server) Record(infoHash dht.NodeID, info *bencode.Dict) error {
	return s.data.Record(infoHash, info)
}

// Pool returns the worker pool.
func (s *Server) Pool() *worker.Pool {
	return s.pool
}

var _ task.Env = (*Server)(nil)
