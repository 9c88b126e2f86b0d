package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/opd-ai/btspider/config"
	"github.com/opd-ai/btspider/process"
	"github.com/opd-ai/btspider/storage"
	"github.com/opd-ai/btspider/worker"
)

// StatsInterval is how often the status board is rewritten.
const StatsInterval = time.Second

// Options configures a Server.
type Options struct {
	// Host and Ports give the UDP listening addresses; one routing table
	// is kept per port. Port 0 binds an ephemeral port.
	Host  string
	Ports []int

	// BootstrapNodes are "host:port" routers queried every FindNodeInterval.
	BootstrapNodes   []string
	FindNodeInterval time.Duration

	// DataFile is the base path of the metadata log; empty disables writing.
	DataFile       string
	FilterCapacity int

	// StatsFile receives the status board; empty disables it.
	StatsFile string

	MetadataTimeout time.Duration
	// Proxy is an optional socks5:// or http:// URL for metadata connections.
	Proxy string

	// SendRate bounds outbound task messages per second; 0 is unlimited.
	SendRate int
	// DeferredReplies routes query replies through Response tasks.
	DeferredReplies bool

	Worker       worker.Config
	TimeProvider process.TimeProvider
	Resolver     Resolver
}

// OptionsFromConfig reads server options from the configuration keys.
func OptionsFromConfig(c *config.Config) (Options, error) {
	ports := []int{c.Int("server.port", 6882)}
	for _, raw := range c.Strings("server.ports", nil) {
		p, err := strconv.Atoi(raw)
		if err != nil || p < config.MinPort || p > config.MaxPort {
			return Options{}, fmt.Errorf("invalid server.ports entry %q", raw)
		}
		ports = append(ports, p)
	}

	return Options{
		Host:             c.String("server.host", "0.0.0.0"),
		Ports:            ports,
		BootstrapNodes:   c.Strings("bootstrap_nodes", config.DefaultBootstrapNodes),
		FindNodeInterval: c.Duration("find_node_interval", 10*time.Second),
		DataFile:         c.String("data_file", ""),
		FilterCapacity:   c.Int("data_filter_capacity", storage.DefaultFilterCapacity),
		StatsFile:        c.String("stats_file", ""),
		MetadataTimeout:  c.Duration("metadata.timeout", 5*time.Second),
		Proxy:            c.String("metadata.proxy", ""),
		SendRate:         c.Int("dht.send_rate", 0),
		DeferredReplies:  c.Bool("dht.deferred_replies", false),
		Worker: worker.Config{
			Workers:      c.Int("worker.worker_num", 4),
			RunningMax:   c.Int("worker.running_max", 300),
			QueueMax:     c.Int("worker.task_queue_max", 10000),
			FreeWaitTime: c.Duration("worker.free_wait_time", time.Millisecond),
			MaxExitWait:  c.Duration("worker.max_exit_wait_time", 3*time.Second),
		},
	}, nil
}
