package config

import "time"

// Bounds for numeric settings read from the environment.
const (
	MinWorkers      = 1
	MaxWorkers      = 256
	MinRunningMax   = 1
	MaxRunningMax   = 100000
	MinQueueMax     = 1
	MaxQueueMax     = 10000000
	MinPort         = 1
	MaxPort         = 65535
	MinSendRate     = 0
	MaxSendRate     = 1000000
	MinFilterSize   = 1000
	MaxFilterSize   = 1 << 30
	MinFindInterval = 100 * time.Millisecond
)

// DefaultBootstrapNodes are the public Mainline DHT routers.
var DefaultBootstrapNodes = []string{
	"router.utorrent.com:6881",
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"router.bitcomet.com:6881",
	"dht.aelitis.com:6881",
}

// intBounds maps integer keys to their inclusive [min, max] range.
var intBounds = map[string][2]int{
	"worker.worker_num":     {MinWorkers, MaxWorkers},
	"worker.running_max":    {MinRunningMax, MaxRunningMax},
	"worker.task_queue_max": {MinQueueMax, MaxQueueMax},
	"server.port":           {MinPort, MaxPort},
	"dht.send_rate":         {MinSendRate, MaxSendRate},
	"data_filter_capacity":  {MinFilterSize, MaxFilterSize},
}

// durationMin maps duration keys to their smallest accepted value.
var durationMin = map[string]time.Duration{
	"find_node_interval":        MinFindInterval,
	"worker.free_wait_time":     time.Microsecond,
	"worker.max_exit_wait_time": time.Millisecond,
	"metadata.timeout":          100 * time.Millisecond,
}

// Defaults returns a fresh copy of the built-in settings.
//
// Default Value Rationale:
//   - worker.worker_num: 4 workers, each gated at 300 running tasks
//   - worker.task_queue_max: 10000 queued tasks per worker before dropping
//   - find_node_interval: 10s between bootstrap rounds
//   - dht.send_rate: 0 disables the outbound query limiter
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"name":                 "BTSpider",
		"data_file":            "storage/data/btspider.txt",
		"data_filter_capacity": 1000000,
		"stats_file":           "storage/logs/_btstats.log",
		"log_file":             "",
		"log_level":            "info",
		"find_node_interval":   10 * time.Second,
		"bootstrap_nodes":      append([]string(nil), DefaultBootstrapNodes...),

		"worker.worker_num":         4,
		"worker.running_max":        300,
		"worker.task_queue_max":     10000,
		"worker.free_wait_time":     time.Millisecond,
		"worker.max_exit_wait_time": 3 * time.Second,

		"server.host":  "0.0.0.0",
		"server.port":  6882,
		"server.ports": []string{},

		"metadata.timeout": 5 * time.Second,
		"metadata.proxy":   "",

		"dht.send_rate":        0,
		"dht.deferred_replies": false,
	}
}
