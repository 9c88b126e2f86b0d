// Command btspider crawls the BitTorrent Mainline DHT and records the
// metadata of the torrents it hears about.
//
// # Usage
//
// Run with default settings (UDP port 6882, four workers):
//
//	go run ./cmd/btspider
//
// Listen on several ports, each with its own routing table:
//
//	go run ./cmd/btspider -port 6882 -ports 6883,6884
//
// Watch the status board of a running crawler:
//
//	go run ./cmd/btspider -status
//
// # Configuration
//
// Settings come from built-in defaults, then the -env file and the process
// environment (BTSPIDER_<KEY>), then explicit flags:
//   - -host, -port, -ports: UDP listen addresses
//   - -workers: task worker count
//   - -data-file: metadata log base path
//   - -stats-file: status board file
//   - -proxy: SOCKS5 or HTTP proxy for metadata connections
//   - -log-level, -log-file: logging
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the crawler. Workers get a bounded grace period;
// queued tasks are discarded.
package main
