// Package config holds the crawler settings.
//
// Settings are addressed by dotted keys ("worker.worker_num", "server.port").
// Load starts from the built-in defaults, reads optional .env files and then
// applies BTSPIDER_* environment variables:
//
//	BTSPIDER_WORKER_WORKER_NUM=8
//	BTSPIDER_SERVER_PORTS=6883,6884
//	BTSPIDER_FIND_NODE_INTERVAL=5s
//
// An override that does not parse as the default's type, or falls outside
// its bounds, is logged and ignored.
package config
