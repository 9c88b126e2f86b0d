// Package status renders the crawler's monitor board: listeners, registered
// processes, worker queue counters and per-kind task counts. The server
// rewrites the board file every second; Watch redraws it on a terminal.
package status
