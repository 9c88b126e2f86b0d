// Package process keeps the table of running crawler components (the
// front-end and each worker) with their identity, start time and memory
// figures, and provides the periodic tick used to refresh them.
package process
