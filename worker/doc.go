// Package worker implements the bounded task pool of the crawler.
//
// A Pool runs a fixed number of workers. Submit serializes a task and writes
// it as one frame on a stream borrowed from the channel pool; each worker
// reads its stream into a private FIFO queue, rejecting frames once the queue
// holds QueueMax tasks, and starts queued tasks while fewer than RunningMax of
// its tasks are running. Across the pool no more than ActiveCeiling tasks may
// be active before submissions are shed.
//
// Back-pressure is lossy: rejected tasks are counted and dropped, never retried.
package worker
