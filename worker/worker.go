package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/btspider/process"
	"github.com/opd-ai/btspider/task"
	"github.com/opd-ai/btspider/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// memoryTick is how often a worker refreshes its registry memory figures.
const memoryTick = time.Second

// Worker consumes tasks from its stream into a private FIFO queue and runs
// them concurrently, at most RunningMax at a time.
type Worker struct {
	id    int
	pool  *Pool
	conn  net.Conn
	state *State
	info  *process.Info

	mu     sync.Mutex
	queue  []task.Task
	notify chan struct{}

	sem      *semaphore.Weighted
	inflight sync.WaitGroup
}

func newWorker(id int, pool *Pool, conn net.Conn) *Worker {
	name := fmt.Sprintf("%s%d", workerNamePrefix, id)
	info := process.NewInfo(id, name, WorkerGroup, pool.cfg.TimeProvider)
	return &Worker{
		id:   id,
		pool: pool,
		conn: conn,
		info: info,
		state: &State{
			ID:        id,
			Name:      name,
			StartTime: info.StartTime,
		},
		notify: make(chan struct{}, 1),
		sem:    semaphore.NewWeighted(int64(pool.cfg.RunningMax)),
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.pool.wg.Done()
	defer w.conn.Close()

	registry := w.pool.cfg.Registry
	registry.Set(w.info)
	defer registry.Delete(w.id)

	w.info.UpdateMemory()
	go process.Tick(ctx, w.pool.cfg.TimeProvider, memoryTick, w.info.UpdateMemory)
	go w.receiveLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Worker.run",
		"worker":   w.info.Name,
		"hash":     w.info.Hash,
	}).Debug("Worker started")

	w.execLoop(ctx)
	w.shutdown()
}

// receiveLoop reads task frames until the stream closes.
func (w *Worker) receiveLoop() {
	for {
		data, err := transport.ReadFrame(w.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logrus.WithFields(logrus.Fields{
					"function": "Worker.receiveLoop",
					"worker":   w.info.Name,
					"error":    err.Error(),
				}).Error("Task stream failed")
			}
			return
		}

		t, err := task.Unmarshal(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Worker.receiveLoop",
				"worker":   w.info.Name,
				"error":    err.Error(),
			}).Warn("Dropping undecodable task")
			continue
		}
		w.enqueue(t)
	}
}

// enqueue appends t unless the queue is full, in which case the task is
// counted as exceeded and dropped.
func (w *Worker) enqueue(t task.Task) bool {
	w.mu.Lock()
	if len(w.queue) >= w.pool.cfg.QueueMax {
		w.mu.Unlock()
		w.state.exceeded.Add(1)
		return false
	}
	w.queue = append(w.queue, t)
	w.mu.Unlock()

	w.state.waiting.Add(1)
	w.state.countKind(t.Kind())

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

func (w *Worker) dequeue() task.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	t := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return t
}

// next blocks until a task is queued or ctx is done. The FreeWaitTime timer
// bounds each wait even if a notification is lost.
func (w *Worker) next(ctx context.Context) task.Task {
	timer := time.NewTimer(w.pool.cfg.FreeWaitTime)
	defer timer.Stop()

	for {
		if t := w.dequeue(); t != nil {
			return t
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.notify:
		case <-timer.C:
			timer.Reset(w.pool.cfg.FreeWaitTime)
		}
	}
}

// execLoop starts queued tasks in FIFO order while a running slot is free.
func (w *Worker) execLoop(ctx context.Context) {
	// Started tasks are never cancelled mid-flight.
	runCtx := context.WithoutCancel(ctx)

	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}
		t := w.next(ctx)
		if t == nil {
			w.sem.Release(1)
			return
		}

		id := w.pool.nextTaskID.Add(1)
		w.pool.active.Add(1)
		w.state.waiting.Add(-1)
		w.state.running.Add(1)
		w.inflight.Add(1)
		go w.execute(runCtx, id, t)
	}
}

func (w *Worker) execute(ctx context.Context, id uint64, t task.Task) {
	defer func() {
		if r := recover(); r != nil {
			w.state.failed.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Worker.execute",
				"worker":   w.info.Name,
				"task_id":  id,
				"kind":     t.Kind().String(),
				"panic":    fmt.Sprint(r),
			}).Error("Task panicked")
		}
		w.state.running.Add(-1)
		w.pool.active.Add(-1)
		w.sem.Release(1)
		w.inflight.Done()
	}()

	if err := t.Run(ctx, w.pool.env); err != nil {
		w.state.failed.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Worker.execute",
			"worker":   w.info.Name,
			"task_id":  id,
			"kind":     t.Kind().String(),
			"error":    err.Error(),
		}).Debug("Task failed")
		return
	}
	w.state.succeeded.Add(1)
}

// shutdown waits for in-flight tasks and runs the shutdown hook, giving up
// after MaxExitWait. Unfinished tasks are abandoned.
func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), w.pool.cfg.MaxExitWait)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		if hook := w.pool.cfg.ShutdownHook; hook != nil {
			hook(ctx, w.id)
		}
		close(done)
	}()

	select {
	case <-done:
		logrus.WithFields(logrus.Fields{
			"function": "Worker.shutdown",
			"worker":   w.info.Name,
		}).Debug("Worker stopped")
	case <-ctx.Done():
		logrus.WithFields(logrus.Fields{
			"function": "Worker.shutdown",
			"worker":   w.info.Name,
			"running":  w.state.running.Load(),
			"waiting":  w.state.waiting.Load(),
		}).Warn("Worker shutdown timed out, abandoning tasks")
	}
}
