package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/btspider/limits"
	"github.com/opd-ai/btspider/process"
	"github.com/opd-ai/btspider/task"
	"github.com/opd-ai/btspider/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrOverloaded is returned when the process-wide ceiling of active
	// task executions is exceeded. The task is dropped.
	ErrOverloaded = errors.New("too many active tasks")

	// ErrNoWorkers is returned when no worker is running to accept the task.
	ErrNoWorkers = errors.New("no workers running")
)

// Names under which workers appear in the process registry.
const (
	WorkerGroup      = "btspider.Worker"
	workerNamePrefix = WorkerGroup + "."
)

// Config holds worker pool settings.
type Config struct {
	// Workers is the number of workers (worker_num).
	Workers int
	// RunningMax bounds concurrently running tasks per worker (running_max).
	RunningMax int
	// QueueMax bounds each worker's queue (task_queue_max).
	QueueMax int
	// FreeWaitTime is the longest an idle worker waits before rechecking its queue.
	FreeWaitTime time.Duration
	// MaxExitWait bounds the shutdown of each worker (max_exit_wait_time).
	MaxExitWait time.Duration
	// ActiveCeiling is the process-wide limit of active task executions.
	ActiveCeiling int

	// Registry receives an entry per running worker. Optional.
	Registry *process.Registry
	// TimeProvider drives start times and memory ticks. Optional.
	TimeProvider process.TimeProvider
	// ShutdownHook runs once per worker when it stops, bounded by MaxExitWait.
	ShutdownHook func(ctx context.Context, workerID int)
}

// DefaultConfig returns the stock pool settings.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		RunningMax:    300,
		QueueMax:      10000,
		FreeWaitTime:  time.Millisecond,
		MaxExitWait:   3 * time.Second,
		ActiveCeiling: limits.MaxActiveTasks,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.RunningMax <= 0 {
		c.RunningMax = def.RunningMax
	}
	if c.QueueMax <= 0 {
		c.QueueMax = def.QueueMax
	}
	if c.FreeWaitTime <= 0 {
		c.FreeWaitTime = def.FreeWaitTime
	}
	if c.MaxExitWait <= 0 {
		c.MaxExitWait = def.MaxExitWait
	}
	if c.ActiveCeiling <= 0 {
		c.ActiveCeiling = def.ActiveCeiling
	}
	if c.Registry == nil {
		c.Registry = process.NewRegistry()
	}
}

// Pool runs tasks on a fixed set of workers. Each worker owns a FIFO queue
// fed through its own framed stream.
type Pool struct {
	cfg Config
	env task.Env

	workers  []*Worker
	channels *channelPool
	started  atomic.Bool

	active     atomic.Int64
	nextTaskID atomic.Uint64

	wg sync.WaitGroup
}

// NewPool creates a pool. Workers start with Run.
func NewPool(cfg Config) *Pool {
	cfg.normalize()
	return &Pool{cfg: cfg}
}

// Registry returns the process registry the workers register in.
func (p *Pool) Registry() *process.Registry {
	return p.cfg.Registry
}

// Run starts the workers and blocks until ctx is cancelled and every
// worker has shut down.
func (p *Pool) Run(ctx context.Context, env task.Env) error {
	if p.started.Load() {
		return fmt.Errorf("worker pool already running")
	}
	p.env = env

	ends := make([]net.Conn, p.cfg.Workers)
	p.workers = make([]*Worker, p.cfg.Workers)
	for i := range p.workers {
		frontEnd, workerEnd := net.Pipe()
		ends[i] = frontEnd
		p.workers[i] = newWorker(i+1, p, workerEnd)
	}
	p.channels = newChannelPool(ends)

	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run(ctx)
	}
	p.started.Store(true)

	logrus.WithFields(logrus.Fields{
		"function":    "Pool.Run",
		"workers":     p.cfg.Workers,
		"running_max": p.cfg.RunningMax,
		"queue_max":   p.cfg.QueueMax,
	}).Info("Worker pool started")

	<-ctx.Done()
	p.started.Store(false)
	p.channels.close()
	p.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Pool.Run",
		"active":   p.active.Load(),
	}).Info("Worker pool stopped")
	return nil
}

// Submit hands a task to a worker. It never queues in the caller: a task
// that cannot be delivered is dropped and the reason returned.
func (p *Pool) Submit(t task.Task) error {
	if active := p.active.Load(); active > int64(p.cfg.ActiveCeiling) {
		logrus.WithFields(logrus.Fields{
			"function": "Pool.Submit",
			"kind":     t.Kind().String(),
			"active":   active,
			"ceiling":  p.cfg.ActiveCeiling,
		}).Warn("Too many active tasks, dropping submission")
		return ErrOverloaded
	}
	if !p.started.Load() {
		return ErrNoWorkers
	}

	data, err := task.Marshal(t)
	if err != nil {
		return err
	}

	conn, err := p.channels.borrow()
	if err != nil {
		return err
	}
	defer p.channels.release(conn)

	if err := transport.WriteFrame(conn, data); err != nil {
		return fmt.Errorf("deliver %s task: %w", t.Kind(), err)
	}
	return nil
}

// Active returns the number of task executions in progress across all workers.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// TasksStarted returns how many task executions have been started.
func (p *Pool) TasksStarted() uint64 {
	return p.nextTaskID.Load()
}

// Snapshots returns the counters of every worker in id order.
func (p *Pool) Snapshots() []Snapshot {
	if !p.started.Load() {
		return nil
	}
	snaps := make([]Snapshot, 0, len(p.workers))
	for _, w := range p.workers {
		snaps = append(snaps, w.state.Snapshot())
	}
	return snaps
}
