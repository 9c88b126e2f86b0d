package worker

import (
	"sync/atomic"
	"time"

	"github.com/opd-ai/btspider/task"
)

// State holds the counters of one worker. Fields are updated independently;
// a snapshot may observe a partially applied transition.
type State struct {
	ID        int
	Name      string
	StartTime time.Time

	waiting   atomic.Int64
	running   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	exceeded  atomic.Int64

	// kinds counts accepted tasks per kind, indexed by task.Kind.
	kinds [numKindSlots]atomic.Int64
}

// numKindSlots sizes the per-kind counters; slot 0 collects unknown kinds.
const numKindSlots = int(task.KindResponse) + 1

func (s *State) countKind(k task.Kind) {
	i := int(k)
	if i <= 0 || i >= len(s.kinds) {
		i = 0
	}
	s.kinds[i].Add(1)
}

// Snapshot is a point-in-time copy of a worker's counters.
type Snapshot struct {
	ID        int
	Name      string
	StartTime time.Time
	Waiting   int64
	Running   int64
	Succeeded int64
	Failed    int64
	Exceeded  int64
	Kinds     map[task.Kind]int64
}

// Snapshot copies the counters.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.ID,
		Name:      s.Name,
		StartTime: s.StartTime,
		Waiting:   s.waiting.Load(),
		Running:   s.running.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Exceeded:  s.exceeded.Load(),
		Kinds:     make(map[task.Kind]int64, len(task.Kinds)),
	}
	for _, k := range task.Kinds {
		snap.Kinds[k] = s.kinds[int(k)].Load()
	}
	return snap
}
