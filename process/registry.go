package process

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Info describes one long-running component of the crawler.
// Identity fields are immutable; memory figures are updated atomically by
// the component's own tick.
type Info struct {
	ID        int
	Name      string
	Group     string
	Hash      string
	StartTime time.Time

	memory     atomic.Uint64
	peakMemory atomic.Uint64
}

// NewInfo creates an entry with a fresh instance hash.
func NewInfo(id int, name, group string, tp TimeProvider) *Info {
	return &Info{
		ID:        id,
		Name:      name,
		Group:     group,
		Hash:      uuid.NewString(),
		StartTime: getTimeProvider(tp).Now(),
	}
}

// UpdateMemory samples the process memory counters into the entry.
func (i *Info) UpdateMemory() {
	current, peak := MemoryUsage()
	i.memory.Store(current)
	if peak > i.peakMemory.Load() {
		i.peakMemory.Store(peak)
	}
}

// Memory returns the last sampled memory in use and the peak, in bytes.
func (i *Info) Memory() (current, peak uint64) {
	return i.memory.Load(), i.peakMemory.Load()
}

// Registry is a concurrent table of running components keyed by id.
type Registry struct {
	mu      sync.RWMutex
	entries map[int]*Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]*Info)}
}

// Set adds or replaces the entry for info.ID.
func (r *Registry) Set(info *Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.ID] = info
}

// Get returns the entry for id.
func (r *Registry) Get(id int) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.entries[id]
	return info, ok
}

// Delete removes the entry for id. Missing ids are ignored.
func (r *Registry) Delete(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Range calls fn for each entry in ascending id order until fn returns false.
// fn runs without the registry lock held.
func (r *Registry) Range(fn func(info *Info) bool) {
	r.mu.RLock()
	infos := make([]*Info, 0, len(r.entries))
	for _, info := range r.entries {
		infos = append(infos, info)
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(a, b int) bool { return infos[a].ID < infos[b].ID })
	for _, info := range infos {
		if !fn(info) {
			return
		}
	}
}
