package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedTimeProvider struct {
	now time.Time
}

func (f fixedTimeProvider) Now() time.Time { return f.now }

func (f fixedTimeProvider) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

func TestNewInfo(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewInfo(1, "btspider.Worker.1", "btspider.Worker", fixedTimeProvider{now: start})
	b := NewInfo(2, "btspider.Worker.2", "btspider.Worker", nil)

	assert.Equal(t, start, a.StartTime)
	assert.Len(t, a.Hash, 36)
	assert.NotEqual(t, a.Hash, b.Hash)
	assert.False(t, b.StartTime.IsZero())
}

func TestRegistryOperations(t *testing.T) {
	r := NewRegistry()
	for _, id := range []int{3, 1, 2} {
		r.Set(NewInfo(id, "w", "g", nil))
	}
	assert.Equal(t, 3, r.Len())

	info, ok := r.Get(2)
	require.True(t, ok)
	assert.Equal(t, 2, info.ID)

	var order []int
	r.Range(func(info *Info) bool {
		order = append(order, info.ID)
		return true
	})
	assert.Equal(t, []int{1, 2, 3}, order)

	var first []int
	r.Range(func(info *Info) bool {
		first = append(first, info.ID)
		return false
	})
	assert.Equal(t, []int{1}, first)

	r.Delete(2)
	r.Delete(42)
	_, ok = r.Get(2)
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.Set(NewInfo(id, "w", "g", nil))
			r.Range(func(*Info) bool { return true })
			if id%2 == 0 {
				r.Delete(id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Len())
}

func TestUpdateMemory(t *testing.T) {
	info := NewInfo(1, "w", "g", nil)
	current, peak := info.Memory()
	assert.Zero(t, current)
	assert.Zero(t, peak)

	info.UpdateMemory()
	current, peak = info.Memory()
	assert.NotZero(t, current)
	assert.NotZero(t, peak)
}

func TestTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 10)
	done := make(chan struct{})

	go func() {
		Tick(ctx, nil, 5*time.Millisecond, func() {
			select {
			case calls <- struct{}{}:
			default:
			}
		})
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("tick did not fire")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Tick did not return after cancel")
	}
}
