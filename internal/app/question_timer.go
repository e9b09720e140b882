package app

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// TimerFunc schedules f to run once after d. It must not call f synchronously.
type TimerFunc func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// questionTimers keeps at most one armed question per room. Every arm gets a new
// generation so callbacks from a replaced timer are ignored.
type questionTimers struct {
	after TimerFunc
	tick  time.Duration

	mu    sync.Mutex
	gen   uint64
	armed map[string]*armedQuestion
}

type armedQuestion struct {
	gen    uint64
	index  int
	expiry Timer
	ticker Timer
}

func newQuestionTimers(after TimerFunc, tick time.Duration) *questionTimers {
	return &questionTimers{
		after: after,
		tick:  tick,
		armed: make(map[string]*armedQuestion),
	}
}

// arm replaces the room's timer. onExpire runs once when budget elapses; onTick
// runs every tick interval until then.
func (t *questionTimers) arm(roomID string, index int, budget time.Duration, onExpire, onTick func(index int)) {
	if budget < 0 {
		budget = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked(roomID)
	t.gen++
	gen := t.gen
	a := &armedQuestion{gen: gen, index: index}
	a.expiry = t.after(budget, func() {
		if t.release(roomID, gen) {
			onExpire(index)
		}
	})
	if t.tick > 0 && onTick != nil {
		a.ticker = t.scheduleTick(roomID, gen, index, onTick)
	}
	t.armed[roomID] = a
}

func (t *questionTimers) scheduleTick(roomID string, gen uint64, index int, onTick func(int)) Timer {
	return t.after(t.tick, func() {
		t.mu.Lock()
		a, ok := t.armed[roomID]
		if !ok || a.gen != gen {
			t.mu.Unlock()
			return
		}
		a.ticker = t.scheduleTick(roomID, gen, index, onTick)
		t.mu.Unlock()
		onTick(index)
	})
}

// release removes the armed entry if it still belongs to gen.
func (t *questionTimers) release(roomID string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.armed[roomID]
	if !ok || a.gen != gen {
		return false
	}
	if a.ticker != nil {
		a.ticker.Stop()
	}
	delete(t.armed, roomID)
	return true
}

func (t *questionTimers) cancel(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked(roomID)
}

func (t *questionTimers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for roomID := range t.armed {
		t.stopLocked(roomID)
	}
}

func (t *questionTimers) armedIndex(roomID string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.armed[roomID]
	if !ok {
		return 0, false
	}
	return a.index, true
}

func (t *questionTimers) stopLocked(roomID string) {
	a, ok := t.armed[roomID]
	if !ok {
		return
	}
	if a.expiry != nil {
		a.expiry.Stop()
	}
	if a.ticker != nil {
		a.ticker.Stop()
	}
	delete(t.armed, roomID)
}
