package memory

import (
	"context"
	"sync"
)

// Presence counts live connections per player so that a second tab does not
// mark the player offline when the first one closes.
type Presence struct {
	mu    sync.RWMutex
	rooms map[string]map[string]int
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[string]map[string]int)}
}

func (p *Presence) Connect(_ context.Context, roomID, playerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.rooms[roomID]
	if !ok {
		conns = make(map[string]int)
		p.rooms[roomID] = conns
	}
	conns[playerID]++
	return nil
}

func (p *Presence) Disconnect(_ context.Context, roomID, playerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.rooms[roomID]
	if !ok {
		return nil
	}
	if conns[playerID] <= 1 {
		delete(conns, playerID)
	} else {
		conns[playerID]--
	}
	if len(conns) == 0 {
		delete(p.rooms, roomID)
	}
	return nil
}

func (p *Presence) Online(_ context.Context, roomID string) (map[string]bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.rooms[roomID]))
	for id := range p.rooms[roomID] {
		out[id] = true
	}
	return out, nil
}
