package memory

import (
	"context"
	"sync"
	"time"
)

// Denylist keeps revoked token ids until their expiry.
type Denylist struct {
	mu      sync.Mutex
	clock   func() time.Time
	revoked map[string]time.Time
}

func NewDenylist() *Denylist {
	return &Denylist{clock: time.Now, revoked: make(map[string]time.Time)}
}

func (d *Denylist) Revoke(_ context.Context, tokenID string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[tokenID] = until
	return nil
}

func (d *Denylist) Revoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()
	for id, until := range d.revoked {
		if !until.After(now) {
			delete(d.revoked, id)
		}
	}
	_, ok := d.revoked[tokenID]
	return ok, nil
}
