package syncer

import (
	"context"
	"sync"
)

// AccountGuard serializes work per account. Every code path that mutates
// an account's orders on the exchange holds the account's slot.
type AccountGuard struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewAccountGuard() *AccountGuard {
	return &AccountGuard{slots: make(map[int64]*slot)}
}

// Lock waits for the account's slot or for ctx to end. The returned
// function releases the slot.
func (g *AccountGuard) Lock(ctx context.Context, accountID int64) (func(), error) {
	g.mu.Lock()
	s, ok := g.slots[accountID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		g.slots[accountID] = s
	}
	s.refs++
	g.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			g.release(accountID, s)
		}, nil
	case <-ctx.Done():
		g.release(accountID, s)
		return nil, ctx.Err()
	}
}

func (g *AccountGuard) release(accountID int64, s *slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(g.slots, accountID)
	}
}
