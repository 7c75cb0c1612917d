// Package notify tells pollers that a room has new messages so they can
// poll ahead of their next tick. Notifications are hints only: a dropped
// notification delays delivery until the next poll but never loses it.
package notify

import (
	"context"
	"sync"
)

// Notifier publishes and subscribes to per-room change hints.
type Notifier interface {
	// Notify announces that seq was committed to room code.
	Notify(ctx context.Context, code string, seq int64) error
	// Subscribe returns a channel that receives after each notification for
	// code, and a function that ends the subscription.
	Subscribe(code string) (<-chan struct{}, func(), error)
	Close() error
}

// Local fans notifications out within one process.
type Local struct {
	mu     sync.Mutex
	subs   map[string]map[chan struct{}]struct{}
	closed bool
}

// NewLocal creates an in-process notifier.
func NewLocal() *Local {
	return &Local{subs: make(map[string]map[chan struct{}]struct{})}
}

func (l *Local) Notify(ctx context.Context, code string, seq int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs[code] {
		signal(ch)
	}
	return nil
}

func (l *Local) Subscribe(code string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, nil, ErrClosed
	}
	if l.subs[code] == nil {
		l.subs[code] = make(map[chan struct{}]struct{})
	}
	l.subs[code][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs[code], ch)
			if len(l.subs[code]) == 0 {
				delete(l.subs, code)
			}
		})
	}
	return ch, cancel, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = make(map[string]map[chan struct{}]struct{})
	return nil
}

// signal does a non-blocking send; one pending wake-up is enough.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
