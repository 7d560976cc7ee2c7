package session

import "sync"

// Signal identifies a process-wide session lifecycle event, observable by
// any subsystem of the host application without registering a full
// delegate.
type Signal string

const (
	// SignalSessionEstablished fires when an authentication attempt has
	// fully completed and the session is valid.
	SignalSessionEstablished Signal = "session-established"

	// SignalUserLoggedIn fires after SignalSessionEstablished for the
	// account that logged in.
	SignalUserLoggedIn Signal = "user-logged-in"

	// SignalUserWillLogout fires before the current account is logged
	// out.
	SignalUserWillLogout Signal = "user-will-logout"

	// SignalUserLoggedOut fires after the current account was logged out.
	SignalUserLoggedOut Signal = "user-logged-out"
)

// SignalFunc is a signal subscriber callback.  account may be nil, for
// example when logging out while nobody was logged in.
type SignalFunc func(s Signal, account *Account)

// Subscription identifies one signal subscription so it can be
// unsubscribed later.
type Subscription struct {
	signal Signal
}

// signalBus is a minimal subscribe/emit bus for session signals.  Emit is
// synchronous: subscribers run on the emitting goroutine, in registration
// order, against a snapshot taken at emit time.
type signalBus struct {
	mu   sync.RWMutex
	subs map[Signal]map[*Subscription]SignalFunc
	// order preserves registration order per signal for deterministic
	// fan-out.
	order map[Signal][]*Subscription
}

func newSignalBus() *signalBus {
	return &signalBus{
		subs:  make(map[Signal]map[*Subscription]SignalFunc),
		order: make(map[Signal][]*Subscription),
	}
}

func (b *signalBus) subscribe(s Signal, fn SignalFunc) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[s] == nil {
		b.subs[s] = make(map[*Subscription]SignalFunc)
	}
	sub := &Subscription{signal: s}
	b.subs[s][sub] = fn
	b.order[s] = append(b.order[s], sub)
	return sub
}

func (b *signalBus) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[sub.signal]
	if !ok {
		return
	}
	delete(subs, sub)
	for i, s := range b.order[sub.signal] {
		if s == sub {
			b.order[sub.signal] = append(b.order[sub.signal][:i], b.order[sub.signal][i+1:]...)
			break
		}
	}
}

func (b *signalBus) emit(s Signal, account *Account) {
	b.mu.RLock()
	fns := make([]SignalFunc, 0, len(b.order[s]))
	for _, sub := range b.order[s] {
		if fn, ok := b.subs[s][sub]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(s, account)
	}
}
