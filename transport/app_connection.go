package transport

import (
	"encoding/base64"
	"errors"
	"sync"
)

var errDuplicateID = errors.New("request id already pending")

// result is what a waiting caller receives: a response payload or the reason
// it will never get one.
type result struct {
	data []byte
	err  error
}

// AppConnection is the state shared between a session's receive loop, the
// goroutines issuing requests through it, and whoever polls its signals.
//
// Every field is guarded by mu, and mu is held only for the map or slice
// mutation itself; channel sends and socket writes happen outside it.
type AppConnection struct {
	mu sync.Mutex

	// Base64 of each Signal payload received since the last drain, in arrival order.
	signals []string

	// Callers blocked on a response, by request id. An entry leaves the map
	// exactly once: matched delivery, abandonment by its caller, or failAll.
	pending map[string]chan result

	// Set by failAll. Once set, no new entries are accepted.
	closed error
}

func NewAppConnection() *AppConnection {
	return &AppConnection{
		pending: make(map[string]chan result),
	}
}

// register creates the pending entry for id. It must happen before the
// request is written so the response cannot arrive ahead of its entry.
func (a *AppConnection) register(id string) (<-chan result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed != nil {
		return nil, a.closed
	}
	if _, ok := a.pending[id]; ok {
		return nil, errDuplicateID
	}
	ch := make(chan result, 1) // Buffered so delivery never blocks the receive loop
	a.pending[id] = ch
	return ch, nil
}

// forget removes id without delivering anything. It returns false if the
// entry was already taken by deliver or failAll, in which case the caller's
// channel holds (or is about to hold) that delivery.
func (a *AppConnection) forget(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.pending[id]; !ok {
		return false
	}
	delete(a.pending, id)
	return true
}

// deliver hands data to the caller waiting on id. It returns false for an
// id with no pending entry.
func (a *AppConnection) deliver(id string, data []byte) bool {
	a.mu.Lock()
	ch, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()

	if !ok {
		return false
	}
	ch <- result{data: data}
	return true
}

// failAll delivers err to every pending caller and refuses later registrations.
// It returns how many callers were failed.
func (a *AppConnection) failAll(err error) int {
	a.mu.Lock()
	a.closed = err
	waiting := a.pending
	a.pending = make(map[string]chan result)
	a.mu.Unlock()

	for _, ch := range waiting {
		ch <- result{err: err}
	}
	return len(waiting)
}

func (a *AppConnection) pushSignal(data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)

	a.mu.Lock()
	a.signals = append(a.signals, encoded)
	a.mu.Unlock()
}

// DrainSignals returns the signals received since the previous drain, oldest
// first, and clears them. It never returns nil.
func (a *AppConnection) DrainSignals() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	drained := a.signals
	a.signals = nil
	if drained == nil {
		drained = []string{}
	}
	return drained
}

// PeekSignals returns a copy of the undrained signals without clearing them.
func (a *AppConnection) PeekSignals() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.signals))
	copy(out, a.signals)
	return out
}

// Pending returns the number of requests still waiting for a response.
func (a *AppConnection) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
