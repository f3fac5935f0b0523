package registry

import (
	"sort"
	"sync"
	"time"
)

// Channel is the outbound side of a live duplex connection.
type Channel interface {
	Send(event any) error
	Close(code int, reason string) error
}

type entry struct {
	ch          Channel
	connectedAt time.Time
}

// Registry maps a user id to at most one live channel.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]entry
	onChange func(count int)
}

func New() *Registry {
	return &Registry{channels: make(map[string]entry)}
}

// SetChangeHook installs a callback invoked with the live count after every
// register or unregister. The hook runs under the registry lock, so calls are
// serialised in mutation order; it must not call back into the registry.
func (r *Registry) SetChangeHook(hook func(count int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = hook
}

// Register binds ch to userID and returns the channel it superseded, if any.
// Closing the superseded channel is the caller's job.
func (r *Registry) Register(userID string, ch Channel) Channel {
	r.mu.Lock()
	prev, had := r.channels[userID]
	r.channels[userID] = entry{ch: ch, connectedAt: time.Now().UTC()}
	r.notifyLocked()
	r.mu.Unlock()

	if !had || prev.ch == ch {
		return nil
	}
	return prev.ch
}

func (r *Registry) Lookup(userID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.channels[userID]
	if !ok {
		return nil, false
	}
	return e.ch, true
}

// Unregister removes userID only while ch is still its registered channel.
func (r *Registry) Unregister(userID string, ch Channel) bool {
	r.mu.Lock()
	e, ok := r.channels[userID]
	if !ok || e.ch != ch {
		r.mu.Unlock()
		return false
	}
	delete(r.channels, userID)
	r.notifyLocked()
	r.mu.Unlock()
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Connection describes a registered user for diagnostics.
type Connection struct {
	UserID      string    `json:"userId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Snapshot lists registered users ordered by user id.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.channels))
	for id, e := range r.channels {
		out = append(out, Connection{UserID: id, ConnectedAt: e.connectedAt})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// CloseAll closes every registered channel and empties the registry.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]entry)
	r.notifyLocked()
	r.mu.Unlock()

	for _, e := range channels {
		_ = e.ch.Close(code, reason)
	}
}

func (r *Registry) notifyLocked() {
	if r.onChange != nil {
		r.onChange(len(r.channels))
	}
}
