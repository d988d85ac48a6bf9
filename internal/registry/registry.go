// Package registry tracks the single live delivery channel per connected
// client. It is the only structure in the service mutated from many
// goroutines at once: every connection's open, message, and close path goes
// through it, as does every dispatch fan-out.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is the live delivery handle installed for a client. Send must be
// non-blocking: implementations queue or drop, they never stall the caller.
// Closing superseded channels is the transport's job, not the registry's.
type Channel interface {
	Send(payload []byte) error
}

// Handle pairs a client with its registered channel.
type Handle struct {
	ClientID     string
	Channel      Channel
	ConnectionID string // uuid, for log correlation only
	RegisteredAt time.Time
}

// Registry is a concurrency-safe client → channel table.
// Last registration wins; see Remove for the disconnect race guard.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Handle
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{channels: make(map[string]Handle)}
}

// Register installs ch as the live channel for clientID, atomically replacing
// any prior handle. The superseded channel is not closed here; the registry
// merely stops addressing it.
func (r *Registry) Register(clientID string, ch Channel) Handle {
	handle := Handle{
		ClientID:     clientID,
		Channel:      ch,
		ConnectionID: uuid.NewString(),
		RegisteredAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[clientID] = handle
	return handle
}

// Lookup returns the live channel for clientID, or false when none is
// registered.
func (r *Registry) Lookup(clientID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.channels[clientID]
	if !ok {
		return nil, false
	}
	return handle.Channel, true
}

// Remove deletes the mapping only if ch is still the registered channel for
// clientID. A slow disconnect racing a newer registration is therefore a
// benign no-op: the new connection stays installed.
func (r *Registry) Remove(clientID string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.channels[clientID]
	if !ok || handle.Channel != ch {
		return false
	}
	delete(r.channels, clientID)
	return true
}

// ForEach calls fn for every registered handle. It iterates over a snapshot,
// so registrations and removals during enumeration neither crash it nor cause
// double visits; fn runs without the registry lock held.
func (r *Registry) ForEach(fn func(Handle)) {
	r.mu.RLock()
	snapshot := make([]Handle, 0, len(r.channels))
	for _, handle := range r.channels {
		snapshot = append(snapshot, handle)
	}
	r.mu.RUnlock()

	for _, handle := range snapshot {
		fn(handle)
	}
}

// Len returns the number of currently registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
