package metrics

import "sync"

// Counter names used by the signaling relay.
const (
	PeerConnected    = "peer_connected"
	PeerDisconnected = "peer_disconnected"
	RoomJoined       = "room_joined"
	MessageRelayed   = "message_relayed"

	// Drop reasons. The protocol has no negative acknowledgment, so drops are
	// only observable through these counters.
	DropReasonBadMessage    = "drop_bad_message"
	DropReasonUnknownTarget = "drop_unknown_target"
	DropReasonRateLimited   = "drop_rate_limited"
	DropReasonQueueFull     = "drop_queue_full"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually; this
// type keeps the routing and drop accounting testable in the meantime.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is a nil-safe increment so callers can run without a registry wired.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
