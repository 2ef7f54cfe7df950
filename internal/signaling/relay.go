package signaling

import (
	"log/slog"
	"sync"

	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/roster"
)

// Sender is the outbound half of a connected peer. Send is fire and forget:
// it reports false when the message was dropped (queue full or peer gone)
// and must never block the caller.
type Sender interface {
	ID() string
	Send(msg Message) bool
}

// Relay routes signaling messages between connected peers.
//
// Routing is best effort by design. A message addressed to a peer that is not
// currently connected is dropped without notifying the sender; the sender
// learns about departures through user-left events, not through delivery
// errors.
type Relay struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	roster  *roster.Roster

	mu    sync.Mutex
	peers map[string]Sender
}

func NewRelay(log *slog.Logger, m *metrics.Metrics) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:     log,
		metrics: m,
		roster:  roster.New(),
		peers:   make(map[string]Sender),
	}
}

// Connect registers a peer, places it in its personal room and sends the
// id greeting. The personal room makes the peer addressable before it joins
// any shared room.
func (r *Relay) Connect(s Sender) {
	id := s.ID()

	r.mu.Lock()
	r.peers[id] = s
	r.mu.Unlock()

	r.roster.Join(id, id)
	r.metrics.Inc(metrics.PeerConnected)

	s.Send(Message{Event: EventPeerID, Peer: id})
}

// Disconnect removes the peer from every room it joined and notifies the
// remaining members. Departure from the personal room is never announced:
// nobody else was ever a member of it.
func (r *Relay) Disconnect(peer string) {
	r.mu.Lock()
	_, known := r.peers[peer]
	delete(r.peers, peer)
	r.mu.Unlock()
	if !known {
		return
	}

	rooms := r.roster.LeaveAll(peer)
	for _, room := range rooms {
		if room == peer {
			continue
		}
		r.broadcast(room, Message{Event: EventUserLeft, Peer: peer})
	}

	r.metrics.Inc(metrics.PeerDisconnected)
	r.log.Debug("peer disconnected", "peer", peer, "rooms", len(rooms))
}

// HandleMessage routes one validated client message. Unknown targets are
// dropped silently; the sender is never told.
func (r *Relay) HandleMessage(sender Sender, msg Message) {
	switch msg.Event {
	case EventJoinRoom:
		r.handleJoin(sender, msg.Room)
	case EventOffer, EventAnswer:
		r.forward(msg.Target, msg)
	case EventICECandidate:
		// The target field is routing metadata; the receiving peer only needs
		// the candidate itself.
		r.forward(msg.Target, Message{Event: EventICECandidate, Candidate: msg.Candidate})
	case EventEndCall:
		r.forward(msg.To, msg)
	default:
		// validateInbound keeps this unreachable for messages off the wire.
		r.metrics.Inc(metrics.DropReasonBadMessage)
	}
}

func (r *Relay) handleJoin(sender Sender, room string) {
	id := sender.ID()

	joined := r.roster.Join(id, room)
	if joined {
		r.metrics.Inc(metrics.RoomJoined)
		for _, member := range r.roster.Members(room) {
			if member == id {
				continue
			}
			r.sendTo(member, Message{Event: EventUserJoined, Peer: id})
		}
	}

	// The snapshot goes to the joiner on every join-room, including repeats,
	// so a client can use it to refresh its view.
	sender.Send(Message{Event: EventUsers, Room: room, Peers: r.roster.Members(room)})
}

func (r *Relay) forward(target string, msg Message) {
	r.mu.Lock()
	dest, ok := r.peers[target]
	r.mu.Unlock()
	if !ok {
		r.metrics.Inc(metrics.DropReasonUnknownTarget)
		r.log.Debug("dropping message for unknown target", "event", msg.Event, "target", target)
		return
	}

	if dest.Send(msg) {
		r.metrics.Inc(metrics.MessageRelayed)
	} else {
		r.metrics.Inc(metrics.DropReasonQueueFull)
		r.log.Debug("dropping message for slow peer", "event", msg.Event, "target", target)
	}
}

func (r *Relay) broadcast(room string, msg Message) {
	for _, member := range r.roster.Members(room) {
		if member == msg.Peer {
			continue
		}
		r.sendTo(member, msg)
	}
}

func (r *Relay) sendTo(peer string, msg Message) {
	r.mu.Lock()
	dest, ok := r.peers[peer]
	r.mu.Unlock()
	if !ok {
		return
	}
	if !dest.Send(msg) {
		r.metrics.Inc(metrics.DropReasonQueueFull)
	}
}

// Members exposes the current room membership, primarily for readiness and
// debug surfaces.
func (r *Relay) Members(room string) []string {
	return r.roster.Members(room)
}
