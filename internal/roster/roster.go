// Package roster tracks which peers currently belong to which rooms.
//
// It keeps two synchronized indices (room -> peers and peer -> rooms) so a
// disconnecting peer can be removed from all of its rooms without scanning the
// full room table. All state is in-memory and scoped to live connections.
package roster

import (
	"sort"
	"sync"
)

// Roster is the authoritative room membership index.
//
// Every mutation runs under a single mutex; membership changes are rare
// compared to signaling message volume, so one critical section is enough.
type Roster struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{} // room id -> member peer ids
	peers map[string]map[string]struct{} // peer id -> joined room ids
}

func New() *Roster {
	return &Roster{
		rooms: make(map[string]map[string]struct{}),
		peers: make(map[string]map[string]struct{}),
	}
}

// Join adds peer to room, creating the room on first use.
//
// It reports whether membership actually changed so callers can suppress
// duplicate join notifications; re-joining a room a peer is already in is a
// no-op on both indices.
func (r *Roster) Join(peer, room string) bool {
	if peer == "" || room == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, ok := members[peer]; ok {
		return false
	}
	members[peer] = struct{}{}

	joined, ok := r.peers[peer]
	if !ok {
		joined = make(map[string]struct{})
		r.peers[peer] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes peer from room. Unknown rooms and non-members are no-ops.
// A room whose last member leaves is deleted.
func (r *Roster) Leave(peer, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(peer, room)
}

// LeaveAll removes peer from every room it belongs to and returns the rooms
// it was removed from. Used once per connection, at disconnect.
func (r *Roster) LeaveAll(peer string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.peers[peer]
	if len(joined) == 0 {
		delete(r.peers, peer)
		return nil
	}

	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	sort.Strings(left)
	for _, room := range left {
		r.leaveLocked(peer, room)
	}
	return left
}

// Members returns a snapshot of the room's member ids, sorted for
// deterministic fanout. The returned slice is owned by the caller.
func (r *Roster) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for peer := range members {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}

// Rooms returns a snapshot of the rooms peer currently belongs to.
func (r *Roster) Rooms(peer string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.peers[peer]
	if len(joined) == 0 {
		return nil
	}
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (r *Roster) leaveLocked(peer, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, peer)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.peers[peer]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.peers, peer)
		}
	}
}
