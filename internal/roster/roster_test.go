package roster

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestJoinAndMembers(t *testing.T) {
	r := New()

	if !r.Join("a", "r1") {
		t.Fatalf("first join should change membership")
	}
	if r.Join("a", "r1") {
		t.Fatalf("repeated join should be idempotent")
	}
	if !r.Join("b", "r1") {
		t.Fatalf("join of second peer should change membership")
	}

	got := r.Members("r1")
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Members(r1)=%v, want %v", got, want)
	}
	if got := r.Members("nope"); got != nil {
		t.Fatalf("Members of unknown room = %v, want nil", got)
	}
}

func TestMembersIsSnapshot(t *testing.T) {
	r := New()
	r.Join("a", "r1")

	snap := r.Members("r1")
	r.Join("b", "r1")

	if len(snap) != 1 || snap[0] != "a" {
		t.Fatalf("snapshot mutated by later join: %v", snap)
	}
}

func TestLeave(t *testing.T) {
	r := New()
	r.Join("a", "r1")
	r.Join("b", "r1")

	r.Leave("a", "r1")
	if got := r.Members("r1"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("Members(r1)=%v after leave, want [b]", got)
	}
	if got := r.Rooms("a"); got != nil {
		t.Fatalf("Rooms(a)=%v after leave, want nil", got)
	}

	// Leaving a room the peer is not in, or that does not exist, is a no-op.
	r.Leave("a", "r1")
	r.Leave("a", "ghost")

	// Last member out deletes the room.
	r.Leave("b", "r1")
	if got := r.Members("r1"); got != nil {
		t.Fatalf("room should be deleted when empty, got members %v", got)
	}
}

func TestLeaveAll(t *testing.T) {
	r := New()
	r.Join("a", "a") // personal room
	r.Join("a", "r1")
	r.Join("a", "r2")
	r.Join("b", "r1")

	left := r.LeaveAll("a")
	want := []string{"a", "r1", "r2"}
	if !reflect.DeepEqual(left, want) {
		t.Fatalf("LeaveAll(a)=%v, want %v", left, want)
	}

	if got := r.Rooms("a"); got != nil {
		t.Fatalf("Rooms(a)=%v after LeaveAll, want nil", got)
	}
	if got := r.Members("r1"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("Members(r1)=%v, want [b]", got)
	}
	if got := r.Members("r2"); got != nil {
		t.Fatalf("r2 should be empty and deleted, got %v", got)
	}

	if got := r.LeaveAll("a"); got != nil {
		t.Fatalf("second LeaveAll should return nil, got %v", got)
	}
	if got := r.LeaveAll("never-joined"); got != nil {
		t.Fatalf("LeaveAll of unknown peer should return nil, got %v", got)
	}
}

// The two indices must stay mutual inverses through any interleaving of
// joins and leaves.
func TestIndicesStayConsistentUnderConcurrency(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peer := fmt.Sprintf("p%d", i)
			for j := 0; j < 100; j++ {
				room := fmt.Sprintf("r%d", j%5)
				r.Join(peer, room)
				r.Members(room)
				if j%3 == 0 {
					r.Leave(peer, room)
				}
			}
			r.LeaveAll(peer)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		peer := fmt.Sprintf("p%d", i)
		if rooms := r.Rooms(peer); rooms != nil {
			t.Fatalf("peer %s still in rooms %v after LeaveAll", peer, rooms)
		}
	}
	for j := 0; j < 5; j++ {
		room := fmt.Sprintf("r%d", j)
		if members := r.Members(room); members != nil {
			t.Fatalf("room %s still has members %v", room, members)
		}
	}
}
