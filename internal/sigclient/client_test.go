package sigclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/signaling"
)

func startRelay(t *testing.T) string {
	t.Helper()

	m := metrics.New()
	srv := &signaling.Server{
		Relay:   signaling.NewRelay(nil, m),
		Metrics: m,
	}
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialClient(t *testing.T, url string, handlers Handlers) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, handlers, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDialReceivesPeerID(t *testing.T) {
	url := startRelay(t)
	c := dialClient(t, url, Handlers{})
	if c.PeerID() == "" {
		t.Fatalf("no peer id after dial")
	}
}

func TestJoinAndEventDispatch(t *testing.T) {
	url := startRelay(t)

	gotUsers := make(chan []string, 1)
	alice := dialClient(t, url, Handlers{
		OnUsers: func(room string, peers []string) {
			select {
			case gotUsers <- peers:
			default:
			}
		},
	})

	if err := alice.JoinRoom("lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}
	select {
	case peers := <-gotUsers:
		if len(peers) != 1 || peers[0] != alice.PeerID() {
			t.Fatalf("snapshot = %v", peers)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no users snapshot")
	}
}

func TestOfferAnswerBetweenClients(t *testing.T) {
	url := startRelay(t)

	offerCh := make(chan signaling.SDP, 1)
	var bob *Client
	bob = dialClient(t, url, Handlers{
		OnOffer: func(caller string, sdp signaling.SDP) {
			offerCh <- sdp
			_ = bob.SendAnswer(caller, bob.PeerID(), signaling.SDP{Type: "answer", SDP: "v=0 answer"})
		},
	})

	answerCh := make(chan signaling.SDP, 1)
	endCh := make(chan struct{})
	alice := dialClient(t, url, Handlers{
		OnAnswer: func(caller string, sdp signaling.SDP) {
			answerCh <- sdp
		},
		OnEndCall: func() { close(endCh) },
	})

	if err := alice.SendOffer(bob.PeerID(), alice.PeerID(), signaling.SDP{Type: "offer", SDP: "v=0 offer"}); err != nil {
		t.Fatalf("send offer: %v", err)
	}

	select {
	case sdp := <-offerCh:
		if sdp.SDP != "v=0 offer" {
			t.Fatalf("offer sdp = %q", sdp.SDP)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("bob never saw the offer")
	}

	select {
	case sdp := <-answerCh:
		if sdp.SDP != "v=0 answer" {
			t.Fatalf("answer sdp = %q", sdp.SDP)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("alice never saw the answer")
	}

	if err := bob.SendEndCall(alice.PeerID()); err != nil {
		t.Fatalf("send end-call: %v", err)
	}
	waitFor(t, endCh, "end-call")
}

func TestUserLeftDeliveredOnPeerDisconnect(t *testing.T) {
	url := startRelay(t)

	leftCh := make(chan string, 1)
	alice := dialClient(t, url, Handlers{
		OnUserLeft: func(peer string) {
			select {
			case leftCh <- peer:
			default:
			}
		},
	})
	bob := dialClient(t, url, Handlers{})

	if err := alice.JoinRoom("lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := bob.JoinRoom("lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Let the joins land before tearing bob down.
	time.Sleep(100 * time.Millisecond)

	_ = bob.Close()

	select {
	case peer := <-leftCh:
		if peer != bob.PeerID() {
			t.Fatalf("user-left peer = %q, want %q", peer, bob.PeerID())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("alice never saw user-left")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	url := startRelay(t)
	c := dialClient(t, url, Handlers{})
	_ = c.Close()
	waitFor(t, c.Done(), "shutdown")

	if err := c.JoinRoom("lobby"); err == nil {
		t.Fatalf("expected error after close")
	}
}
