package signaling

import (
	"testing"

	"github.com/roomrelay/roomrelay/internal/config"
)

func TestWsPeerSendQueue(t *testing.T) {
	p := &wsPeer{id: "p", send: make(chan Message, 1)}

	if !p.Send(Message{Event: EventUserJoined, Peer: "x"}) {
		t.Fatalf("send into empty queue failed")
	}
	if p.Send(Message{Event: EventUserJoined, Peer: "y"}) {
		t.Fatalf("send into full queue should report a drop")
	}

	<-p.send
	if !p.Send(Message{Event: EventUserJoined, Peer: "z"}) {
		t.Fatalf("send after drain failed")
	}
}

func TestWsPeerSendAfterClose(t *testing.T) {
	p := &wsPeer{id: "p", send: make(chan Message, 1)}
	p.closeSend()

	if p.Send(Message{Event: EventUserLeft, Peer: "x"}) {
		t.Fatalf("send after close should report a drop")
	}
	// Idempotent.
	p.closeSend()
}

func TestServerLimitDefaults(t *testing.T) {
	s := &Server{}

	if got := s.idleTimeout(); got != config.DefaultSignalingWSIdleTimeout {
		t.Fatalf("idleTimeout=%v", got)
	}
	if got := s.pingInterval(); got != config.DefaultSignalingWSPingInterval {
		t.Fatalf("pingInterval=%v", got)
	}
	if got := s.maxMessageBytes(); got != config.DefaultMaxSignalingMessageBytes {
		t.Fatalf("maxMessageBytes=%d", got)
	}
	if got := s.maxMessagesPerSecond(); got != config.DefaultMaxSignalingMessagesPerSecond {
		t.Fatalf("maxMessagesPerSecond=%d", got)
	}
	if got := s.sendQueueLength(); got != config.DefaultPeerSendQueueLength {
		t.Fatalf("sendQueueLength=%d", got)
	}
}
