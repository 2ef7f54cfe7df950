package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// EventType tags every message on the signaling channel. The catalogue is
// closed: anything else is rejected at the channel boundary before it can
// reach the routing logic.
type EventType string

const (
	// Server -> client only.
	EventPeerID     EventType = "peer-id" // connection greeting carrying the assigned id
	EventUsers      EventType = "users"
	EventUserJoined EventType = "user-joined"
	EventUserLeft   EventType = "user-left"

	// Client -> server only.
	EventJoinRoom EventType = "join-room"

	// Relayed between peers.
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"
	EventEndCall      EventType = "end-call"
)

// SDP is the wire form of a session description. The relay never inspects the
// SDP body; it is carried byte for byte between peers.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is the wire form of a trickled ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is the envelope for every signaling event. Routing fields (Target,
// Caller, To) are opaque identifiers: the relay only checks that a target is
// currently connected, never what the payload contains.
type Message struct {
	Event EventType `json:"event"`

	Room  string   `json:"roomId,omitempty"`  // join-room
	Peer  string   `json:"peerId,omitempty"`  // peer-id, user-joined, user-left
	Peers []string `json:"peerIds,omitempty"` // users

	Target string `json:"target,omitempty"` // offer, answer, ice-candidate
	Caller string `json:"caller,omitempty"` // offer, answer
	To     string `json:"to,omitempty"`     // end-call

	SDP       *SDP       `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// ParseClientMessage decodes and validates one inbound client message.
//
// Decoding is strict: unknown fields and trailing data are rejected so a
// malformed message can never be partially routed.
func ParseClientMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.validateInbound(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m Message) validateInbound() error {
	switch m.Event {
	case EventJoinRoom:
		if m.Room == "" {
			return fmt.Errorf("join-room message missing roomId")
		}
		if m.Peer != "" || len(m.Peers) > 0 || m.Target != "" || m.Caller != "" || m.To != "" || m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("join-room message has unexpected fields")
		}
	case EventOffer, EventAnswer:
		if m.Target == "" || m.Caller == "" {
			return fmt.Errorf("%s message missing target/caller", m.Event)
		}
		if m.SDP == nil {
			return fmt.Errorf("%s message missing sdp", m.Event)
		}
		if m.SDP.Type != string(m.Event) {
			return fmt.Errorf("%s message has sdp.type=%q", m.Event, m.SDP.Type)
		}
		if m.Room != "" || m.Peer != "" || len(m.Peers) > 0 || m.To != "" || m.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Event)
		}
	case EventICECandidate:
		if m.Target == "" {
			return fmt.Errorf("ice-candidate message missing target")
		}
		if m.Candidate == nil || m.Candidate.Candidate == "" {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if m.Room != "" || m.Peer != "" || len(m.Peers) > 0 || m.Caller != "" || m.To != "" || m.SDP != nil {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	case EventEndCall:
		if m.To == "" {
			return fmt.Errorf("end-call message missing to")
		}
		if m.Room != "" || m.Peer != "" || len(m.Peers) > 0 || m.Target != "" || m.Caller != "" || m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("end-call message has unexpected fields")
		}
	case EventPeerID, EventUsers, EventUserJoined, EventUserLeft:
		return fmt.Errorf("server-only event %q sent by client", m.Event)
	default:
		return fmt.Errorf("unsupported event %q", m.Event)
	}
	return nil
}
