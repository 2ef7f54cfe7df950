package call

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roomrelay/roomrelay/internal/signaling"
)

// State is the call lifecycle position. Transitions only move forward except
// for Reject and media failure, which return to Idle; Ended is terminal.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingAnswer State = "awaiting-answer"
	StateIncomingOffer  State = "incoming-offer"
	StateConnecting     State = "connecting"
	StateActive         State = "active"
	StateEnded          State = "ended"
)

var (
	ErrNotIdle       = errors.New("call: already in a call")
	ErrNoPendingCall = errors.New("call: no pending incoming call")
	ErrEnded         = errors.New("call: call already ended")
	ErrNotActive     = errors.New("call: no active call")
)

// Signaler is the outbound half of the signaling channel.
type Signaler interface {
	SendOffer(target, caller string, sdp signaling.SDP) error
	SendAnswer(target, caller string, sdp signaling.SDP) error
	SendCandidate(target string, cand signaling.Candidate) error
	SendEndCall(to string) error
}

// Negotiator wraps one peer connection's SDP/ICE surface. Implementations
// must deliver local candidates through the OnLocalCandidate callback and
// invoke OnConnected when the transport reaches the connected state.
type Negotiator interface {
	CreateOffer() (signaling.SDP, error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(remote signaling.SDP) (signaling.SDP, error)
	// AcceptAnswer applies the remote answer on the offering side.
	AcceptAnswer(remote signaling.SDP) error
	AddRemoteCandidate(cand signaling.Candidate) error
	OnLocalCandidate(fn func(signaling.Candidate))
	OnConnected(fn func())
	Close() error
}

// MediaSource acquires the local media before a call is placed or accepted.
// A failing source keeps the machine in Idle: signaling never starts for a
// call that cannot produce media. Release must be safe to call without a
// matching Acquire.
type MediaSource interface {
	Acquire() error
	Release()
}

// NegotiatorFactory builds a fresh Negotiator per call attempt.
type NegotiatorFactory func() (Negotiator, error)

// Machine drives one client's call lifecycle.
//
// Candidate handling is two-sided: local candidates are buffered until the
// remote peer is known, remote candidates are buffered until the remote
// description has been applied. Without the buffers trickle ICE races the
// offer/answer exchange and candidates get lost.
type Machine struct {
	selfID string
	log    *slog.Logger

	signaler     Signaler
	media        MediaSource
	newNegotiator NegotiatorFactory

	mu       sync.Mutex
	state    State
	remoteID string
	neg      Negotiator

	pendingOffer  *signaling.SDP
	pendingLocal  []signaling.Candidate
	pendingRemote []signaling.Candidate
	remoteDescSet bool
}

func NewMachine(selfID string, signaler Signaler, media MediaSource, factory NegotiatorFactory, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		selfID:        selfID,
		log:           log,
		signaler:      signaler,
		media:         media,
		newNegotiator: factory,
		state:         StateIdle,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) RemoteID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteID
}

// Call places an outgoing call. The machine moves to AwaitingAnswer once the
// offer is on the wire.
func (m *Machine) Call(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEnded {
		return ErrEnded
	}
	if m.state != StateIdle {
		return ErrNotIdle
	}

	if err := m.media.Acquire(); err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	neg, err := m.startNegotiatorLocked()
	if err != nil {
		m.media.Release()
		return err
	}

	offer, err := neg.CreateOffer()
	if err != nil {
		m.teardownLocked(StateIdle)
		return fmt.Errorf("create offer: %w", err)
	}

	m.remoteID = target
	if err := m.signaler.SendOffer(target, m.selfID, offer); err != nil {
		m.teardownLocked(StateIdle)
		return fmt.Errorf("send offer: %w", err)
	}

	m.state = StateAwaitingAnswer
	m.flushLocalCandidatesLocked()
	m.log.Debug("call placed", "target", target)
	return nil
}

// HandleOffer reacts to an incoming offer. In Idle it parks the offer until
// Accept or Reject. In Connecting or Active it is a renegotiation from the
// current remote peer and is answered immediately; offers from anyone else
// are dropped.
func (m *Machine) HandleOffer(caller string, sdp signaling.SDP) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle:
		offer := sdp
		m.pendingOffer = &offer
		m.remoteID = caller
		m.state = StateIncomingOffer
		m.log.Debug("incoming call", "caller", caller)
		return nil
	case StateConnecting, StateActive:
		if caller != m.remoteID {
			m.log.Debug("dropping offer mid-call", "caller", caller)
			return nil
		}
		answer, err := m.neg.CreateAnswer(sdp)
		if err != nil {
			return fmt.Errorf("renegotiate: %w", err)
		}
		if err := m.signaler.SendAnswer(caller, m.selfID, answer); err != nil {
			return fmt.Errorf("send answer: %w", err)
		}
		return nil
	case StateEnded:
		return nil
	default:
		// Already negotiating with someone; the concurrent caller gets no
		// reply and gives up on its own.
		m.log.Debug("dropping offer while busy", "caller", caller, "state", m.state)
		return nil
	}
}

// Accept answers the parked incoming offer.
func (m *Machine) Accept() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEnded {
		return ErrEnded
	}
	if m.state != StateIncomingOffer || m.pendingOffer == nil {
		return ErrNoPendingCall
	}

	if err := m.media.Acquire(); err != nil {
		// Media failure abandons the call entirely.
		m.pendingOffer = nil
		m.remoteID = ""
		m.state = StateIdle
		return fmt.Errorf("acquire media: %w", err)
	}

	neg, err := m.startNegotiatorLocked()
	if err != nil {
		m.media.Release()
		m.pendingOffer = nil
		m.remoteID = ""
		m.state = StateIdle
		return err
	}

	answer, err := neg.CreateAnswer(*m.pendingOffer)
	if err != nil {
		m.teardownLocked(StateIdle)
		return fmt.Errorf("create answer: %w", err)
	}
	m.pendingOffer = nil
	m.remoteDescSet = true
	m.flushRemoteCandidatesLocked()

	if err := m.signaler.SendAnswer(m.remoteID, m.selfID, answer); err != nil {
		m.teardownLocked(StateIdle)
		return fmt.Errorf("send answer: %w", err)
	}

	m.state = StateConnecting
	m.flushLocalCandidatesLocked()
	return nil
}

// Reject declines the parked incoming offer and returns to Idle.
func (m *Machine) Reject() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIncomingOffer {
		return ErrNoPendingCall
	}

	caller := m.remoteID
	m.pendingOffer = nil
	m.remoteID = ""
	m.state = StateIdle

	if err := m.signaler.SendEndCall(caller); err != nil {
		return fmt.Errorf("send end-call: %w", err)
	}
	return nil
}

// HandleAnswer applies the callee's answer on the offering side.
func (m *Machine) HandleAnswer(caller string, sdp signaling.SDP) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEnded {
		return nil
	}
	if m.state != StateAwaitingAnswer || caller != m.remoteID {
		m.log.Debug("dropping unexpected answer", "caller", caller, "state", m.state)
		return nil
	}

	if err := m.neg.AcceptAnswer(sdp); err != nil {
		return fmt.Errorf("accept answer: %w", err)
	}
	m.remoteDescSet = true
	m.flushRemoteCandidatesLocked()
	m.state = StateConnecting
	return nil
}

// HandleRemoteCandidate feeds a trickled candidate to the negotiator,
// buffering it while the remote description is still pending.
func (m *Machine) HandleRemoteCandidate(cand signaling.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEnded || m.state == StateIdle {
		return nil
	}
	if !m.remoteDescSet {
		m.pendingRemote = append(m.pendingRemote, cand)
		return nil
	}
	if err := m.neg.AddRemoteCandidate(cand); err != nil {
		return fmt.Errorf("add remote candidate: %w", err)
	}
	return nil
}

// Renegotiate sends a fresh offer over the existing connection, e.g. after
// adding a track.
func (m *Machine) Renegotiate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnecting && m.state != StateActive {
		return ErrNotActive
	}
	offer, err := m.neg.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := m.signaler.SendOffer(m.remoteID, m.selfID, offer); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

// Hangup ends the call locally and tells the remote peer. The machine is
// terminal afterwards.
func (m *Machine) Hangup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEnded {
		return ErrEnded
	}
	if m.state == StateIdle {
		return ErrNotActive
	}

	remote := m.remoteID
	m.teardownLocked(StateEnded)

	if remote != "" {
		if err := m.signaler.SendEndCall(remote); err != nil {
			return fmt.Errorf("send end-call: %w", err)
		}
	}
	return nil
}

// HandleEndCall tears down when the remote peer hangs up.
func (m *Machine) HandleEndCall() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEnded || m.state == StateIdle {
		return
	}
	m.log.Debug("remote peer ended call", "remote", m.remoteID)
	m.teardownLocked(StateEnded)
}

// HandlePeerLeft tears down when the remote peer's connection dies mid-call.
// Departures of unrelated peers are ignored.
func (m *Machine) HandlePeerLeft(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEnded || m.state == StateIdle || peer != m.remoteID {
		return
	}
	m.log.Debug("remote peer left", "remote", peer)
	m.teardownLocked(StateEnded)
}

// handleConnected moves Connecting to Active when the transport comes up.
func (m *Machine) handleConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnecting {
		return
	}
	m.state = StateActive
	m.log.Debug("call active", "remote", m.remoteID)
}

func (m *Machine) startNegotiatorLocked() (Negotiator, error) {
	neg, err := m.newNegotiator()
	if err != nil {
		return nil, fmt.Errorf("create negotiator: %w", err)
	}
	neg.OnLocalCandidate(m.onLocalCandidate)
	neg.OnConnected(m.handleConnected)
	m.neg = neg
	m.remoteDescSet = false
	m.pendingLocal = nil
	m.pendingRemote = nil
	return neg, nil
}

func (m *Machine) onLocalCandidate(cand signaling.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEnded {
		return
	}
	if m.remoteID == "" {
		m.pendingLocal = append(m.pendingLocal, cand)
		return
	}
	m.sendCandidateLocked(cand)
}

func (m *Machine) flushLocalCandidatesLocked() {
	buffered := m.pendingLocal
	m.pendingLocal = nil
	for _, cand := range buffered {
		m.sendCandidateLocked(cand)
	}
}

func (m *Machine) sendCandidateLocked(cand signaling.Candidate) {
	if err := m.signaler.SendCandidate(m.remoteID, cand); err != nil {
		m.log.Debug("failed to send candidate", "err", err)
	}
}

func (m *Machine) flushRemoteCandidatesLocked() {
	buffered := m.pendingRemote
	m.pendingRemote = nil
	for _, cand := range buffered {
		if err := m.neg.AddRemoteCandidate(cand); err != nil {
			m.log.Debug("failed to apply buffered candidate", "err", err)
		}
	}
}

// teardownLocked releases the negotiator and media and lands in next.
func (m *Machine) teardownLocked(next State) {
	if m.neg != nil {
		_ = m.neg.Close()
		m.neg = nil
	}
	m.media.Release()
	m.pendingOffer = nil
	m.pendingLocal = nil
	m.pendingRemote = nil
	m.remoteDescSet = false
	if next == StateIdle {
		m.remoteID = ""
	}
	m.state = next
}
