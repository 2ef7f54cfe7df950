package call

import (
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/roomrelay/roomrelay/internal/signaling"
)

// DataChannelLabel is the control channel opened alongside every call. It
// bootstraps the SCTP association even for calls that carry no media tracks
// yet, so ICE and DTLS come up immediately.
const DataChannelLabel = "control"

// NewAPI builds the pion API for client-side peer connections.
func NewAPI(lf logging.LoggerFactory) (*webrtc.API, error) {
	se := webrtc.SettingEngine{LoggerFactory: lf}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// PionNegotiator adapts a pion PeerConnection to the Negotiator interface.
type PionNegotiator struct {
	pc *webrtc.PeerConnection

	mu sync.Mutex
	dc *webrtc.DataChannel
}

var _ Negotiator = (*PionNegotiator)(nil)

func NewPionNegotiator(api *webrtc.API, iceServers []webrtc.ICEServer) (*PionNegotiator, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	n := &PionNegotiator{pc: pc}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			return
		}
		n.mu.Lock()
		n.dc = dc
		n.mu.Unlock()
	})

	return n, nil
}

func (n *PionNegotiator) PeerConnection() *webrtc.PeerConnection {
	return n.pc
}

func (n *PionNegotiator) CreateOffer() (signaling.SDP, error) {
	n.mu.Lock()
	needDC := n.dc == nil
	n.mu.Unlock()

	if needDC {
		dc, err := n.pc.CreateDataChannel(DataChannelLabel, nil)
		if err != nil {
			return signaling.SDP{}, err
		}
		n.mu.Lock()
		n.dc = dc
		n.mu.Unlock()
	}

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SDP{}, err
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return signaling.SDP{}, err
	}
	return signaling.SDPFromPion(offer), nil
}

func (n *PionNegotiator) CreateAnswer(remote signaling.SDP) (signaling.SDP, error) {
	desc, err := remote.ToPion()
	if err != nil {
		return signaling.SDP{}, err
	}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return signaling.SDP{}, err
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SDP{}, err
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return signaling.SDP{}, err
	}
	return signaling.SDPFromPion(answer), nil
}

func (n *PionNegotiator) AcceptAnswer(remote signaling.SDP) error {
	desc, err := remote.ToPion()
	if err != nil {
		return err
	}
	return n.pc.SetRemoteDescription(desc)
}

func (n *PionNegotiator) AddRemoteCandidate(cand signaling.Candidate) error {
	return n.pc.AddICECandidate(cand.ToPion())
}

func (n *PionNegotiator) OnLocalCandidate(fn func(signaling.Candidate)) {
	n.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(signaling.CandidateFromPion(c.ToJSON()))
	})
}

func (n *PionNegotiator) OnConnected(fn func()) {
	n.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateConnected {
			fn()
		}
	})
}

func (n *PionNegotiator) Close() error {
	return n.pc.Close()
}

// NopMediaSource satisfies MediaSource for data-channel-only clients that
// have no capture device to manage.
type NopMediaSource struct{}

func (NopMediaSource) Acquire() error { return nil }
func (NopMediaSource) Release()       {}
