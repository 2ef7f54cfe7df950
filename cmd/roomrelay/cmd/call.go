package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/roomrelay/roomrelay/internal/call"
	"github.com/roomrelay/roomrelay/internal/sigclient"
	"github.com/roomrelay/roomrelay/internal/signaling"
)

var callCmd = &cobra.Command{
	Use:   "call <peer-id>",
	Short: "Place a call to a peer by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(args[0])
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <room>",
	Short: "Wait in a room and answer the first incoming call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnswer(args[0])
	},
}

// callPeer wires a signaling client and a call machine together.
type callPeer struct {
	client  *sigclient.Client
	machine *call.Machine

	offers chan string
}

func newCallPeer(ctx context.Context) (*callPeer, error) {
	wsURL, err := wsEndpoint(flagServer)
	if err != nil {
		return nil, err
	}

	iceServers, err := fetchICEServers(flagServer)
	if err != nil {
		slog.Warn("continuing without STUN/TURN", "err", err)
	}

	api, err := call.NewAPI(logging.NewDefaultLoggerFactory())
	if err != nil {
		return nil, err
	}

	p := &callPeer{offers: make(chan string, 1)}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	p.client, err = sigclient.Dial(dialCtx, wsURL, sigclient.Handlers{
		OnOffer: func(caller string, sdp signaling.SDP) {
			if err := p.machine.HandleOffer(caller, sdp); err != nil {
				slog.Warn("offer rejected", "caller", caller, "err", err)
				return
			}
			select {
			case p.offers <- caller:
			default:
			}
		},
		OnAnswer: func(caller string, sdp signaling.SDP) {
			if err := p.machine.HandleAnswer(caller, sdp); err != nil {
				slog.Warn("answer rejected", "caller", caller, "err", err)
			}
		},
		OnCandidate: func(cand signaling.Candidate) {
			if err := p.machine.HandleRemoteCandidate(cand); err != nil {
				slog.Warn("candidate rejected", "err", err)
			}
		},
		OnEndCall: func() {
			p.machine.HandleEndCall()
		},
		OnUserLeft: func(peer string) {
			p.machine.HandlePeerLeft(peer)
		},
	}, nil)
	if err != nil {
		return nil, err
	}

	p.machine = call.NewMachine(p.client.PeerID(), p.client, call.NopMediaSource{}, func() (call.Negotiator, error) {
		return call.NewPionNegotiator(api, iceServers)
	}, slog.Default())

	return p, nil
}

// waitForOutcome blocks until the call ends, the connection drops or the
// user interrupts.
func (p *callPeer) waitForOutcome(ctx context.Context) error {
	lastState := p.machine.State()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.machine.Hangup()
			fmt.Println("call ended")
			return nil
		case <-p.client.Done():
			return fmt.Errorf("connection to server lost")
		case <-ticker.C:
			state := p.machine.State()
			if state == lastState {
				continue
			}
			lastState = state
			switch state {
			case call.StateActive:
				fmt.Println("call active")
			case call.StateEnded:
				fmt.Println("call ended")
				return nil
			case call.StateIdle:
				// Reached from a rejected or failed setup.
				fmt.Println("call did not connect")
				return nil
			}
		}
	}
}

func runCall(target string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, err := newCallPeer(ctx)
	if err != nil {
		return err
	}
	defer p.client.Close()

	fmt.Printf("connected as %s, calling %s\n", p.client.PeerID(), target)
	if err := p.machine.Call(target); err != nil {
		return err
	}
	return p.waitForOutcome(ctx)
}

func runAnswer(room string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, err := newCallPeer(ctx)
	if err != nil {
		return err
	}
	defer p.client.Close()

	fmt.Printf("connected as %s, waiting in room %s\n", p.client.PeerID(), room)
	if err := p.client.JoinRoom(room); err != nil {
		return err
	}

	select {
	case caller := <-p.offers:
		fmt.Printf("answering call from %s\n", caller)
		if err := p.machine.Accept(); err != nil {
			return err
		}
	case <-ctx.Done():
		return nil
	case <-p.client.Done():
		return fmt.Errorf("connection to server lost")
	}

	return p.waitForOutcome(ctx)
}

func init() {
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(answerCmd)
}
