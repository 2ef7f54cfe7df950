package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomrelay/roomrelay/internal/sigclient"
	"github.com/roomrelay/roomrelay/internal/signaling"
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and watch membership events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(args[0])
	},
}

func runJoin(room string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	wsURL, err := wsEndpoint(flagServer)
	if err != nil {
		return err
	}

	client, err := sigclient.Dial(dialCtx, wsURL, sigclient.Handlers{
		OnUsers: func(room string, peers []string) {
			fmt.Printf("room %s members: %v\n", room, peers)
		},
		OnUserJoined: func(peer string) {
			fmt.Printf("joined: %s\n", peer)
		},
		OnUserLeft: func(peer string) {
			fmt.Printf("left: %s\n", peer)
		},
		OnOffer: func(caller string, _ signaling.SDP) {
			fmt.Printf("incoming call from %s (use 'roomrelay answer %s' to take calls)\n", caller, room)
		},
	}, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("connected as %s\n", client.PeerID())
	if err := client.JoinRoom(room); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		return fmt.Errorf("connection to server lost")
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
