// Package sigclient is the client side of the signaling channel. It dials
// the relay, owns the read/write pumps and dispatches typed events, and
// satisfies the call package's Signaler interface.
package sigclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomrelay/roomrelay/internal/signaling"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendQueueLength = 64
)

var ErrClosed = errors.New("sigclient: connection closed")

// Handlers receives server events. Unset handlers are skipped. All handlers
// run on the read pump goroutine, so they must not block.
type Handlers struct {
	OnUsers      func(room string, peers []string)
	OnUserJoined func(peer string)
	OnUserLeft   func(peer string)
	OnOffer      func(caller string, sdp signaling.SDP)
	OnAnswer     func(caller string, sdp signaling.SDP)
	OnCandidate  func(cand signaling.Candidate)
	OnEndCall    func()

	// OnDisconnect fires once when the connection dies, with the read error.
	OnDisconnect func(err error)
}

type Client struct {
	conn     *websocket.Conn
	log      *slog.Logger
	handlers Handlers

	peerID string

	mu     sync.Mutex
	closed bool
	send   chan signaling.Message

	done chan struct{}
}

// Dial connects to the relay's /ws endpoint and waits for the peer-id
// greeting before returning. The returned client is ready to signal.
func Dial(ctx context.Context, url string, handlers Handlers, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	c := &Client{
		conn:     conn,
		log:      log,
		handlers: handlers,
		send:     make(chan signaling.Message, sendQueueLength),
		done:     make(chan struct{}),
	}

	if err := c.awaitGreeting(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) awaitGreeting(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	var msg signaling.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode greeting: %w", err)
	}
	if msg.Event != signaling.EventPeerID || msg.Peer == "" {
		return fmt.Errorf("unexpected first message %q", msg.Event)
	}
	c.peerID = msg.Peer
	return nil
}

// PeerID is the server-assigned identity, which doubles as the personal
// room other peers can address directly.
func (c *Client) PeerID() string { return c.peerID }

// Done is closed when the connection has shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) JoinRoom(room string) error {
	return c.enqueue(signaling.Message{Event: signaling.EventJoinRoom, Room: room})
}

func (c *Client) SendOffer(target, caller string, sdp signaling.SDP) error {
	return c.enqueue(signaling.Message{
		Event:  signaling.EventOffer,
		Target: target,
		Caller: caller,
		SDP:    &sdp,
	})
}

func (c *Client) SendAnswer(target, caller string, sdp signaling.SDP) error {
	return c.enqueue(signaling.Message{
		Event:  signaling.EventAnswer,
		Target: target,
		Caller: caller,
		SDP:    &sdp,
	})
}

func (c *Client) SendCandidate(target string, cand signaling.Candidate) error {
	return c.enqueue(signaling.Message{
		Event:     signaling.EventICECandidate,
		Target:    target,
		Candidate: &cand,
	})
}

func (c *Client) SendEndCall(to string) error {
	return c.enqueue(signaling.Message{Event: signaling.EventEndCall, To: to})
}

func (c *Client) enqueue(msg signaling.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return fmt.Errorf("sigclient: send queue full")
	}
}

func (c *Client) Close() error {
	c.closeSend()
	return nil
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.closeSend()
		_ = c.conn.Close()
		close(c.done)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handlers.OnDisconnect != nil {
				c.handlers.OnDisconnect(err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg signaling.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("dropping undecodable server message", "err", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg signaling.Message) {
	switch msg.Event {
	case signaling.EventUsers:
		if c.handlers.OnUsers != nil {
			c.handlers.OnUsers(msg.Room, msg.Peers)
		}
	case signaling.EventUserJoined:
		if c.handlers.OnUserJoined != nil {
			c.handlers.OnUserJoined(msg.Peer)
		}
	case signaling.EventUserLeft:
		if c.handlers.OnUserLeft != nil {
			c.handlers.OnUserLeft(msg.Peer)
		}
	case signaling.EventOffer:
		if c.handlers.OnOffer != nil && msg.SDP != nil {
			c.handlers.OnOffer(msg.Caller, *msg.SDP)
		}
	case signaling.EventAnswer:
		if c.handlers.OnAnswer != nil && msg.SDP != nil {
			c.handlers.OnAnswer(msg.Caller, *msg.SDP)
		}
	case signaling.EventICECandidate:
		if c.handlers.OnCandidate != nil && msg.Candidate != nil {
			c.handlers.OnCandidate(*msg.Candidate)
		}
	case signaling.EventEndCall:
		if c.handlers.OnEndCall != nil {
			c.handlers.OnEndCall()
		}
	default:
		c.log.Debug("ignoring unknown server event", "event", msg.Event)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
