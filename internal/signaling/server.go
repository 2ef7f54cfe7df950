package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/origin"
	"github.com/roomrelay/roomrelay/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// Server terminates signaling WebSocket connections and feeds the relay.
//
// Each connection gets a generated peer id, a bounded outbound queue and a
// write pump. The read loop enforces the inbound hardening limits (message
// size, message rate, idle timeout) before a message reaches routing.
type Server struct {
	// Relay routes messages between the peers this server accepts.
	//
	// The field is exported so tests can use a struct literal
	// (e.g. &Server{Relay: NewRelay(nil, m)}).
	Relay *Relay

	Log     *slog.Logger
	Metrics *metrics.Metrics

	// OriginPolicy gates browser connections. If nil, only same-host and
	// originless clients are admitted.
	OriginPolicy *origin.Policy

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLength      int
}

func NewServer(cfg config.Config, log *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		Relay:        NewRelay(log, m),
		Log:          log,
		Metrics:      m,
		OriginPolicy: origin.NewPolicy(cfg.AllowedOrigins),

		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueLength:      cfg.PeerSendQueueLength,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.ServeHTTP)
}

func (s *Server) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Server) originPolicy() *origin.Policy {
	if s.OriginPolicy == nil {
		return origin.NewPolicy(nil)
	}
	return s.OriginPolicy
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return config.DefaultSignalingWSIdleTimeout
	}
	return s.IdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.PingInterval <= 0 {
		return config.DefaultSignalingWSPingInterval
	}
	return s.PingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.MaxMessageBytes <= 0 {
		return config.DefaultMaxSignalingMessageBytes
	}
	return s.MaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.MaxMessagesPerSecond <= 0 {
		return config.DefaultMaxSignalingMessagesPerSecond
	}
	return s.MaxMessagesPerSecond
}

func (s *Server) sendQueueLength() int {
	if s.SendQueueLength <= 0 {
		return config.DefaultPeerSendQueueLength
	}
	return s.SendQueueLength
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.originPolicy().Allow(r.Header.Get("Origin"), r.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &wsPeer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Message, s.sendQueueLength()),
	}

	s.Relay.Connect(p)
	go s.writePump(p)
	s.readLoop(p)
}

// readLoop owns the connection's inbound side and runs on the HTTP handler
// goroutine. It triggers the disconnect cleanup exactly once, on exit.
func (s *Server) readLoop(p *wsPeer) {
	defer func() {
		s.Relay.Disconnect(p.id)
		p.closeSend()
		_ = p.conn.Close()
	}()

	idle := s.idleTimeout()
	p.conn.SetReadLimit(s.maxMessageBytes())
	_ = p.conn.SetReadDeadline(time.Now().Add(idle))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(idle))
	})

	rate := int64(s.maxMessagesPerSecond())
	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{}, rate, rate)

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(idle))

		// The limit applies after the read so bytes already in the TCP
		// receive buffer are consumed. Closing with unread data pending can
		// turn into an RST and the client never sees the close reason.
		if !limiter.Allow(1) {
			s.Metrics.Inc(metrics.DropReasonRateLimited)
			p.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.Metrics.Inc(metrics.DropReasonBadMessage)
			p.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := ParseClientMessage(data)
		if err != nil {
			// Malformed messages are dropped, not fatal. A buggy client keeps
			// its connection and its existing calls.
			s.Metrics.Inc(metrics.DropReasonBadMessage)
			s.log().Debug("dropping malformed message", "peer", p.id, "err", err)
			continue
		}

		s.Relay.HandleMessage(p, msg)
	}
}

// writePump owns the connection's outbound side. It exits when the send
// queue is closed or a write fails, closing the connection either way.
func (s *Server) writePump(p *wsPeer) {
	ticker := time.NewTicker(s.pingInterval())
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsPeer is one connected client. Send never blocks: the queue either
// accepts the message or the message is dropped.
type wsPeer struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan Message
}

func (p *wsPeer) ID() string { return p.id }

func (p *wsPeer) Send(msg Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend marks the peer unwritable and releases the write pump. Safe
// against concurrent Send calls; both sides take the same lock.
func (p *wsPeer) closeSend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

func (p *wsPeer) closeWith(code int, reason string) {
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
