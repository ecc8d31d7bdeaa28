package push

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"soswatch/internal/config"
	"soswatch/internal/domain"
)

// WebSocketSource consumes push events over one persistent websocket
// connection and forwards them to the sink, reconnecting with backoff
// on read failure.
// Params: websocket config, sink, and optional logger.
// Returns: push channel lifecycle handle.
type WebSocketSource struct {
	cfg    config.WebSocketPushConfig
	sink   EventSink
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketSource dials the push endpoint and starts the read loop.
// Params: websocket push config, sink, and optional logger.
// Returns: started source or initial dial error.
func NewWebSocketSource(cfg config.WebSocketPushConfig, sink EventSink, logger *slog.Logger) (*WebSocketSource, error) {
	source := &WebSocketSource{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}
	conn, err := source.dial()
	if err != nil {
		return nil, fmt.Errorf("dial push endpoint %q: %w", cfg.URL, err)
	}
	source.setConn(conn)
	go source.run(conn)
	return source, nil
}

// dial opens one websocket connection with the configured handshake timeout.
// Params: none.
// Returns: open connection or dial error.
func (s *WebSocketSource) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(s.cfg.HandshakeSec) * time.Second,
	}
	conn, _, err := dialer.Dial(s.cfg.URL, nil)
	return conn, err
}

// run reads events until Close, reconnecting on failure.
// Params: current open connection.
// Returns: none; exits when done is closed.
func (s *WebSocketSource) run(conn *websocket.Conn) {
	for {
		s.readLoop(conn)
		select {
		case <-s.done:
			return
		default:
		}
		next, ok := s.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

// readLoop consumes frames from one connection until it fails.
// Params: open connection.
// Returns: none; returns when the connection is unusable.
func (s *WebSocketSource) readLoop(conn *websocket.Conn) {
	pingInterval := time.Duration(s.cfg.PingIntervalSec) * time.Second
	readWait := pingInterval + pingInterval/2

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	stopPing := make(chan struct{})
	go s.pingLoop(conn, pingInterval, stopPing)
	defer close(stopPing)
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.logger != nil {
				s.logger.Warn("push connection read failed", "error", err.Error())
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		event, decodeErr := domain.DecodePushEvent(payload)
		if decodeErr != nil {
			if s.logger != nil {
				s.logger.Warn("push event decode failed", "error", decodeErr.Error())
			}
			continue
		}
		if pushErr := s.sink.Push(event); pushErr != nil && s.logger != nil {
			s.logger.Error("push event sink failed", "event", string(event.Event), "error", pushErr.Error())
		}
	}
}

// pingLoop sends keepalive pings at the configured interval.
// Params: connection, interval, and stop channel.
// Returns: none; exits on stop or write failure.
func (s *WebSocketSource) pingLoop(conn *websocket.Conn, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// reconnect redials with exponential backoff until success or Close.
// Params: none.
// Returns: fresh connection and true, or false when the source closed.
func (s *WebSocketSource) reconnect() (*websocket.Conn, bool) {
	backoff := time.Duration(s.cfg.ReconnectMinMS) * time.Millisecond
	maxBackoff := time.Duration(s.cfg.ReconnectMaxMS) * time.Millisecond
	for {
		select {
		case <-s.done:
			return nil, false
		case <-time.After(backoff):
		}

		conn, err := s.dial()
		if err == nil {
			s.setConn(conn)
			if s.logger != nil {
				s.logger.Info("push connection reestablished", "url", s.cfg.URL)
			}
			return conn, true
		}
		if s.logger != nil {
			s.logger.Warn("push reconnect failed", "error", err.Error())
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// setConn records the current connection for Close.
// Params: open connection.
// Returns: none.
func (s *WebSocketSource) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Close tears down the subscription and the connection.
// Params: none.
// Returns: nil; safe to call multiple times.
func (s *WebSocketSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				deadline,
			)
			_ = conn.Close()
		}
	})
	return nil
}
