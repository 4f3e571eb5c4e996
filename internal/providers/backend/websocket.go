package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
	"lingoa/internal/stream"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultDialTimeout  = 15 * time.Second
	closeWriteTimeout   = time.Second
	// closeSessionNotFound is sent by the backend for unknown session ids.
	closeSessionNotFound = 4004
)

var (
	ErrSessionNotFound = errors.New("conversation session not found")
	ErrReplyTimeout    = errors.New("reply stream timed out")
)

// WebsocketConfig bounds the websocket reply transport. A zero
// StreamTimeout leaves the stream bounded only by the caller's context.
type WebsocketConfig struct {
	BaseURL       string
	PingInterval  time.Duration
	DialTimeout   time.Duration
	StreamTimeout time.Duration
}

// WebsocketReplier streams replies over /ws/conversation/{session_id}. Each
// reply uses its own connection so a cancelled reply cannot bleed into the
// next turn.
type WebsocketReplier struct {
	cfg    WebsocketConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewWebsocketReplier(cfg WebsocketConfig, logger *slog.Logger) *WebsocketReplier {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketReplier{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logger.With("component", "backend_ws"),
	}
}

type wsOutbound struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
}

func (w *WebsocketReplier) StreamReply(ctx context.Context, req ports.ReplyRequest) (ports.EnvelopeStream, error) {
	wsURL, err := buildConversationURL(w.cfg.BaseURL, req.SessionID)
	if err != nil {
		return nil, err
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, w.cfg.DialTimeout)
	conn, _, err := w.dialer.DialContext(dialCtx, wsURL, nil)
	dialCancel()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to conversation websocket: %w", err)
	}

	var streamCtx context.Context
	var cancel context.CancelFunc
	if w.cfg.StreamTimeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, w.cfg.StreamTimeout)
	} else {
		streamCtx, cancel = context.WithCancel(ctx)
	}

	s := &wsStream{
		conn:    conn,
		items:   make(chan wsItem, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	if err := s.write(wsOutbound{Type: "transcript", Text: req.Transcript, IsFinal: true}); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send transcript: %w", err)
	}

	go s.readLoop()
	go s.keepalive(w.cfg.PingInterval)
	go func() {
		defer cancel()
		select {
		case <-streamCtx.Done():
			if ctx.Err() == nil {
				w.logger.Warn("reply stream timed out", "session_id", req.SessionID, "timeout", w.cfg.StreamTimeout)
				s.fail(fmt.Errorf("%w after %s", ErrReplyTimeout, w.cfg.StreamTimeout))
			}
			_ = s.Close()
		case <-s.done:
		}
	}()

	w.logger.Debug("reply stream opened", "session_id", req.SessionID, "transport", "websocket")
	return s, nil
}

type wsItem struct {
	envelope domain.StreamEnvelope
	err      error
}

type wsStream struct {
	conn *websocket.Conn

	items   chan wsItem
	done    chan struct{}
	closing chan struct{}

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Next returns io.EOF after the reply completed or the connection closed
// normally.
func (s *wsStream) Next() (domain.StreamEnvelope, error) {
	item, ok := <-s.items
	if !ok {
		if err := s.waitErr(); err != nil {
			return domain.StreamEnvelope{}, err
		}
		return domain.StreamEnvelope{}, io.EOF
	}
	return item.envelope, item.err
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *wsStream) write(msg wsOutbound) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *wsStream) readLoop() {
	defer func() {
		close(s.items)
		close(s.done)
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(err)
			return
		}

		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(payload, &probe) == nil && (probe.Type == "pong" || probe.Type == "ping") {
			continue
		}

		envelope, err := stream.DecodeEnvelope("", payload)
		select {
		case s.items <- wsItem{envelope: envelope, err: err}:
		case <-s.closing:
			return
		}
		if err == nil && envelope.Kind == domain.EnvelopeDone {
			return
		}
	}
}

func (s *wsStream) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(wsOutbound{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// fail records err ahead of a local close so Next reports it instead of EOF.
func (s *wsStream) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *wsStream) setErr(err error) {
	if err == nil {
		return
	}
	select {
	case <-s.closing:
		return
	default:
	}
	if websocket.IsCloseError(err, closeSessionNotFound) {
		err = fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	} else if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func buildConversationURL(base string, sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("session id is required")
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	conversationURL, err := url.Parse(base + "/ws/conversation/" + url.PathEscape(sessionID))
	if err != nil {
		return "", fmt.Errorf("invalid backend base URL: %w", err)
	}
	return conversationURL.String(), nil
}
