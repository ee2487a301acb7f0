package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/pkg/logger"
)

var (
	// ErrNoAPIKey is returned before any connection attempt when no
	// credential is configured.
	ErrNoAPIKey = errors.New("transcription API key is not configured")
	// ErrNotConnected is returned when sending on a closed upstream
	// transport.
	ErrNotConnected = errors.New("upstream transcription connection is not open")
)

// Close codes the upstream service uses for credential and model problems.
const (
	closeCodeInvalidCredential = 4001
	closeCodeDeprecatedModel   = 4105
)

// CloseCodeMessage translates a known upstream close code into user-facing
// error text. Unknown codes get a generic message.
func CloseCodeMessage(code int) string {
	switch code {
	case closeCodeInvalidCredential:
		return "Transcription service rejected the API key"
	case closeCodeDeprecatedModel:
		return "Transcription model is deprecated and no longer available"
	default:
		return fmt.Sprintf("Transcription connection closed unexpectedly (code %d)", code)
	}
}

// Config holds the upstream connection parameters.
type Config struct {
	APIKey         string
	BaseURL        string
	SampleRate     int
	FormatTurns    bool
	ConnectTimeout time.Duration
}

// Client connects to the streaming transcription service over WebSocket.
type Client struct {
	cfg    Config
	logger *logger.Logger
}

// NewClient creates an upstream transcription client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://streaming.assemblyai.com/v3/ws"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: log.Named("transcribe-client"),
	}
}

// Dial opens one upstream connection tagged with the fixed audio parameters.
// It fails fast, before any network activity, when no credential is
// configured.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid transcription base URL: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("encoding", "pcm_s16le")
	if c.cfg.FormatTurns {
		q.Set("format_turns", "true")
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", c.cfg.APIKey)

	dialer := &websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to transcription service: %w", err)
	}

	c.logger.Info("Upstream transcription connection established",
		logger.Int("sample_rate", c.cfg.SampleRate),
		logger.Bool("format_turns", c.cfg.FormatTurns))

	s := &Session{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	s.open.Store(true)

	go s.readLoop()
	return s, nil
}

// Session is one live upstream transcription connection. Events arrive on a
// typed channel; the session owns the read side of the transport, the owner
// serializes writes through SendAudio/Terminate.
type Session struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	logger *logger.Logger

	writeMu    sync.Mutex
	open       atomic.Bool
	terminated atomic.Bool
}

// Events returns the classified upstream event stream. The channel is closed
// when the connection ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsOpen reports whether the upstream transport is open.
func (s *Session) IsOpen() bool {
	return s.open.Load()
}

// SendAudio decodes the transport-safe audio payload back into a raw binary
// frame and transmits it. Fails with ErrNotConnected once the transport has
// closed.
func (s *Session) SendAudio(payload string) error {
	if !s.open.Load() {
		return ErrNotConnected
	}
	frame, err := audio.DecodePayload(payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

// Terminate closes the upstream transport with a normal-closure code and a
// user-initiated reason. It has no effect if the session is already closed.
func (s *Session) Terminate() error {
	if !s.open.CompareAndSwap(true, false) {
		return nil
	}
	s.terminated.Store(true)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session terminated by user")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		// The read loop still tears the connection down below.
		s.logger.Debug("Failed to send close frame", logger.Error(err))
	}
	// Bound the wait for the server's close reply so the read loop always
	// exits.
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return nil
}

func (s *Session) readLoop() {
	defer func() {
		s.open.Store(false)
		_ = s.conn.Close()
		close(s.events)
		close(s.done)
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		// Payloads that fail to parse are dropped silently; a malformed
		// upstream frame must never crash the relay.
		if ev, ok := Classify(payload); ok {
			s.events <- ev
		}
	}
}

func (s *Session) handleReadError(err error) {
	if s.terminated.Load() {
		// User-initiated close; whatever the transport reports now is not an
		// error worth surfacing.
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		s.logger.Warn("Upstream connection closed",
			logger.Int("code", closeErr.Code),
			logger.String("reason", closeErr.Text))
		s.events <- Event{Type: EventError, Message: CloseCodeMessage(closeErr.Code)}
		return
	}

	s.logger.Warn("Upstream read failed", logger.Error(err))
	s.events <- Event{Type: EventError, Message: fmt.Sprintf("Transcription connection error: %v", err)}
}
