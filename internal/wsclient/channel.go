package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/relay"
	"github.com/voicebridge/voicebridge/pkg/logger"
)

// ErrNotConnected is returned when sending on a channel whose underlying
// connection is not open.
var ErrNotConnected = errors.New("channel is not connected")

// MessageHandler observes inbound channel messages.
type MessageHandler interface {
	OnMessage(data []byte)
}

// ErrorHandler observes channel errors.
type ErrorHandler interface {
	OnError(err error)
}

// CloseHandler observes channel closure with its classified reason.
type CloseHandler interface {
	OnClose(reason CloseReason)
}

// Options configures a Channel.
type Options struct {
	URL                  string
	ConnectTimeout       time.Duration // default 10s
	MaxReconnectAttempts int           // default 5
	ReconnectBaseDelay   time.Duration // default 1s
	Scheduler            Scheduler
	Logger               *logger.Logger
}

// Channel is a duplex logical connection to the relay with automatic bounded
// reconnection, observer dispatch, and explicit intentional-close semantics.
type Channel struct {
	opts      Options
	scheduler Scheduler
	logger    *logger.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	connecting  bool
	reconnect   ReconnectState
	intentional bool

	writeMu sync.Mutex

	handlerMu     sync.Mutex
	msgHandlers   map[MessageHandler]struct{}
	errHandlers   map[ErrorHandler]struct{}
	closeHandlers map[CloseHandler]struct{}
}

// New creates a channel for the given relay URL. The channel is not connected
// until Connect is called.
func New(opts Options) *Channel {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timerScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Channel{
		opts:          opts,
		scheduler:     opts.Scheduler,
		logger:        opts.Logger.Named("ws-channel"),
		reconnect:     NewReconnectState(opts.MaxReconnectAttempts, opts.ReconnectBaseDelay),
		msgHandlers:   make(map[MessageHandler]struct{}),
		errHandlers:   make(map[ErrorHandler]struct{}),
		closeHandlers: make(map[CloseHandler]struct{}),
	}
}

// Connect opens the underlying connection. It is idempotent: a call while
// already connected or connecting returns immediately without opening a
// second connection. On success the reconnect attempt counter resets to zero.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	defer cancel()

	dialer := &websocket.Dialer{HandshakeTimeout: c.opts.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		err = fmt.Errorf("failed to open channel: %w", err)
		c.logger.Warn("Connect failed", logger.Error(err))
		c.notifyError(err)
		return err
	}
	c.conn = conn
	c.reconnect = c.reconnect.Reset()
	c.mu.Unlock()

	c.logger.Info("Channel connected", logger.String("url", c.opts.URL))
	go c.readLoop(conn)
	return nil
}

// IsConnected reports whether the underlying connection is open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send serializes and transmits a message exactly once. Fails with
// ErrNotConnected when the connection is not open.
func (c *Channel) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendAudio transmits one audio frame payload.
func (c *Channel) SendAudio(frame string) error {
	return c.Send(relay.ClientMessage{AudioData: frame})
}

// Terminate requests session termination. Send errors are swallowed:
// termination must never fail when there is nothing to terminate.
func (c *Channel) Terminate() {
	if err := c.Send(relay.ClientMessage{TerminateSession: true}); err != nil {
		c.logger.Debug("Terminate request not sent", logger.Error(err))
	}
}

// Close closes the underlying connection with a normal closure handshake.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	// Bound the wait for the peer's close reply; the read loop owns the
	// actual teardown.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return err
}

// CloseIntentionally sets the one-shot intentional-close flag before closing,
// which suppresses the subsequent automatic reconnect attempt. The flag does
// not persist past that close event.
func (c *Channel) CloseIntentionally() error {
	c.mu.Lock()
	c.intentional = true
	c.mu.Unlock()
	return c.Close()
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatchMessage(data)
	}
}

func (c *Channel) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	// The intentional flag is one-shot: consumed here exactly once, then
	// cleared so it cannot suppress a future unintentional reconnect.
	intentional := c.intentional
	c.intentional = false

	reason := CloseAbnormal
	if intentional {
		reason = CloseIntentional
	} else if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		reason = CloseNormal
	}

	next, delay, retry := c.reconnect.Next(reason)
	c.reconnect = next
	attempts := next.Attempts
	c.mu.Unlock()

	c.logger.Info("Channel closed",
		logger.String("reason", reason.String()),
		logger.Bool("reconnecting", retry))
	c.notifyClose(reason)

	if retry {
		c.logger.Info("Scheduling reconnect",
			logger.Int("attempt", attempts),
			logger.Duration("delay", delay))
		c.scheduler.AfterFunc(delay, c.retryConnect)
	}
}

// retryConnect is the deferred reconnect attempt. A failed attempt consumes
// another slot from the backoff budget and reschedules until the ceiling.
func (c *Channel) retryConnect() {
	if err := c.Connect(); err == nil {
		return
	}

	c.mu.Lock()
	next, delay, retry := c.reconnect.Next(CloseAbnormal)
	c.reconnect = next
	attempts := next.Attempts
	c.mu.Unlock()

	if retry {
		c.logger.Info("Scheduling reconnect",
			logger.Int("attempt", attempts),
			logger.Duration("delay", delay))
		c.scheduler.AfterFunc(delay, c.retryConnect)
	} else {
		c.logger.Warn("Reconnect attempts exhausted")
	}
}

// AddMessageHandler registers a message observer. Registering the same
// observer twice has no additional effect.
func (c *Channel) AddMessageHandler(h MessageHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.msgHandlers[h] = struct{}{}
}

// RemoveMessageHandler unregisters a message observer.
func (c *Channel) RemoveMessageHandler(h MessageHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.msgHandlers, h)
}

// AddErrorHandler registers an error observer.
func (c *Channel) AddErrorHandler(h ErrorHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.errHandlers[h] = struct{}{}
}

// RemoveErrorHandler unregisters an error observer.
func (c *Channel) RemoveErrorHandler(h ErrorHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.errHandlers, h)
}

// AddCloseHandler registers a close observer.
func (c *Channel) AddCloseHandler(h CloseHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.closeHandlers[h] = struct{}{}
}

// RemoveCloseHandler unregisters a close observer.
func (c *Channel) RemoveCloseHandler(h CloseHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.closeHandlers, h)
}

func (c *Channel) dispatchMessage(data []byte) {
	for _, h := range c.snapshotMessageHandlers() {
		c.invoke(func() { h.OnMessage(data) })
	}
}

func (c *Channel) notifyError(err error) {
	c.handlerMu.Lock()
	handlers := make([]ErrorHandler, 0, len(c.errHandlers))
	for h := range c.errHandlers {
		handlers = append(handlers, h)
	}
	c.handlerMu.Unlock()

	for _, h := range handlers {
		c.invoke(func() { h.OnError(err) })
	}
}

func (c *Channel) notifyClose(reason CloseReason) {
	c.handlerMu.Lock()
	handlers := make([]CloseHandler, 0, len(c.closeHandlers))
	for h := range c.closeHandlers {
		handlers = append(handlers, h)
	}
	c.handlerMu.Unlock()

	for _, h := range handlers {
		c.invoke(func() { h.OnClose(reason) })
	}
}

func (c *Channel) snapshotMessageHandlers() []MessageHandler {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	handlers := make([]MessageHandler, 0, len(c.msgHandlers))
	for h := range c.msgHandlers {
		handlers = append(handlers, h)
	}
	return handlers
}

// invoke isolates observer failures: one panicking observer must not prevent
// the others from running.
func (c *Channel) invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Observer panicked", logger.Any("panic", r))
		}
	}()
	f()
}
