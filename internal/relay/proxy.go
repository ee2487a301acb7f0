package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/transcribe"
	"github.com/voicebridge/voicebridge/pkg/logger"
)

// State is the session proxy lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// UpstreamSession is one live upstream transcription connection. The proxy
// owns the interface so tests can substitute a fake upstream.
type UpstreamSession interface {
	SendAudio(payload string) error
	Terminate() error
	Events() <-chan transcribe.Event
	Done() <-chan struct{}
	IsOpen() bool
}

// UpstreamDialer opens upstream transcription sessions.
type UpstreamDialer interface {
	Dial(ctx context.Context) (UpstreamSession, error)
}

// ClientDialer adapts transcribe.Client to the UpstreamDialer interface.
type ClientDialer struct {
	Client *transcribe.Client
}

func (d ClientDialer) Dial(ctx context.Context) (UpstreamSession, error) {
	session, err := d.Client.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ClientSink delivers messages to the client side of the duplex channel.
type ClientSink interface {
	Send(v any) error
}

// Config tunes the proxy's termination wait loop.
type Config struct {
	// TerminatePollInterval is how often the terminate handler checks whether
	// upstream teardown has completed.
	TerminatePollInterval time.Duration
	// TerminateWaitMax bounds the total wait; termination is best-effort and
	// proceeds once the bound is hit.
	TerminateWaitMax time.Duration
}

func (c *Config) applyDefaults() {
	if c.TerminatePollInterval <= 0 {
		c.TerminatePollInterval = 100 * time.Millisecond
	}
	if c.TerminateWaitMax <= 0 {
		c.TerminateWaitMax = 2 * time.Second
	}
}

// Proxy owns at most one upstream transcription connection per client
// connection. The upstream connection is established lazily on the first
// audio frame and torn down on explicit termination or channel close.
type Proxy struct {
	id     string
	dialer UpstreamDialer
	sink   ClientSink
	cfg    Config
	logger *logger.Logger

	mu          sync.Mutex
	state       State
	terminating bool
	upstream    UpstreamSession

	wg sync.WaitGroup
}

// NewProxy creates a session proxy for one client connection.
func NewProxy(dialer UpstreamDialer, sink ClientSink, cfg Config, log *logger.Logger) *Proxy {
	cfg.applyDefaults()
	id := uuid.NewString()
	return &Proxy{
		id:     id,
		dialer: dialer,
		sink:   sink,
		cfg:    cfg,
		logger: log.Named("session-proxy").With(logger.String("session_id", id)),
	}
}

// ID returns the proxy's session identifier.
func (p *Proxy) ID() string {
	return p.id
}

// State returns the current lifecycle state.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// HandleMessage processes one raw client message. Malformed messages get the
// generic invalid-format error reply.
func (p *Proxy) HandleMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.send(ErrorMessage{Error: ErrInvalidFormat})
		return
	}

	switch {
	case msg.TerminateSession:
		p.handleTerminate()
	case msg.AudioData != "":
		p.handleAudio(msg.AudioData)
	default:
		p.send(ErrorMessage{Error: ErrInvalidFormat})
	}
}

// handleAudio forwards a frame upstream when the session is active, or lazily
// starts the upstream connection on the first frame. Frames arriving in any
// other state are dropped, never queued: live audio has no replay value once
// stale.
func (p *Proxy) handleAudio(payload string) {
	p.mu.Lock()

	if p.terminating {
		p.mu.Unlock()
		return
	}

	switch p.state {
	case StateActive:
		up := p.upstream
		p.mu.Unlock()
		if up == nil || !up.IsOpen() {
			return
		}
		if err := up.SendAudio(payload); err != nil {
			p.logger.Debug("Dropped audio frame", logger.Error(err))
		}
	case StateIdle:
		p.state = StateConnecting
		p.mu.Unlock()
		go p.connectUpstream()
	default:
		// Still connecting; the frame is stale by the time the connection
		// opens.
		p.mu.Unlock()
	}
}

func (p *Proxy) connectUpstream() {
	session, err := p.dialer.Dial(context.Background())
	if err != nil {
		p.mu.Lock()
		p.state = StateIdle
		p.mu.Unlock()
		p.logger.Warn("Upstream connect failed", logger.Error(err))
		p.send(LifecycleMessage{Type: TypeUpstreamError, Error: err.Error()})
		return
	}

	p.mu.Lock()
	if p.terminating || p.state != StateConnecting {
		// A terminate or channel close raced the dial; the fresh connection
		// must not outlive it.
		p.mu.Unlock()
		_ = session.Terminate()
		return
	}
	p.upstream = session
	p.state = StateActive
	p.mu.Unlock()

	p.logger.Info("Upstream session active")
	p.send(LifecycleMessage{Type: TypeUpstreamConnected})

	p.wg.Add(1)
	go p.forwardEvents(session)
}

// forwardEvents relays classified upstream events to the client until the
// upstream connection ends. No automatic reconnection: the decision to
// restart is left to the client.
func (p *Proxy) forwardEvents(session UpstreamSession) {
	defer p.wg.Done()

	for ev := range session.Events() {
		switch ev.Type {
		case transcribe.EventPartial:
			p.send(TranscriptMessage{Text: ev.Text, Partial: true, Confidence: ev.Confidence})
		case transcribe.EventFinal:
			p.send(TranscriptMessage{Text: ev.Text, Final: true, Confidence: ev.Confidence})
		case transcribe.EventSessionBegins:
			p.logger.Debug("Upstream session began")
		case transcribe.EventSessionTerminated:
			p.logger.Debug("Upstream session terminated")
		case transcribe.EventError:
			p.send(LifecycleMessage{Type: TypeUpstreamError, Error: ev.Message})
		}
	}

	p.mu.Lock()
	if p.upstream == session {
		p.upstream = nil
		if !p.terminating {
			p.state = StateIdle
		}
	}
	p.mu.Unlock()
}

// handleTerminate tears down the upstream connection on an explicit client
// request. Terminating is set synchronously, before any asynchronous teardown
// work, so a concurrently arriving audio frame cannot re-trigger a connect.
// It is always cleared once the teardown attempt completes, so the proxy can
// be reused for a subsequent recording on the same channel.
func (p *Proxy) handleTerminate() {
	p.mu.Lock()
	if p.state != StateActive || p.upstream == nil {
		// Nothing to terminate; must not error and must not dial.
		p.mu.Unlock()
		p.logger.Debug("Terminate requested with no active upstream")
		return
	}
	up := p.upstream
	p.terminating = true
	p.state = StateTerminating
	p.mu.Unlock()

	err := up.Terminate()

	// Bounded wait for upstream teardown: poll at a fixed interval up to the
	// wall-clock bound, then proceed regardless.
	deadline := time.Now().Add(p.cfg.TerminateWaitMax)
	for time.Now().Before(deadline) && !sessionDone(up) {
		time.Sleep(p.cfg.TerminatePollInterval)
	}

	if err != nil {
		p.send(LifecycleMessage{Type: TypeTerminationError, Error: err.Error()})
	} else {
		p.send(LifecycleMessage{Type: TypeSessionTerminated})
	}

	p.mu.Lock()
	p.terminating = false
	p.state = StateIdle
	p.upstream = nil
	p.mu.Unlock()

	p.logger.Info("Session terminated")
}

// Shutdown synchronously tears down the upstream connection. Called on
// channel close or channel error.
func (p *Proxy) Shutdown() {
	p.mu.Lock()
	up := p.upstream
	p.upstream = nil
	p.state = StateIdle
	p.terminating = false
	p.mu.Unlock()

	if up != nil {
		_ = up.Terminate()
	}
	p.wg.Wait()
}

func sessionDone(up UpstreamSession) bool {
	select {
	case <-up.Done():
		return true
	default:
		return false
	}
}

// send delivers a message to the client, best-effort. The relay must never
// itself crash while reporting a failure.
func (p *Proxy) send(v any) {
	if err := p.sink.Send(v); err != nil {
		p.logger.Debug("Failed to send client message", logger.Error(err))
	}
}
