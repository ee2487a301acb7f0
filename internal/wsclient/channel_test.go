package wsclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge/voicebridge/internal/relay"
)

// echoServer accepts channel connections, records each upgrade, and relays
// every inbound frame to the test through a channel.
type echoServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	upgrades int
	conns    []*websocket.Conn
	inbound  chan []byte
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{t: t, inbound: make(chan []byte, 16)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *echoServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.upgrades++
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	// The read loop keeps control-frame handling alive, so a client close
	// frame gets the standard close reply.
	go func() {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.inbound <- data
		}
	}()
}

func (s *echoServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *echoServer) upgradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

func (s *echoServer) lastConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *echoServer) send(t *testing.T, v []byte) {
	t.Helper()
	conn := s.lastConn()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, v))
}

// fakeScheduler records deferred work instead of running it.
type fakeScheduler struct {
	mu    sync.Mutex
	calls []time.Duration
	fns   []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
	s.fns = append(s.fns, f)
}

func (s *fakeScheduler) scheduled() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

func (s *fakeScheduler) runLast() {
	s.mu.Lock()
	f := s.fns[len(s.fns)-1]
	s.mu.Unlock()
	f()
}

// recorder implements all three observer interfaces.
type recorder struct {
	mu       sync.Mutex
	messages [][]byte
	errors   []error
	closes   []CloseReason
}

func (r *recorder) OnMessage(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, data)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recorder) OnClose(reason CloseReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, reason)
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) closeReasons() []CloseReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CloseReason(nil), r.closes...)
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

type panicHandler struct{}

func (panicHandler) OnMessage([]byte) { panic("observer blew up") }

func newTestChannel(t *testing.T, url string, sched Scheduler) *Channel {
	t.Helper()
	c := New(Options{
		URL:                  url,
		ConnectTimeout:       2 * time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   10 * time.Millisecond,
		Scheduler:            sched,
	})
	t.Cleanup(func() { _ = c.CloseIntentionally() })
	return c
}

func TestConnectIsIdempotent(t *testing.T) {
	server := newEchoServer(t)
	c := newTestChannel(t, server.url(), &fakeScheduler{})

	require.NoError(t, c.Connect())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Connect())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, server.upgradeCount())
	assert.True(t, c.IsConnected())
}

func TestSendWhenNotConnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.ErrorIs(t, c.Send(map[string]string{"k": "v"}), ErrNotConnected)
}

func TestTerminateNeverErrors(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.NotPanics(t, func() { c.Terminate() })
}

func TestSendAudioWireShape(t *testing.T) {
	server := newEchoServer(t)
	c := newTestChannel(t, server.url(), &fakeScheduler{})
	require.NoError(t, c.Connect())

	require.NoError(t, c.SendAudio("QUJD"))

	select {
	case data := <-server.inbound:
		assert.JSONEq(t, `{"audio_data":"QUJD"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the audio frame")
	}
}

func TestTerminateWireShape(t *testing.T) {
	server := newEchoServer(t)
	c := newTestChannel(t, server.url(), &fakeScheduler{})
	require.NoError(t, c.Connect())

	c.Terminate()

	select {
	case data := <-server.inbound:
		var msg relay.ClientMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.True(t, msg.TerminateSession)
		assert.Empty(t, msg.AudioData)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the terminate request")
	}
}

func TestMessagesDispatchedToObservers(t *testing.T) {
	server := newEchoServer(t)
	c := newTestChannel(t, server.url(), &fakeScheduler{})

	rec := &recorder{}
	c.AddMessageHandler(rec)
	require.NoError(t, c.Connect())

	server.send(t, []byte(`{"type":"connection_established"}`))

	require.Eventually(t, func() bool { return rec.messageCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"connection_established"}`, string(rec.messages[0]))
}

func TestObserverRegistrationDeduplicates(t *testing.T) {
	server := newEchoServer(t)
	c := newTestChannel(t, server.url(), &fakeScheduler{})

	rec := &recorder{}
	c.AddMessageHandler(rec)
	c.AddMessageHandler(rec)
	require.NoError(t, c.Connect())

	server.send(t, []byte(`{"n":1}`))

	require.Eventually(t, func() bool { return rec.messageCount() >= 1 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.messageCount(), "doubly-registered observer must fire once")
}

func TestPanickingObserverDoesNotStarveOthers(t *testing.T) {
	server := newEchoServer(t)
	c := newTestChannel(t, server.url(), &fakeScheduler{})

	rec := &recorder{}
	c.AddMessageHandler(panicHandler{})
	c.AddMessageHandler(rec)
	require.NoError(t, c.Connect())

	server.send(t, []byte(`{"n":1}`))
	server.send(t, []byte(`{"n":2}`))

	require.Eventually(t, func() bool { return rec.messageCount() == 2 },
		2*time.Second, 5*time.Millisecond)
}

func TestRemovedObserverStopsReceiving(t *testing.T) {
	server := newEchoServer(t)
	c := newTestChannel(t, server.url(), &fakeScheduler{})

	rec := &recorder{}
	c.AddMessageHandler(rec)
	require.NoError(t, c.Connect())

	server.send(t, []byte(`{"n":1}`))
	require.Eventually(t, func() bool { return rec.messageCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	c.RemoveMessageHandler(rec)
	server.send(t, []byte(`{"n":2}`))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.messageCount())
}

func TestIntentionalCloseSuppressesReconnect(t *testing.T) {
	server := newEchoServer(t)
	sched := &fakeScheduler{}
	c := newTestChannel(t, server.url(), sched)

	rec := &recorder{}
	c.AddCloseHandler(rec)
	require.NoError(t, c.Connect())

	require.NoError(t, c.CloseIntentionally())

	require.Eventually(t, func() bool { return len(rec.closeReasons()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []CloseReason{CloseIntentional}, rec.closeReasons())
	assert.Empty(t, sched.scheduled())
	assert.False(t, c.IsConnected())
}

func TestAbnormalCloseSchedulesReconnect(t *testing.T) {
	server := newEchoServer(t)
	sched := &fakeScheduler{}
	c := newTestChannel(t, server.url(), sched)

	rec := &recorder{}
	c.AddCloseHandler(rec)
	require.NoError(t, c.Connect())

	// Dropping the TCP connection without a close frame is an abnormal close.
	server.lastConn().Close()

	require.Eventually(t, func() bool { return len(sched.scheduled()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []CloseReason{CloseAbnormal}, rec.closeReasons())
	assert.Equal(t, 20*time.Millisecond, sched.scheduled()[0])

	// Running the deferred work reconnects and resets the backoff.
	sched.runLast()
	require.Eventually(t, func() bool { return server.upgradeCount() == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.True(t, c.IsConnected())
}

func TestReconnectDelaysGrowAndStopAtCeiling(t *testing.T) {
	server := newEchoServer(t)
	sched := &fakeScheduler{}
	c := New(Options{
		URL:                  server.url(),
		ConnectTimeout:       2 * time.Second,
		MaxReconnectAttempts: 2,
		ReconnectBaseDelay:   10 * time.Millisecond,
		Scheduler:            sched,
	})
	t.Cleanup(func() { _ = c.CloseIntentionally() })
	require.NoError(t, c.Connect())

	// Shut the server down so every reconnect attempt fails; the backoff
	// budget then drains without ever resetting. Hijacked websocket
	// connections outlive the server, so the live one is dropped explicitly.
	server.server.Close()
	server.lastConn().Close()
	require.Eventually(t, func() bool { return !c.IsConnected() },
		2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(sched.scheduled()) == 1 },
		2*time.Second, 5*time.Millisecond)
	sched.runLast()

	require.Eventually(t, func() bool { return len(sched.scheduled()) == 2 },
		2*time.Second, 5*time.Millisecond)
	sched.runLast()

	// Both attempts are spent; the next failure must not reschedule.
	time.Sleep(50 * time.Millisecond)
	delays := sched.scheduled()
	require.Len(t, delays, 2)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}, delays)
}

func TestConnectFailureNotifiesErrorObservers(t *testing.T) {
	c := New(Options{
		URL:            "ws://127.0.0.1:1/ws",
		ConnectTimeout: 200 * time.Millisecond,
		Scheduler:      &fakeScheduler{},
	})
	rec := &recorder{}
	c.AddErrorHandler(rec)

	err := c.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open channel")
	assert.Equal(t, 1, rec.errorCount())
	assert.False(t, c.IsConnected())
}
