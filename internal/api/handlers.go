package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/chat"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/relay"
	"github.com/voicebridge/voicebridge/pkg/logger"
)

// TokenStream is a pull-style token sequence from the completion API.
type TokenStream interface {
	Next() (token string, ok bool)
	Err() error
	Close() error
}

// CompletionStreamer starts completion token streams. The API owns the
// interface so tests can substitute a fake producer.
type CompletionStreamer interface {
	Stream(ctx context.Context, req chat.Request) (TokenStream, error)
}

// NewChatAdapter wraps the chat streamer as a CompletionStreamer.
func NewChatAdapter(s *chat.Streamer) CompletionStreamer {
	return chatAdapter{s: s}
}

type chatAdapter struct {
	s *chat.Streamer
}

func (a chatAdapter) Stream(ctx context.Context, req chat.Request) (TokenStream, error) {
	stream, err := a.s.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Handler contains the API request handlers
type Handler struct {
	dialer    relay.UpstreamDialer
	streamer  CompletionStreamer
	registry  *relay.Registry
	config    *config.Config
	logger    *logger.Logger
	upgrader  websocket.Upgrader
	proxyCfg  relay.Config
	startTime time.Time
}

// NewHandler creates a new API handler
func NewHandler(dialer relay.UpstreamDialer, streamer CompletionStreamer, registry *relay.Registry, cfg *config.Config, log *logger.Logger) *Handler {
	h := &Handler{
		dialer:    dialer,
		streamer:  streamer,
		registry:  registry,
		config:    cfg,
		logger:    log.Named("api-handler"),
		startTime: time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.Server.CORSAllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// wsSink delivers relay messages over one client WebSocket connection.
// gorilla permits a single concurrent writer, so all writes go through the
// mutex.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// HandleWebSocket upgrades the connection and runs the duplex relay session
// until the client disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	proxy := relay.NewProxy(h.dialer, sink, h.proxyCfg, h.logger)
	h.registry.Add(proxy)
	defer h.registry.Remove(proxy)
	defer proxy.Shutdown()

	h.logger.Info("Client connected",
		logger.String("session_id", proxy.ID()),
		logger.String("remote_addr", r.RemoteAddr))

	if err := sink.Send(relay.LifecycleMessage{Type: relay.TypeConnectionEstablished}); err != nil {
		h.logger.Warn("Failed to send greeting", logger.Error(err))
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Client connection error", logger.Error(err))
			}
			break
		}
		proxy.HandleMessage(data)
	}

	h.logger.Info("Client disconnected", logger.String("session_id", proxy.ID()))
}

// StreamChat runs one completion request as a server-sent event stream with
// event types message, done, and error.
func (h *Handler) StreamChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	stream, err := h.streamer.Stream(r.Context(), req)
	if err != nil {
		h.logger.Warn("Failed to start completion stream", logger.Error(err))
		writeError(w, http.StatusBadGateway, "completion stream unavailable")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		token, ok := stream.Next()
		if !ok {
			break
		}
		writeSSE(w, "message", tokenPayload{Token: token})
		flusher.Flush()

		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected mid-stream")
			return
		default:
		}
	}

	if err := stream.Err(); err != nil {
		h.logger.Warn("Completion stream failed", logger.Error(err))
		writeSSE(w, "error", errorPayload{Error: err.Error()})
	} else {
		writeSSE(w, "done", struct{}{})
	}
	flusher.Flush()
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
}

// GetHealth handles health check requests.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		ActiveSessions: h.registry.Count(),
	})
}

// ConfigResponse is the client-visible configuration. Credentials never
// appear here.
type ConfigResponse struct {
	SampleRate   int    `json:"sample_rate"`
	FrameSamples int    `json:"frame_samples"`
	ChatModel    string `json:"chat_model"`
}

// GetConfig returns the subset of configuration the browser client needs.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConfigResponse{
		SampleRate:   h.config.Transcription.SampleRate,
		FrameSamples: h.config.Audio.FrameSamples,
		ChatModel:    h.config.Chat.Model,
	})
}
