package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/voicebridge/voicebridge/pkg/logger"
)

// ErrNoAPIKey is returned when a completion is requested without credentials.
var ErrNoAPIKey = errors.New("completion API key is not configured")

// Request carries one completion request: the transcript context, the user's
// question, and the query type selecting the system prompt.
type Request struct {
	Transcript string `json:"transcript"`
	Question   string `json:"question,omitempty"`
	QueryType  string `json:"query_type,omitempty"`
}

// Query types understood by the prompt builder.
const (
	QuerySummarize = "summarize"
	QueryQuestion  = "question"
)

// Config holds completion streaming settings.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string
}

// Streamer produces token streams from the completion API.
type Streamer struct {
	client openai.Client
	model  string
	apiKey string
	logger *logger.Logger
}

// NewStreamer creates a completion streamer.
func NewStreamer(cfg Config, log *logger.Logger) *Streamer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Streamer{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		logger: log.Named("chat"),
	}
}

// Stream starts a completion and returns a pull-style token stream. The
// caller must drain or close the stream.
func (s *Streamer) Stream(ctx context.Context, req Request) (*TokenStream, error) {
	if s.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	system, user := buildPrompt(req)
	s.logger.Debug("Starting completion stream",
		logger.String("model", s.model),
		logger.String("query_type", req.QueryType),
		logger.Int("transcript_len", len(req.Transcript)))

	stream := s.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to start completion stream: %w", err)
	}
	return &TokenStream{stream: stream}, nil
}

// buildPrompt maps a request onto a system/user message pair. Unknown query
// types fall back to plain question answering over the transcript.
func buildPrompt(req Request) (system, user string) {
	switch req.QueryType {
	case QuerySummarize:
		system = "You summarize spoken-word transcripts. Reply with a concise summary of the key points. Use plain prose."
		user = req.Transcript
	default:
		system = "You answer questions about a spoken-word transcript. Base your answer only on the transcript provided. If the transcript does not contain the answer, say so."
		var b strings.Builder
		b.WriteString("Transcript:\n")
		b.WriteString(req.Transcript)
		b.WriteString("\n\nQuestion: ")
		b.WriteString(req.Question)
		user = b.String()
	}
	return system, user
}

// TokenStream is a lazy token sequence. Next reports one token at a time
// until the stream ends; Err distinguishes clean completion from failure.
type TokenStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

// Next returns the next non-empty token. ok is false once the stream is
// exhausted or failed; check Err to tell which.
func (t *TokenStream) Next() (token string, ok bool) {
	for t.stream.Next() {
		chunk := t.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, true
		}
	}
	return "", false
}

// Err returns the stream error, nil after clean completion.
func (t *TokenStream) Err() error {
	return t.stream.Err()
}

// Close releases the underlying connection.
func (t *TokenStream) Close() error {
	return t.stream.Close()
}
