package relay

// Message types sent to the client over the duplex channel.
const (
	TypeConnectionEstablished = "connection_established"
	TypeUpstreamConnected     = "assemblyai_connected"
	TypeUpstreamError         = "assemblyai_error"
	TypeSessionTerminated     = "session_terminated"
	TypeTerminationError      = "termination_error"
)

// ErrInvalidFormat is the error text returned for malformed client messages.
const ErrInvalidFormat = "Invalid message format"

// ClientMessage is the inbound client-to-server message shape. Exactly one of
// the fields is expected to be set.
type ClientMessage struct {
	AudioData        string `json:"audio_data,omitempty"`
	TerminateSession bool   `json:"terminate_session,omitempty"`
}

// LifecycleMessage reports session lifecycle transitions and upstream errors
// to the client.
type LifecycleMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// TranscriptMessage carries partial or final transcript text to the client.
type TranscriptMessage struct {
	Text       string  `json:"text"`
	Partial    bool    `json:"partial"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ErrorMessage is the generic client-facing error shape.
type ErrorMessage struct {
	Error string `json:"error"`
}
