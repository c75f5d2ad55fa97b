// Package protocol defines the socket wire format and routes inbound frames.
package protocol

import (
	"encoding/json"
	"time"
)

// Kind distinguishes text frames from binary frames.
type Kind int

const (
	KindText Kind = iota
	KindBinary
)

func (k Kind) String() string {
	if k == KindBinary {
		return "binary"
	}
	return "text"
}

// Message types carried in the envelope discriminant.
const (
	TypeReady         = "ready"
	TypeMessage       = "message"
	TypeStreamStart   = "stream_start"
	TypeStreamToken   = "stream_token"
	TypeStreamEnd     = "stream_end"
	TypeStreamToolUse = "stream_tool_call"
	TypeError         = "error"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeInterrupt     = "interrupt"
	TypeTTSStart      = "tts_start"
	TypeTTSEnd        = "tts_end"
	TypeTTSError      = "tts_error"
	TypeTranscription = "transcription"
	TypeAgentResponse = "agent_response"
	TypeStop          = "stop"
)

// Senders
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// Envelope is the outer JSON object of every text frame. Payload fields live
// under data, except for the flat voice events which put text or message at
// the top level.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Text    string          `json:"text,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Message is a finalized chat message. Timestamp is kept as sent; the
// backend emits ISO 8601 without a zone.
type Message struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Sender    string `json:"sender,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ParseTimestamp reads backend timestamps, which may lack a zone (UTC).
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type StreamStart struct {
	ID     string `json:"id"`
	Sender string `json:"sender,omitempty"`
}

type StreamToken struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// StreamEnd carries the authoritative final text when the server sends one.
type StreamEnd struct {
	ID     string  `json:"id"`
	Text   *string `json:"text,omitempty"`
	Sender string  `json:"sender,omitempty"`
}

// ToolCall reports a tool the agent invoked while streaming a message.
type ToolCall struct {
	ID   string          `json:"id"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// VoiceEvent is any control event for the voice session.
type VoiceEvent struct {
	Type string
	Text string
}

// Attachment is an uploaded file referenced by an outbound message.
type Attachment struct {
	FileID   string `json:"file_id,omitempty"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FilePath string `json:"file_path"`
}

// OutboundMessage is the data of a user chat message.
type OutboundMessage struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewUserMessage builds the frame for a user chat message.
func NewUserMessage(text string, attachments []Attachment) any {
	return outbound{Type: TypeMessage, Data: OutboundMessage{Text: text, Attachments: attachments}}
}

// Ping builds a heartbeat frame.
func Ping() any { return outbound{Type: TypePing} }

// Stop builds the voice stop control frame.
func Stop() any { return outbound{Type: TypeStop} }
