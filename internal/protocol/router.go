package protocol

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// Handlers receives routed frames. Nil handlers drop their events.
type Handlers struct {
	Ready       func(info string)
	Message     func(Message)
	StreamStart func(StreamStart)
	StreamToken func(StreamToken)
	StreamEnd   func(StreamEnd)
	ToolCall    func(ToolCall)
	Voice       func(VoiceEvent)
	Audio       func([]byte)
}

// Route classifies one inbound frame and dispatches it. It never fails:
// text that is not a typed JSON object is shown as a plain agent message.
func Route(kind Kind, payload []byte, h Handlers) {
	if kind == KindBinary {
		if h.Audio != nil {
			h.Audio(payload)
		}
		return
	}

	raw := bytes.TrimSpace(payload)
	if len(raw) == 0 {
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		// Bare text is displayed verbatim.
		slog.Warn("unstructured text frame shown as message", "bytes", len(raw), "error", err)
		deliver(h.Message, Message{Text: string(raw), Sender: SenderAgent})
		return
	}

	switch env.Type {
	case TypeReady:
		if h.Ready != nil {
			h.Ready(firstNonEmpty(env.Message, env.Text, dataField(env.Data, "message")))
		}
	case TypeMessage:
		deliver(h.Message, decodeMessage(env))
	case TypeError:
		text := firstNonEmpty(dataField(env.Data, "message"), env.Message, dataField(env.Data, "text"), env.Text)
		if text == "" {
			text = "Unknown error"
		}
		deliver(h.Message, Message{Text: text, Sender: SenderAgent})
	case TypeStreamStart:
		var v StreamStart
		if decodeData(env, &v) {
			deliver(h.StreamStart, v)
		}
	case TypeStreamToken:
		var v StreamToken
		if decodeData(env, &v) {
			deliver(h.StreamToken, v)
		}
	case TypeStreamEnd:
		var v StreamEnd
		if decodeData(env, &v) {
			deliver(h.StreamEnd, v)
		}
	case TypeStreamToolUse:
		var v ToolCall
		if decodeData(env, &v) {
			deliver(h.ToolCall, v)
		}
	case TypeInterrupt, TypeTTSStart, TypeTTSEnd, TypeTTSError, TypeTranscription, TypeAgentResponse:
		deliver(h.Voice, VoiceEvent{
			Type: env.Type,
			Text: firstNonEmpty(env.Text, env.Message, dataField(env.Data, "text"), dataField(env.Data, "message")),
		})
	case TypePong:
	default:
		slog.Debug("ignoring unknown frame type", "type", env.Type)
	}
}

func deliver[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}

func decodeMessage(env Envelope) Message {
	var m Message
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &m) == nil {
		if m.Sender == "" {
			m.Sender = SenderAgent
		}
		return m
	}
	return Message{Text: env.Text, Sender: SenderAgent}
}

func decodeData(env Envelope, v any) bool {
	if len(env.Data) == 0 {
		slog.Warn("frame without data", "type", env.Type)
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		slog.Warn("malformed frame data", "type", env.Type, "error", err)
		return false
	}
	return true
}

func dataField(data json.RawMessage, key string) string {
	if len(data) == 0 {
		return ""
	}
	var m map[string]any
	if json.Unmarshal(data, &m) != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
