// Package session runs one live conversation: the chat socket, the token
// stream, the message log and an optional voice exchange, all driven by a
// single event loop.
package session

// Notices appended to the log as system messages.
const (
	NoticeSendFailed     = "Unable to send message: not connected"
	NoticeConnectionLost = "Connection lost"
	NoticeHistoryFailed  = "Unable to load earlier messages"
)

// mailboxCapacity is the initial size of the event queue; it grows on demand.
const mailboxCapacity = 64

// MaxLogEntries bounds the in-memory message log of one conversation.
const MaxLogEntries = 1000

// NoticeVoiceFailed is shown when the microphone or voice socket cannot start.
const NoticeVoiceFailed = "Unable to start voice"
