// Package connection keeps one WebSocket to the backend alive, with
// bounded reconnection and a heartbeat.
package connection

import "time"

// Socket tuning
const (
	DefaultDialTimeout = 10 * time.Second
	DefaultHeartbeat   = 25 * time.Second
	writeTimeout       = 5 * time.Second

	// TTS audio arrives as large binary frames.
	readLimit = 8 << 20

	closeReasonClient = "client disconnect"
)
