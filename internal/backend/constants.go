// Package backend is the REST client for conversation history and uploads.
package backend

import "time"

// Client defaults
const (
	DefaultTimeout      = 15 * time.Second
	DefaultHistoryLimit = 100

	// UploadTimeout applies per attempt; uploads may be large.
	UploadTimeout = 2 * time.Minute

	// errorBodyLimit caps how much of an error response is kept.
	errorBodyLimit = 512
	uploadField    = "file"
)
