// Package stream coalesces streamed agent tokens into bounded-rate updates
package stream

import "time"

// Aggregator defaults
const (
	DefaultFlushDelay = 50 * time.Millisecond
	fragmentsCapacity = 64
)
