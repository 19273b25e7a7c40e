package mcp

import "sync/atomic"

// LogLevelCell is a process-wide, concurrency-safe gate for notifications/message
// emission. It is shared by every session: logging/setLevel from any one client
// changes what every client receives from that point on, matching the protocol's
// single server-side severity threshold rather than a per-session one.
type LogLevelCell struct {
	level atomic.Int32
}

// NewLogLevelCell creates a LogLevelCell starting at the given minimum level.
func NewLogLevelCell(initial LogLevel) *LogLevelCell {
	c := &LogLevelCell{}
	c.level.Store(int32(initial))
	return c
}

// Set updates the minimum severity level. Safe to call concurrently with Allows.
func (c *LogLevelCell) Set(level LogLevel) {
	c.level.Store(int32(level))
}

// Get returns the current minimum severity level.
func (c *LogLevelCell) Get() LogLevel {
	return LogLevel(c.level.Load())
}

// Allows reports whether a message at level should be emitted given the current
// threshold. Higher LogLevel values are more severe; a message is allowed when it is
// at least as severe as the configured minimum.
func (c *LogLevelCell) Allows(level LogLevel) bool {
	return level >= c.Get()
}
