package fixtures

import (
	"encoding/json"
	"iter"
	"time"

	mcp "github.com/nazq/mcp-test-server"
)

// Logs implements mcp.LogHandler, emitting a synthetic heartbeat log line at each level on
// a fixed interval so logging/setLevel and notifications/message have something to
// exercise. A real server would route its own log.Logger handler through here; this
// fixture generates its own traffic instead.
type Logs struct {
	level *mcp.LogLevelCell
	out   chan mcp.LogParams
	done  chan struct{}
}

// NewLogs creates a Logs fixture starting at the given minimum level and begins emitting
// heartbeat messages in the background. Call Close to stop.
func NewLogs(initial mcp.LogLevel) *Logs {
	l := &Logs{
		level: mcp.NewLogLevelCell(initial),
		out:   make(chan mcp.LogParams, 16),
		done:  make(chan struct{}),
	}
	go l.emit()
	return l
}

// Close stops the background heartbeat goroutine.
func (l *Logs) Close() {
	close(l.done)
}

// LogStreams implements mcp.LogHandler.
func (l *Logs) LogStreams() iter.Seq[mcp.LogParams] {
	return func(yield func(mcp.LogParams) bool) {
		for {
			select {
			case <-l.done:
				return
			case params := <-l.out:
				if !yield(params) {
					return
				}
			}
		}
	}
}

// SetLogLevel implements mcp.LogHandler.
func (l *Logs) SetLogLevel(level mcp.LogLevel) {
	l.level.Set(level)
}

// Emit publishes a single log message at level if the current threshold allows it.
// Exposed so tool handlers (or tests) can generate log traffic on demand, not only the
// background heartbeat.
func (l *Logs) Emit(level mcp.LogLevel, message string) {
	if !l.level.Allows(level) {
		return
	}

	data, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: message})

	select {
	case l.out <- mcp.LogParams{Level: level, Logger: "fixtures", Data: data}:
	case <-l.done:
	}
}

var heartbeatLevels = []mcp.LogLevel{
	mcp.LogLevelDebug,
	mcp.LogLevelInfo,
	mcp.LogLevelWarning,
	mcp.LogLevelError,
}

func (l *Logs) emit() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			level := heartbeatLevels[i%len(heartbeatLevels)]
			i++
			l.Emit(level, "heartbeat")
		}
	}
}
