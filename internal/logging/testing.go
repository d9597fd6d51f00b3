package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Capture is a Logger that keeps every entry in memory.
type Capture struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewCapture returns a Capture recording TraceLevel and above. Context
// fields are merged into each entry as with a real Logger.
func NewCapture() *Capture {
	core, logs := observer.New(TraceLevel)
	return &Capture{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// Take returns the entries recorded so far and clears them.
func (c *Capture) Take() []observer.LoggedEntry {
	return c.logs.TakeAll()
}

// Contains reports whether an entry at level has a message containing
// snippet.
func (c *Capture) Contains(level zapcore.Level, snippet string) bool {
	for _, e := range c.logs.FilterLevelExact(level).All() {
		if strings.Contains(e.Message, snippet) {
			return true
		}
	}
	return false
}

// Fields returns the fields of the first entry whose message contains
// snippet, or nil when there is none.
func (c *Capture) Fields(snippet string) map[string]any {
	entries := c.logs.FilterMessageSnippet(snippet).All()
	if len(entries) == 0 {
		return nil
	}
	return entries[0].ContextMap()
}
