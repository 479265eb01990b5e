// Package notice carries user-visible messages out of the action layers.
package notice

import (
	"context"
	"log/slog"
	"sync"
)

// Level is the severity shown to the user.
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Error   Level = "error"
)

// Notice is one user-visible message.
type Notice struct {
	Level   Level
	Title   string
	Message string
}

// Sink receives notices.
type Sink interface {
	Notify(Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

// Notify calls f.
func (f SinkFunc) Notify(n Notice) { f(n) }

// LogSink writes notices to a logger.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs n at a level matching its severity.
func (s LogSink) Notify(n Notice) {
	level := slog.LevelInfo
	if n.Level == Error {
		level = slog.LevelWarn
	}
	s.Logger.Log(context.Background(), level, n.Title,
		slog.String("notice_level", string(n.Level)),
		slog.String("message", n.Message),
	)
}

// Recorder keeps notices in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify records n.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// All returns the recorded notices in order.
func (r *Recorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Last returns the most recent notice.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

// Discard drops every notice.
var Discard Sink = SinkFunc(func(Notice) {})
