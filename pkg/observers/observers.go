// Package observers provides composable metrics.Observer implementations for
// the relay: debug logging, fan-out, and per-session response latency.
package observers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voceo/voceo/pkg/metrics"
)

type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.TODO(), slog.LevelDebug, "metrics", attrs...)
}

type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

// ResponseLatencyObserver logs, once per session, the time from the first
// candidate audio frame to the first synthesized answer frame coming back.
type ResponseLatencyObserver struct {
	mu       sync.Mutex
	sessions map[string]*responseTrace
	log      *slog.Logger
}

type responseTrace struct {
	opened   time.Time
	firstIn  time.Time
	firstOut time.Time
	reported bool
}

func NewResponseLatencyObserver(log *slog.Logger) *ResponseLatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &ResponseLatencyObserver{
		sessions: make(map[string]*responseTrace),
		log:      log,
	}
}

func (o *ResponseLatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Name {
	case "session_open":
		o.sessions[sessionID] = &responseTrace{opened: ev.Time}
	case "session_close":
		delete(o.sessions, sessionID)
	case "frame_forwarded":
		t := o.sessions[sessionID]
		if t == nil || t.reported || ev.Tags["kind"] != "audio" {
			return
		}
		switch ev.Tags["direction"] {
		case "client_to_upstream":
			if t.firstIn.IsZero() {
				t.firstIn = ev.Time
			}
		case "upstream_to_client":
			if t.firstOut.IsZero() {
				t.firstOut = ev.Time
			}
		}
		if !t.firstOut.IsZero() {
			t.reported = true
			from := t.firstIn
			if from.IsZero() {
				from = t.opened
			}
			o.log.Info("first_response_latency",
				"session_id", sessionID,
				"latency_ms", t.firstOut.Sub(from).Milliseconds(),
			)
		}
	}
}
