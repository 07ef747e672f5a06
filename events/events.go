package events

import (
	"log"
	"strings"
	"time"
)

// Event describes one step of a fixture run
type Event struct {
	RunID   string    `json:"run_id"`
	Subject string    `json:"subject"`
	Tier    string    `json:"tier,omitempty"`
	Table   string    `json:"table,omitempty"`
	Batch   int       `json:"batch"`
	Rows    int64     `json:"rows"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Reporter receives progress events. Implementations must not fail the run.
type Reporter interface {
	Report(e Event)
}

// LogReporter writes each event's message to the standard logger
type LogReporter struct {
	logger *log.Logger
}

// NewLogReporter returns a reporter writing to logger, or to the standard logger when nil
func NewLogReporter(logger *log.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report logs the event prefixed with the component that produced it
func (r *LogReporter) Report(e Event) {
	if e.Message == "" {
		return
	}
	msg := "[" + module(e.Subject) + "] " + e.Message
	if r.logger == nil {
		log.Print(msg)
		return
	}
	r.logger.Print(msg)
}

// Multi fans events out to several reporters
type Multi []Reporter

// Report forwards e to every reporter in order
func (m Multi) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}

// Discard drops every event
var Discard Reporter = Multi(nil)

// module names the component behind a subject, e.g. "load.batch" -> "Loader"
func module(subject string) string {
	switch {
	case strings.HasPrefix(subject, "load."):
		return "Loader"
	case strings.HasPrefix(subject, "remove."):
		return "Remover"
	default:
		return "Fixture"
	}
}
