// Package progress delivers analysis status updates to subscribed clients.
package progress

import (
	"fmt"
	"io"

	"github.com/kamilpajak/diffscope/pkg/models"
)

// Event kinds.
const (
	KindProgress = "progress"
	KindComplete = "complete"
	KindError    = "error"
)

// Event is a single status update for one analysis.
type Event struct {
	Kind       string `json:"kind"`
	AnalysisID string `json:"analysisId"`
	models.StatusResponse
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// Emitter receives progress events.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(event).
func (f EmitterFunc) Emit(event Event) { f(event) }

// TextEmitter formats progress events as human-readable text for CLI output.
type TextEmitter struct {
	W io.Writer
}

// Emit writes a formatted progress line to the underlying writer.
func (e *TextEmitter) Emit(ev Event) {
	switch ev.Kind {
	case KindProgress:
		fmt.Fprintf(e.W, "  %s\n", describeStatus(ev))
	case KindComplete:
		if ev.Result != nil {
			fmt.Fprintf(e.W, "  Done: %s\n", ev.Result.Summary)
		} else {
			fmt.Fprintln(e.W, "  Done")
		}
	case KindError:
		fmt.Fprintf(e.W, "Error: %s\n", ev.Error)
	}
}

func describeStatus(ev Event) string {
	switch ev.Status {
	case models.StatusStarting:
		return "Starting analysis..."
	case models.StatusReadingChanges:
		return "Reading changes..."
	case models.StatusLoadingDocuments:
		return "Loading reference documents..."
	case models.StatusCallingAI:
		if ev.FallbackModel != "" {
			return fmt.Sprintf("Calling AI (%s, fallback %s)...", ev.ModelUsed, ev.FallbackModel)
		}
		if ev.ModelUsed != "" {
			return fmt.Sprintf("Calling AI (%s)...", ev.ModelUsed)
		}
		return "Calling AI..."
	}
	return string(ev.Status)
}
