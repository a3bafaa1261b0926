// Package sse streams generation progress to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Stage identifies a step of a generation request.
type Stage string

const (
	StageLoad     Stage = "load"
	StageGenerate Stage = "generate"
	StagePool     Stage = "pool"
)

// ProgressEvent reports how far a request has got. Progress is the
// fraction of pools processed.
type ProgressEvent struct {
	Stage    Stage            `json:"stage"`
	Progress float64          `json:"progress"`
	Stats    *json.RawMessage `json:"stats,omitempty"`
}

// CompleteEvent carries the finished difficulty set document.
type CompleteEvent struct {
	Document json.RawMessage `json:"document"`
	Stats    json.RawMessage `json:"stats"`
}

// ErrorEvent is sent when a request fails.
type ErrorEvent struct {
	Error string `json:"error"`
	Stage Stage  `json:"stage,omitempty"`
}

// Writer wraps an http.ResponseWriter for SSE output.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares the response for SSE streaming.
// Returns nil if the ResponseWriter does not support flushing.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}
}

// SendProgress emits a progress event for the given stage.
func (s *Writer) SendProgress(stage Stage, progress float64) error {
	return s.sendEvent("progress", ProgressEvent{Stage: stage, Progress: progress})
}

// SendProgressWithStats emits a progress event with a stats payload,
// typically the per-pool outcome.
func (s *Writer) SendProgressWithStats(stage Stage, progress float64, stats interface{}) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	rawMsg := json.RawMessage(raw)
	return s.sendEvent("progress", ProgressEvent{Stage: stage, Progress: progress, Stats: &rawMsg})
}

// SendPool reports that done of total pools have been processed.
func (s *Writer) SendPool(done, total int, stats interface{}) error {
	return s.SendProgressWithStats(StagePool, Fraction(done, total), stats)
}

// SendComplete emits the final event with the document and run stats.
func (s *Writer) SendComplete(doc interface{}, stats interface{}) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	evt := CompleteEvent{
		Document: json.RawMessage(docJSON),
		Stats:    json.RawMessage(statsJSON),
	}
	return s.sendEvent("complete", evt)
}

// SendError emits an error event.
func (s *Writer) SendError(stage Stage, errMsg string) error {
	return s.sendEvent("error", ErrorEvent{Error: errMsg, Stage: stage})
}

func (s *Writer) sendEvent(eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Fraction returns done/total clamped to [0, 1]. An empty run is complete.
func Fraction(done, total int) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// StageTimer tracks elapsed time for a stage.
type StageTimer struct {
	Stage   Stage
	started time.Time
}

// NewStageTimer starts timing a stage.
func NewStageTimer(stage Stage) *StageTimer {
	return &StageTimer{Stage: stage, started: time.Now()}
}

// Elapsed returns the duration since the timer started.
func (t *StageTimer) Elapsed() time.Duration {
	return time.Since(t.started)
}

// ElapsedMs returns elapsed milliseconds.
func (t *StageTimer) ElapsedMs() int64 {
	return t.Elapsed().Milliseconds()
}
