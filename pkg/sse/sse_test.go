package sse

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)
	if sw == nil {
		t.Fatal("expected non-nil Writer from httptest.ResponseRecorder")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if conn := rec.Header().Get("Connection"); conn != "keep-alive" {
		t.Errorf("Connection = %q, want keep-alive", conn)
	}
}

// nonFlushWriter does not implement http.Flusher.
type nonFlushWriter struct {
	http.ResponseWriter
}

func TestNewWriter_NoFlusher(t *testing.T) {
	sw := NewWriter(&nonFlushWriter{})
	if sw != nil {
		t.Error("expected nil Writer when ResponseWriter does not support Flusher")
	}
}

func TestSendProgress(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	if err := sw.SendProgress(StageGenerate, 0.5); err != nil {
		t.Fatalf("SendProgress: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: progress") {
		t.Error("missing 'event: progress' line")
	}

	data := extractData(t, body, "progress")
	var evt ProgressEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("unmarshal progress event: %v", err)
	}
	if evt.Stage != StageGenerate {
		t.Errorf("stage = %q, want %q", evt.Stage, StageGenerate)
	}
	if evt.Progress != 0.5 {
		t.Errorf("progress = %v, want 0.5", evt.Progress)
	}
	if evt.Stats != nil {
		t.Error("expected nil stats for basic progress event")
	}
}

func TestSendProgressWithStats(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	stats := map[string]int{"sets": 5}
	if err := sw.SendProgressWithStats(StagePool, 1.0, stats); err != nil {
		t.Fatalf("SendProgressWithStats: %v", err)
	}

	data := extractData(t, rec.Body.String(), "progress")
	var evt ProgressEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Stats == nil {
		t.Fatal("expected non-nil stats")
	}

	var parsed map[string]int
	if err := json.Unmarshal(*evt.Stats, &parsed); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if parsed["sets"] != 5 {
		t.Errorf("sets = %d, want 5", parsed["sets"])
	}
}

func TestSendComplete(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	doc := map[string]interface{}{"pools": []map[string]string{{"pool_id": "dogs"}}}
	stats := map[string]int{"new_sets": 4, "reused_sets": 0}

	if err := sw.SendComplete(doc, stats); err != nil {
		t.Fatalf("SendComplete: %v", err)
	}

	data := extractData(t, rec.Body.String(), "complete")
	var evt CompleteEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var parsed struct {
		Pools []map[string]string `json:"pools"`
	}
	if err := json.Unmarshal(evt.Document, &parsed); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	if len(parsed.Pools) != 1 || parsed.Pools[0]["pool_id"] != "dogs" {
		t.Errorf("unexpected document: %s", evt.Document)
	}

	var parsedStats map[string]int
	if err := json.Unmarshal(evt.Stats, &parsedStats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if parsedStats["new_sets"] != 4 {
		t.Errorf("new_sets = %d, want 4", parsedStats["new_sets"])
	}
}

func TestSendPool(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	if err := sw.SendPool(1, 4, map[string]string{"pool": "dogs"}); err != nil {
		t.Fatalf("SendPool: %v", err)
	}

	data := extractData(t, rec.Body.String(), "progress")
	var evt ProgressEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Stage != StagePool {
		t.Errorf("stage = %q, want %q", evt.Stage, StagePool)
	}
	if evt.Progress != 0.25 {
		t.Errorf("progress = %v, want 0.25", evt.Progress)
	}
}

func TestFraction(t *testing.T) {
	tests := []struct {
		done, total int
		want        float64
	}{
		{0, 4, 0},
		{2, 4, 0.5},
		{4, 4, 1},
		{5, 4, 1},
		{0, 0, 1},
	}
	for _, tt := range tests {
		if got := Fraction(tt.done, tt.total); got != tt.want {
			t.Errorf("Fraction(%d, %d) = %v, want %v", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestSendError(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	if err := sw.SendError(StageLoad, "embedding source unavailable"); err != nil {
		t.Fatalf("SendError: %v", err)
	}

	data := extractData(t, rec.Body.String(), "error")
	var evt ErrorEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Error != "embedding source unavailable" {
		t.Errorf("error = %q, want %q", evt.Error, "embedding source unavailable")
	}
	if evt.Stage != StageLoad {
		t.Errorf("stage = %q, want %q", evt.Stage, StageLoad)
	}
}

func TestMultipleEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	_ = sw.SendProgress(StageLoad, 0)
	_ = sw.SendProgress(StageLoad, 1.0)
	_ = sw.SendProgress(StageGenerate, 0)
	_ = sw.SendProgress(StageGenerate, 1.0)
	_ = sw.SendComplete(map[string]interface{}{}, map[string]int{})

	body := rec.Body.String()
	progressCount := strings.Count(body, "event: progress")
	if progressCount != 4 {
		t.Errorf("progress events = %d, want 4", progressCount)
	}
	completeCount := strings.Count(body, "event: complete")
	if completeCount != 1 {
		t.Errorf("complete events = %d, want 1", completeCount)
	}
}

func TestStageTimer(t *testing.T) {
	timer := NewStageTimer(StageGenerate)
	time.Sleep(10 * time.Millisecond)

	if timer.Stage != StageGenerate {
		t.Errorf("stage = %q, want %q", timer.Stage, StageGenerate)
	}
	if timer.Elapsed() < 10*time.Millisecond {
		t.Errorf("elapsed = %v, expected >= 10ms", timer.Elapsed())
	}
	if timer.ElapsedMs() < 10 {
		t.Errorf("elapsed ms = %d, expected >= 10", timer.ElapsedMs())
	}
}

func TestStageConstants(t *testing.T) {
	stages := []Stage{StageLoad, StageGenerate, StagePool}
	seen := make(map[Stage]bool)
	for _, s := range stages {
		if s == "" {
			t.Error("empty stage constant")
		}
		if seen[s] {
			t.Errorf("duplicate stage: %s", s)
		}
		seen[s] = true
	}
}

// extractData finds the data line for the first occurrence of the given event type.
func extractData(t *testing.T, body, eventType string) string {
	t.Helper()
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if line == "event: "+eventType {
			if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "data: ") {
				return strings.TrimPrefix(lines[i+1], "data: ")
			}
		}
	}
	t.Fatalf("no data found for event type %q in:\n%s", eventType, body)
	return ""
}
