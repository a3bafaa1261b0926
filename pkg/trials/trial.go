// Package trials matches experiment trials against stored difficulty sets
// and computes per-session signal-detection features.
package trials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/Siddhant-K-code/diffsets/pkg/logging"
)

// Trial is one parsed "trial" event. Known fields are decoded leniently;
// everything else stays in Extra.
type Trial struct {
	SessionID          string
	ParticipantID      string
	Timestamp          string
	TrialIndex         int
	Phase              string
	ObjectID           string
	ObjectCategory     string
	ObjectPool         string
	SimilarityLabel    string
	ActualMoved        bool
	SaidMoved          bool
	Response           string
	ReactionTimeMs     int
	MemorizationTimeMs int
	SwapEvent          bool
	SwapCount          int
	RenderSeed         string
	RenderGroup        []string

	// Extra holds description fields not mapped above.
	Extra map[string]json.RawMessage

	// Description is the full parsed description, kept for audit output.
	Description map[string]json.RawMessage

	// Sim is set when embeddings were available for the trial's group.
	Sim *Similarity

	// Set is the stored difficulty set matching RenderGroup, if any.
	Set *Match
}

var knownFields = map[string]bool{
	"session_id": true, "participant_id": true, "timestamp": true,
	"trial_index": true, "phase": true, "object_id": true,
	"object_category": true, "object_subpool": true, "object_pool": true,
	"object_similarity_label": true, "object_actual_moved": true,
	"participant_said_moved": true, "response": true,
	"reaction_time_ms": true, "memorization_time_ms": true,
	"swap_event": true, "swap_history": true, "render_seed": true,
	"render_group": true,
}

type logEvent struct {
	EventType   string  `json:"event_type"`
	Event       string  `json:"event"`
	Description *string `json:"description"`
}

// ReadLogs parses the logs file at path.
func ReadLogs(path string) ([]Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open logs: %w", err)
	}
	defer f.Close()
	return ParseLogs(f)
}

// ParseLogs reads a logs document, either a bare array of events or an
// object with a "logs" array, and returns its trial events in order.
func ParseLogs(r io.Reader) ([]Trial, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	data = bytes.TrimSpace(data)

	var events []json.RawMessage
	if len(data) > 0 && data[0] == '{' {
		var wrapper struct {
			Logs []json.RawMessage `json:"logs"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("parse logs: %w", err)
		}
		events = wrapper.Logs
	} else if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse logs: %w", err)
	}

	log := logging.Logger()
	var out []Trial
	for i, raw := range events {
		var ev logEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.WithField("event", i).Debug("skipping malformed log event")
			continue
		}
		et := ev.EventType
		if et == "" {
			et = ev.Event
		}
		if ev.Description == nil || !strings.EqualFold(et, "trial") {
			continue
		}
		out = append(out, parseTrial(*ev.Description))
	}
	return out, nil
}

// parseDescription decodes a trial description. Descriptions written with
// single quotes or other near-JSON are repaired; anything else is kept as
// raw_description.
func parseDescription(desc string) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(desc), &fields); err == nil && fields != nil {
		return fields
	}
	if repaired, err := jsonrepair.RepairJSON(desc); err == nil {
		if err := json.Unmarshal([]byte(repaired), &fields); err == nil && fields != nil {
			return fields
		}
	}
	raw, _ := json.Marshal(desc)
	return map[string]json.RawMessage{"raw_description": raw}
}

func parseTrial(desc string) Trial {
	fields := parseDescription(desc)

	t := Trial{
		SessionID:          str(fields["session_id"]),
		ParticipantID:      str(fields["participant_id"]),
		Timestamp:          str(fields["timestamp"]),
		TrialIndex:         integer(fields["trial_index"]),
		Phase:              lower(fields["phase"]),
		ObjectID:           str(fields["object_id"]),
		ObjectCategory:     str(fields["object_category"]),
		ObjectPool:         str(fields["object_subpool"]),
		SimilarityLabel:    lower(fields["object_similarity_label"]),
		ActualMoved:        boolean(fields["object_actual_moved"]),
		SaidMoved:          boolean(fields["participant_said_moved"]),
		Response:           lower(fields["response"]),
		ReactionTimeMs:     integer(fields["reaction_time_ms"]),
		MemorizationTimeMs: integer(fields["memorization_time_ms"]),
		SwapEvent:          boolean(fields["swap_event"]),
		SwapCount:          countSwaps(fields["swap_history"]),
		RenderSeed:         str(fields["render_seed"]),
		RenderGroup:        stringList(fields["render_group"]),
		Description:        fields,
	}
	if t.ObjectPool == "" {
		t.ObjectPool = str(fields["object_pool"])
	}

	for k, v := range fields {
		if !knownFields[k] {
			if t.Extra == nil {
				t.Extra = make(map[string]json.RawMessage)
			}
			t.Extra[k] = v
		}
	}
	return t
}

// Correct reports whether the response matched whether the object moved.
func (t Trial) Correct() bool {
	if t.ActualMoved {
		return t.Response == "different"
	}
	return t.Response == "same"
}

func isNull(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

// str returns strings verbatim and other scalars as their JSON text.
func str(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func lower(raw json.RawMessage) string {
	return strings.ToLower(strings.TrimSpace(str(raw)))
}

// integer coerces numbers and numeric strings; anything else is -1.
func integer(raw json.RawMessage) int {
	if isNull(raw) {
		return -1
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(str(raw)), 64); err == nil {
		return int(f)
	}
	return -1
}

// boolean follows truthiness: non-zero numbers, true and non-empty
// strings other than "false"/"0" are true. Missing is false.
func boolean(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return b
		}
		return x != ""
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	}
	return false
}

// stringList accepts an array, a JSON-encoded array string, or a single
// string.
func stringList(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err == nil {
		return scalars(items)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &items); err == nil {
			return scalars(items)
		}
		return []string{s}
	}
	return nil
}

func scalars(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch x := it.(type) {
		case string:
			out = append(out, x)
		case nil:
		default:
			b, _ := json.Marshal(x)
			out = append(out, string(b))
		}
	}
	return out
}

// countSwaps counts swap_history entries: a list counts its length, a
// single object counts one, an unparsable string counts one.
func countSwaps(raw json.RawMessage) int {
	if isNull(raw) {
		return 0
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	switch x := v.(type) {
	case []interface{}:
		return len(x)
	case map[string]interface{}:
		return 1
	case string:
		var inner interface{}
		if err := json.Unmarshal([]byte(x), &inner); err != nil {
			return 1
		}
		switch y := inner.(type) {
		case []interface{}:
			return len(y)
		case map[string]interface{}:
			return 1
		}
	}
	return 0
}
