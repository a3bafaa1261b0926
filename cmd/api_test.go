package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddhant-K-code/diffsets/pkg/config"
	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	"github.com/Siddhant-K-code/diffsets/pkg/metrics"
	"github.com/Siddhant-K-code/diffsets/pkg/telemetry"
)

func init() {
	logging.SetOutput(io.Discard)
}

const generateBody = `{
  "objects": [
    {"object_id": "a1", "category": "Shapes", "pool": "p1"},
    {"object_id": "a2", "category": "Shapes", "pool": "p1"},
    {"object_id": "b1", "category": "Shapes", "pool": "p1"},
    {"object_id": "b2", "category": "Shapes", "pool": "p1"},
    {"object_id": "c1", "category": "Shapes", "pool": "lonely"}
  ],
  "embeddings": {
    "a1": [1, 0.1], "a2": [1, -0.1],
    "b1": [0.1, 1], "b2": [-0.1, 1],
    "c1": [1, 1]
  },
  "sizes": [2],
  "num_sets": 1,
  "disjoint": false,
  "seed": 3
}`

func newTestServer(t *testing.T, keys ...string) *APIServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.APIKeys = keys
	tracer, err := telemetry.Init(t.Context(), telemetry.Config{})
	require.NoError(t, err)
	return NewAPIServer(cfg, metrics.New(), tracer, nil)
}

func post(t *testing.T, h http.Handler, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Generate(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := post(t, h, "/v1/sets", generateBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Document struct {
			Seed       int64 `json:"seed"`
			Categories []struct {
				Name  string `json:"category"`
				Pools []struct {
					ID   string `json:"poolId"`
					Sets []struct {
						Difficulty string   `json:"difficulty"`
						Group      []string `json:"group"`
					} `json:"sets"`
				} `json:"pools"`
			} `json:"categories"`
		} `json:"document"`
		Stats struct {
			Pools   int `json:"pools"`
			Skipped int `json:"skipped"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, int64(3), resp.Document.Seed)
	assert.Equal(t, 1, resp.Stats.Pools)
	assert.Equal(t, 1, resp.Stats.Skipped)
	require.Len(t, resp.Document.Categories, 1)
	require.Len(t, resp.Document.Categories[0].Pools, 1)

	pool := resp.Document.Categories[0].Pools[0]
	assert.Equal(t, "p1", pool.ID)
	require.Len(t, pool.Sets, 2)
	for _, s := range pool.Sets {
		if s.Difficulty == "hard" {
			assert.Equal(t, s.Group[0][0], s.Group[1][0], "hard pair comes from one blob: %v", s.Group)
		} else {
			assert.NotEqual(t, s.Group[0][0], s.Group[1][0], "easy pair spans blobs: %v", s.Group)
		}
	}
}

func TestAPI_Generate_BadRequests(t *testing.T) {
	h := newTestServer(t).Handler()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "Invalid JSON"},
		{"no objects", `{"objects": []}`, "At least one object"},
		{"no embeddings or source", `{"objects": [{"object_id": "a", "pool": "p"}]}`, "no embedding source"},
		{"bad strategy", `{"objects": [{"object_id": "a", "pool": "p"}], "embeddings": {"a": [1]}, "strategy": "random"}`, "unknown strategy"},
		{"bad size", `{"objects": [{"object_id": "a", "pool": "p"}], "embeddings": {"a": [1]}, "sizes": [1]}`, "at least 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, "/v1/sets", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestAPI_Generate_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sets", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_Auth(t *testing.T) {
	h := newTestServer(t, "secret").Handler()

	assert.Equal(t, http.StatusUnauthorized, post(t, h, "/v1/sets", generateBody).Code)
	assert.Equal(t, http.StatusUnauthorized, post(t, h, "/v1/sets", generateBody, "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, post(t, h, "/v1/sets", generateBody, "Authorization", "Bearer secret").Code)

	// Health stays open.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_GenerateStream(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := post(t, h, "/v1/sets/stream", generateBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 4, strings.Count(body, "event: progress"), body)
	assert.Equal(t, 1, strings.Count(body, "event: complete"), body)
	assert.NotContains(t, body, "event: error")
	assert.Contains(t, body, `"stage":"pool"`)
}

func TestAPI_GenerateStream_BadRequestBeforeStreaming(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := post(t, h, "/v1/sets/stream", `{"objects": [{"object_id": "a", "pool": "p"}], "embeddings": {"a": [1]}, "score_scope": "all"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestAPI_Match(t *testing.T) {
	h := newTestServer(t).Handler()

	sets := `{"categories": [{"category": "Shapes", "pools": [{"poolId": "p1", "sets": [
	  {"size": 2, "difficulty": "hard", "group": ["a1", "a2"], "intra_mean": 0.9, "hardness_pct": 100, "easiness_pct": 0}
	]}]}]}`
	logs := `[
	  {"event_type": "trial", "description": "{\"session_id\": \"s1\", \"trial_index\": 0, \"object_category\": \"Shapes\", \"object_similarity_label\": \"high\", \"object_actual_moved\": true, \"response\": \"different\", \"render_group\": [\"a2\", \"a1\"]}"},
	  {"event_type": "trial", "description": "{\"session_id\": \"s1\", \"trial_index\": 1, \"object_similarity_label\": \"low\", \"object_actual_moved\": false, \"response\": \"same\", \"render_group\": [\"b1\", \"b2\"]}"}
	]`

	var body bytes.Buffer
	require.NoError(t, json.NewEncoder(&body).Encode(map[string]interface{}{
		"logs":            json.RawMessage(logs),
		"difficulty_sets": json.RawMessage(sets),
		"embeddings":      map[string][]float32{"a1": {1, 0}, "a2": {1, 0.1}},
	}))

	rec := post(t, h, "/v1/match", body.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Matched)
	require.Len(t, resp.Trials, 2)
	assert.Equal(t, "p1", resp.Trials[0]["set_poolId"])
	assert.NotContains(t, resp.Trials[1], "set_poolId")
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "s1", resp.Sessions[0]["session_id"])
}

func TestAPI_Match_Invalid(t *testing.T) {
	h := newTestServer(t).Handler()
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/v1/match", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/v1/match", `{"logs": 5}`).Code)
}

func TestAPI_Metrics(t *testing.T) {
	h := newTestServer(t).Handler()
	_ = post(t, h, "/v1/sets", generateBody)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `diffsets_requests_total{endpoint="/v1/sets",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), "diffsets_pools_total")
}
