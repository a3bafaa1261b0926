package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Siddhant-K-code/diffsets/pkg/cache"
	"github.com/Siddhant-K-code/diffsets/pkg/config"
	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	"github.com/Siddhant-K-code/diffsets/pkg/generator"
	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	"github.com/Siddhant-K-code/diffsets/pkg/manifest"
	"github.com/Siddhant-K-code/diffsets/pkg/metrics"
	"github.com/Siddhant-K-code/diffsets/pkg/sse"
	"github.com/Siddhant-K-code/diffsets/pkg/telemetry"
	"github.com/Siddhant-K-code/diffsets/pkg/trials"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the Diffsets HTTP API server",
	Long: `Starts an HTTP API server for difficulty set generation and trial
matching. Clients either send embeddings with the request or rely on the
embedding source configured in diffsets.yaml.

Example:
  diffsets api --port 8080

The server exposes:
  POST /v1/sets         - Generate a difficulty set document
  POST /v1/sets/stream  - Same, streaming per-pool progress as SSE
  POST /v1/match        - Match trial logs to difficulty sets
  GET  /metrics         - Prometheus metrics
  GET  /health          - Health check`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"port":     "server.port",
			"host":     "server.host",
			"api-keys": "auth.api_keys",
			"cache":    "cache.backend",
		})
	},
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	apiCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	apiCmd.Flags().StringSlice("api-keys", nil, "Comma-separated list of valid API keys (or use DIFFSETS_API_KEYS)")
	apiCmd.Flags().String("cache", "memory", "similarity matrix cache (none, memory, redis)")
}

// GenerateRequest is the JSON request body for /v1/sets. Unset generation
// fields fall back to the server configuration.
type GenerateRequest struct {
	Objects    []manifest.Record    `json:"objects"`
	Embeddings map[string][]float32 `json:"embeddings,omitempty"`
	Existing   json.RawMessage      `json:"existing,omitempty"`
	Sizes      []int                `json:"sizes,omitempty"`
	NumSets    int                  `json:"num_sets,omitempty"`
	Disjoint   *bool                `json:"disjoint,omitempty"`
	Seed       *int64               `json:"seed,omitempty"`
	Strategy   string               `json:"strategy,omitempty"`
	ScoreScope string               `json:"score_scope,omitempty"`
}

// GenerateResponse is the JSON response for /v1/sets.
type GenerateResponse struct {
	Document  *document.Document `json:"document"`
	Stats     generator.Stats    `json:"stats"`
	LatencyMs int64              `json:"latency_ms"`
}

// MatchRequest is the JSON request body for /v1/match.
type MatchRequest struct {
	Logs           json.RawMessage      `json:"logs"`
	DifficultySets json.RawMessage      `json:"difficulty_sets,omitempty"`
	Embeddings     map[string][]float32 `json:"embeddings,omitempty"`
	SimThreshold   float64              `json:"sim_threshold,omitempty"`
}

// MatchResponse is the JSON response for /v1/match.
type MatchResponse struct {
	Trials   []map[string]interface{} `json:"trials"`
	Sessions []map[string]interface{} `json:"sessions"`
	Matched  int                      `json:"matched"`
}

// APIServer holds the API server state.
type APIServer struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	tracer    *telemetry.Provider
	matrices  *cache.MatrixCache
	validKeys map[string]bool
	log       *logrus.Entry
}

// NewAPIServer creates a server. matrices may be nil.
func NewAPIServer(cfg *config.Config, m *metrics.Metrics, tracer *telemetry.Provider, matrices *cache.MatrixCache) *APIServer {
	validKeys := make(map[string]bool)
	for _, key := range cfg.Auth.APIKeys {
		for _, k := range strings.Split(key, ",") {
			if k = strings.TrimSpace(k); k != "" {
				validKeys[k] = true
			}
		}
	}
	return &APIServer{
		cfg:       cfg,
		metrics:   m,
		tracer:    tracer,
		matrices:  matrices,
		validKeys: validKeys,
		log:       logging.Logger().WithField("component", "api"),
	}
}

// Handler returns the routed, instrumented handler.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sets", s.metrics.Middleware("/v1/sets", s.authorize(s.handleGenerate)))
	mux.HandleFunc("/v1/sets/stream", s.metrics.Middleware("/v1/sets/stream", s.authorize(s.handleGenerateStream)))
	mux.HandleFunc("/v1/match", s.metrics.Middleware("/v1/match", s.authorize(s.handleMatch)))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return corsMiddleware(mux)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := initTelemetry(ctx, cfg.Telemetry.Tracing)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	matrices, closeCache, err := openMatrixCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	server := NewAPIServer(cfg, metrics.New(), tracer, matrices)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Printf("Diffsets API server starting on %s\n", addr)
	fmt.Printf("  Embeddings: %s\n", cfg.Embeddings.Source)
	fmt.Printf("  Matrix cache: %s\n", cfg.Cache.Backend)
	fmt.Printf("  Auth: %v (%d keys)\n", len(server.validKeys) > 0, len(server.validKeys))
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  POST http://%s/v1/sets\n", addr)
	fmt.Printf("  POST http://%s/v1/sets/stream\n", addr)
	fmt.Printf("  POST http://%s/v1/match\n", addr)
	fmt.Printf("  GET  http://%s/metrics\n", addr)
	fmt.Printf("  GET  http://%s/health\n", addr)
	fmt.Println()

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	fmt.Println("Server stopped")
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authorize rejects requests without a valid bearer token when API keys
// are configured.
func (s *APIServer) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.validKeys) > 0 {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			if !s.validKeys[strings.TrimPrefix(auth, "Bearer ")] {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *APIServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "Diffsets API",
		"version": telemetry.Version,
		"endpoints": map[string]string{
			"sets":        "POST /v1/sets",
			"sets_stream": "POST /v1/sets/stream",
			"match":       "POST /v1/match",
			"metrics":     "GET /metrics",
			"health":      "GET /health",
		},
	})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if s.matrices != nil {
		st := s.matrices.Stats()
		resp["matrix_cache"] = map[string]interface{}{
			"hits":     st.Hits,
			"misses":   st.Misses,
			"hit_rate": st.HitRate(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// generation is a validated /v1/sets request ready to run.
type generation struct {
	pools    []types.Pool
	ids      []string
	existing *document.Document
	cfg      generator.Config
	caps     generator.Capabilities
	inline   map[string][]float32
}

// requestError is a client error reported with status 400.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func (s *APIServer) prepare(req *GenerateRequest) (*generation, error) {
	if len(req.Objects) == 0 {
		return nil, badRequest("At least one object is required")
	}
	pools, _ := manifest.Pools(req.Objects)
	if len(pools) == 0 {
		return nil, badRequest("No object has both an object_id and a pool")
	}

	existing := document.New()
	if len(req.Existing) > 0 && string(req.Existing) != "null" {
		doc, err := document.Read(bytes.NewReader(req.Existing))
		if err != nil {
			return nil, badRequest("Invalid existing document: %v", err)
		}
		existing = doc
	}

	gc, caps := generatorConfig(s.cfg)
	if len(req.Sizes) > 0 {
		gc.Sizes = req.Sizes
	}
	if req.NumSets > 0 {
		gc.NumSets = req.NumSets
	}
	if req.Disjoint != nil {
		gc.Disjoint = *req.Disjoint
	}
	if req.Seed != nil {
		gc.Seed = *req.Seed
	}
	if req.Strategy != "" {
		gc.Strategy = generator.Strategy(req.Strategy)
	}
	if req.ScoreScope != "" {
		gc.ScoreScope = generator.ScoreScope(req.ScoreScope)
	}

	if len(req.Embeddings) == 0 && !s.hasSource() {
		return nil, badRequest("Embeddings required but no embedding source configured. Either provide embeddings in request or configure embeddings in diffsets.yaml.")
	}

	return &generation{
		pools:    pools,
		ids:      manifest.ObjectIDs(req.Objects),
		existing: existing,
		cfg:      gc,
		caps:     caps,
		inline:   req.Embeddings,
	}, nil
}

func (s *APIServer) hasSource() bool {
	e := s.cfg.Embeddings
	return e.Path != "" || e.Index != "" || e.Host != ""
}

func (s *APIServer) store(ctx context.Context, g *generation) (embedding.Store, error) {
	if len(g.inline) > 0 {
		return embedding.FromMap(g.inline, nil), nil
	}
	return loadStore(ctx, s.cfg.Embeddings, s.tracer, g.ids)
}

func (s *APIServer) generator(g *generation, progress generator.ProgressFunc) (*generator.Generator, error) {
	opts := []generator.Option{
		generator.WithCapabilities(g.caps),
		generator.WithMetrics(s.metrics),
		generator.WithTelemetry(s.tracer),
	}
	if s.matrices != nil {
		opts = append(opts, generator.WithMatrixCache(s.matrices))
	}
	if progress != nil {
		opts = append(opts, generator.WithProgress(progress))
	}
	gen, err := generator.New(g.cfg, opts...)
	if err != nil {
		return nil, badRequest("Invalid generation parameters: %v", err)
	}
	return gen, nil
}

func (s *APIServer) decodeGenerate(w http.ResponseWriter, r *http.Request) (*generation, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return nil, false
	}

	g, err := s.prepare(&req)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return g, true
}

func (s *APIServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	g, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}

	start := time.Now()
	ctx, span := s.tracer.StartRequest(r.Context(), "/v1/sets")
	defer span.End()

	gen, err := s.generator(g, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	store, err := s.store(ctx, g)
	if err != nil {
		telemetry.RecordError(span, err)
		http.Error(w, fmt.Sprintf("Failed to load embeddings: %v", err), http.StatusBadGateway)
		return
	}

	res, err := gen.Generate(ctx, g.pools, store, g.existing)
	if err != nil {
		telemetry.RecordError(span, err)
		http.Error(w, fmt.Sprintf("Generation failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		Document:  res.Document,
		Stats:     res.Stats,
		LatencyMs: time.Since(start).Milliseconds(),
	})
}

func (s *APIServer) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	g, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}

	var sw *sse.Writer
	gen, err := s.generator(g, func(p generator.Progress) {
		if p.Stage == generator.StagePool {
			_ = sw.SendPool(p.Done, p.Total, p)
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if sw = sse.NewWriter(w); sw == nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, span := s.tracer.StartRequest(r.Context(), "/v1/sets/stream")
	defer span.End()

	_ = sw.SendProgress(sse.StageLoad, 0)
	store, err := s.store(ctx, g)
	if err != nil {
		telemetry.RecordError(span, err)
		_ = sw.SendError(sse.StageLoad, err.Error())
		return
	}
	_ = sw.SendProgress(sse.StageLoad, 1)

	timer := sse.NewStageTimer(sse.StageGenerate)
	res, err := gen.Generate(ctx, g.pools, store, g.existing)
	if err != nil {
		telemetry.RecordError(span, err)
		_ = sw.SendError(sse.StageGenerate, err.Error())
		return
	}
	s.log.WithFields(logrus.Fields{"pools": len(g.pools), "ms": timer.ElapsedMs()}).Debug("stream generation finished")

	_ = sw.SendComplete(res.Document, res.Stats)
}

func (s *APIServer) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Logs) == 0 {
		http.Error(w, "logs is required", http.StatusBadRequest)
		return
	}

	all, err := trials.ParseLogs(bytes.NewReader(req.Logs))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid logs: %v", err), http.StatusBadRequest)
		return
	}

	var doc *document.Document
	if len(req.DifficultySets) > 0 && string(req.DifficultySets) != "null" {
		if doc, err = document.Read(bytes.NewReader(req.DifficultySets)); err != nil {
			http.Error(w, fmt.Sprintf("Invalid difficulty_sets: %v", err), http.StatusBadRequest)
			return
		}
	}

	var store embedding.Store
	if len(req.Embeddings) > 0 {
		store = embedding.FromMap(req.Embeddings, nil)
	}

	mc := s.cfg.Match
	if req.SimThreshold != 0 {
		mc.SimThreshold = req.SimThreshold
	}
	sessions, matched := matchTrials(r.Context(), s.tracer, all, doc, store, mc)

	resp := MatchResponse{
		Trials:   make([]map[string]interface{}, len(all)),
		Sessions: make([]map[string]interface{}, len(sessions)),
		Matched:  matched,
	}
	for i, t := range all {
		resp.Trials[i] = trials.AuditRecord(t)
	}
	for i, sess := range sessions {
		resp.Sessions[i] = trials.SessionRecord(sess)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		http.Error(w, re.msg, http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
