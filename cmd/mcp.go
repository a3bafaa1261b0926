package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/metrics"
	"github.com/Siddhant-K-code/diffsets/pkg/telemetry"
	"github.com/Siddhant-K-code/diffsets/pkg/trials"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start Diffsets as an MCP server",
	Long: `Starts Diffsets as a Model Context Protocol (MCP) server so that AI
assistants can build difficulty sets and look up which set a group of
objects belongs to.

Transports:
  stdio (default) - For local desktop apps
  http            - For remote deployments

Tools exposed:
  generate_difficulty_sets - Build hard and easy sets from objects and embeddings
  find_set_for_group       - Find the stored set a group of objects came from

Resources exposed:
  diffsets://config        - Generation defaults

Example:
  diffsets mcp
  diffsets mcp --difficulty-sets sets.json
  diffsets mcp --transport http --port 8081`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport type: stdio or http")
	mcpCmd.Flags().Int("port", 8081, "HTTP server port (for http transport)")
	mcpCmd.Flags().String("host", "0.0.0.0", "HTTP server host (for http transport)")
	mcpCmd.Flags().StringP("difficulty-sets", "d", "", "default document for find_set_for_group")
}

// MCPServer exposes the generation engine as MCP tools.
type MCPServer struct {
	api  *APIServer
	sets *document.Document
}

func runMCP(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")
	setsPath, _ := cmd.Flags().GetString("difficulty-sets")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	tracer := initTelemetry(ctx, cfg.Telemetry.Tracing)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	matrices, closeCache, err := openMatrixCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	mcpSrv := &MCPServer{api: NewAPIServer(cfg, metrics.New(), tracer, matrices)}
	if setsPath != "" {
		if mcpSrv.sets, err = document.ReadFile(setsPath); err != nil {
			return err
		}
	}

	s := server.NewMCPServer(
		"Diffsets",
		telemetry.Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)
	mcpSrv.registerTools(s)
	mcpSrv.registerResources(s)

	switch transport {
	case "stdio":
		if err := server.ServeStdio(s); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}

	case "http":
		addr := fmt.Sprintf("%s:%d", host, port)
		fmt.Printf("Diffsets MCP server starting on http://%s\n", addr)
		fmt.Printf("  Endpoint: http://%s/mcp\n", addr)
		fmt.Printf("  Health:   http://%s/health\n", addr)
		fmt.Println()

		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","server":"diffsets-mcp"}`))
		})
		mux.Handle("/mcp", server.NewStreamableHTTPServer(s, server.WithStateful(true)))

		httpServer := &http.Server{
			Addr:    addr,
			Handler: mux,
		}
		if err := httpServer.ListenAndServe(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}

	default:
		return fmt.Errorf("unsupported transport: %s (use 'stdio' or 'http')", transport)
	}

	return nil
}

func (m *MCPServer) registerTools(s *server.MCPServer) {
	generateTool := mcp.NewTool("generate_difficulty_sets",
		mcp.WithDescription(`Build hard and easy object sets for a memory experiment.

Objects are grouped into pools by (category, pool). Within each pool, hard
sets contain objects whose embeddings are most similar and easy sets contain
objects that are most dissimilar. Output is a difficulty set document.`),
		mcp.WithArray("objects",
			mcp.Required(),
			mcp.Description("Array of objects. Each needs 'object_id' and 'pool'; 'category' is optional."),
		),
		mcp.WithObject("embeddings",
			mcp.Description("Map of object_id to embedding vector. Optional when the server has an embedding source configured."),
		),
		mcp.WithArray("sizes",
			mcp.Description("Set sizes to build (default: 2, 4, 6, 8, 10, 12)"),
		),
		mcp.WithNumber("num_sets",
			mcp.Description("Sets per pool, size and difficulty (default: 2)"),
		),
		mcp.WithNumber("seed",
			mcp.Description("Random seed (default: 0)"),
		),
		mcp.WithBoolean("disjoint",
			mcp.Description("Forbid sets of the same size from sharing objects (default: true)"),
		),
		mcp.WithString("strategy",
			mcp.Description("clustered (default) or greedy"),
		),
		mcp.WithObject("existing",
			mcp.Description("Previous difficulty set document whose sets should be kept"),
		),
	)
	s.AddTool(generateTool, m.handleGenerate)

	findTool := mcp.NewTool("find_set_for_group",
		mcp.WithDescription(`Find the stored difficulty set that a group of objects came from.

Exact matches win over subset matches; within each, a set in the hinted
category wins over one elsewhere.`),
		mcp.WithArray("group",
			mcp.Required(),
			mcp.Description("Object ids shown together"),
		),
		mcp.WithString("category",
			mcp.Description("Category hint"),
		),
		mcp.WithString("difficulty",
			mcp.Description("Restrict to hard or easy sets"),
		),
		mcp.WithObject("difficulty_sets",
			mcp.Description("Document to search. Defaults to the one the server was started with."),
		),
	)
	s.AddTool(findTool, m.handleFindSet)
}

func (m *MCPServer) registerResources(s *server.MCPServer) {
	configResource := mcp.NewResource(
		"diffsets://config",
		"Diffsets Configuration",
		mcp.WithResourceDescription("Generation defaults used when a tool call omits a parameter"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(configResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "diffsets://config",
				MIMEType: "application/json",
				Text:     m.configJSON(),
			},
		}, nil
	})
}

func (m *MCPServer) configJSON() string {
	cfg := m.api.cfg
	data, _ := json.MarshalIndent(map[string]interface{}{
		"defaults": map[string]interface{}{
			"sizes":       cfg.Generation.Sizes,
			"num_sets":    cfg.Generation.NumSets,
			"disjoint":    cfg.Generation.Disjoint,
			"seed":        cfg.Generation.Seed,
			"strategy":    cfg.Generation.Strategy,
			"score_scope": cfg.Generation.ScoreScope,
		},
		"clustering":          cfg.Clustering.Enabled,
		"embedding_source":    cfg.Embeddings.Source,
		"source_configured":   m.api.hasSource(),
		"difficulty_sets_set": m.sets != nil,
	}, "", "  ")
	return string(data)
}

// decodeArgs round-trips tool arguments through JSON into v.
func decodeArgs(request mcp.CallToolRequest, v interface{}) error {
	data, err := json.Marshal(request.GetArguments())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (m *MCPServer) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req GenerateRequest
	if err := decodeArgs(request, &req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	g, err := m.api.prepare(&req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	gen, err := m.api.generator(g, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	store, err := m.api.store(ctx, g)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load embeddings: %v", err)), nil
	}

	res, err := gen.Generate(ctx, g.pools, store, g.existing)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("generation failed: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(map[string]interface{}{
		"document": res.Document,
		"stats":    res.Stats,
	}, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

type findArgs struct {
	Group          []string        `json:"group"`
	Category       string          `json:"category"`
	Difficulty     string          `json:"difficulty"`
	DifficultySets json.RawMessage `json:"difficulty_sets"`
}

func (m *MCPServer) handleFindSet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args findArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if len(args.Group) == 0 {
		return mcp.NewToolResultError("group parameter is required"), nil
	}

	var difficulty types.Difficulty
	if args.Difficulty != "" {
		d, err := types.ParseDifficulty(args.Difficulty)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		difficulty = d
	}

	doc := m.sets
	if len(args.DifficultySets) > 0 && string(args.DifficultySets) != "null" {
		parsed, err := document.Read(bytes.NewReader(args.DifficultySets))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid difficulty_sets: %v", err)), nil
		}
		doc = parsed
	}
	if doc == nil {
		return mcp.NewToolResultError("no difficulty_sets given and none loaded at startup (use --difficulty-sets)"), nil
	}

	match, err := trials.FindSet(doc, args.Group, difficulty, args.Category)
	if errors.Is(err, document.ErrNoMatch) {
		return mcp.NewToolResultText(`{"found": false}`), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resultJSON, _ := json.MarshalIndent(map[string]interface{}{
		"found":    true,
		"category": match.Category,
		"poolId":   match.PoolID,
		"set":      match.Set,
	}, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}
