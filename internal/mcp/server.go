package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrank/pkg/ranker"
	"github.com/Aman-CERP/amanrank/pkg/version"
)

// serverName is the implementation name announced to MCP clients.
const serverName = "amanrank"

// Ranker is the part of ranker.Ranker the server needs.
type Ranker interface {
	Rank(ctx context.Context, query string, topK int) ([]string, error)
	Context(passages []string) string
	Status(ctx context.Context) ranker.Status
}

// Server is the MCP server for amanrank. It hands ranked passages to an
// answer generator.
type Server struct {
	mcp    *mcp.Server
	ranker Ranker
	logger *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        ToolRankPassages,
		Description: "Find the passages of the document index that best support an answer to a question. Returns passages best first, or a message to show when nothing relevant exists.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Check whether the passage index exists, how many passages it holds and which embedding and reranking models are active.",
	},
}

// NewServer creates a new MCP server around r.
func NewServer(r Ranker) (*Server, error) {
	if r == nil {
		return nil, errors.New("ranker is required")
	}

	s := &Server{
		ranker: r,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with JSON-decoded arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRankPassages:
		in := RankPassagesInput{}
		if q, ok := args["query"].(string); ok {
			in.Query = q
		}
		if k, ok := args["top_k"].(float64); ok {
			in.TopK = int(k)
		}
		return s.rankPassages(ctx, in)
	case ToolIndexStatus:
		return s.indexStatus(ctx), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// clampTopK applies the default and the upper bound to a requested top_k.
func clampTopK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return min(k, MaxTopK)
}

func (s *Server) rankPassages(ctx context.Context, in RankPassagesInput) (*RankPassagesOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	start := time.Now()
	requestID := uuid.NewString()[:8]
	topK := clampTopK(in.TopK)

	s.logger.Info("rank_passages started",
		slog.String("request_id", requestID),
		slog.String("query", in.Query),
		slog.Int("top_k", topK))

	passages, err := s.ranker.Rank(ctx, in.Query, topK)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("rank_passages failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("rank_passages completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(passages)))

	out := &RankPassagesOutput{Passages: passages}
	if len(passages) == 0 {
		out.Passages = []string{}
		out.Message = ranker.NoResultsMessage
		return out, nil
	}
	out.Context = s.ranker.Context(passages)
	return out, nil
}

func (s *Server) indexStatus(ctx context.Context) *IndexStatusOutput {
	st := s.ranker.Status(ctx)
	return &IndexStatusOutput{
		Index: IndexInfo{
			Backend:    st.Backend,
			Exists:     st.IndexExists,
			Documents:  st.Documents,
			Dimensions: st.Dimensions,
			Model:      st.IndexModel,
			Breaker:    st.Breaker,
			Error:      st.Error,
		},
		Embedder: ModelInfo{Model: st.Embedder, Available: st.EmbedderAvailable},
		Reranker: ModelInfo{Model: st.Reranker, Available: st.RerankerAvailable},
		Ready:    st.IndexExists && st.EmbedderAvailable && st.Error == "",
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpRankPassagesHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpRankPassagesHandler(ctx context.Context, _ *mcp.CallToolRequest, input RankPassagesInput) (
	*mcp.CallToolResult,
	*RankPassagesOutput,
	error,
) {
	out, err := s.rankPassages(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.indexStatus(ctx), nil
}

// Serve runs the server over the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
