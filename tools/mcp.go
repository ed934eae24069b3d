package tools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// VectorSearchInput is the input of the vector_search tool.
type VectorSearchInput struct {
	Query     string `json:"query" jsonschema:"natural language query to search for"`
	K         int    `json:"k,omitempty" jsonschema:"number of results to return (default 5)"`
	ChunkType string `json:"chunk_type,omitempty" jsonschema:"filter by chunk type: weed_table, directions, metadata, table, safety, general"`
}

// GraphQueryInput is the input of the graph_query tool.
type GraphQueryInput struct {
	EntityType string `json:"entity_type" jsonschema:"type of entity: weed, crop or herbicide"`
	EntityName string `json:"entity_name" jsonschema:"name of the entity to search for"`
	Crop       string `json:"crop,omitempty" jsonschema:"weed queries only: restrict to a crop"`
	State      string `json:"state,omitempty" jsonschema:"Australian state code (NSW, VIC, ...)"`
	ExcludeMOA string `json:"exclude_moa,omitempty" jsonschema:"weed queries only: mode of action group to exclude"`
}

// Query validates the entity type and builds the typed query.
func (in GraphQueryInput) Query() (EntityQuery, error) {
	t, err := ParseEntityType(in.EntityType)
	if err != nil {
		return nil, err
	}
	switch t {
	case EntityWeed:
		return WeedQuery{Name: in.EntityName, Crop: in.Crop, State: in.State, ExcludeMOA: in.ExcludeMOA}, nil
	case EntityCrop:
		return CropQuery{Name: in.EntityName, State: in.State}, nil
	default:
		return NewEntityQuery(t, in.EntityName), nil
	}
}

// Expand reports whether graph expansion was requested; it defaults to true.
func (in HybridSearchInput) Expand() bool {
	return in.ExpandGraph == nil || *in.ExpandGraph
}

// HybridSearchInput is the input of the hybrid_search tool.
type HybridSearchInput struct {
	Query       string `json:"query" jsonschema:"natural language query"`
	K           int    `json:"k,omitempty" jsonschema:"number of chunks to retrieve (default 5)"`
	ExpandGraph *bool  `json:"expand_graph,omitempty" jsonschema:"whether to traverse the graph from the chunks (default true)"`
}

// RotationInput is the input of the rotation_options tool.
type RotationInput struct {
	CurrentMOA string `json:"current_moa" jsonschema:"mode of action group currently in use (A-Z)"`
	Crop       string `json:"crop" jsonschema:"target crop"`
	Weed       string `json:"weed" jsonschema:"target weed"`
}

// GraphStatsInput is the input of the graph_stats tool.
type GraphStatsInput struct {
	Question string `json:"question" jsonschema:"statistics question about the herbicide graph"`
}

// MCPServer serves a Toolset over the Model Context Protocol.
type MCPServer struct {
	tools  *Toolset
	server *mcp.Server
}

// NewMCPServer registers the toolset's tools on a new MCP server.
func NewMCPServer(t *Toolset) *MCPServer {
	s := &MCPServer{
		tools:  t,
		server: mcp.NewServer(&mcp.Implementation{Name: "labelgraph", Version: Version}, nil),
	}
	s.registerTools()
	return s
}

func (s *MCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vector_search",
		Description: "Search herbicide labels for relevant information using semantic similarity. Use for application instructions, rate tables or weed control info.",
	}, s.handleVectorSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "graph_query",
		Description: "Query the knowledge graph for structured herbicide data about a weed, crop or herbicide.",
	}, s.handleGraphQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "hybrid_search",
		Description: "Combined semantic and graph search. Use when you need both label text and structured data.",
	}, s.handleHybridSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "rotation_options",
		Description: "Find herbicides with a different mode of action for resistance management.",
	}, s.handleRotation)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "graph_stats",
		Description: "Answer statistics questions: how many herbicides control a weed, most common MOA groups, weeds controlled by the most herbicides.",
	}, s.handleGraphStats)
}

// Run serves over stdio until ctx is cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler serves the streamable HTTP transport.
func (s *MCPServer) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (s *MCPServer) handleVectorSearch(ctx context.Context, _ *mcp.CallToolRequest, in VectorSearchInput) (*mcp.CallToolResult, any, error) {
	out, err := s.tools.VectorSearch(ctx, in.Query, in.K, in.ChunkType)
	if err != nil {
		return nil, nil, err
	}
	return textResult(out), nil, nil
}

func (s *MCPServer) handleGraphQuery(ctx context.Context, _ *mcp.CallToolRequest, in GraphQueryInput) (*mcp.CallToolResult, any, error) {
	q, err := in.Query()
	if err != nil {
		return textResult(err.Error()), nil, nil
	}
	out, err := s.tools.GraphQuery(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	return textResult(out), nil, nil
}

func (s *MCPServer) handleHybridSearch(ctx context.Context, _ *mcp.CallToolRequest, in HybridSearchInput) (*mcp.CallToolResult, any, error) {
	out, err := s.tools.HybridSearch(ctx, in.Query, in.K, in.Expand())
	if err != nil {
		return nil, nil, err
	}
	return textResult(out), nil, nil
}

func (s *MCPServer) handleRotation(ctx context.Context, _ *mcp.CallToolRequest, in RotationInput) (*mcp.CallToolResult, any, error) {
	out, err := s.tools.RotationOptions(ctx, in.CurrentMOA, in.Crop, in.Weed)
	if err != nil {
		return nil, nil, err
	}
	return textResult(out), nil, nil
}

func (s *MCPServer) handleGraphStats(ctx context.Context, _ *mcp.CallToolRequest, in GraphStatsInput) (*mcp.CallToolResult, any, error) {
	out, err := s.tools.GraphStats(ctx, in.Question)
	if err != nil {
		return nil, nil, err
	}
	return textResult(out), nil, nil
}
