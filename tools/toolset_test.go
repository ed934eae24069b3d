package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/labelgraph/retrieval"
	"github.com/brunobiangulo/labelgraph/store"
)

type fakeRetriever struct {
	results    []store.SearchResult
	graph      *retrieval.GraphContext
	lastVector retrieval.VectorOptions
	lastHybrid retrieval.HybridOptions
}

func (f *fakeRetriever) VectorSearch(ctx context.Context, query string, opts retrieval.VectorOptions) ([]store.SearchResult, error) {
	f.lastVector = opts
	return f.results, nil
}

func (f *fakeRetriever) HybridSearch(ctx context.Context, query string, opts retrieval.HybridOptions) (*retrieval.HybridResult, error) {
	f.lastHybrid = opts
	res := &retrieval.HybridResult{Chunks: f.results}
	if opts.ExpandGraph {
		res.Graph = f.graph
	}
	return res, nil
}

type fakeGraph struct {
	weed      []store.WeedControl
	crop      []store.CropRegistration
	rotation  []store.RotationGroup
	details   *store.HerbicideDetails
	count     int
	total     int
	moas      []store.NameCount
	topWeeds  []store.NameCount
	lastWeed  string
	lastCount string
	filter    store.WeedFilter
}

func (f *fakeGraph) HerbicidesForWeed(ctx context.Context, weed string, flt store.WeedFilter) ([]store.WeedControl, error) {
	f.lastWeed, f.filter = weed, flt
	return f.weed, nil
}

func (f *fakeGraph) HerbicidesForCrop(ctx context.Context, crop, state string) ([]store.CropRegistration, error) {
	return f.crop, nil
}

func (f *fakeGraph) RotationOptions(ctx context.Context, moa, crop, weed string) ([]store.RotationGroup, error) {
	return f.rotation, nil
}

func (f *fakeGraph) FindHerbicide(ctx context.Context, name string) (string, error) {
	if f.details == nil {
		return "", nil
	}
	return f.details.ProductNumber, nil
}

func (f *fakeGraph) HerbicideDetails(ctx context.Context, pn string) (*store.HerbicideDetails, error) {
	return f.details, nil
}

func (f *fakeGraph) CountHerbicidesControlling(ctx context.Context, weed string) (int, error) {
	f.lastCount = weed
	return f.count, nil
}

func (f *fakeGraph) HerbicideCount(ctx context.Context) (int, error) { return f.total, nil }

func (f *fakeGraph) TopModesOfAction(ctx context.Context, limit int) ([]store.NameCount, error) {
	return f.moas, nil
}

func (f *fakeGraph) TopWeeds(ctx context.Context, limit int) ([]store.NameCount, error) {
	return f.topWeeds, nil
}

func chunk(i int, text string) store.SearchResult {
	return store.SearchResult{
		Chunk: store.Chunk{
			ChunkID:       fmt.Sprintf("c%d", i),
			Text:          text,
			ChunkType:     "weed_table",
			ParentSection: "Directions for use",
			ProductNumber: "31209",
		},
		ProductName: "BOXER GOLD",
		Score:       0.91234,
	}
}

func TestVectorSearchFormatting(t *testing.T) {
	r := &fakeRetriever{results: []store.SearchResult{chunk(1, strings.Repeat("x", 600)), chunk(2, "short")}}
	out, err := New(r, &fakeGraph{}).VectorSearch(context.Background(), "ryegrass", 7, "weed_table")
	require.NoError(t, err)

	assert.Equal(t, retrieval.VectorOptions{K: 7, ChunkType: "weed_table"}, r.lastVector)
	assert.True(t, strings.HasPrefix(out, "Found 2 relevant chunks:\n\n"))
	assert.Contains(t, out, "--- Result 1 (score: 0.912) ---\n")
	assert.Contains(t, out, "Product: BOXER GOLD (31209)\n")
	assert.Contains(t, out, "Section: Directions for use\n")
	assert.Contains(t, out, "Content:\n"+strings.Repeat("x", 500)+"...\n")
	assert.Contains(t, out, "Content:\nshort\n")
}

func TestVectorSearchNoResults(t *testing.T) {
	out, err := New(&fakeRetriever{}, &fakeGraph{}).VectorSearch(context.Background(), "q", 5, "")
	require.NoError(t, err)
	assert.Equal(t, "No relevant chunks found for your query.", out)
}

func TestGraphQueryWeedLimitsRecords(t *testing.T) {
	g := &fakeGraph{}
	for i := range 12 {
		g.weed = append(g.weed, store.WeedControl{Herbicide: fmt.Sprintf("H%02d", i), ProductNumber: "1", Rate: "1 L/ha"})
	}
	g.weed[0].Timing = "post-emergent"

	out, err := New(&fakeRetriever{}, g).GraphQuery(context.Background(),
		WeedQuery{Name: "ryegrass", Crop: "wheat", ExcludeMOA: "A"})
	require.NoError(t, err)

	assert.Equal(t, store.WeedFilter{Crop: "wheat", ExcludeMOA: "A"}, g.filter)
	assert.True(t, strings.HasPrefix(out, "Herbicides controlling ryegrass:\n\n"))
	assert.Equal(t, 10, strings.Count(out, "• "))
	assert.Contains(t, out, "  Timing: post-emergent\n")
	assert.NotContains(t, out, "H10")
}

func TestGraphQueryCrop(t *testing.T) {
	g := &fakeGraph{crop: []store.CropRegistration{{
		Herbicide: "BOXER GOLD", ProductNumber: "31209", MOAGroup: "J",
		WeedsControlled: []string{"a", "b", "c", "d", "e", "f"},
	}}}
	out, err := New(&fakeRetriever{}, g).GraphQuery(context.Background(), CropQuery{Name: "wheat"})
	require.NoError(t, err)
	assert.Contains(t, out, "Herbicides registered for wheat:")
	assert.Contains(t, out, "  Controls: a, b, c, d, e\n")
}

func TestGraphQueryHerbicide(t *testing.T) {
	d := &store.HerbicideDetails{MOAGroup: "J", MOADescription: "Inhibitors of lipid synthesis"}
	d.ProductNumber, d.ProductName = "31209", "BOXER GOLD"
	for i := range 7 {
		d.WeedControls = append(d.WeedControls, store.ControlSummary{Weed: fmt.Sprintf("w%d", i), Crop: "wheat", Rate: "2 L/ha"})
	}
	ts := New(&fakeRetriever{}, &fakeGraph{details: d})

	out, err := ts.GraphQuery(context.Background(), HerbicideQuery{Name: "boxer", IncludeControls: true})
	require.NoError(t, err)
	assert.Contains(t, out, "Herbicide Details: BOXER GOLD\n"+strings.Repeat("=", 40))
	assert.Contains(t, out, "MOA Group: J - Inhibitors of lipid synthesis\n")
	assert.Contains(t, out, "Withholding Period: Not specified\n")
	assert.Equal(t, 5, strings.Count(out, "  • "))

	out, err = ts.GraphQuery(context.Background(), HerbicideQuery{Name: "boxer"})
	require.NoError(t, err)
	assert.NotContains(t, out, "Weed Controls:")
}

func TestGraphQueryNotFound(t *testing.T) {
	ts := New(&fakeRetriever{}, &fakeGraph{})
	tests := []struct {
		q    EntityQuery
		want string
	}{
		{WeedQuery{Name: "x"}, "No herbicides found for weed: x"},
		{CropQuery{Name: "y"}, "No herbicides found for crop: y"},
		{HerbicideQuery{Name: "z"}, "Herbicide not found: z"},
	}
	for _, tt := range tests {
		out, err := ts.GraphQuery(context.Background(), tt.q)
		require.NoError(t, err)
		assert.Equal(t, tt.want, out)
	}
}

func TestHybridSearchFormatting(t *testing.T) {
	r := &fakeRetriever{
		graph: &retrieval.GraphContext{
			Mentions: []store.Mention{{EntityType: "weed", EntityName: "annual ryegrass"}},
			Herbicides: []store.HerbicideControl{
				{Herbicide: "A", ProductNumber: "1", MOAGroup: "J"},
				{Herbicide: "A", ProductNumber: "1", MOAGroup: "J"},
				{Herbicide: "B", ProductNumber: "2"},
				{Herbicide: "C", ProductNumber: "3"},
				{Herbicide: "D", ProductNumber: "4"},
			},
		},
	}
	for i := range 7 {
		r.results = append(r.results, chunk(i, "line one\nline two"))
	}

	out, err := New(r, &fakeGraph{}).HybridSearch(context.Background(), "ryegrass", 7, true)
	require.NoError(t, err)
	assert.True(t, r.lastHybrid.ExpandGraph)
	assert.True(t, strings.HasPrefix(out, "Hybrid Search Results for: 'ryegrass'\n"+strings.Repeat("=", 50)))
	assert.Contains(t, out, "[5] BOXER GOLD - Directions for use\n")
	assert.NotContains(t, out, "[6]")
	assert.Contains(t, out, "    line one line two...\n")
	assert.Contains(t, out, "MENTIONED ENTITIES:\n  • weed: annual ryegrass\n")
	assert.Contains(t, out, "  • A (J)\n")
	assert.Contains(t, out, "  • C ()\n")
	assert.NotContains(t, out, "  • D (")
}

func TestHybridSearchWithoutGraph(t *testing.T) {
	r := &fakeRetriever{results: []store.SearchResult{chunk(1, "t")}, graph: &retrieval.GraphContext{
		Mentions: []store.Mention{{EntityType: "weed", EntityName: "x"}},
	}}
	out, err := New(r, &fakeGraph{}).HybridSearch(context.Background(), "q", 5, false)
	require.NoError(t, err)
	assert.NotContains(t, out, "MENTIONED ENTITIES")
}

func TestRotationOptions(t *testing.T) {
	g := &fakeGraph{rotation: []store.RotationGroup{{
		Group: "B", Description: "ALS inhibitors",
		Options: []store.RotationOption{
			{Herbicide: "P1", Rate: "1"}, {Herbicide: "P2", Rate: "2", Timing: "pre"}, {Herbicide: "P3"}, {Herbicide: "P4"},
		},
	}}}
	out, err := New(&fakeRetriever{}, g).RotationOptions(context.Background(), "A", "wheat", "ryegrass")
	require.NoError(t, err)
	assert.Contains(t, out, "Rotation Options (excluding Group A):\nTarget: ryegrass in wheat\n")
	assert.Contains(t, out, "GROUP B: ALS inhibitors\n")
	assert.Contains(t, out, "    Timing: pre\n")
	assert.NotContains(t, out, "P4")

	out, err = New(&fakeRetriever{}, &fakeGraph{}).RotationOptions(context.Background(), "A", "wheat", "ryegrass")
	require.NoError(t, err)
	assert.Equal(t, "No rotation options found for ryegrass in wheat excluding MOA Group A", out)
}

func TestGraphStats(t *testing.T) {
	g := &fakeGraph{
		count:    12,
		total:    240,
		moas:     []store.NameCount{{Name: "B", Count: 40}},
		topWeeds: []store.NameCount{{Name: "annual ryegrass", Count: 55}},
	}
	ts := New(&fakeRetriever{}, g)
	ctx := context.Background()

	out, err := ts.GraphStats(ctx, "How many herbicides control annual ryegrass?")
	require.NoError(t, err)
	assert.Equal(t, "12 herbicides control annual ryegrass", out)
	assert.Equal(t, "annual ryegrass", g.lastCount)

	out, err = ts.GraphStats(ctx, "How many herbicides are there?")
	require.NoError(t, err)
	assert.Equal(t, "Total herbicides: 240", out)

	out, err = ts.GraphStats(ctx, "What's the most common MOA group?")
	require.NoError(t, err)
	assert.Equal(t, "Most common MOA groups:\n  Group B: 40 herbicides\n", out)

	out, err = ts.GraphStats(ctx, "Which weeds are controlled by the most herbicides?")
	require.NoError(t, err)
	assert.Equal(t, "Weeds controlled by the most herbicides:\n  annual ryegrass: 55 herbicides\n", out)

	out, err = ts.GraphStats(ctx, "tell me a joke")
	require.NoError(t, err)
	assert.Equal(t, statsHelp, out)
}

func TestParseEntityType(t *testing.T) {
	for in, want := range map[string]EntityType{"weed": EntityWeed, " Crop ": EntityCrop, "HERBICIDE": EntityHerbicide} {
		got, err := ParseEntityType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseEntityType("pest")
	assert.EqualError(t, err, "unknown entity type: pest. Use 'weed', 'crop', or 'herbicide'")
}

func TestMCPHandlers(t *testing.T) {
	r := &fakeRetriever{results: []store.SearchResult{chunk(1, "t")}}
	g := &fakeGraph{}
	s := NewMCPServer(New(r, g))
	ctx := context.Background()

	res, _, err := s.handleGraphQuery(ctx, nil, GraphQueryInput{EntityType: "pest", EntityName: "x"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "unknown entity type")

	_, _, err = s.handleGraphQuery(ctx, nil, GraphQueryInput{EntityType: "weed", EntityName: "ryegrass", State: "WA"})
	require.NoError(t, err)
	assert.Equal(t, "ryegrass", g.lastWeed)
	assert.Equal(t, "WA", g.filter.State)

	_, _, err = s.handleHybridSearch(ctx, nil, HybridSearchInput{Query: "q"})
	require.NoError(t, err)
	assert.True(t, r.lastHybrid.ExpandGraph, "expand_graph defaults to true")

	off := false
	_, _, err = s.handleHybridSearch(ctx, nil, HybridSearchInput{Query: "q", ExpandGraph: &off})
	require.NoError(t, err)
	assert.False(t, r.lastHybrid.ExpandGraph)

	res, _, err = s.handleVectorSearch(ctx, nil, VectorSearchInput{Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "Found 1 relevant chunks")
}
