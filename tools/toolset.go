// Package tools exposes retrieval and graph queries as text-producing
// tools for agents, over MCP and HTTP.
package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/labelgraph/retrieval"
	"github.com/brunobiangulo/labelgraph/store"
)

// Output limits.
const (
	vectorPreviewChars = 500
	hybridPreviewChars = 300
	hybridChunks       = 5
	relatedHerbicides  = 3
	entityRecords      = 10
	detailControls     = 5
	cropWeeds          = 5
	rotationOptions    = 3
	topModesOfAction   = 5
	topWeeds           = 10
)

// Retriever runs chunk searches.
type Retriever interface {
	VectorSearch(ctx context.Context, query string, opts retrieval.VectorOptions) ([]store.SearchResult, error)
	HybridSearch(ctx context.Context, query string, opts retrieval.HybridOptions) (*retrieval.HybridResult, error)
}

// Graph answers structured entity questions.
type Graph interface {
	HerbicidesForWeed(ctx context.Context, weed string, f store.WeedFilter) ([]store.WeedControl, error)
	HerbicidesForCrop(ctx context.Context, crop, state string) ([]store.CropRegistration, error)
	RotationOptions(ctx context.Context, currentMOA, crop, weed string) ([]store.RotationGroup, error)
	FindHerbicide(ctx context.Context, nameOrNumber string) (string, error)
	HerbicideDetails(ctx context.Context, productNumber string) (*store.HerbicideDetails, error)
	CountHerbicidesControlling(ctx context.Context, weed string) (int, error)
	HerbicideCount(ctx context.Context) (int, error)
	TopModesOfAction(ctx context.Context, limit int) ([]store.NameCount, error)
	TopWeeds(ctx context.Context, limit int) ([]store.NameCount, error)
}

// Toolset formats search and graph answers as text for a language model.
type Toolset struct {
	retriever Retriever
	graph     Graph
}

// New creates a toolset.
func New(r Retriever, g Graph) *Toolset {
	return &Toolset{retriever: r, graph: g}
}

// VectorSearch finds label chunks by semantic similarity.
func (t *Toolset) VectorSearch(ctx context.Context, query string, k int, chunkType string) (string, error) {
	results, err := t.retriever.VectorSearch(ctx, query, retrieval.VectorOptions{K: k, ChunkType: chunkType})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No relevant chunks found for your query.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant chunks:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "--- Result %d (score: %.3f) ---\n", i+1, r.Score)
		fmt.Fprintf(&b, "Product: %s (%s)\n", orUnknown(r.ProductName), r.ProductNumber)
		fmt.Fprintf(&b, "Section: %s\n", orUnknown(r.ParentSection))
		fmt.Fprintf(&b, "Type: %s\n", r.ChunkType)
		fmt.Fprintf(&b, "Content:\n%s\n\n", preview(r.Text, vectorPreviewChars))
	}
	return b.String(), nil
}

// GraphQuery answers a structured question about one entity.
func (t *Toolset) GraphQuery(ctx context.Context, q EntityQuery) (string, error) {
	switch q := q.(type) {
	case WeedQuery:
		return t.weedQuery(ctx, q)
	case CropQuery:
		return t.cropQuery(ctx, q)
	case HerbicideQuery:
		return t.herbicideQuery(ctx, q)
	default:
		return "", fmt.Errorf("unsupported entity query %T", q)
	}
}

func (t *Toolset) weedQuery(ctx context.Context, q WeedQuery) (string, error) {
	results, err := t.graph.HerbicidesForWeed(ctx, q.Name, store.WeedFilter{
		Crop: q.Crop, State: q.State, ExcludeMOA: q.ExcludeMOA,
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No herbicides found for weed: %s", q.Name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Herbicides controlling %s:\n\n", q.Name)
	for _, r := range results[:min(len(results), entityRecords)] {
		fmt.Fprintf(&b, "• %s (%s)\n", r.Herbicide, r.ProductNumber)
		fmt.Fprintf(&b, "  Active: %s\n", r.ActiveConstituent)
		fmt.Fprintf(&b, "  MOA Group: %s\n", r.MOAGroup)
		fmt.Fprintf(&b, "  Crop: %s\n", r.Crop)
		fmt.Fprintf(&b, "  Rate: %s\n", r.Rate)
		if r.Timing != "" {
			fmt.Fprintf(&b, "  Timing: %s\n", r.Timing)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (t *Toolset) cropQuery(ctx context.Context, q CropQuery) (string, error) {
	results, err := t.graph.HerbicidesForCrop(ctx, q.Name, q.State)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No herbicides found for crop: %s", q.Name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Herbicides registered for %s:\n\n", q.Name)
	for _, r := range results[:min(len(results), entityRecords)] {
		fmt.Fprintf(&b, "• %s (%s)\n", r.Herbicide, r.ProductNumber)
		fmt.Fprintf(&b, "  Active: %s\n", r.ActiveConstituent)
		fmt.Fprintf(&b, "  MOA Group: %s\n", r.MOAGroup)
		if len(r.WeedsControlled) > 0 {
			weeds := r.WeedsControlled[:min(len(r.WeedsControlled), cropWeeds)]
			fmt.Fprintf(&b, "  Controls: %s\n", strings.Join(weeds, ", "))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (t *Toolset) herbicideQuery(ctx context.Context, q HerbicideQuery) (string, error) {
	pn, err := t.graph.FindHerbicide(ctx, q.Name)
	if err != nil {
		return "", err
	}
	var d *store.HerbicideDetails
	if pn != "" {
		if d, err = t.graph.HerbicideDetails(ctx, pn); err != nil {
			return "", err
		}
	}
	if d == nil {
		return fmt.Sprintf("Herbicide not found: %s", q.Name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Herbicide Details: %s\n", d.ProductName)
	b.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&b, "Product Number: %s\n", d.ProductNumber)
	fmt.Fprintf(&b, "Active Constituent: %s\n", d.ActiveConstituent)
	fmt.Fprintf(&b, "MOA Group: %s - %s\n", d.MOAGroup, d.MOADescription)
	fmt.Fprintf(&b, "Registered Crops: %s\n", strings.Join(d.RegisteredCrops[:min(len(d.RegisteredCrops), entityRecords)], ", "))
	withholding := d.WithholdingPeriod
	if withholding == "" {
		withholding = "Not specified"
	}
	fmt.Fprintf(&b, "Withholding Period: %s\n", withholding)

	if q.IncludeControls && len(d.WeedControls) > 0 {
		b.WriteString("\nWeed Controls:\n")
		for _, wc := range d.WeedControls[:min(len(d.WeedControls), detailControls)] {
			fmt.Fprintf(&b, "  • %s in %s: %s\n", wc.Weed, wc.Crop, wc.Rate)
		}
	}
	return b.String(), nil
}

// HybridSearch combines chunk search with the graph context around the
// chunks.
func (t *Toolset) HybridSearch(ctx context.Context, query string, k int, expandGraph bool) (string, error) {
	res, err := t.retriever.HybridSearch(ctx, query, retrieval.HybridOptions{K: k, ExpandGraph: expandGraph})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hybrid Search Results for: '%s'\n", query)
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	b.WriteString("RELEVANT TEXT CHUNKS:\n")
	for i, c := range res.Chunks[:min(len(res.Chunks), hybridChunks)] {
		fmt.Fprintf(&b, "\n[%d] %s - %s\n", i+1, orUnknown(c.ProductName), orUnknown(c.ParentSection))
		fmt.Fprintf(&b, "    Score: %.3f\n", c.Score)
		text := c.Text
		if r := []rune(text); len(r) > hybridPreviewChars {
			text = string(r[:hybridPreviewChars])
		}
		fmt.Fprintf(&b, "    %s...\n", strings.ReplaceAll(text, "\n", " "))
	}

	if expandGraph && res.Graph != nil {
		if len(res.Graph.Mentions) > 0 {
			b.WriteString("\n\nMENTIONED ENTITIES:\n")
			for _, m := range res.Graph.Mentions {
				fmt.Fprintf(&b, "  • %s: %s\n", m.EntityType, m.EntityName)
			}
		}
		if herbicides := distinctHerbicides(res.Graph.Herbicides); len(herbicides) > 0 {
			b.WriteString("\n\nRELATED HERBICIDES:\n")
			for _, h := range herbicides[:min(len(herbicides), relatedHerbicides)] {
				fmt.Fprintf(&b, "  • %s (%s)\n", h.Herbicide, h.MOAGroup)
				fmt.Fprintf(&b, "    Active: %s\n", h.ActiveConstituent)
			}
		}
	}
	return b.String(), nil
}

// distinctHerbicides keeps the first CONTROLS record of each product.
func distinctHerbicides(hcs []store.HerbicideControl) []store.HerbicideControl {
	seen := make(map[string]bool)
	var out []store.HerbicideControl
	for _, h := range hcs {
		if seen[h.ProductNumber] {
			continue
		}
		seen[h.ProductNumber] = true
		out = append(out, h)
	}
	return out
}

// RotationOptions lists alternatives to a mode of action group for
// resistance management.
func (t *Toolset) RotationOptions(ctx context.Context, currentMOA, crop, weed string) (string, error) {
	groups, err := t.graph.RotationOptions(ctx, currentMOA, crop, weed)
	if err != nil {
		return "", err
	}
	if len(groups) == 0 {
		return fmt.Sprintf("No rotation options found for %s in %s excluding MOA Group %s", weed, crop, currentMOA), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rotation Options (excluding Group %s):\n", currentMOA)
	fmt.Fprintf(&b, "Target: %s in %s\n", weed, crop)
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "GROUP %s: %s\n", g.Group, g.Description)
		for _, o := range g.Options[:min(len(g.Options), rotationOptions)] {
			fmt.Fprintf(&b, "  • %s\n", o.Herbicide)
			fmt.Fprintf(&b, "    Rate: %s\n", o.Rate)
			if o.Timing != "" {
				fmt.Fprintf(&b, "    Timing: %s\n", o.Timing)
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// statsHelp is returned for questions GraphStats cannot answer.
const statsHelp = "I couldn't parse that question into a query. Try asking about:\n" +
	"- 'How many herbicides control [weed]?'\n" +
	"- 'What's the most common MOA group?'\n" +
	"- 'Which weeds are controlled by the most herbicides?'"

var controlSubjectRe = regexp.MustCompile(`(?i)control(?:s|led)?\s+(.+?)\??\s*$`)

// GraphStats answers a small set of statistics questions about the graph.
func (t *Toolset) GraphStats(ctx context.Context, question string) (string, error) {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "how many herbicides"):
		if m := controlSubjectRe.FindStringSubmatch(question); m != nil {
			weed := strings.TrimSpace(m[1])
			n, err := t.graph.CountHerbicidesControlling(ctx, weed)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d herbicides control %s", n, weed), nil
		}
		n, err := t.graph.HerbicideCount(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Total herbicides: %d", n), nil

	case strings.Contains(q, "most common moa") || strings.Contains(q, "most used moa"):
		groups, err := t.graph.TopModesOfAction(ctx, topModesOfAction)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		b.WriteString("Most common MOA groups:\n")
		for _, g := range groups {
			fmt.Fprintf(&b, "  Group %s: %d herbicides\n", g.Name, g.Count)
		}
		return b.String(), nil

	case strings.Contains(q, "which weeds") && strings.Contains(q, "most"):
		weeds, err := t.graph.TopWeeds(ctx, topWeeds)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		b.WriteString("Weeds controlled by the most herbicides:\n")
		for _, w := range weeds {
			fmt.Fprintf(&b, "  %s: %d herbicides\n", w.Name, w.Count)
		}
		return b.String(), nil
	}
	return statsHelp, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// preview cuts text to n runes, marking the cut with an ellipsis.
func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
