// Package extract turns label text into structured HerbicideLabel records
// with an LLM, one file at a time or across a directory.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/brunobiangulo/labelgraph/graph"
	"github.com/brunobiangulo/labelgraph/llm"
)

// ErrTimeout is returned when one extraction call exceeds its time budget.
var ErrTimeout = errors.New("labelgraph: extraction timed out")

const (
	// MaxContentChars is the longest label text sent to the model.
	MaxContentChars = 15000
	// TruncationMarker is appended to label text cut at MaxContentChars.
	TruncationMarker = "\n\n[... content truncated ...]"
	// MinContentChars is the shortest label text worth extracting.
	MinContentChars = 100
	// DefaultTimeout bounds a single extraction call.
	DefaultTimeout = 90 * time.Second
)

// Prompt instructs the model how to fill a HerbicideLabel.
const Prompt = `You are an expert agricultural data extractor specializing in Australian herbicide labels.

Analyze this parsed herbicide label markdown and extract ALL relevant information as a single JSON object with these fields:
product_number, product_name, active_constituent, chemical_group, mode_of_action_group,
registered_crops, registered_weeds, weed_control_entries, application_methods,
state_restrictions, withholding_period, compatible_products.
Each weed_control_entries item has: crop, application_timing, weed_common_name,
weed_scientific_name, states, rate_per_ha, critical_comments, control_level.

CRITICAL EXTRACTION RULES:
1. product_number: Extract the 5-digit APVMA number from frontmatter or content
2. product_name: The commercial name (e.g., "SPINNAKER", "ESTERCIDE 800")
3. active_constituent: Full text including concentration (e.g., "240 g/L IMAZETHAPYR")
4. mode_of_action_group: Single letter A-Z from "GROUP X HERBICIDE" text
5. registered_crops: List ALL crops from the Directions table (wheat, barley, chickpeas, etc.)
6. registered_weeds: List ALL weed common names mentioned
7. weed_control_entries: Create ONE entry per crop+weed combination found in tables

FOR WEED CONTROL ENTRIES:
- Extract EACH weed separately (don't combine multiple weeds in one entry)
- Scientific names are in parentheses or italics: _Raphanus raphanistrum_
- States should be abbreviated: NSW, VIC, QLD, SA, WA, TAS, NT, ACT
- If states say "all states" or similar, list all 8 states
- control_level: "control" unless "suppression" or "partial" is mentioned

If data is missing or the document appears empty, return minimal valid data with empty lists.

MARKDOWN CONTENT TO EXTRACT:
`

// Extractor calls a chat model to extract label records.
type Extractor struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
}

// NewExtractor creates an extractor. A zero timeout uses DefaultTimeout.
func NewExtractor(p llm.Provider, model string, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{provider: p, model: model, timeout: timeout}
}

// Model is the chat model recorded in extraction metadata.
func (e *Extractor) Model() string { return e.model }

// Extract sends label markdown to the model and decodes its answer.
func (e *Extractor) Extract(ctx context.Context, content string) (*graph.HerbicideLabel, error) {
	content = Truncate(content)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.provider.Chat(callCtx, llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "user", Content: Prompt + "\n\n" + content},
		},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
		}
		return nil, err
	}

	raw, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("decoding extraction: %w", err)
	}
	var label graph.HerbicideLabel
	if err := json.Unmarshal([]byte(raw), &label); err != nil {
		return nil, fmt.Errorf("decoding extraction: %w", err)
	}

	slog.Debug("extract: label extracted",
		"product", label.ProductNumber,
		"entries", len(label.WeedControlEntries),
		"tokens", resp.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return &label, nil
}

// Truncate cuts content longer than MaxContentChars and marks the cut.
func Truncate(content string) string {
	if len(content) <= MaxContentChars {
		return content
	}
	cut := MaxContentChars
	// Back off to a rune boundary.
	for cut > 0 && !isRuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + TruncationMarker
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// codeBlockRe strips markdown code fences from model output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds the JSON object in a model response. It handles code
// fences and text before or after the object.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}
