package retrieval

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/labelgraph/store"
)

// WindowSize is the number of NEXT hops walked either side of a chunk.
type WindowSize int

const (
	Window1 WindowSize = 1
	Window2 WindowSize = 2
	Window3 WindowSize = 3
)

// ParseWindowSize converts an integer from a request into a WindowSize.
func ParseWindowSize(n int) (WindowSize, error) {
	switch WindowSize(n) {
	case Window1, Window2, Window3:
		return WindowSize(n), nil
	}
	return 0, fmt.Errorf("window size must be 1, 2 or 3, got %d", n)
}

// Window is a chunk with the chunks around it in document order.
type Window struct {
	Before []store.Chunk `json:"before"`
	Center store.Chunk   `json:"center"`
	After  []store.Chunk `json:"after"`
}

// ContextWindow returns the chunks up to size hops before and after a
// chunk. It returns nil, nil when the chunk does not exist.
func (e *Engine) ContextWindow(ctx context.Context, chunkID string, size WindowSize) (*Window, error) {
	if _, err := ParseWindowSize(int(size)); err != nil {
		return nil, err
	}
	before, center, after, err := e.store.Window(ctx, chunkID, int(size))
	if err != nil {
		return nil, fmt.Errorf("context window of %s: %w", chunkID, err)
	}
	if center == nil {
		return nil, nil
	}
	w := &Window{Before: before, Center: *center, After: after}
	if w.Before == nil {
		w.Before = []store.Chunk{}
	}
	if w.After == nil {
		w.After = []store.Chunk{}
	}
	return w, nil
}
