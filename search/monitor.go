package search

import (
	"github.com/poiesic/ragchat/core"
)

// SearchMonitor provides hooks to observe the retrieval process.
// In two-stage mode AfterStage may be called concurrently from both stages.
type SearchMonitor interface {
	Start(collection, query string)
	AfterStage(stage int, query string, candidates, narrowed []core.Chunk)
	AfterMerge(merged []core.Chunk, duplicates int)
	Finish(results []core.Chunk)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                             {}
func (n *noopMonitor) AfterStage(_ int, _ string, _, _ []core.Chunk) {}
func (n *noopMonitor) AfterMerge(_ []core.Chunk, _ int)              {}
func (n *noopMonitor) Finish(_ []core.Chunk)                         {}
