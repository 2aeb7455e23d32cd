package iochunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote/dex/internal/iochunk"
	"github.com/fieldnote/dex/internal/iotree"
)

func TestManager_GetChunk_PartitionsNodesByPosition(t *testing.T) {
	nodes := []iotree.FlatNode{
		{ID: "a", X: 10, Y: 10},
		{ID: "b", X: 3000, Y: 10},
		{ID: "c", X: 10, Y: 3000},
	}
	edges := []iotree.Edge{{Source: "a", Target: "b"}}

	m := iochunk.Generate(nodes, edges)

	near, _ := m.GetChunk(0, 0)
	require.Len(t, near, 1)
	assert.Equal(t, "a", near[0].ID)

	far, _ := m.GetChunk(1, 0)
	require.Len(t, far, 1)
	assert.Equal(t, "b", far[0].ID)
}

func TestManager_GetChunk_LongEdgeCrossesIntermediateChunks(t *testing.T) {
	nodes := []iotree.FlatNode{
		{ID: "a", X: 0, Y: 0},
		{ID: "b", X: 5000, Y: 0},
	}
	edges := []iotree.Edge{{Source: "a", Target: "b"}}

	m := iochunk.Generate(nodes, edges)

	// The edge spans chunk x=0 through x=2; the middle chunk has no node but
	// must still see the edge (conservative superset, spec §4.12 step 3).
	_, midEdges := m.GetChunk(1, 0)
	assert.Len(t, midEdges, 1)
}

func TestManager_WorldBounds_PaddedByTenPercentOfChunkSize(t *testing.T) {
	nodes := []iotree.FlatNode{{ID: "a", X: 0, Y: 0}, {ID: "b", X: 100, Y: 200}}
	m := iochunk.Generate(nodes, nil)

	bounds := m.WorldBounds()
	padding := iochunk.ChunkSize * 0.1
	assert.InDelta(t, -padding, bounds.MinX, 1e-9)
	assert.InDelta(t, 100+padding, bounds.MaxX, 1e-9)
	assert.InDelta(t, -padding, bounds.MinY, 1e-9)
	assert.InDelta(t, 200+padding, bounds.MaxY, 1e-9)
}

func TestManager_Chunks_ReportsNodeAndEdgeCounts(t *testing.T) {
	nodes := []iotree.FlatNode{
		{ID: "a", X: 10, Y: 10},
		{ID: "b", X: 20, Y: 20},
	}
	edges := []iotree.Edge{{Source: "a", Target: "b"}}

	m := iochunk.Generate(nodes, edges)
	chunks := m.Chunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, chunks[0].NodeCount)
	assert.Equal(t, 1, chunks[0].EdgeCount)
}
