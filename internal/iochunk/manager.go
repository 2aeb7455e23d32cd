// Package iochunk implements the Chunk Manager (C11): it divides a laid-out
// tree's world space into fixed-size chunks for progressive loading (spec
// §4.12).
package iochunk

import (
	"math"
	"sort"

	"github.com/fieldnote/dex/internal/iotree"
)

// ChunkSize is the fixed world-unit square chunk side (spec §4.12).
const ChunkSize = 2048

// Coord identifies a chunk cell by its integer grid position.
type Coord struct {
	X int
	Y int
}

// Bounds is an axis-aligned world-space bounding box.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Metadata describes one chunk cell's contents (spec §4.12 step 4).
type Metadata struct {
	ChunkX     int    `json:"chunk_x"`
	ChunkY     int    `json:"chunk_y"`
	NodeCount  int    `json:"node_count"`
	EdgeCount  int    `json:"edge_count"`
	WorldBounds Bounds `json:"world_bounds"`
}

// Manager indexes a Projection's nodes and edges by chunk so GetChunk can
// answer in O(1) amortized per request instead of re-scanning every node.
type Manager struct {
	nodes    []iotree.FlatNode
	edges    []iotree.Edge
	chunkSize float64

	worldBounds Bounds
	nodesByChunk map[Coord][]iotree.FlatNode
	edgesByChunk map[Coord][]iotree.Edge
	metadata     []Metadata
}

// Generate builds a Manager from a Tree Projector's output (spec §4.12).
func Generate(nodes []iotree.FlatNode, edges []iotree.Edge) *Manager {
	m := &Manager{nodes: nodes, edges: edges, chunkSize: ChunkSize}

	m.worldBounds = worldBounds(nodes, m.chunkSize)

	nodeChunk := make(map[string]Coord, len(nodes))
	m.nodesByChunk = make(map[Coord][]iotree.FlatNode)
	for _, n := range nodes {
		c := positionToChunk(n.X, n.Y, m.chunkSize)
		nodeChunk[n.ID] = c
		m.nodesByChunk[c] = append(m.nodesByChunk[c], n)
	}

	byID := make(map[string]iotree.FlatNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	m.edgesByChunk = make(map[Coord][]iotree.Edge)
	for _, e := range edges {
		src, ok1 := byID[e.Source]
		dst, ok2 := byID[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		for c := range chunksForEdge(src.X, src.Y, dst.X, dst.Y, m.chunkSize) {
			m.edgesByChunk[c] = append(m.edgesByChunk[c], e)
		}
	}

	m.metadata = buildMetadata(m.nodesByChunk, m.edgesByChunk, m.chunkSize)
	return m
}

// WorldBounds returns the padded bounding box of every node position.
func (m *Manager) WorldBounds() Bounds { return m.worldBounds }

// Chunks returns metadata for every non-empty chunk, sorted by (x, y).
func (m *Manager) Chunks() []Metadata { return m.metadata }

// GetChunk returns the nodes whose positions fall in (x, y) and the edges
// that cross it (spec §4.12: "GetChunk(x, y)").
func (m *Manager) GetChunk(x, y int) ([]iotree.FlatNode, []iotree.Edge) {
	c := Coord{X: x, Y: y}
	return m.nodesByChunk[c], m.edgesByChunk[c]
}

func worldBounds(nodes []iotree.FlatNode, chunkSize float64) Bounds {
	if len(nodes) == 0 {
		return Bounds{}
	}
	minX, maxX := nodes[0].X, nodes[0].X
	minY, maxY := nodes[0].Y, nodes[0].Y
	for _, n := range nodes[1:] {
		minX = math.Min(minX, n.X)
		maxX = math.Max(maxX, n.X)
		minY = math.Min(minY, n.Y)
		maxY = math.Max(maxY, n.Y)
	}
	padding := chunkSize * 0.1
	return Bounds{MinX: minX - padding, MinY: minY - padding, MaxX: maxX + padding, MaxY: maxY + padding}
}

func positionToChunk(x, y, chunkSize float64) Coord {
	return Coord{X: int(math.Floor(x / chunkSize)), Y: int(math.Floor(y / chunkSize))}
}

// chunksForEdge returns every chunk the straight line between the two
// positions passes through, via line-rasterization sampling (spec §4.12
// step 3: "sampling 2 · max(|Δchunk_x|, |Δchunk_y|) + 1 equally-spaced
// points and unioning their chunks"). A conservative superset is permitted.
func chunksForEdge(x1, y1, x2, y2, chunkSize float64) map[Coord]bool {
	c1 := positionToChunk(x1, y1, chunkSize)
	c2 := positionToChunk(x2, y2, chunkSize)

	chunks := map[Coord]bool{c1: true, c2: true}
	if c1 == c2 {
		return chunks
	}

	dx := c2.X - c1.X
	if dx < 0 {
		dx = -dx
	}
	dy := c2.Y - c1.Y
	if dy < 0 {
		dy = -dy
	}
	numSamples := 2*max(dx, dy) + 1

	for i := 1; i < numSamples; i++ {
		t := float64(i) / float64(numSamples)
		x := x1 + (x2-x1)*t
		y := y1 + (y2-y1)*t
		chunks[positionToChunk(x, y, chunkSize)] = true
	}
	return chunks
}

func buildMetadata(nodesByChunk map[Coord][]iotree.FlatNode, edgesByChunk map[Coord][]iotree.Edge, chunkSize float64) []Metadata {
	coords := make(map[Coord]bool)
	for c := range nodesByChunk {
		coords[c] = true
	}
	for c := range edgesByChunk {
		coords[c] = true
	}

	out := make([]Metadata, 0, len(coords))
	for c := range coords {
		worldX := float64(c.X) * chunkSize
		worldY := float64(c.Y) * chunkSize
		out = append(out, Metadata{
			ChunkX: c.X, ChunkY: c.Y,
			NodeCount: len(nodesByChunk[c]),
			EdgeCount: len(edgesByChunk[c]),
			WorldBounds: Bounds{
				MinX: worldX, MinY: worldY,
				MaxX: worldX + chunkSize, MaxY: worldY + chunkSize,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChunkX != out[j].ChunkX {
			return out[i].ChunkX < out[j].ChunkX
		}
		return out[i].ChunkY < out[j].ChunkY
	})
	return out
}
