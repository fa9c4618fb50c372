package main

import "math"

// SpatialCellSize matches the standard shell's explosion radius
const SpatialCellSize = 5.0

// SpatialGrid is a uniform grid over the square arena [-half, half]² for
// broad-phase contact queries. Rebuilt every tick.
type SpatialGrid struct {
	half  float64
	cell  float64
	cols  int
	cells [][]EntityID
}

// NewSpatialGrid creates a grid covering an arena of the given half size
func NewSpatialGrid(half, cellSize float64) *SpatialGrid {
	cols := int(math.Ceil(2*half/cellSize)) + 1
	return &SpatialGrid{
		half:  half,
		cell:  cellSize,
		cols:  cols,
		cells: make([][]EntityID, cols*cols),
	}
}

// Clear resets all cells (keeps allocated capacity)
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

func (g *SpatialGrid) coord(v float64) int {
	c := int((v + g.half) / g.cell)
	if c < 0 {
		return 0
	}
	if c >= g.cols {
		return g.cols - 1
	}
	return c
}

// Insert adds an entity at the given position
func (g *SpatialGrid) Insert(pos Vec3, id EntityID) {
	idx := g.coord(pos.Z)*g.cols + g.coord(pos.X)
	g.cells[idx] = append(g.cells[idx], id)
}

// Query returns all ids in cells that overlap the given bounding box
func (g *SpatialGrid) Query(pos Vec3, radius float64) []EntityID {
	return g.QueryBuf(pos, radius, nil)
}

// QueryBuf appends results to buf and returns the extended slice, avoiding per-call allocation
func (g *SpatialGrid) QueryBuf(pos Vec3, radius float64, buf []EntityID) []EntityID {
	minCX, maxCX := g.coord(pos.X-radius), g.coord(pos.X+radius)
	minCZ, maxCZ := g.coord(pos.Z-radius), g.coord(pos.Z+radius)
	for cz := minCZ; cz <= maxCZ; cz++ {
		for cx := minCX; cx <= maxCX; cx++ {
			buf = append(buf, g.cells[cz*g.cols+cx]...)
		}
	}
	return buf
}
