// Package geometry converts between the logical tile grid, world pixels and
// the finer-resolution allowed-cell mask. The grid and the mask are separate
// coordinate systems joined only by MapToAllowedCell.
package geometry

import "math"

// Point is a position in world units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Grid describes the logical tile grid and its placement in the world.
type Grid struct {
	Cols     int
	Rows     int
	TileSize float64
	Origin   Point
}

// TileToPixel returns the world position of the top-left corner of tile (tx, ty).
func TileToPixel(tx, ty int, origin Point, tileSize float64) Point {
	return Point{
		X: origin.X + float64(tx)*tileSize,
		Y: origin.Y + float64(ty)*tileSize,
	}
}

// PixelToTile returns the tile containing world position p.
func PixelToTile(p Point, origin Point, tileSize float64) (int, int) {
	if tileSize <= 0 {
		return 0, 0
	}
	return int(math.Floor((p.X - origin.X) / tileSize)), int(math.Floor((p.Y - origin.Y) / tileSize))
}

// TileToPixel is the grid-bound form of the package function.
func (g Grid) TileToPixel(tx, ty int) Point {
	return TileToPixel(tx, ty, g.Origin, g.TileSize)
}

// Center returns the world position at the middle of the grid.
func (g Grid) Center() Point {
	return Point{
		X: g.Origin.X + float64(g.Cols)*g.TileSize/2,
		Y: g.Origin.Y + float64(g.Rows)*g.TileSize/2,
	}
}

// MapToAllowedCell maps tile (tx, ty) of a gridW×gridH grid onto the mask
// cell sampled at the tile's centre. The result is always inside
// [0, maskW-1]×[0, maskH-1], for any input.
func MapToAllowedCell(tx, ty, gridW, gridH, maskW, maskH int) (int, int) {
	return sampleAxis(tx, gridW, maskW), sampleAxis(ty, gridH, maskH)
}

func sampleAxis(t, gridDim, maskDim int) int {
	if maskDim <= 0 {
		return 0
	}
	if gridDim <= 0 {
		return 0
	}
	cellsPerTile := float64(maskDim) / float64(gridDim)
	c := math.Floor((float64(t) + 0.5) * cellsPerTile)
	if c < 0 {
		return 0
	}
	if c > float64(maskDim-1) {
		return maskDim - 1
	}
	return int(c)
}
