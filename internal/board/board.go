// Package board holds the tile occupancy matrix of a habitat. Each cell
// stores the id of the area covering it, or Empty.
package board

// Empty marks an unoccupied cell.
const Empty = 0

// Board is a Width×Height owner matrix. It is not safe for concurrent use;
// the session that owns it serializes access.
type Board struct {
	width  int
	height int
	cells  []int
}

// New returns an empty board.
func New(width, height int) *Board {
	return &Board{width: width, height: height, cells: make([]int, width*height)}
}

func (b *Board) Width() int  { return b.width }
func (b *Board) Height() int { return b.height }

// At returns the owner of cell (x, y), or Empty when out of range.
func (b *Board) At(x, y int) int {
	if !b.inBounds(x, y) {
		return Empty
	}
	return b.cells[y*b.width+x]
}

// InBounds reports whether the w×h rectangle at (x, y) fits on the board.
func (b *Board) InBounds(x, y, w, h int) bool {
	if w <= 0 || h <= 0 {
		return false
	}
	return x >= 0 && y >= 0 && x+w <= b.width && y+h <= b.height
}

// CanPlace reports whether the w×h rectangle at (x, y) is in bounds and every
// covered cell is empty or owned by ignoreID. Pass Empty to ignore nothing.
func (b *Board) CanPlace(x, y, w, h, ignoreID int) bool {
	if !b.InBounds(x, y, w, h) {
		return false
	}
	for cy := y; cy < y+h; cy++ {
		row := cy * b.width
		for cx := x; cx < x+w; cx++ {
			owner := b.cells[row+cx]
			if owner != Empty && (ignoreID == Empty || owner != ignoreID) {
				return false
			}
		}
	}
	return true
}

// Paint stamps id over the rectangle. Callers check CanPlace first.
func (b *Board) Paint(id, x, y, w, h int) {
	for cy := max(y, 0); cy < min(y+h, b.height); cy++ {
		row := cy * b.width
		for cx := max(x, 0); cx < min(x+w, b.width); cx++ {
			b.cells[row+cx] = id
		}
	}
}

// Clear empties the cells of the rectangle that id owns.
func (b *Board) Clear(id, x, y, w, h int) {
	for cy := max(y, 0); cy < min(y+h, b.height); cy++ {
		row := cy * b.width
		for cx := max(x, 0); cx < min(x+w, b.width); cx++ {
			if b.cells[row+cx] == id {
				b.cells[row+cx] = Empty
			}
		}
	}
}

// Occupied returns the number of non-empty cells.
func (b *Board) Occupied() int {
	n := 0
	for _, c := range b.cells {
		if c != Empty {
			n++
		}
	}
	return n
}

// Rows returns a copy of the board as [y][x].
func (b *Board) Rows() [][]int {
	rows := make([][]int, b.height)
	for y := range rows {
		rows[y] = make([]int, b.width)
		copy(rows[y], b.cells[y*b.width:(y+1)*b.width])
	}
	return rows
}

// Clone returns an independent copy.
func (b *Board) Clone() *Board {
	cp := &Board{width: b.width, height: b.height, cells: make([]int, len(b.cells))}
	copy(cp.cells, b.cells)
	return cp
}

// Equal reports whether two boards have identical contents.
func (b *Board) Equal(other *Board) bool {
	if other == nil || b.width != other.width || b.height != other.height {
		return false
	}
	for i := range b.cells {
		if b.cells[i] != other.cells[i] {
			return false
		}
	}
	return true
}

func (b *Board) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.width && y < b.height
}
