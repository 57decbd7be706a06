package geometry

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyMask  = errors.New("mask has no cells")
	ErrRaggedMask = errors.New("mask rows have different lengths")
	ErrMaskSymbol = errors.New("mask contains an unknown symbol")
)

// Mask is a read-only grid of buildable cells, usually at a finer resolution
// than the tile grid. A nil *Mask allows everything.
type Mask struct {
	width  int
	height int
	cells  []bool
}

// NewMask builds a mask from row-major cells.
func NewMask(width, height int, cells []bool) (*Mask, error) {
	if width <= 0 || height <= 0 || len(cells) != width*height {
		return nil, ErrEmptyMask
	}
	cp := make([]bool, len(cells))
	copy(cp, cells)
	return &Mask{width: width, height: height, cells: cp}, nil
}

// Width returns the number of mask columns.
func (m *Mask) Width() int {
	if m == nil {
		return 0
	}
	return m.width
}

// Height returns the number of mask rows.
func (m *Mask) Height() int {
	if m == nil {
		return 0
	}
	return m.height
}

// Allowed reports whether mask cell (cx, cy) is buildable. Out-of-range
// cells are not buildable; a nil mask allows everything.
func (m *Mask) Allowed(cx, cy int) bool {
	if m == nil {
		return true
	}
	if cx < 0 || cy < 0 || cx >= m.width || cy >= m.height {
		return false
	}
	return m.cells[cy*m.width+cx]
}

// TileAllowed reports whether tile (tx, ty) of a gridW×gridH grid lands on a
// buildable mask cell.
func (m *Mask) TileAllowed(tx, ty, gridW, gridH int) bool {
	if m == nil {
		return true
	}
	cx, cy := MapToAllowedCell(tx, ty, gridW, gridH, m.width, m.height)
	return m.Allowed(cx, cy)
}

// FootprintAllowed reports whether every tile of the w×h rectangle at (x, y)
// is buildable.
func (m *Mask) FootprintAllowed(x, y, w, h, gridW, gridH int) bool {
	if m == nil {
		return true
	}
	for ty := y; ty < y+h; ty++ {
		for tx := x; tx < x+w; tx++ {
			if !m.TileAllowed(tx, ty, gridW, gridH) {
				return false
			}
		}
	}
	return true
}

// LoadMask reads a mask from disk. PNG files mark bright opaque pixels as
// buildable; any other extension is parsed as a text grid.
func LoadMask(path string) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mask %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".png") {
		img, err := png.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode mask %s: %w", path, err)
		}
		return MaskFromImage(img)
	}
	return ParseTextMask(f)
}

// MaskFromImage treats pixels with alpha and luminance at or above half as
// buildable.
func MaskFromImage(img image.Image) (*Mask, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cells := make([]bool, 0, w*h)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			lum := (299*r + 587*g + 114*bl) / 1000
			cells = append(cells, a >= 0x8000 && lum >= 0x8000)
		}
	}
	return NewMask(w, h, cells)
}

// ParseTextMask reads one row per line: '1' or '#' is buildable, '0' or '.'
// is blocked. Blank lines are skipped.
func ParseTextMask(r io.Reader) (*Mask, error) {
	var (
		cells []bool
		width int
		rows  int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if width == 0 {
			width = len(line)
		} else if len(line) != width {
			return nil, ErrRaggedMask
		}
		for _, ch := range line {
			switch ch {
			case '1', '#':
				cells = append(cells, true)
			case '0', '.':
				cells = append(cells, false)
			default:
				return nil, fmt.Errorf("%w: %q", ErrMaskSymbol, ch)
			}
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mask: %w", err)
	}
	return NewMask(width, rows, cells)
}
