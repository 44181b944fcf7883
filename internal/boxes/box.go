// Package boxes implements the integer bounding-box geometry shared by
// every detection and redaction coordinate in the pipeline.
package boxes

import (
	"encoding/json"
	"fmt"
)

// BoundingBox is an axis-aligned integer rectangle. The invariant
// 0 <= X1 < X2 and 0 <= Y1 < Y2 is enforced at construction time; every
// other operation on a BoundingBox assumes it already holds.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// New validates coordinates and returns a BoundingBox, or an error
// describing which invariant failed.
func New(x1, y1, x2, y2 int) (BoundingBox, error) {
	b := BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// Validate reports whether the box satisfies 0 <= x1 < x2, 0 <= y1 < y2.
func (b BoundingBox) Validate() error {
	if b.X1 < 0 || b.Y1 < 0 {
		return fmt.Errorf("boxes: negative coordinate in %+v", b)
	}
	if b.X1 >= b.X2 || b.Y1 >= b.Y2 {
		return fmt.Errorf("boxes: degenerate box %+v", b)
	}
	return nil
}

// Width returns x2 - x1.
func (b BoundingBox) Width() int { return b.X2 - b.X1 }

// Height returns y2 - y1.
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Area returns width * height.
func (b BoundingBox) Area() int { return b.Width() * b.Height() }

// Center returns the integer-truncated center point.
func (b BoundingBox) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// IoU returns the intersection-over-union ratio of b and other, in [0,1].
func (b BoundingBox) IoU(other BoundingBox) float64 {
	ix1, iy1 := max(b.X1, other.X1), max(b.Y1, other.Y1)
	ix2, iy2 := min(b.X2, other.X2), min(b.Y2, other.Y2)
	if ix1 >= ix2 || iy1 >= iy2 {
		return 0
	}
	intersection := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + other.Area() - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Union returns the smallest box containing both b and other.
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	return BoundingBox{
		X1: min(b.X1, other.X1),
		Y1: min(b.Y1, other.Y1),
		X2: max(b.X2, other.X2),
		Y2: max(b.Y2, other.Y2),
	}
}

// Expand grows the box by delta pixels on every side, clamping at zero.
func (b BoundingBox) Expand(delta int) BoundingBox {
	x1, y1 := b.X1-delta, b.Y1-delta
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	return BoundingBox{X1: x1, Y1: y1, X2: b.X2 + delta, Y2: b.Y2 + delta}
}

// Intersects reports whether b and other overlap at all.
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return b.X1 < other.X2 && other.X1 < b.X2 && b.Y1 < other.Y2 && other.Y1 < b.Y2
}

// MarshalJSON serializes the box with its derived fields included, so
// consumers never recompute width/height/area/center.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	cx, cy := b.Center()
	return fmt.Appendf(nil, `{"x1":%d,"y1":%d,"x2":%d,"y2":%d,"width":%d,"height":%d,"area":%d,"center_x":%d,"center_y":%d}`,
		b.X1, b.Y1, b.X2, b.Y2, b.Width(), b.Height(), b.Area(), cx, cy), nil
}

// UnmarshalJSON ignores derived fields and restores only the four corners.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var raw struct {
		X1 int `json:"x1"`
		Y1 int `json:"y1"`
		X2 int `json:"x2"`
		Y2 int `json:"y2"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.X1, b.Y1, b.X2, b.Y2 = raw.X1, raw.Y1, raw.X2, raw.Y2
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
