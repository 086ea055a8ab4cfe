package objectdetection

import (
	"fmt"
	"image"
	"math"
)

// Box is an axis-aligned rectangle in center form. The zero value is an empty box at the origin.
type Box struct {
	xc, yc, w, h float64
}

// NewBox returns the box centered at (xc, yc) with the given width and height.
func NewBox(xc, yc, w, h float64) Box {
	return Box{xc: xc, yc: yc, w: w, h: h}
}

// FromRaw converts the four raw network fields (center x, center y, width, height) into a Box.
// Negative widths and heights are kept as given.
func FromRaw(raw [4]float64) Box {
	return Box{xc: raw[0], yc: raw[1], w: raw[2], h: raw[3]}
}

// FromCorners returns the box spanning (x0, y0) to (x1, y1).
func FromCorners(x0, y0, x1, y1 float64) Box {
	return Box{xc: (x0 + x1) / 2, yc: (y0 + y1) / 2, w: x1 - x0, h: y1 - y0}
}

// Center returns the center of the box.
func (b Box) Center() (float64, float64) { return b.xc, b.yc }

// Width returns the width of the box.
func (b Box) Width() float64 { return b.w }

// Height returns the height of the box.
func (b Box) Height() float64 { return b.h }

// Left returns the x coordinate of the left edge.
func (b Box) Left() float64 { return b.xc - b.w/2 }

// Right returns the x coordinate of the right edge.
func (b Box) Right() float64 { return b.xc + b.w/2 }

// Top returns the y coordinate of the top edge.
func (b Box) Top() float64 { return b.yc - b.h/2 }

// Bottom returns the y coordinate of the bottom edge.
func (b Box) Bottom() float64 { return b.yc + b.h/2 }

// Area returns w*h.
func (b Box) Area() float64 { return b.w * b.h }

// Rect rounds the box to the enclosing integer rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.Left())),
		int(math.Floor(b.Top())),
		int(math.Ceil(b.Right())),
		int(math.Ceil(b.Bottom())),
	)
}

func (b Box) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f, %.1f)", b.xc, b.yc, b.w, b.h)
}

// IoU returns the area of the intersection of a and b divided by the area of the smallest
// rectangle enclosing both. This is not the classic intersection over union: the denominator is
// the enclosing rectangle, not the union of the two areas. The result is 0 when the boxes do not
// overlap and 1 only when they are identical.
func IoU(a, b Box) float64 {
	interLeft := math.Max(a.Left(), b.Left())
	interTop := math.Max(a.Top(), b.Top())
	interRight := math.Min(a.Right(), b.Right())
	interBottom := math.Min(a.Bottom(), b.Bottom())

	outerLeft := math.Min(a.Left(), b.Left())
	outerTop := math.Min(a.Top(), b.Top())
	outerRight := math.Max(a.Right(), b.Right())
	outerBottom := math.Max(a.Bottom(), b.Bottom())

	interW := interRight - interLeft
	interH := interBottom - interTop
	outerArea := (outerRight - outerLeft) * (outerBottom - outerTop)
	if interW <= 0 || interH <= 0 || outerArea <= 0 {
		return 0
	}
	return interW * interH / outerArea
}
