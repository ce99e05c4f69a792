// Package stamp places a scannable per-copy mark in the bottom-right corner
// of a document's last page.
package stamp

import "math"

const (
	// MinInsetMM keeps the mark clear of the trim edge.
	MinInsetMM = 2.0

	pointsPerMM = 72.0 / 25.4
)

// Box is an axis-aligned rectangle in unrotated page space, in points.
type Box struct {
	X, Y, W, H float64
}

func (b Box) valid() bool {
	return b.W > 0 && b.H > 0 && !math.IsNaN(b.W) && !math.IsNaN(b.H)
}

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	const eps = 1e-9
	return o.X >= b.X-eps && o.Y >= b.Y-eps &&
		o.X+o.W <= b.X+b.W+eps && o.Y+o.H <= b.Y+b.H+eps
}

// Boundaries holds whichever page boxes a page declares. PageW and PageH are
// the nominal page dimensions used when no box is declared at all.
type Boundaries struct {
	Trim, Crop, Bleed, Art, Media *Box
	PageW, PageH                  float64
}

// Placement is where the code's lower-left corner goes in unrotated page
// space, and the rotation to draw it at.
type Placement struct {
	X, Y   float64
	Rotate int
}

// PickVisibleBox returns the first declared box in trim, crop, bleed, art,
// media order, falling back to the full page.
func PickVisibleBox(b Boundaries) Box {
	for _, box := range []*Box{b.Trim, b.Crop, b.Bleed, b.Art, b.Media} {
		if box != nil && box.valid() {
			return *box
		}
	}
	return Box{W: b.PageW, H: b.PageH}
}

// NormalizeRotation maps any angle onto 0, 90, 180 or 270. Angles that are
// not a multiple of 90 map to 0.
func NormalizeRotation(deg int) int {
	r := ((deg % 360) + 360) % 360
	if r%90 != 0 {
		return 0
	}
	return r
}

func MMToPt(mm float64) float64 {
	return mm * pointsPerMM
}

// InsetPt converts an inset to points, applying the MinInsetMM floor.
func InsetPt(mm float64) float64 {
	return MMToPt(math.Max(mm, MinInsetMM))
}

// PlaceMark positions a size x size mark inset from the edges of box so that
// it shows in the viewer's bottom-right corner once the page rotation is
// applied.
func PlaceMark(box Box, rotation int, size, inset float64) Placement {
	rot := NormalizeRotation(rotation)
	p := Placement{Rotate: rot}
	switch rot {
	case 90, 180:
		p.X = box.X + inset
		p.Y = box.Y + box.H - size - inset
	default:
		p.X = box.X + box.W - size - inset
		p.Y = box.Y + inset
	}
	return p
}

// Upright maps the lower-left corner of an edge x edge square at (x, y) in
// unrotated page space into the frame a viewer shows once rotation is
// applied to a pageW x pageH page. The square stays axis-aligned.
func Upright(x, y, edge float64, rotation int, pageW, pageH float64) (float64, float64) {
	switch NormalizeRotation(rotation) {
	case 90:
		return y, pageW - x - edge
	case 180:
		return pageW - x - edge, pageH - y - edge
	case 270:
		return pageH - y - edge, x
	}
	return x, y
}
