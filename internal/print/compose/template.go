package compose

import (
	"github.com/pagecraft/api/internal/domain"
)

// Fixed print geometry. Bleed extends beyond the trim line so cutting never leaves a
// white edge; the safe zone is the inset inside which critical content must stay.
const (
	// BleedIn is the bleed margin in inches added to every outer edge.
	BleedIn = 0.125
	// SafeZoneIn is the safe-zone inset in inches from the trim line.
	SafeZoneIn = 0.25
	// BodyFontPt is the point size used for page and cover text blocks.
	BodyFontPt = 14
	// SpineFontPt is the point size used for spine text.
	SpineFontPt = 10
)

// Rect is a rectangle in inches. Page rects use the bleed box origin (top-left of the
// bleed area); cover rects use the spread's bleed box origin.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Contains reports whether the inner rect lies entirely within r.
func (r Rect) Contains(inner Rect) bool {
	return inner.X >= r.X && inner.Y >= r.Y &&
		inner.X+inner.W <= r.X+r.W && inner.Y+inner.H <= r.Y+r.H
}

// Intersects reports whether the two rects overlap with positive area.
func (r Rect) Intersects(other Rect) bool {
	return r.X < other.X+other.W && other.X < r.X+r.W &&
		r.Y < other.Y+other.H && other.Y < r.Y+r.H
}

// slotFrac positions an image slot as fractions of the trim box. FullBleed slots ignore
// the fractions and cover the entire bleed box.
type slotFrac struct {
	x, y, w, h float64
	fullBleed  bool
}

// textFrac positions a text block as fractions of the trim box.
type textFrac struct {
	x, y, w, h float64
	fontPt     float64
	fullBleed  bool
}

type slotTemplate struct {
	slots []slotFrac
	text  *textFrac
}

// pageTemplates maps each layout type to its fixed slot template. Slot counts here are
// the single source of truth for photo-reference validation.
var pageTemplates = map[domain.LayoutType]slotTemplate{
	domain.LayoutHero: {
		slots: []slotFrac{{fullBleed: true}},
	},
	domain.LayoutDuo: {
		slots: []slotFrac{
			{x: 0.06, y: 0.15, w: 0.42, h: 0.70},
			{x: 0.52, y: 0.15, w: 0.42, h: 0.70},
		},
	},
	domain.LayoutGrid: {
		slots: []slotFrac{
			{x: 0.06, y: 0.06, w: 0.42, h: 0.42},
			{x: 0.52, y: 0.06, w: 0.42, h: 0.42},
			{x: 0.06, y: 0.52, w: 0.42, h: 0.42},
			{x: 0.52, y: 0.52, w: 0.42, h: 0.42},
		},
	},
	domain.LayoutCollage: {
		slots: []slotFrac{
			{x: 0.04, y: 0.04, w: 0.44, h: 0.34},
			{x: 0.52, y: 0.04, w: 0.44, h: 0.28},
			{x: 0.04, y: 0.42, w: 0.28, h: 0.30},
			{x: 0.36, y: 0.36, w: 0.60, h: 0.36},
			{x: 0.04, y: 0.76, w: 0.44, h: 0.20},
			{x: 0.52, y: 0.76, w: 0.44, h: 0.20},
		},
	},
	domain.LayoutQuote: {
		text: &textFrac{x: 0.15, y: 0.35, w: 0.70, h: 0.30, fontPt: BodyFontPt},
	},
	domain.LayoutDivider: {
		text: &textFrac{fullBleed: true, fontPt: BodyFontPt},
	},
}

// SlotCount returns the fixed image-slot count for a layout type.
func SlotCount(layout domain.LayoutType) (int, bool) {
	tpl, ok := pageTemplates[layout]
	if !ok {
		return 0, false
	}
	return len(tpl.slots), true
}

// resolve converts a fractional slot into inches on a canvas whose trim box has the
// given origin and size. Full-bleed slots expand to cover the supplied bleed box.
func (s slotFrac) resolve(trim Rect, bleedBox Rect) Rect {
	if s.fullBleed {
		return bleedBox
	}
	return Rect{
		X: trim.X + s.x*trim.W,
		Y: trim.Y + s.y*trim.H,
		W: s.w * trim.W,
		H: s.h * trim.H,
	}
}

func (t textFrac) resolve(trim Rect, bleedBox Rect) Rect {
	if t.fullBleed {
		return bleedBox
	}
	return Rect{
		X: trim.X + t.x*trim.W,
		Y: trim.Y + t.y*trim.H,
		W: t.w * trim.W,
		H: t.h * trim.H,
	}
}

// EstimateTextWidth approximates the rendered width in inches of a single line of text
// at the given point size, using the mean glyph advance of the built-in face.
func EstimateTextWidth(text string, fontPt float64) float64 {
	runes := 0
	for range text {
		runes++
	}
	return float64(runes) * fontPt * 0.6 / 72
}
