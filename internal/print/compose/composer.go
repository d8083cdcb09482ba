// Package compose lays out photo-book pages and the cover onto print-ready canvases with
// bleed, trim, and safe-zone geometry, and emits the assembled binary document. Slot
// templates are fixed per layout type; composition is deterministic, so identical jobs
// yield byte-identical documents.
package compose

import (
	"fmt"
	"sort"

	"github.com/pagecraft/api/internal/domain"
)

// LayoutError reports malformed page or cover input. It is not retryable; the caller
// must fix the job. PageOrder is the offending page's order index, or -1 when the error
// concerns the cover or the product spec.
type LayoutError struct {
	PageOrder int
	Target    string
	Reason    string
}

func (e *LayoutError) Error() string {
	if e.PageOrder >= 0 {
		return fmt.Sprintf("compose: page %d: %s", e.PageOrder, e.Reason)
	}
	return fmt.Sprintf("compose: %s: %s", e.Target, e.Reason)
}

// PlacedSlot is an image slot resolved onto the canvas. Frame is in inches relative to
// the canvas bleed box; WidthPx/HeightPx are the source asset's pixel dimensions and are
// what the quality gate divides by the physical frame to obtain effective DPI.
type PlacedSlot struct {
	AssetID   string
	Frame     Rect
	FullBleed bool
	WidthPx   int
	HeightPx  int
}

// TextBlock is a resolved text area on the canvas.
type TextBlock struct {
	Text   string
	Frame  Rect
	FontPt float64
}

// PageArtifact is the per-page metadata consumed by the quality gate alongside the
// binary document.
type PageArtifact struct {
	Order      int
	Target     string
	Layout     domain.LayoutType
	CanvasW    float64
	CanvasH    float64
	TrimBox    Rect
	SafeBox    Rect
	Slots      []PlacedSlot
	Text       *TextBlock
	ProfileTag string
}

// CoverArtifact is the composed cover spread: back face, spine, front face, each offset
// by half the spine width from the spread's horizontal centre.
type CoverArtifact struct {
	SpineWidthIn float64
	CanvasW      float64
	CanvasH      float64
	Back         PageArtifact
	Front        PageArtifact
	SpineText    *TextBlock
	SpineBox     Rect
}

// Geometry captures the physical page parameters applied during composition.
type Geometry struct {
	TrimW   float64
	TrimH   float64
	BleedIn float64
	SafeIn  float64
}

// Document is the composed print artifact: resolved geometry and placements plus the
// working asset set, and the encoded binary once Finalize has run.
type Document struct {
	Geometry Geometry
	Pages    []PageArtifact
	Cover    CoverArtifact
	Assets   map[string]domain.RasterImage
	Data     []byte
}

// Clone deep-copies the document so that auto-fix passes can work on a private copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Geometry: d.Geometry,
		Cover:    d.Cover,
	}
	out.Pages = make([]PageArtifact, len(d.Pages))
	for i, page := range d.Pages {
		out.Pages[i] = clonePageArtifact(page)
	}
	out.Cover.Back = clonePageArtifact(d.Cover.Back)
	out.Cover.Front = clonePageArtifact(d.Cover.Front)
	if d.Cover.SpineText != nil {
		spine := *d.Cover.SpineText
		out.Cover.SpineText = &spine
	}
	if d.Assets != nil {
		out.Assets = make(map[string]domain.RasterImage, len(d.Assets))
		for id, asset := range d.Assets {
			out.Assets[id] = asset.Clone()
		}
	}
	if d.Data != nil {
		out.Data = append([]byte(nil), d.Data...)
	}
	return out
}

func clonePageArtifact(page PageArtifact) PageArtifact {
	out := page
	out.Slots = append([]PlacedSlot(nil), page.Slots...)
	if page.Text != nil {
		text := *page.Text
		out.Text = &text
	}
	return out
}

// Composer maps jobs onto print canvases.
type Composer struct{}

// NewComposer constructs a Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Compose validates the job's pages and cover against their slot templates and resolves
// every placement onto the canvas. The returned document carries no binary data yet;
// Finalize attaches the (color-converted) asset set and encodes it.
func (c *Composer) Compose(job domain.PrintJob) (*Document, error) {
	dims, ok := domain.LookupDimensions(job.Spec.Dimensions)
	if !ok {
		return nil, &LayoutError{PageOrder: -1, Target: "spec", Reason: fmt.Sprintf("unknown dimensions %q", job.Spec.Dimensions)}
	}
	if len(job.Pages) == 0 {
		return nil, &LayoutError{PageOrder: -1, Target: "spec", Reason: "page list is empty"}
	}
	if job.Spec.PageCount != len(job.Pages) {
		return nil, &LayoutError{
			PageOrder: -1,
			Target:    "spec",
			Reason:    fmt.Sprintf("page count %d disagrees with %d supplied pages", job.Spec.PageCount, len(job.Pages)),
		}
	}

	pages := append([]domain.Page(nil), job.Pages...)
	sort.Slice(pages, func(i, j int) bool { return pages[i].Order < pages[j].Order })
	for i, page := range pages {
		if page.Order != i {
			return nil, &LayoutError{
				PageOrder: page.Order,
				Target:    fmt.Sprintf("page:%d", page.Order),
				Reason:    fmt.Sprintf("order indices must be contiguous from 0; found %d at position %d", page.Order, i),
			}
		}
	}

	geometry := Geometry{TrimW: dims.WidthIn, TrimH: dims.HeightIn, BleedIn: BleedIn, SafeIn: SafeZoneIn}
	doc := &Document{Geometry: geometry}

	for _, page := range pages {
		artifact, err := c.composePage(page, job)
		if err != nil {
			return nil, err
		}
		doc.Pages = append(doc.Pages, artifact)
	}

	cover, err := c.composeCover(job, geometry)
	if err != nil {
		return nil, err
	}
	doc.Cover = cover

	return doc, nil
}

// Finalize attaches the converted asset set and encodes the binary document. Every
// placed asset must carry the job's profile tag stamp by the time the document is
// finalized; the quality gate verifies the tags, so Finalize only records them.
func (d *Document) Finalize(assets map[string]domain.RasterImage, profileTag string) error {
	d.Assets = make(map[string]domain.RasterImage, len(assets))
	for id, asset := range assets {
		d.Assets[id] = asset
	}
	for i := range d.Pages {
		d.Pages[i].ProfileTag = profileTag
	}
	d.Cover.Back.ProfileTag = profileTag
	d.Cover.Front.ProfileTag = profileTag

	data, err := d.Encode()
	if err != nil {
		return err
	}
	d.Data = data
	return nil
}

func (c *Composer) composePage(page domain.Page, job domain.PrintJob) (PageArtifact, error) {
	tpl, ok := pageTemplates[page.Layout]
	if !ok {
		return PageArtifact{}, &LayoutError{
			PageOrder: page.Order,
			Target:    fmt.Sprintf("page:%d", page.Order),
			Reason:    fmt.Sprintf("unknown layout type %q", page.Layout),
		}
	}
	if len(page.PhotoRefs) != len(tpl.slots) {
		return PageArtifact{}, &LayoutError{
			PageOrder: page.Order,
			Target:    fmt.Sprintf("page:%d", page.Order),
			Reason:    fmt.Sprintf("layout %q expects %d photos, got %d", page.Layout, len(tpl.slots), len(page.PhotoRefs)),
		}
	}

	dims, _ := domain.LookupDimensions(job.Spec.Dimensions)
	canvasW := dims.WidthIn + 2*BleedIn
	canvasH := dims.HeightIn + 2*BleedIn
	bleedBox := Rect{X: 0, Y: 0, W: canvasW, H: canvasH}
	trimBox := Rect{X: BleedIn, Y: BleedIn, W: dims.WidthIn, H: dims.HeightIn}
	safeBox := Rect{
		X: trimBox.X + SafeZoneIn,
		Y: trimBox.Y + SafeZoneIn,
		W: trimBox.W - 2*SafeZoneIn,
		H: trimBox.H - 2*SafeZoneIn,
	}

	artifact := PageArtifact{
		Order:   page.Order,
		Target:  fmt.Sprintf("page:%d", page.Order),
		Layout:  page.Layout,
		CanvasW: canvasW,
		CanvasH: canvasH,
		TrimBox: trimBox,
		SafeBox: safeBox,
	}

	for i, ref := range page.PhotoRefs {
		asset, ok := job.Assets[ref]
		if !ok {
			return PageArtifact{}, &LayoutError{
				PageOrder: page.Order,
				Target:    fmt.Sprintf("page:%d", page.Order),
				Reason:    fmt.Sprintf("photo reference %q has no raster asset", ref),
			}
		}
		artifact.Slots = append(artifact.Slots, PlacedSlot{
			AssetID:   ref,
			Frame:     tpl.slots[i].resolve(trimBox, bleedBox),
			FullBleed: tpl.slots[i].fullBleed,
			WidthPx:   asset.Width,
			HeightPx:  asset.Height,
		})
	}

	if tpl.text != nil && page.Text != "" {
		artifact.Text = &TextBlock{
			Text:   page.Text,
			Frame:  tpl.text.resolve(trimBox, bleedBox),
			FontPt: tpl.text.fontPt,
		}
	}

	return artifact, nil
}

// composeCover builds the cover spread. The spread is back face, spine, front face laid
// out left to right; the faces sit half the spine width off the horizontal centre.
func (c *Composer) composeCover(job domain.PrintJob, geo Geometry) (CoverArtifact, error) {
	spine := domain.SpineWidth(job.Spec)
	canvasW := 2*geo.TrimW + spine + 2*BleedIn
	canvasH := geo.TrimH + 2*BleedIn

	cover := CoverArtifact{
		SpineWidthIn: spine,
		CanvasW:      canvasW,
		CanvasH:      canvasH,
		SpineBox: Rect{
			X: BleedIn + geo.TrimW,
			Y: BleedIn,
			W: spine,
			H: geo.TrimH,
		},
	}

	back, err := c.composeCoverFace(job, geo, job.Cover.Back, domain.TargetCoverBack, Rect{
		X: 0, Y: 0, W: BleedIn + geo.TrimW, H: canvasH,
	}, Rect{X: BleedIn, Y: BleedIn, W: geo.TrimW, H: geo.TrimH})
	if err != nil {
		return CoverArtifact{}, err
	}
	cover.Back = back

	frontX := BleedIn + geo.TrimW + spine
	front, err := c.composeCoverFace(job, geo, job.Cover.Front, domain.TargetCoverFront, Rect{
		X: frontX, Y: 0, W: geo.TrimW + BleedIn, H: canvasH,
	}, Rect{X: frontX, Y: BleedIn, W: geo.TrimW, H: geo.TrimH})
	if err != nil {
		return CoverArtifact{}, err
	}
	cover.Front = front

	if job.Cover.SpineText != "" {
		cover.SpineText = &TextBlock{
			Text:   job.Cover.SpineText,
			Frame:  cover.SpineBox,
			FontPt: SpineFontPt,
		}
	}

	return cover, nil
}

func (c *Composer) composeCoverFace(job domain.PrintJob, geo Geometry, face domain.CoverFace, target string, bleedBox, trimBox Rect) (PageArtifact, error) {
	tpl, ok := pageTemplates[face.Layout]
	if !ok {
		return PageArtifact{}, &LayoutError{PageOrder: -1, Target: target, Reason: fmt.Sprintf("unknown layout type %q", face.Layout)}
	}
	if len(face.PhotoRefs) != len(tpl.slots) {
		return PageArtifact{}, &LayoutError{
			PageOrder: -1,
			Target:    target,
			Reason:    fmt.Sprintf("layout %q expects %d photos, got %d", face.Layout, len(tpl.slots), len(face.PhotoRefs)),
		}
	}

	artifact := PageArtifact{
		Order:   -1,
		Target:  target,
		Layout:  face.Layout,
		CanvasW: bleedBox.W,
		CanvasH: bleedBox.H,
		TrimBox: trimBox,
		SafeBox: Rect{
			X: trimBox.X + SafeZoneIn,
			Y: trimBox.Y + SafeZoneIn,
			W: trimBox.W - 2*SafeZoneIn,
			H: trimBox.H - 2*SafeZoneIn,
		},
	}

	for i, ref := range face.PhotoRefs {
		asset, ok := job.Assets[ref]
		if !ok {
			return PageArtifact{}, &LayoutError{
				PageOrder: -1,
				Target:    target,
				Reason:    fmt.Sprintf("photo reference %q has no raster asset", ref),
			}
		}
		artifact.Slots = append(artifact.Slots, PlacedSlot{
			AssetID:   ref,
			Frame:     tpl.slots[i].resolve(trimBox, bleedBox),
			FullBleed: tpl.slots[i].fullBleed,
			WidthPx:   asset.Width,
			HeightPx:  asset.Height,
		})
	}

	if tpl.text != nil && face.Text != "" {
		artifact.Text = &TextBlock{
			Text:   face.Text,
			Frame:  tpl.text.resolve(trimBox, bleedBox),
			FontPt: tpl.text.fontPt,
		}
	}

	return artifact, nil
}
