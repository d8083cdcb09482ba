package compose

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pagecraft/api/internal/domain"
)

const pointsPerInch = 72

// Encode serialises the composed document as a PDF. The output is a pure function of
// the artifacts and asset set: objects are emitted in a fixed order with no timestamps
// or random identifiers, so identical jobs produce byte-identical documents.
func (d *Document) Encode() ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("compose: document is nil")
	}

	sheets := d.renderSheets()

	// Objects: 1 catalog, 2 page tree, 3 font, then per sheet a page object, a content
	// stream, and one image object per slot.
	next := 4
	type sheetObjs struct {
		page    int
		content int
		images  []int
	}
	layout := make([]sheetObjs, len(sheets))
	for i, sheet := range sheets {
		layout[i].page = next
		layout[i].content = next + 1
		next += 2
		for range sheet.slots {
			layout[i].images = append(layout[i].images, next)
			next++
		}
	}
	total := next - 1

	var buf bytes.Buffer
	offsets := make([]int, total+1)
	buf.WriteString("%PDF-1.4\n")

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	writeStream := func(num int, dict string, stream []byte) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dict, len(stream))
		buf.Write(stream)
		buf.WriteString("\nendstream\nendobj\n")
	}

	kids := make([]string, len(sheets))
	for i := range sheets {
		kids[i] = fmt.Sprintf("%d 0 R", layout[i].page)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(sheets)))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, sheet := range sheets {
		var xobjects strings.Builder
		for j := range sheet.slots {
			fmt.Fprintf(&xobjects, "/Im%d %d 0 R ", j, layout[i].images[j])
		}
		writeObj(layout[i].page, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %s %s] /Resources << /Font << /F1 3 0 R >> /XObject << %s>> >> /Contents %d 0 R >>",
			formatPt(sheet.wIn), formatPt(sheet.hIn), xobjects.String(), layout[i].content,
		))

		writeStream(layout[i].content, "", sheet.contentStream())

		for j, slot := range sheet.slots {
			asset, ok := d.Assets[slot.AssetID]
			if !ok {
				return nil, fmt.Errorf("compose: encode: no asset attached for %q", slot.AssetID)
			}
			dict, err := imageDict(asset)
			if err != nil {
				return nil, err
			}
			writeStream(layout[i].images[j], dict, asset.Pixels)
		}
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", total+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= total; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total+1, xrefOffset)

	return buf.Bytes(), nil
}

// renderSheet is a flattened printable canvas: the cover spread first, then each page.
type renderSheet struct {
	wIn   float64
	hIn   float64
	slots []PlacedSlot
	texts []TextBlock
}

func (d *Document) renderSheets() []renderSheet {
	cover := renderSheet{wIn: d.Cover.CanvasW, hIn: d.Cover.CanvasH}
	cover.slots = append(cover.slots, d.Cover.Back.Slots...)
	cover.slots = append(cover.slots, d.Cover.Front.Slots...)
	if d.Cover.Back.Text != nil {
		cover.texts = append(cover.texts, *d.Cover.Back.Text)
	}
	if d.Cover.Front.Text != nil {
		cover.texts = append(cover.texts, *d.Cover.Front.Text)
	}
	if d.Cover.SpineText != nil {
		cover.texts = append(cover.texts, *d.Cover.SpineText)
	}

	sheets := []renderSheet{cover}
	for _, page := range d.Pages {
		sheet := renderSheet{wIn: page.CanvasW, hIn: page.CanvasH, slots: page.Slots}
		if page.Text != nil {
			sheet.texts = append(sheet.texts, *page.Text)
		}
		sheets = append(sheets, sheet)
	}
	return sheets
}

// contentStream emits the drawing operators for one sheet. Frames use a top-left origin
// in inches; PDF user space has a bottom-left origin in points.
func (s renderSheet) contentStream() []byte {
	var ops strings.Builder
	for i, slot := range s.slots {
		x := slot.Frame.X * pointsPerInch
		y := (s.hIn - slot.Frame.Y - slot.Frame.H) * pointsPerInch
		fmt.Fprintf(&ops, "q %s 0 0 %s %s %s cm /Im%d Do Q\n",
			formatPt(slot.Frame.W), formatPt(slot.Frame.H), formatNum(x), formatNum(y), i)
	}
	for _, text := range s.texts {
		x := text.Frame.X * pointsPerInch
		y := (s.hIn-text.Frame.Y)*pointsPerInch - text.FontPt
		fmt.Fprintf(&ops, "BT /F1 %s Tf %s %s Td (%s) Tj ET\n",
			formatNum(text.FontPt), formatNum(x), formatNum(y), escapePDFText(text.Text))
	}
	return []byte(ops.String())
}

func imageDict(asset domain.RasterImage) (string, error) {
	var space string
	var channels int
	switch asset.Space {
	case domain.SpaceRGB:
		space, channels = "/DeviceRGB", 3
	case domain.SpaceCMYK:
		space, channels = "/DeviceCMYK", 4
	default:
		return "", fmt.Errorf("compose: encode: asset %q has unsupported space %q", asset.ID, asset.Space)
	}
	if len(asset.Pixels) != asset.Width*asset.Height*channels {
		return "", fmt.Errorf("compose: encode: asset %q pixel buffer does not match %dx%d %s",
			asset.ID, asset.Width, asset.Height, asset.Space)
	}
	return fmt.Sprintf(
		"/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace %s /BitsPerComponent 8",
		asset.Width, asset.Height, space,
	), nil
}

func escapePDFText(text string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)", "\n", "\\n", "\r", "\\r")
	return replacer.Replace(text)
}

// formatPt renders an inch measure in points with fixed precision so output stays
// deterministic across platforms.
func formatPt(inches float64) string {
	return formatNum(inches * pointsPerInch)
}

func formatNum(value float64) string {
	out := fmt.Sprintf("%.4f", value)
	out = strings.TrimRight(out, "0")
	out = strings.TrimRight(out, ".")
	if out == "" || out == "-" {
		return "0"
	}
	return out
}
