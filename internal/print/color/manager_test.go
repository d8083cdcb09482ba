package color

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pagecraft/api/internal/domain"
)

var fogra = domain.ColorProfile{Name: "FOGRA39", Space: domain.SpaceCMYK, InkLimit: 3.3}

func rgbAsset(id string, pixels []byte) domain.RasterImage {
	return domain.RasterImage{
		ID:     id,
		Width:  len(pixels) / 3,
		Height: 1,
		Space:  domain.SpaceRGB,
		Pixels: pixels,
	}
}

func TestConvertProducesCMYK(t *testing.T) {
	asset := rgbAsset("a1", []byte{255, 255, 255, 0, 0, 0})

	result, err := NewManager().Convert(asset, fogra)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}

	img := result.Image
	if img.Space != domain.SpaceCMYK {
		t.Errorf("expected cmyk output, got %s", img.Space)
	}
	if img.ProfileTag != "FOGRA39" {
		t.Errorf("expected profile tag, got %q", img.ProfileTag)
	}
	if len(img.Pixels) != 2*4 {
		t.Fatalf("expected 4 channels per pixel, got %d bytes", len(img.Pixels))
	}

	// White carries no ink; black is pure key.
	if !bytes.Equal(img.Pixels[:4], []byte{0, 0, 0, 0}) {
		t.Errorf("white pixel converted to %v", img.Pixels[:4])
	}
	if !bytes.Equal(img.Pixels[4:], []byte{0, 0, 0, 255}) {
		t.Errorf("black pixel converted to %v", img.Pixels[4:])
	}
	if result.ClippedPixels != 0 {
		t.Errorf("expected no clipping, got %d", result.ClippedPixels)
	}
}

func TestConvertDoesNotMutateInput(t *testing.T) {
	pixels := []byte{10, 200, 30}
	asset := rgbAsset("a1", pixels)

	if _, err := NewManager().Convert(asset, fogra); err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}

	if !bytes.Equal(pixels, []byte{10, 200, 30}) {
		t.Error("source pixels were mutated")
	}
	if asset.Space != domain.SpaceRGB || asset.ProfileTag != "" {
		t.Errorf("source asset was mutated: %+v", asset)
	}
}

func TestConvertAlreadyTaggedIsNoOp(t *testing.T) {
	asset := rgbAsset("a1", []byte{1, 2, 3})
	converted, err := NewManager().Convert(asset, fogra)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}

	again, err := NewManager().Convert(converted.Image, fogra)
	if err != nil {
		t.Fatalf("second Convert returned error: %v", err)
	}
	if !bytes.Equal(again.Image.Pixels, converted.Image.Pixels) {
		t.Error("re-converting a tagged asset must not change pixels")
	}
	if again.ClippedPixels != 0 {
		t.Errorf("no-op conversion reported clipping: %d", again.ClippedPixels)
	}
}

func TestConvertClipsInkLimit(t *testing.T) {
	// Saturated red needs m+y at full coverage; a tight limit forces clipping.
	tight := domain.ColorProfile{Name: "TIGHT", Space: domain.SpaceCMYK, InkLimit: 1.0}
	asset := rgbAsset("a1", []byte{255, 0, 0})

	result, err := NewManager().Convert(asset, tight)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if result.ClippedPixels != 1 {
		t.Fatalf("expected 1 clipped pixel, got %d", result.ClippedPixels)
	}

	total := 0
	for _, ch := range result.Image.Pixels {
		total += int(ch)
	}
	if float64(total)/255 > 1.0+0.01 {
		t.Errorf("total ink %f exceeds limit", float64(total)/255)
	}
}

func TestConvertDeterministic(t *testing.T) {
	pixels := []byte{12, 90, 240, 3, 250, 77}
	first, err := NewManager().Convert(rgbAsset("a1", pixels), fogra)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	second, err := NewManager().Convert(rgbAsset("a1", append([]byte(nil), pixels...)), fogra)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !bytes.Equal(first.Image.Pixels, second.Image.Pixels) {
		t.Error("conversion must be deterministic for identical inputs")
	}
}

func TestConvertRejectsUnsupportedSpace(t *testing.T) {
	asset := domain.RasterImage{
		ID:     "bad",
		Width:  1,
		Height: 1,
		Space:  domain.SpaceCMYK,
		Pixels: []byte{0, 0, 0, 0},
	}

	_, err := NewManager().Convert(asset, fogra)
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if convErr.AssetID != "bad" {
		t.Errorf("unexpected asset id %s", convErr.AssetID)
	}
}

func TestConvertRejectsTruncatedBuffer(t *testing.T) {
	asset := domain.RasterImage{
		ID:     "short",
		Width:  2,
		Height: 2,
		Space:  domain.SpaceRGB,
		Pixels: []byte{1, 2, 3},
	}

	if _, err := NewManager().Convert(asset, fogra); err == nil {
		t.Fatal("expected error for truncated pixel buffer")
	}
}
