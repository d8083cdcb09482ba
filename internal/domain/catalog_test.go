package domain

import (
	"math"
	"testing"
)

func TestLookupDimensions(t *testing.T) {
	dims, ok := LookupDimensions("8x8")
	if !ok {
		t.Fatal("expected 8x8 to resolve")
	}
	if dims.WidthIn != 8 || dims.HeightIn != 8 {
		t.Errorf("unexpected dimensions %+v", dims)
	}

	dims, ok = LookupDimensions("  8X11 ")
	if !ok {
		t.Fatal("expected case-insensitive lookup to resolve")
	}
	if dims.WidthIn != 8.5 || dims.HeightIn != 11 {
		t.Errorf("unexpected dimensions %+v", dims)
	}

	if _, ok := LookupDimensions("9x9"); ok {
		t.Error("expected unknown key to miss")
	}
}

func TestDimensionKeysStableOrder(t *testing.T) {
	keys := DimensionKeys()
	if len(keys) != 5 {
		t.Fatalf("expected 5 catalog keys, got %v", keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}

func TestLookupColorProfile(t *testing.T) {
	profile, ok := LookupColorProfile("fogra39")
	if !ok {
		t.Fatal("expected fogra39 to resolve case-insensitively")
	}
	if profile.Space != SpaceCMYK {
		t.Errorf("expected cmyk space, got %s", profile.Space)
	}
	if profile.InkLimit != 3.3 {
		t.Errorf("unexpected ink limit %f", profile.InkLimit)
	}

	if _, ok := LookupColorProfile("ADOBE98"); ok {
		t.Error("expected unknown profile to miss")
	}
}

func TestSpineWidth(t *testing.T) {
	softcover := ProductSpec{PageCount: 40, PaperType: PaperMatte, CoverType: CoverSoftcover}
	want := 20 * 0.0045
	if got := SpineWidth(softcover); math.Abs(got-want) > 1e-9 {
		t.Errorf("softcover spine width = %f, want %f", got, want)
	}

	hardcover := softcover
	hardcover.CoverType = CoverHardcover
	if got := SpineWidth(hardcover); math.Abs(got-(want+0.08)) > 1e-9 {
		t.Errorf("hardcover spine width = %f, want %f", got, want+0.08)
	}

	unknownPaper := ProductSpec{PageCount: 20, PaperType: PaperType("vellum")}
	if got := SpineWidth(unknownPaper); math.Abs(got-10*0.0045) > 1e-9 {
		t.Errorf("unknown paper should fall back to matte caliper, got %f", got)
	}
}

func TestOrderStatusAdvances(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusSubmitted, OrderStatusAccepted, true},
		{OrderStatusSubmitted, OrderStatusDelivered, true},
		{OrderStatusAccepted, OrderStatusSubmitted, false},
		{OrderStatusPrinting, OrderStatusPrinting, true},
		{OrderStatusPrinting, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusFailed, true},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusSubmitted, false},
		{OrderStatus("unknown"), OrderStatusAccepted, false},
	}

	for _, tc := range cases {
		if got := OrderStatusAdvances(tc.from, tc.to); got != tc.want {
			t.Errorf("OrderStatusAdvances(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestQualityReportBlockingCount(t *testing.T) {
	report := QualityReport{Findings: []Finding{
		{Kind: FindingResolution, Severity: SeverityBlocking},
		{Kind: FindingResolution, Severity: SeverityBlocking, AutoFixed: true},
		{Kind: FindingBleed, Severity: SeverityWarning},
		{Kind: FindingGamutClip, Severity: SeverityInfo},
	}}
	if got := report.BlockingCount(); got != 1 {
		t.Errorf("BlockingCount = %d, want 1", got)
	}
}

func TestRasterImageClone(t *testing.T) {
	src := RasterImage{
		ID:              "a1",
		Width:           2,
		Height:          1,
		Space:           SpaceRGB,
		Pixels:          []byte{1, 2, 3, 4, 5, 6},
		CriticalRegions: []Region{{X: 0.1, Y: 0.1, W: 0.5, H: 0.5}},
	}

	clone := src.Clone()
	clone.Pixels[0] = 99
	clone.CriticalRegions[0].X = 0.9

	if src.Pixels[0] != 1 {
		t.Error("clone shares pixel storage with source")
	}
	if src.CriticalRegions[0].X != 0.1 {
		t.Error("clone shares region storage with source")
	}
}
