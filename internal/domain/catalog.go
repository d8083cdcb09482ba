package domain

import (
	"sort"
	"strings"
)

// Dimensions is a named physical trim size from the fixed catalog.
type Dimensions struct {
	Key      string
	WidthIn  float64
	HeightIn float64
}

// The catalogs below are fixed, read-only lookup tables. They are safe for unsynchronised
// concurrent reads; nothing in the pipeline mutates them after package init.
var dimensionCatalog = map[string]Dimensions{
	"8x8":   {Key: "8x8", WidthIn: 8, HeightIn: 8},
	"10x10": {Key: "10x10", WidthIn: 10, HeightIn: 10},
	"12x12": {Key: "12x12", WidthIn: 12, HeightIn: 12},
	"8x11":  {Key: "8x11", WidthIn: 8.5, HeightIn: 11},
	"11x8":  {Key: "11x8", WidthIn: 11, HeightIn: 8.5},
}

// paperCaliper maps paper stock to single-sheet thickness in inches.
var paperCaliper = map[PaperType]float64{
	PaperMatte:  0.0045,
	PaperGlossy: 0.0040,
	PaperLuster: 0.0048,
}

// hardcoverBoardAllowance is the extra spine width contributed by case binding boards.
const hardcoverBoardAllowance = 0.08

var colorProfileCatalog = map[string]ColorProfile{
	"FOGRA39":    {Name: "FOGRA39", Space: SpaceCMYK, InkLimit: 3.3},
	"GRACOL2013": {Name: "GRACOL2013", Space: SpaceCMYK, InkLimit: 3.2},
	"SWOP2006":   {Name: "SWOP2006", Space: SpaceCMYK, InkLimit: 3.0},
}

// LookupDimensions resolves a named trim size from the fixed catalog.
func LookupDimensions(key string) (Dimensions, bool) {
	dims, ok := dimensionCatalog[strings.TrimSpace(strings.ToLower(key))]
	return dims, ok
}

// DimensionKeys lists the catalog keys in stable order, for validation messages.
func DimensionKeys() []string {
	keys := make([]string, 0, len(dimensionCatalog))
	for key := range dimensionCatalog {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// LookupColorProfile resolves a named print color profile from the fixed catalog.
func LookupColorProfile(name string) (ColorProfile, bool) {
	profile, ok := colorProfileCatalog[strings.ToUpper(strings.TrimSpace(name))]
	return profile, ok
}

// ColorProfileNames lists the catalog profile names in stable order.
func ColorProfileNames() []string {
	names := make([]string, 0, len(colorProfileCatalog))
	for name := range colorProfileCatalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PaperCaliper returns the sheet thickness in inches for the given stock, defaulting to
// the matte caliper for unknown stocks.
func PaperCaliper(paper PaperType) float64 {
	if caliper, ok := paperCaliper[paper]; ok {
		return caliper
	}
	return paperCaliper[PaperMatte]
}

// SpineWidth derives the spine width in inches from page count and paper thickness. Two
// book pages print per sheet; hardcovers add the board allowance.
func SpineWidth(spec ProductSpec) float64 {
	sheets := float64(spec.PageCount) / 2
	width := sheets * PaperCaliper(spec.PaperType)
	if spec.CoverType == CoverHardcover {
		width += hardcoverBoardAllowance
	}
	return width
}
