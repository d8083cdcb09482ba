package domain

import (
	"time"
)

// ProductType identifies the physical product family being produced.
type ProductType string

const (
	// ProductTypePhotoBook is the bound photo-book product line.
	ProductTypePhotoBook ProductType = "photobook"
)

// PaperType enumerates the paper stocks offered by the print catalog.
type PaperType string

const (
	// PaperMatte is the standard matte stock.
	PaperMatte PaperType = "matte"
	// PaperGlossy is the coated glossy stock.
	PaperGlossy PaperType = "glossy"
	// PaperLuster is the semi-gloss luster stock.
	PaperLuster PaperType = "luster"
)

// CoverType enumerates supported cover constructions.
type CoverType string

const (
	// CoverHardcover is a rigid case-bound cover.
	CoverHardcover CoverType = "hardcover"
	// CoverSoftcover is a flexible wrap cover.
	CoverSoftcover CoverType = "softcover"
)

// Binding enumerates supported binding methods.
type Binding string

const (
	// BindingPerfect is standard perfect binding.
	BindingPerfect Binding = "perfect"
	// BindingLayflat is seamless layflat binding.
	BindingLayflat Binding = "layflat"
)

// ProductSpec identifies the physical item a print job produces. It is immutable once a
// job starts; a PageCount that disagrees with the supplied page list is a validation error.
type ProductSpec struct {
	ProductType ProductType
	Variant     string
	Dimensions  string
	PageCount   int
	PaperType   PaperType
	CoverType   CoverType
	Binding     Binding
}

// LayoutType names the slot template applied to a page.
type LayoutType string

const (
	// LayoutHero places a single full-bleed image.
	LayoutHero LayoutType = "hero"
	// LayoutDuo places two images side by side.
	LayoutDuo LayoutType = "duo"
	// LayoutGrid places four images in a 2x2 grid.
	LayoutGrid LayoutType = "grid"
	// LayoutCollage places six freeform images.
	LayoutCollage LayoutType = "collage"
	// LayoutQuote renders a text block with no image slots.
	LayoutQuote LayoutType = "quote"
	// LayoutDivider renders an optional full-bleed text page with no image slots.
	LayoutDivider LayoutType = "divider"
)

// Page is an ordered position in the book. Order indices must be contiguous from zero and
// unique; the composer rejects gaps or duplicates.
type Page struct {
	Order     int
	Layout    LayoutType
	PhotoRefs []string
	Text      string
}

// CoverFace is one printable face of the cover and carries the same geometric constraints
// as a page.
type CoverFace struct {
	Layout    LayoutType
	PhotoRefs []string
	Text      string
}

// Cover holds the front and back faces plus the spine text. Spine width is derived from
// the product spec (page count and paper caliper), never supplied by the caller.
type Cover struct {
	Front     CoverFace
	Back      CoverFace
	SpineText string
}

// ColorSpace names the pixel encoding of a raster asset.
type ColorSpace string

const (
	// SpaceRGB is 8-bit-per-channel RGB, the assumed native space of uploaded photos.
	SpaceRGB ColorSpace = "rgb"
	// SpaceCMYK is 8-bit-per-channel CMYK, the print-side space.
	SpaceCMYK ColorSpace = "cmyk"
)

// Region is a rectangle in normalised image coordinates (fractions of width/height).
// Critical-content regions are produced by the upstream photo analysis service.
type Region struct {
	X float64
	Y float64
	W float64
	H float64
}

// RasterImage is an already-decoded raster asset. Pixels are interleaved channel samples
// in the declared space. Converted copies carry the profile tag of the transform applied;
// an empty tag means the asset is still in its source space.
type RasterImage struct {
	ID              string
	Width           int
	Height          int
	Space           ColorSpace
	Pixels          []byte
	ProfileTag      string
	CriticalRegions []Region
}

// Clone returns a deep copy so that conversions never mutate the caller's asset.
func (img RasterImage) Clone() RasterImage {
	out := img
	if img.Pixels != nil {
		out.Pixels = append([]byte(nil), img.Pixels...)
	}
	if img.CriticalRegions != nil {
		out.CriticalRegions = append([]Region(nil), img.CriticalRegions...)
	}
	return out
}

// ColorProfile describes a target print color space. Profiles are looked up from the fixed
// catalog and never constructed ad hoc.
type ColorProfile struct {
	Name  string
	Space ColorSpace
	// InkLimit caps total ink coverage (sum of CMYK channels, 0..4) for the press
	// condition; source colors exceeding it are clipped to the nearest reproducible value.
	InkLimit float64
}

// PrintJob is the unit of work handed to the production pipeline. Jobs are created per
// request and never persisted by this service.
type PrintJob struct {
	ProjectID     string
	Spec          ProductSpec
	Pages         []Page
	Cover         Cover
	Profile       ColorProfile
	Assets        map[string]RasterImage
	QualityChecks bool
	AutoFix       bool
}

// Severity ranks quality findings.
type Severity string

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"
	// SeverityWarning flags degraded but printable output.
	SeverityWarning Severity = "warning"
	// SeverityBlocking fails the job unless resolved.
	SeverityBlocking Severity = "blocking"
)

// SeverityRank orders severities for deterministic report sorting.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityBlocking:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// FindingKind names the check that produced a finding.
type FindingKind string

const (
	// FindingResolution flags effective print resolution below the minimum DPI.
	FindingResolution FindingKind = "resolution"
	// FindingColorProfile flags assets missing or mismatching the job's profile tag.
	FindingColorProfile FindingKind = "color_profile"
	// FindingSafeZone flags critical content overlapping the safe-zone boundary.
	FindingSafeZone FindingKind = "safe_zone"
	// FindingBleed flags content missing from the bleed margin (white edge after trim).
	FindingBleed FindingKind = "bleed"
	// FindingSpineText flags spine text wider than the computed spine.
	FindingSpineText FindingKind = "spine_text"
	// FindingGamutClip records out-of-gamut source colors clipped during conversion.
	FindingGamutClip FindingKind = "gamut_clip"
)

// Target values identifying the cover faces in a finding. Pages are targeted by order index.
const (
	// TargetCoverFront addresses the front cover face.
	TargetCoverFront = "cover:front"
	// TargetCoverBack addresses the back cover face.
	TargetCoverBack = "cover:back"
	// TargetCoverSpine addresses the spine.
	TargetCoverSpine = "cover:spine"
)

// Finding is a single quality violation discovered during inspection.
type Finding struct {
	Kind      FindingKind
	Severity  Severity
	PageOrder int    // page order index, or -1 for cover targets
	Target    string // "page:N", TargetCoverFront, TargetCoverBack, TargetCoverSpine
	AssetID   string
	Message   string
	AutoFixed bool
}

// Unresolved reports whether the finding still counts against the verdict.
func (f Finding) Unresolved() bool {
	return !f.AutoFixed
}

// Verdict is the overall outcome of a quality inspection.
type Verdict string

const (
	// VerdictPass means no unresolved blocking findings remain.
	VerdictPass Verdict = "pass"
	// VerdictFail means at least one unresolved blocking finding remains.
	VerdictFail Verdict = "fail"
)

// QualityReport is produced fresh per production run and never mutated afterwards.
type QualityReport struct {
	Findings      []Finding
	Verdict       Verdict
	ChecksEnabled bool
	CheckedAt     time.Time
}

// BlockingCount returns the number of unresolved blocking findings.
func (r QualityReport) BlockingCount() int {
	count := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityBlocking && f.Unresolved() {
			count++
		}
	}
	return count
}

// OrderStatus enumerates lifecycle states of a submitted order. Statuses only advance
// forward; the failed and cancelled terminals are reachable from any non-terminal state.
type OrderStatus string

const (
	// OrderStatusSubmitted means the provider accepted the submission request.
	OrderStatusSubmitted OrderStatus = "submitted"
	// OrderStatusAccepted means the provider validated the order for production.
	OrderStatusAccepted OrderStatus = "accepted"
	// OrderStatusPrinting means the provider is producing the item.
	OrderStatusPrinting OrderStatus = "printing"
	// OrderStatusShipped means the parcel was handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered means the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled means the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusFailed means the provider failed the order permanently.
	OrderStatusFailed OrderStatus = "failed"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusSubmitted: 0,
	OrderStatusAccepted:  1,
	OrderStatusPrinting:  2,
	OrderStatusShipped:   3,
	OrderStatusDelivered: 4,
}

// OrderStatusAdvances reports whether moving from one status to the next is a legal
// forward transition. Cancelled and failed are explicit terminal events allowed from any
// non-terminal state.
func OrderStatusAdvances(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == OrderStatusCancelled || to == OrderStatusFailed {
		return true
	}
	fromRank, ok := orderStatusRank[from]
	if !ok {
		return false
	}
	toRank, ok := orderStatusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Tracking carries carrier details once the provider makes them available.
type Tracking struct {
	Carrier string
	Number  string
	URL     string
}

// Cost is the provider-quoted price in the smallest currency unit.
type Cost struct {
	Amount   int64
	Currency string
}

// Order represents a job submitted to a fulfillment provider. Orders are transient return
// values here; durable storage is the caller's responsibility.
type Order struct {
	ID          string
	Provider    string
	Status      OrderStatus
	Cost        Cost
	Tracking    *Tracking
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Recipient is the shipping destination and contact for an order.
type Recipient struct {
	Name        string
	Company     string
	Address1    string
	Address2    string
	City        string
	State       string
	PostalCode  string
	CountryCode string
	Email       string
	Phone       string
}
