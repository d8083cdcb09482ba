// Package color performs deterministic color-space conversion of raster assets into the
// target print profile. Conversions are pure functions of (source pixels, profile): no
// hidden state, so repeated calls with the same profile are idempotent and per-asset
// conversions can fan out across workers without locking.
package color

import (
	"fmt"

	"github.com/pagecraft/api/internal/domain"
)

// ConversionError reports an asset whose source space cannot be converted. It is not
// retryable; the caller must fix the input.
type ConversionError struct {
	AssetID string
	Space   domain.ColorSpace
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("color: asset %q has unsupported source space %q", e.AssetID, e.Space)
}

// Result is a converted asset plus clipping statistics. Out-of-gamut clipping is not an
// error; the quality gate records it as a low-severity finding.
type Result struct {
	Image         domain.RasterImage
	ClippedPixels int
}

// Manager converts raster assets between color spaces.
type Manager struct{}

// NewManager constructs a color Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Convert transforms the asset into the profile's space and tags it with the profile
// name. Converting an asset already tagged with the same profile is a no-op. The input
// asset is never mutated.
func (m *Manager) Convert(asset domain.RasterImage, profile domain.ColorProfile) (Result, error) {
	if asset.ProfileTag == profile.Name {
		return Result{Image: asset}, nil
	}

	if asset.Space != domain.SpaceRGB {
		return Result{}, &ConversionError{AssetID: asset.ID, Space: asset.Space}
	}
	if len(asset.Pixels) != asset.Width*asset.Height*3 {
		return Result{}, &ConversionError{AssetID: asset.ID, Space: asset.Space}
	}

	out := asset.Clone()
	out.Space = profile.Space
	out.ProfileTag = profile.Name

	if profile.Space != domain.SpaceCMYK {
		return Result{Image: out}, nil
	}

	pixels := make([]byte, asset.Width*asset.Height*4)
	clipped := 0
	for i := 0; i < asset.Width*asset.Height; i++ {
		r := float64(asset.Pixels[i*3]) / 255
		g := float64(asset.Pixels[i*3+1]) / 255
		b := float64(asset.Pixels[i*3+2]) / 255

		c, mg, y, k, clip := rgbToCMYK(r, g, b, profile.InkLimit)
		if clip {
			clipped++
		}

		pixels[i*4] = byte(c*255 + 0.5)
		pixels[i*4+1] = byte(mg*255 + 0.5)
		pixels[i*4+2] = byte(y*255 + 0.5)
		pixels[i*4+3] = byte(k*255 + 0.5)
	}
	out.Pixels = pixels

	return Result{Image: out, ClippedPixels: clipped}, nil
}

// rgbToCMYK applies grey-component replacement then clips total ink coverage to the
// profile's limit, returning whether the source color fell outside the gamut.
func rgbToCMYK(r, g, b, inkLimit float64) (c, m, y, k float64, clipped bool) {
	c = 1 - r
	m = 1 - g
	y = 1 - b

	k = c
	if m < k {
		k = m
	}
	if y < k {
		k = y
	}

	if k < 1 {
		c = (c - k) / (1 - k)
		m = (m - k) / (1 - k)
		y = (y - k) / (1 - k)
	} else {
		c, m, y = 0, 0, 0
	}

	if inkLimit > 0 {
		if total := c + m + y + k; total > inkLimit {
			scale := inkLimit / total
			c *= scale
			m *= scale
			y *= scale
			k *= scale
			clipped = true
		}
	}
	return c, m, y, k, clipped
}
