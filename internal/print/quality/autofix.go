package quality

import (
	"context"
	"fmt"
	"math"

	"github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/print/compose"
)

// fixPass applies exactly one corrective attempt per fixable finding: profile mismatches
// are re-converted and marginal resolution shortfalls upscaled to the minimum DPI.
// Safe-zone and bleed findings involve repositioning content and are never fixed here.
// Conversions that clip out-of-gamut source colors are reported alongside the count.
func (g *Gate) fixPass(ctx context.Context, doc *compose.Document, job domain.PrintJob, findings []domain.Finding) (int, []domain.Finding, error) {
	fixedAssets := make(map[string]bool)
	applied := 0
	var clips []domain.Finding

	for _, finding := range findings {
		if finding.AssetID == "" || fixedAssets[finding.AssetID] {
			continue
		}

		switch {
		case finding.Kind == domain.FindingColorProfile:
			asset, ok := doc.Assets[finding.AssetID]
			if !ok {
				continue
			}
			result, err := g.colors.Convert(asset, job.Profile)
			if err != nil {
				// Unsupported source space; the finding stays blocking.
				g.logger(ctx, "quality.fix.convert_failed", map[string]any{
					"asset": finding.AssetID,
					"error": err.Error(),
				})
				continue
			}
			doc.Assets[finding.AssetID] = result.Image
			fixedAssets[finding.AssetID] = true
			applied++
			if result.ClippedPixels > 0 {
				clips = append(clips, domain.Finding{
					Kind:      domain.FindingGamutClip,
					Severity:  domain.SeverityInfo,
					PageOrder: finding.PageOrder,
					Target:    finding.Target,
					AssetID:   finding.AssetID,
					Message:   fmt.Sprintf("%d pixel(s) clipped to the %s gamut", result.ClippedPixels, job.Profile.Name),
				})
			}

		case finding.Kind == domain.FindingResolution && finding.Severity == domain.SeverityWarning:
			if g.upscaleAsset(doc, finding.AssetID) {
				fixedAssets[finding.AssetID] = true
				applied++
			}
		}
	}

	if applied > 0 {
		g.logger(ctx, "quality.fix.applied", map[string]any{"fixes": applied})
	}
	return applied, clips, nil
}

// appendClipFindings merges clip findings in, skipping assets that already carry a gamut
// clip for the same target so a re-converted asset is reported once.
func appendClipFindings(findings, clips []domain.Finding) []domain.Finding {
	for _, clip := range clips {
		duplicate := false
		for _, f := range findings {
			if f.Kind == domain.FindingGamutClip && f.Target == clip.Target && f.AssetID == clip.AssetID {
				duplicate = true
				break
			}
		}
		if !duplicate {
			findings = append(findings, clip)
		}
	}
	return findings
}

// upscaleAsset grows the asset so its largest placement meets the minimum DPI, then
// updates every slot's resolved pixel dimensions. Nearest-neighbour is used because the
// tolerance band guarantees at most a 1/tolerance stretch.
func (g *Gate) upscaleAsset(doc *compose.Document, assetID string) bool {
	asset, ok := doc.Assets[assetID]
	if !ok {
		return false
	}

	maxW, maxH := 0.0, 0.0
	for _, artifact := range collectArtifacts(doc) {
		for _, slot := range artifact.Slots {
			if slot.AssetID != assetID {
				continue
			}
			maxW = math.Max(maxW, slot.Frame.W)
			maxH = math.Max(maxH, slot.Frame.H)
		}
	}
	if maxW <= 0 || maxH <= 0 {
		return false
	}

	targetW := int(math.Ceil(maxW * g.minDPI))
	targetH := int(math.Ceil(maxH * g.minDPI))
	if asset.Width >= targetW && asset.Height >= targetH {
		return false
	}
	if targetW < asset.Width {
		targetW = asset.Width
	}
	if targetH < asset.Height {
		targetH = asset.Height
	}

	upscaled, ok := upscaleNearest(asset, targetW, targetH)
	if !ok {
		return false
	}
	doc.Assets[assetID] = upscaled

	for _, artifact := range collectArtifacts(doc) {
		for i := range artifact.Slots {
			if artifact.Slots[i].AssetID == assetID {
				artifact.Slots[i].WidthPx = targetW
				artifact.Slots[i].HeightPx = targetH
			}
		}
	}
	return true
}

func upscaleNearest(asset domain.RasterImage, targetW, targetH int) (domain.RasterImage, bool) {
	var channels int
	switch asset.Space {
	case domain.SpaceRGB:
		channels = 3
	case domain.SpaceCMYK:
		channels = 4
	default:
		return domain.RasterImage{}, false
	}
	if len(asset.Pixels) != asset.Width*asset.Height*channels {
		return domain.RasterImage{}, false
	}

	out := asset.Clone()
	out.Width = targetW
	out.Height = targetH
	out.Pixels = make([]byte, targetW*targetH*channels)

	for y := 0; y < targetH; y++ {
		srcY := y * asset.Height / targetH
		for x := 0; x < targetW; x++ {
			srcX := x * asset.Width / targetW
			src := (srcY*asset.Width + srcX) * channels
			dst := (y*targetW + x) * channels
			copy(out.Pixels[dst:dst+channels], asset.Pixels[src:src+channels])
		}
	}
	return out, true
}

// reconcile merges the post-fix re-evaluation into the original findings. A finding
// whose fix attempt succeeded (it no longer reappears) is marked auto-fixed; one that
// reappears keeps its re-evaluated severity. Findings the pass never targets carry over
// unchanged, and any finding first surfaced by the re-check is appended.
func reconcile(initial, recheck []domain.Finding) []domain.Finding {
	type key struct {
		kind    domain.FindingKind
		target  string
		assetID string
	}
	keyOf := func(f domain.Finding) key {
		return key{kind: f.Kind, target: f.Target, assetID: f.AssetID}
	}

	remaining := make(map[key]domain.Finding, len(recheck))
	for _, f := range recheck {
		remaining[keyOf(f)] = f
	}

	merged := make([]domain.Finding, 0, len(initial))
	for _, f := range initial {
		k := keyOf(f)
		current, stillPresent := remaining[k]
		delete(remaining, k)

		if !fixableKind(f) {
			merged = append(merged, f)
			continue
		}
		if !stillPresent {
			f.AutoFixed = true
			merged = append(merged, f)
			continue
		}
		merged = append(merged, current)
	}

	seen := make(map[key]bool, len(merged))
	for _, f := range merged {
		seen[keyOf(f)] = true
	}
	for _, f := range recheck {
		if !seen[keyOf(f)] {
			merged = append(merged, f)
		}
	}
	return merged
}

func fixableKind(f domain.Finding) bool {
	switch f.Kind {
	case domain.FindingColorProfile:
		return true
	case domain.FindingResolution:
		return f.Severity == domain.SeverityWarning
	default:
		return false
	}
}
