// Package imaging turns raw scanned pages into binarized, deskewed images
// suitable for glyph recognition.
//
// Normalization is pure and deterministic: the same page and PreprocessConfig
// always produce byte-identical output. Stages run in a fixed order and each
// one can be switched off through the config:
//
//  1. margin crop
//  2. grayscale conversion
//  3. upscale (Catmull-Rom)
//  4. contrast-limited tile equalization
//  5. smoothing (bilateral or median)
//  6. binarization (adaptive mean or sharpen + Otsu)
//  7. morphology (open or close)
//  8. border/frame removal
//  9. deskew
//  10. polarity normalization
//
// Near-blank pages are returned as is; blankness is decided at recognition time.
package imaging

import (
	"fmt"
	"image"
	"math"
)

// Stage names a normalization step for tracing.
type Stage string

const (
	StageCrop       Stage = "crop"
	StageGrayscale  Stage = "grayscale"
	StageUpscale    Stage = "upscale"
	StageContrast   Stage = "contrast"
	StageSmooth     Stage = "smooth"
	StageBinarize   Stage = "binarize"
	StageMorphology Stage = "morphology"
	StageBorders    Stage = "borders"
	StageDeskew     Stage = "deskew"
	StagePolarity   Stage = "polarity"
)

// TraceFunc receives the page after every stage that changed it.
type TraceFunc func(stage Stage, page *PageImage)

// Normalize runs the full stage pipeline on page.
func Normalize(page *PageImage, cfg PreprocessConfig) (*PageImage, error) {
	return NormalizeTrace(page, cfg, nil)
}

// NormalizeTrace is Normalize with a callback for every applied stage.
func NormalizeTrace(page *PageImage, cfg PreprocessConfig, trace TraceFunc) (*PageImage, error) {
	const op = "Normalize"

	if page == nil || page.img == nil || page.Width() <= 0 || page.Height() <= 0 {
		return nil, NewImageError(op, ErrInvalidImage, "empty page")
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapImageError(op, err, cfg.Name)
	}

	origin := page.origin
	emit := func(stage Stage, g *image.Gray) {
		if trace != nil {
			trace(stage, newPage(g, origin))
		}
	}

	cropped := cropMargins(page.img, cfg.Margins)
	if cropped.Bounds().Dx() <= 0 || cropped.Bounds().Dy() <= 0 {
		return nil, NewImageError(op, ErrInvalidImage, "crop left no pixels")
	}
	if cropped != page.img && trace != nil {
		trace(StageCrop, &PageImage{img: cropped, origin: origin})
	}

	g, ok := cropped.(*image.Gray)
	if !ok {
		g = toGray(cropped)
		emit(StageGrayscale, g)
	}

	if f := upscaleFactor(g.Bounds().Dx(), g.Bounds().Dy(), cfg.TargetMinDimension, cfg.MaxUpscale); f > 1 {
		g = upscale(g, f)
		if origin.DPI > 0 {
			origin.DPI = int(math.Round(float64(origin.DPI) * f))
		}
		emit(StageUpscale, g)
	}

	if cfg.ContrastClipLimit > 0 {
		g = equalize(g, cfg.ContrastClipLimit, cfg.ContrastGrid)
		emit(StageContrast, g)
	}

	if cfg.DenoiseStrength > 0 {
		switch cfg.Smoothing {
		case SmoothBilateral:
			g = bilateral(g, cfg.DenoiseStrength)
			emit(StageSmooth, g)
		case SmoothMedian:
			g = median(g, cfg.DenoiseStrength)
			emit(StageSmooth, g)
		}
	}

	switch cfg.Binarization {
	case BinarizeAdaptive:
		g = adaptiveThreshold(g, cfg.AdaptiveBlockSize, cfg.AdaptiveOffset)
		emit(StageBinarize, g)
	case BinarizeOtsu:
		g = otsuThreshold(sharpen(g))
		emit(StageBinarize, g)
	}

	if cfg.Morphology == MorphOpen || cfg.Morphology == MorphClose {
		g = morph(g, cfg.Morphology, cfg.MorphKernel)
		emit(StageMorphology, g)
	}

	if cfg.RemoveBorders {
		g = removeBorders(g)
		emit(StageBorders, g)
	}

	if cfg.Deskew {
		var angle float64
		if g, angle = deskew(g); angle != 0 {
			emit(StageDeskew, g)
		}
	}

	var inverted bool
	if g, inverted = normalizePolarity(g); inverted {
		emit(StagePolarity, g)
	}

	return newPage(g, origin), nil
}

// ForegroundRatio returns the share of dark (ink) pixels. On a normalized
// page this is the amount of text-like content.
func ForegroundRatio(page *PageImage) float64 {
	if page == nil || page.Width() == 0 || page.Height() == 0 {
		return 0
	}
	g, ok := page.img.(*image.Gray)
	if !ok {
		g = toGray(page.img)
	}
	return float64(darkCount(g)) / float64(page.Width()*page.Height())
}

// IsBlank reports whether the page has less ink than minRatio.
func IsBlank(page *PageImage, minRatio float64) bool {
	return ForegroundRatio(page) < minRatio
}

// Describe returns a one-line summary used in logs.
func (c PreprocessConfig) Describe() string {
	return fmt.Sprintf("%s crop=%.0f/%.0f/%.0f/%.0f min=%d clip=%.1f smooth=%s:%d bin=%s:%d:%d morph=%s:%d",
		c.Name, c.Margins.Top, c.Margins.Bottom, c.Margins.Left, c.Margins.Right,
		c.TargetMinDimension, c.ContrastClipLimit, c.Smoothing, c.DenoiseStrength,
		c.Binarization, c.AdaptiveBlockSize, c.AdaptiveOffset, c.Morphology, c.MorphKernel)
}
