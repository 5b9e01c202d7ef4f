package imaging

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"scanocr/pkg/models"
)

// BinarizationMode selects how grayscale is reduced to ink and paper.
type BinarizationMode string

const (
	// BinarizeAdaptive thresholds each pixel against its local window mean.
	BinarizeAdaptive BinarizationMode = "adaptive"
	// BinarizeOtsu sharpens, then applies one global Otsu threshold.
	BinarizeOtsu BinarizationMode = "otsu"
	BinarizeNone BinarizationMode = "none"
)

// MorphologyMode selects the cleanup applied to the binarized page.
type MorphologyMode string

const (
	// MorphOpen removes isolated specks.
	MorphOpen MorphologyMode = "open"
	// MorphClose reconnects broken strokes.
	MorphClose MorphologyMode = "close"
	MorphNone  MorphologyMode = "none"
)

// SmoothingMode selects the denoise filter.
type SmoothingMode string

const (
	// SmoothBilateral is edge preserving and keeps fine conjunct strokes apart.
	SmoothBilateral SmoothingMode = "bilateral"
	// SmoothMedian is a generic salt-and-pepper denoise.
	SmoothMedian SmoothingMode = "median"
	SmoothNone   SmoothingMode = "none"
)

// Margins are crop percentages of each dimension.
type Margins struct {
	Top    float64 `yaml:"top" json:"top"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
	Left   float64 `yaml:"left" json:"left"`
	Right  float64 `yaml:"right" json:"right"`
}

// maxCropTotal is the largest share of one dimension that cropping may remove.
const maxCropTotal = 90.0

// Validate checks every percentage is in [0, 50) and that opposite margins
// together never remove more than 90% of a dimension.
func (m Margins) Validate() error {
	sides := []struct {
		name string
		v    float64
	}{{"top", m.Top}, {"bottom", m.Bottom}, {"left", m.Left}, {"right", m.Right}}
	for _, s := range sides {
		if math.IsNaN(s.v) || s.v < 0 || s.v >= 50 {
			return fmt.Errorf("%w: %s margin %.2f%% outside [0, 50)", ErrInvalidConfig, s.name, s.v)
		}
	}
	if m.Top+m.Bottom > maxCropTotal {
		return fmt.Errorf("%w: vertical crop %.2f%% exceeds %.0f%%", ErrInvalidConfig, m.Top+m.Bottom, maxCropTotal)
	}
	if m.Left+m.Right > maxCropTotal {
		return fmt.Errorf("%w: horizontal crop %.2f%% exceeds %.0f%%", ErrInvalidConfig, m.Left+m.Right, maxCropTotal)
	}
	return nil
}

// ParseMargins reads "top,bottom,left,right" percentages.
func ParseMargins(value string) (Margins, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return Margins{}, fmt.Errorf("%w: margins need top,bottom,left,right, got %q", ErrInvalidConfig, value)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Margins{}, fmt.Errorf("%w: margin %q: %v", ErrInvalidConfig, p, err)
		}
		v[i] = f
	}
	m := Margins{Top: v[0], Bottom: v[1], Left: v[2], Right: v[3]}
	return m, m.Validate()
}

// PreprocessConfig enumerates every normalization option. Values are built
// once per script family by the preset constructors and passed by value.
type PreprocessConfig struct {
	Name string `yaml:"name" json:"name"`

	Margins Margins `yaml:"margins" json:"margins"`

	// TargetMinDimension is the smaller-side size pages are upscaled to; 0 disables upscaling.
	TargetMinDimension int `yaml:"target_min_dimension" json:"target_min_dimension"`
	// MaxUpscale caps the upscale factor for tiny inputs.
	MaxUpscale float64 `yaml:"max_upscale" json:"max_upscale"`

	// ContrastClipLimit bounds tile histogram equalization; 0 disables it.
	ContrastClipLimit float64 `yaml:"contrast_clip_limit" json:"contrast_clip_limit"`
	ContrastGrid      int     `yaml:"contrast_grid" json:"contrast_grid"`

	Smoothing       SmoothingMode `yaml:"smoothing" json:"smoothing"`
	DenoiseStrength int           `yaml:"denoise_strength" json:"denoise_strength"`

	Binarization      BinarizationMode `yaml:"binarization" json:"binarization"`
	AdaptiveBlockSize int              `yaml:"adaptive_block_size" json:"adaptive_block_size"`
	AdaptiveOffset    int              `yaml:"adaptive_offset" json:"adaptive_offset"`

	Morphology  MorphologyMode `yaml:"morphology" json:"morphology"`
	MorphKernel int            `yaml:"morph_kernel" json:"morph_kernel"`

	RemoveBorders bool `yaml:"remove_borders" json:"remove_borders"`
	Deskew        bool `yaml:"deskew" json:"deskew"`
}

// Validate reports the first invalid option.
func (c PreprocessConfig) Validate() error {
	if err := c.Margins.Validate(); err != nil {
		return err
	}
	if c.TargetMinDimension < 0 || c.TargetMinDimension > 10000 {
		return fmt.Errorf("%w: target min dimension %d outside [0, 10000]", ErrInvalidConfig, c.TargetMinDimension)
	}
	if c.MaxUpscale < 0 {
		return fmt.Errorf("%w: negative max upscale", ErrInvalidConfig)
	}
	if c.ContrastClipLimit < 0 {
		return fmt.Errorf("%w: negative contrast clip limit", ErrInvalidConfig)
	}
	if c.ContrastClipLimit > 0 && c.ContrastGrid < 1 {
		return fmt.Errorf("%w: contrast grid must be at least 1", ErrInvalidConfig)
	}
	if c.DenoiseStrength < 0 {
		return fmt.Errorf("%w: negative denoise strength", ErrInvalidConfig)
	}

	switch c.Smoothing {
	case SmoothBilateral, SmoothMedian, SmoothNone, "":
	default:
		return fmt.Errorf("%w: unknown smoothing mode %q", ErrInvalidConfig, c.Smoothing)
	}

	switch c.Binarization {
	case BinarizeAdaptive:
		if c.AdaptiveBlockSize < 3 || c.AdaptiveBlockSize%2 == 0 {
			return fmt.Errorf("%w: adaptive block size %d must be odd and >= 3", ErrInvalidConfig, c.AdaptiveBlockSize)
		}
	case BinarizeOtsu, BinarizeNone, "":
	default:
		return fmt.Errorf("%w: unknown binarization mode %q", ErrInvalidConfig, c.Binarization)
	}

	switch c.Morphology {
	case MorphOpen, MorphClose:
		if c.MorphKernel < 1 || c.MorphKernel%2 == 0 {
			return fmt.Errorf("%w: morphology kernel %d must be odd and >= 1", ErrInvalidConfig, c.MorphKernel)
		}
	case MorphNone, "":
	default:
		return fmt.Errorf("%w: unknown morphology mode %q", ErrInvalidConfig, c.Morphology)
	}
	return nil
}

var scanMargins = Margins{Top: 6, Bottom: 6, Left: 3, Right: 3}

// LatinConfig suits scripts with uniform stroke width.
func LatinConfig() PreprocessConfig {
	return PreprocessConfig{
		Name:               "latin",
		Margins:            scanMargins,
		TargetMinDimension: 1600,
		MaxUpscale:         4,
		ContrastClipLimit:  3.5,
		ContrastGrid:       8,
		Smoothing:          SmoothMedian,
		DenoiseStrength:    12,
		Binarization:       BinarizeOtsu,
		Morphology:         MorphClose,
		MorphKernel:        3,
		RemoveBorders:      true,
		Deskew:             true,
	}
}

// BengaliConfig keeps conjuncts and the head stroke intact.
func BengaliConfig() PreprocessConfig {
	return PreprocessConfig{
		Name:               "bengali",
		Margins:            scanMargins,
		TargetMinDimension: 2000,
		MaxUpscale:         4,
		ContrastClipLimit:  3.5,
		ContrastGrid:       8,
		Smoothing:          SmoothBilateral,
		DenoiseStrength:    8,
		Binarization:       BinarizeAdaptive,
		AdaptiveBlockSize:  35,
		AdaptiveOffset:     8,
		Morphology:         MorphOpen,
		MorphKernel:        3,
		RemoveBorders:      true,
		Deskew:             true,
	}
}

// DifficultConfig is the heavy preset for faded or noisy scans.
func DifficultConfig() PreprocessConfig {
	return PreprocessConfig{
		Name:               "difficult",
		Margins:            scanMargins,
		TargetMinDimension: 2500,
		MaxUpscale:         4,
		ContrastClipLimit:  4,
		ContrastGrid:       8,
		Smoothing:          SmoothMedian,
		DenoiseStrength:    20,
		Binarization:       BinarizeAdaptive,
		AdaptiveBlockSize:  41,
		AdaptiveOffset:     12,
		Morphology:         MorphOpen,
		MorphKernel:        3,
		RemoveBorders:      true,
		Deskew:             true,
	}
}

// ConfigFor picks the preset for a script set. Any set containing Bengali
// gets the Bengali preset since its strokes are the more fragile ones.
func ConfigFor(scripts models.ScriptSet, difficult bool) PreprocessConfig {
	switch {
	case difficult:
		return DifficultConfig()
	case scripts.Has(models.ScriptBengali):
		return BengaliConfig()
	default:
		return LatinConfig()
	}
}
