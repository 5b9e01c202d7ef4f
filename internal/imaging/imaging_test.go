package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

// linedPage draws n horizontal ink bars on white paper.
func linedPage(w, h, n int) *image.Gray {
	img := newGray(w, h)
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for i := 0; i < n; i++ {
		y0 := h/10 + i*(h*8/10)/n
		for y := y0; y < y0+3 && y < h; y++ {
			for x := w / 10; x < w*9/10; x++ {
				img.Pix[y*img.Stride+x] = 0
			}
		}
	}
	return img
}

func mustPage(t *testing.T, img image.Image) *PageImage {
	t.Helper()
	p, err := NewPageImage(img, Origin{PageIndex: 0, DPI: 150})
	if err != nil {
		t.Fatalf("NewPageImage() error = %v", err)
	}
	return p
}

func TestNewPageImageRejectsEmpty(t *testing.T) {
	if _, err := NewPageImage(nil, Origin{}); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("nil image: error = %v, want ErrInvalidImage", err)
	}
	if _, err := NewPageImage(image.NewGray(image.Rect(0, 0, 0, 10)), Origin{}); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("zero-area image: error = %v, want ErrInvalidImage", err)
	}
}

func TestNewPageImageCopiesPixels(t *testing.T) {
	src := linedPage(20, 20, 2)
	p := mustPage(t, src)
	src.Pix[0] = 7
	if p.Gray().Pix[0] != 255 {
		t.Fatal("page shares pixels with caller image")
	}
}

func TestMarginsValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Margins
		wantErr bool
	}{
		{"zero", Margins{}, false},
		{"scan defaults", Margins{Top: 6, Bottom: 6, Left: 3, Right: 3}, false},
		{"at limit", Margins{Top: 45, Bottom: 45}, false},
		{"fifty", Margins{Left: 50}, true},
		{"negative", Margins{Bottom: -1}, true},
		{"vertical over 90", Margins{Top: 49, Bottom: 42}, true},
		{"horizontal over 90", Margins{Left: 46, Right: 46}, true},
		{"nan", Margins{Top: math.NaN()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestCropKeepsPositiveArea(t *testing.T) {
	sizes := [][2]int{{1, 1}, {3, 2}, {7, 5}, {101, 13}}
	for _, size := range sizes {
		src := newGray(size[0], size[1])
		for top := 0.0; top < 50; top += 7.5 {
			for left := 0.0; left < 50; left += 7.5 {
				m := Margins{Top: top, Bottom: math.Min(49.9, 90-top), Left: left, Right: math.Min(49.9, 90-left)}
				if m.Validate() != nil {
					continue
				}
				b := cropMargins(src, m).Bounds()
				if b.Dx() <= 0 || b.Dy() <= 0 {
					t.Fatalf("crop %+v of %v left %v", m, size, b)
				}
			}
		}
	}
}

func TestPreprocessConfigValidate(t *testing.T) {
	even := BengaliConfig()
	even.AdaptiveBlockSize = 34
	tiny := BengaliConfig()
	tiny.AdaptiveBlockSize = 1
	unknown := LatinConfig()
	unknown.Morphology = "erode"

	for _, cfg := range []PreprocessConfig{even, tiny, unknown} {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("Validate(%s) error = %v, want ErrInvalidConfig", cfg.Describe(), err)
		}
	}
	for _, cfg := range []PreprocessConfig{LatinConfig(), BengaliConfig(), DifficultConfig()} {
		if err := cfg.Validate(); err != nil {
			t.Fatalf("preset %s invalid: %v", cfg.Name, err)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	page := mustPage(t, linedPage(120, 90, 6))
	for _, cfg := range []PreprocessConfig{LatinConfig(), BengaliConfig()} {
		a, err := Normalize(page, cfg)
		if err != nil {
			t.Fatalf("Normalize(%s) error = %v", cfg.Name, err)
		}
		b, err := Normalize(page, cfg)
		if err != nil {
			t.Fatalf("Normalize(%s) error = %v", cfg.Name, err)
		}
		if !bytes.Equal(a.Gray().Pix, b.Gray().Pix) || a.Width() != b.Width() || a.Height() != b.Height() {
			t.Fatalf("Normalize(%s) is not deterministic", cfg.Name)
		}
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	page := mustPage(t, linedPage(80, 60, 4))
	before := append([]byte(nil), page.Gray().Pix...)
	if _, err := Normalize(page, DifficultConfig()); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !bytes.Equal(before, page.Gray().Pix) {
		t.Fatal("Normalize mutated its input")
	}
}

func TestNormalizeUpscalesAndTracksDPI(t *testing.T) {
	page := mustPage(t, linedPage(100, 200, 5))
	cfg := LatinConfig()
	cfg.Margins = Margins{}
	cfg.TargetMinDimension = 300
	out, err := Normalize(page, cfg)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if min(out.Width(), out.Height()) < 300 {
		t.Fatalf("short side = %d, want >= 300", min(out.Width(), out.Height()))
	}
	if out.Origin().DPI != 450 {
		t.Fatalf("DPI = %d, want 450", out.Origin().DPI)
	}
}

func TestNormalizeRejectsBadConfig(t *testing.T) {
	cfg := BengaliConfig()
	cfg.AdaptiveBlockSize = 4
	_, err := Normalize(mustPage(t, linedPage(20, 20, 1)), cfg)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestBlankPageStaysBlank(t *testing.T) {
	white := newGray(64, 64)
	for i := range white.Pix {
		white.Pix[i] = 250
	}
	out, err := Normalize(mustPage(t, white), BengaliConfig())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if r := ForegroundRatio(out); r > 0.001 {
		t.Fatalf("ForegroundRatio = %v, want ~0", r)
	}
	if !IsBlank(out, 0.002) {
		t.Fatal("IsBlank = false for white page")
	}
}

func TestPolarityInvertsNegativePage(t *testing.T) {
	neg := invert(linedPage(60, 60, 3))
	out, inverted := normalizePolarity(neg)
	if !inverted {
		t.Fatal("negative page was not inverted")
	}
	if darkCount(out)*2 > len(out.Pix) {
		t.Fatal("ink is still the majority after inversion")
	}
}

func TestRemoveBordersErasesFrame(t *testing.T) {
	img := linedPage(100, 100, 0)
	for y := 0; y < 100; y++ {
		for x := 0; x < 6; x++ {
			img.Pix[y*img.Stride+x] = 0
		}
	}
	// a glyph that touches nothing
	for y := 40; y < 50; y++ {
		for x := 40; x < 50; x++ {
			img.Pix[y*img.Stride+x] = 0
		}
	}
	// a small speck on the edge is not a frame
	img.Pix[99*img.Stride+80] = 0

	out := removeBorders(img)
	if out.Pix[50*out.Stride+2] != 255 {
		t.Fatal("frame not removed")
	}
	if out.Pix[45*out.Stride+45] != 0 {
		t.Fatal("interior glyph removed")
	}
	if out.Pix[99*out.Stride+80] != 0 {
		t.Fatal("edge speck removed")
	}
}

func TestEstimateSkewRecoversRotation(t *testing.T) {
	straight := linedPage(300, 300, 10)
	skewed := rotate(straight, -5, 255)
	angle, ok := estimateSkew(skewed)
	if !ok {
		t.Fatal("estimateSkew() not confident on lined page")
	}
	if math.Abs(angle-5) > 0.5 {
		t.Fatalf("angle = %v, want ~5", angle)
	}
	if a, _ := estimateSkew(straight); math.Abs(a) > 0.2 {
		t.Fatalf("straight page angle = %v, want ~0", a)
	}
}

func TestEstimateSkewSkipsSparsePage(t *testing.T) {
	img := linedPage(200, 200, 0)
	img.Pix[100*img.Stride+100] = 0
	if _, ok := estimateSkew(img); ok {
		t.Fatal("estimateSkew() confident on a nearly empty page")
	}
}

func TestOtsuSplitsBimodal(t *testing.T) {
	img := newGray(10, 10)
	for i := range img.Pix {
		if i%2 == 0 {
			img.Pix[i] = 40
		} else {
			img.Pix[i] = 210
		}
	}
	if l := otsuLevel(img); l < 40 || l >= 210 {
		t.Fatalf("otsuLevel = %d, want between modes", l)
	}
}

func TestAdaptiveThresholdKeepsInk(t *testing.T) {
	img := linedPage(80, 80, 4)
	out := adaptiveThreshold(img, 15, 8)
	if darkCount(out) == 0 {
		t.Fatal("adaptive threshold dropped all ink")
	}
	if darkCount(out) > darkCount(img) {
		t.Fatal("adaptive threshold created ink on flat paper")
	}
}

func TestUpscaleFactor(t *testing.T) {
	tests := []struct {
		w, h, target int
		max          float64
		want         float64
	}{
		{1000, 2000, 2000, 4, 2},
		{3000, 2500, 2000, 4, 1},
		{100, 100, 2000, 4, 4},
		{500, 800, 0, 4, 1},
	}
	for _, tt := range tests {
		if got := upscaleFactor(tt.w, tt.h, tt.target, tt.max); got != tt.want {
			t.Fatalf("upscaleFactor(%d,%d,%d) = %v, want %v", tt.w, tt.h, tt.target, got, tt.want)
		}
	}
}

func TestNormalizeTraceOrder(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 80, 80))
	for i := 0; i < 80*80; i++ {
		rgba.Set(i%80, i/80, color.White)
	}
	var stages []Stage
	_, err := NormalizeTrace(mustPage(t, rgba), LatinConfig(), func(s Stage, _ *PageImage) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatalf("NormalizeTrace() error = %v", err)
	}
	want := []Stage{StageCrop, StageGrayscale, StageUpscale, StageContrast, StageSmooth, StageBinarize, StageMorphology, StageBorders}
	if len(stages) < len(want) {
		t.Fatalf("stages = %v, want prefix %v", stages, want)
	}
	for i, s := range want {
		if stages[i] != s {
			t.Fatalf("stage %d = %s, want %s (all: %v)", i, stages[i], s, stages)
		}
	}
}

func TestParseMargins(t *testing.T) {
	m, err := ParseMargins("6, 6, 3, 3")
	if err != nil {
		t.Fatalf("ParseMargins() error = %v", err)
	}
	if m != (Margins{Top: 6, Bottom: 6, Left: 3, Right: 3}) {
		t.Fatalf("ParseMargins() = %+v", m)
	}
	if _, err := ParseMargins("6,6,3"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("short list error = %v", err)
	}
}

func TestDecodePNGRoundTrip(t *testing.T) {
	page := mustPage(t, linedPage(30, 20, 2))
	data, err := page.PNG()
	if err != nil {
		t.Fatalf("PNG() error = %v", err)
	}
	back, err := Decode(bytes.NewReader(data), Origin{PageIndex: 3})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if back.Width() != 30 || back.Height() != 20 || back.Origin().PageIndex != 3 {
		t.Fatalf("decoded %dx%d page %d", back.Width(), back.Height(), back.Origin().PageIndex)
	}
	if _, err := Decode(bytes.NewReader([]byte("not an image")), Origin{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("garbage error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestMedianRemovesSpeck(t *testing.T) {
	page := linedPage(30, 30, 0)
	page.Pix[15*page.Stride+15] = 0
	out := median(page, 8)
	if out.Pix[15*out.Stride+15] != 255 {
		t.Fatalf("speck survived median: %d", out.Pix[15*out.Stride+15])
	}
	if out.Bounds() != page.Bounds() {
		t.Fatalf("bounds = %v, want %v", out.Bounds(), page.Bounds())
	}
}

func TestMorphology(t *testing.T) {
	speck := linedPage(30, 30, 2)
	speck.Pix[2*speck.Stride+2] = 0
	opened := morph(speck, MorphOpen, 3)
	if opened.Pix[2*opened.Stride+2] != 255 {
		t.Fatal("open kept an isolated speck")
	}
	if darkCount(opened) == 0 {
		t.Fatal("open erased the ink bars")
	}

	gap := linedPage(30, 30, 1)
	y := 30 / 10
	gap.Pix[(y+1)*gap.Stride+10] = 255
	closed := morph(gap, MorphClose, 3)
	if closed.Pix[(y+1)*closed.Stride+10] != 0 {
		t.Fatal("close left a one-pixel gap in the stroke")
	}

	if out := morph(speck, MorphOpen, 1); out != speck {
		t.Fatal("kernel 1 should leave the page untouched")
	}
}

func TestMorphKernelMustBeOdd(t *testing.T) {
	cfg := LatinConfig()
	cfg.MorphKernel = 2
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
	}
}

func TestSharpenKeepsFlatRegions(t *testing.T) {
	flat := newGray(8, 8)
	for i := range flat.Pix {
		flat.Pix[i] = 90
	}
	out := sharpen(flat)
	for i, v := range out.Pix {
		if v != 90 {
			t.Fatalf("pixel %d = %d, want 90", i, v)
		}
	}
}

func TestRotateGrowsCanvas(t *testing.T) {
	src := linedPage(40, 20, 2)
	out := rotate(src, 90, 255)
	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 40 {
		t.Fatalf("rotated size = %dx%d, want 20x40", out.Bounds().Dx(), out.Bounds().Dy())
	}
	if darkCount(out) != darkCount(src) {
		t.Fatalf("ink pixels = %d, want %d", darkCount(out), darkCount(src))
	}
}
