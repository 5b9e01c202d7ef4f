package imaging

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/gift"
)

const (
	// borderSpan is the share of a side a border-touching dark component
	// must cover to count as a scan-bed frame.
	borderSpan = 0.5

	maxSkewDegrees    = 15.0
	minSkewDegrees    = 0.2
	coarseSkewStep    = 0.5
	fineSkewStep      = 0.1
	minSkewInkPixels  = 200
	maxSkewSamples    = 200000
	minSkewPeakRatio  = 1.15
	skewInkRatioLimit = 0.5
)

// removeBorders erases dark components that touch the image edge and span
// at least half of the page in one direction. Pages whose dark pixels are the
// majority are left alone: there the dark side is background, not ink.
func removeBorders(src *image.Gray) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if darkCount(src)*2 > w*h {
		return src
	}

	dst := newGray(w, h)
	copy(dst.Pix, src.Pix)

	dark := func(i int) bool { return dst.Pix[i] < inkThreshold }
	seen := make([]bool, w*h)
	var queue, component []int

	flood := func(start int) {
		queue = append(queue[:0], start)
		component = component[:0]
		seen[start] = true
		minX, minY, maxX, maxY := w, h, -1, -1
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			component = append(component, i)
			x, y := i%w, i/w
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[0] >= w || n[1] < 0 || n[1] >= h {
					continue
				}
				j := n[1]*w + n[0]
				if !seen[j] && dark(j) {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}
		spanX := float64(maxX-minX+1) / float64(w)
		spanY := float64(maxY-minY+1) / float64(h)
		if spanX >= borderSpan || spanY >= borderSpan {
			for _, i := range component {
				dst.Pix[i] = 255
			}
		}
	}

	visit := func(x, y int) {
		i := y*w + x
		if !seen[i] && dark(i) {
			flood(i)
		}
	}
	for x := 0; x < w; x++ {
		visit(x, 0)
		visit(x, h-1)
	}
	for y := 0; y < h; y++ {
		visit(0, y)
		visit(w-1, y)
	}
	return dst
}

// estimateSkew finds the rotation (degrees) that makes text lines horizontal by
// maximizing the sharpness of the horizontal projection profile. ok is false
// when the page is too sparse or the profile peak is not distinct.
func estimateSkew(src *image.Gray) (angle float64, ok bool) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	ink := darkCount(src)
	if ink < minSkewInkPixels || float64(ink) > skewInkRatioLimit*float64(w*h) {
		return 0, false
	}

	step := 1
	if ink > maxSkewSamples {
		step = (ink + maxSkewSamples - 1) / maxSkewSamples
	}
	cx, cy := float64(w)/2, float64(h)/2
	xs := make([]float64, 0, ink/step+1)
	ys := make([]float64, 0, ink/step+1)
	n := 0
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			if row[x] >= inkThreshold {
				continue
			}
			if n%step == 0 {
				xs = append(xs, float64(x)-cx)
				ys = append(ys, float64(y)-cy)
			}
			n++
		}
	}

	diag := int(math.Ceil(math.Hypot(float64(w), float64(h)))) + 2
	bins := make([]float64, diag)
	score := func(deg float64) float64 {
		for i := range bins {
			bins[i] = 0
		}
		sin, cos := math.Sincos(deg * math.Pi / 180)
		off := float64(diag) / 2
		for i := range xs {
			r := int(xs[i]*sin + ys[i]*cos + off)
			if r >= 0 && r < diag {
				bins[r]++
			}
		}
		var s float64
		for _, b := range bins {
			s += b * b
		}
		return s
	}

	var scores []float64
	best, bestScore := 0.0, -1.0
	for a := -maxSkewDegrees; a <= maxSkewDegrees+1e-9; a += coarseSkewStep {
		s := score(a)
		scores = append(scores, s)
		if s > bestScore {
			best, bestScore = a, s
		}
	}
	for a := best - coarseSkewStep; a <= best+coarseSkewStep+1e-9; a += fineSkewStep {
		if math.Abs(a) > maxSkewDegrees {
			continue
		}
		if s := score(a); s > bestScore {
			best, bestScore = a, s
		}
	}

	if math.Abs(best) >= maxSkewDegrees-coarseSkewStep/2 {
		return 0, false
	}
	med := medianOf(scores)
	if med <= 0 || bestScore/med < minSkewPeakRatio {
		return 0, false
	}
	return math.Round(best*10) / 10, true
}

// rotate turns the page by deg using the same convention as estimateSkew
// (clockwise on screen, y pointing down), growing the canvas so no content
// is clipped. New area is filled with fill. Nearest-neighbour sampling keeps
// binarized pages binary.
func rotate(src *image.Gray, deg float64, fill uint8) *image.Gray {
	return filterGray(src, gift.Rotate(float32(-deg), color.Gray{Y: fill}, gift.NearestNeighborInterpolation))
}

// deskew measures skew on the minority (ink) class, so it works on pages
// that have not been polarity-normalized yet.
func deskew(src *image.Gray) (*image.Gray, float64) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	probe, fill := src, uint8(255)
	if darkCount(src)*2 > w*h {
		probe, fill = invert(src), 0
	}
	angle, ok := estimateSkew(probe)
	if !ok || math.Abs(angle) < minSkewDegrees {
		return src, 0
	}
	return rotate(src, angle, fill), angle
}

// normalizePolarity inverts pages where dark pixels outnumber light ones.
func normalizePolarity(src *image.Gray) (*image.Gray, bool) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if darkCount(src)*2 > w*h {
		return invert(src), true
	}
	return src, false
}
