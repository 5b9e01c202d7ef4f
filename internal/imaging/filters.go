package imaging

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/gift"
	"golang.org/x/image/draw"
)

// inkThreshold separates dark from light pixels on binarized or near-binary pages.
const inkThreshold = 128

func newGray(w, h int) *image.Gray {
	return image.NewGray(image.Rect(0, 0, w, h))
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// cropMargins removes the configured percentage of each side.
func cropMargins(src image.Image, m Margins) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	left := int(float64(w) * m.Left / 100)
	right := int(float64(w) * m.Right / 100)
	top := int(float64(h) * m.Top / 100)
	bottom := int(float64(h) * m.Bottom / 100)
	if left == 0 && right == 0 && top == 0 && bottom == 0 {
		return src
	}

	rect := image.Rect(0, 0, w-left-right, h-top-bottom)
	sp := image.Pt(b.Min.X+left, b.Min.Y+top)
	if g, ok := src.(*image.Gray); ok {
		dst := image.NewGray(rect)
		draw.Draw(dst, rect, g, sp, draw.Src)
		return dst
	}
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, src, sp, draw.Src)
	return dst
}

// upscaleFactor returns the factor that brings the smaller side to target.
func upscaleFactor(w, h, target int, maxScale float64) float64 {
	short := w
	if h < short {
		short = h
	}
	if target <= 0 || short >= target {
		return 1
	}
	f := float64(target) / float64(short)
	if maxScale > 0 && f > maxScale {
		f = maxScale
	}
	return f
}

func upscale(src *image.Gray, factor float64) *image.Gray {
	if factor <= 1 {
		return src
	}
	b := src.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	dst := newGray(w, h)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// equalize applies contrast-limited adaptive histogram equalization over a
// grid x grid tiling, blending neighbouring tile mappings bilinearly.
func equalize(src *image.Gray, clipLimit float64, grid int) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	gx, gy := grid, grid
	if gx > w {
		gx = w
	}
	if gy > h {
		gy = h
	}
	tw := (w + gx - 1) / gx
	th := (h + gy - 1) / gy
	gx = (w + tw - 1) / tw
	gy = (h + th - 1) / th

	luts := make([][256]uint8, gx*gy)
	for ty := 0; ty < gy; ty++ {
		for tx := 0; tx < gx; tx++ {
			x0, y0 := tx*tw, ty*th
			x1, y1 := min(x0+tw, w), min(y0+th, h)

			var hist [256]int
			for y := y0; y < y1; y++ {
				row := src.Pix[y*src.Stride:]
				for x := x0; x < x1; x++ {
					hist[row[x]]++
				}
			}
			count := (x1 - x0) * (y1 - y0)

			limit := int(clipLimit * float64(count) / 256)
			if limit < 1 {
				limit = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > limit {
					excess += hist[i] - limit
					hist[i] = limit
				}
			}
			bonus, rest := excess/256, excess%256
			for i := range hist {
				hist[i] += bonus
				if i < rest {
					hist[i]++
				}
			}

			lut := &luts[ty*gx+tx]
			cdf := 0
			for i := range hist {
				cdf += hist[i]
				lut[i] = clampByte(float64(cdf) * 255 / float64(count))
			}
		}
	}

	dst := newGray(w, h)
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(th) - 0.5
		ty0 := int(math.Floor(fy))
		ay := fy - float64(ty0)
		ty1 := clampInt(ty0+1, 0, gy-1)
		ty0 = clampInt(ty0, 0, gy-1)
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tw) - 0.5
			tx0 := int(math.Floor(fx))
			ax := fx - float64(tx0)
			tx1 := clampInt(tx0+1, 0, gx-1)
			tx0 = clampInt(tx0, 0, gx-1)

			v := src.Pix[y*src.Stride+x]
			top := (1-ax)*float64(luts[ty0*gx+tx0][v]) + ax*float64(luts[ty0*gx+tx1][v])
			bot := (1-ax)*float64(luts[ty1*gx+tx0][v]) + ax*float64(luts[ty1*gx+tx1][v])
			dst.Pix[y*dst.Stride+x] = clampByte((1-ay)*top + ay*bot)
		}
	}
	return dst
}

// bilateral smooths flat regions while keeping stroke edges sharp.
// Strength scales both the window radius and the colour sigma.
func bilateral(src *image.Gray, strength int) *image.Gray {
	radius := clampInt(strength/3, 1, 5)
	sigmaColor := 10 * float64(strength)
	sigmaSpace := float64(radius)

	var colorW [256]float64
	for i := range colorW {
		colorW[i] = math.Exp(-float64(i*i) / (2 * sigmaColor * sigmaColor))
	}
	size := 2*radius + 1
	spaceW := make([]float64, size*size)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			spaceW[(dy+radius)*size+dx+radius] = math.Exp(-float64(dx*dx+dy*dy) / (2 * sigmaSpace * sigmaSpace))
		}
	}

	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := newGray(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := int(src.Pix[y*src.Stride+x])
			var sum, norm float64
			for dy := -radius; dy <= radius; dy++ {
				yy := clampInt(y+dy, 0, h-1)
				row := src.Pix[yy*src.Stride:]
				for dx := -radius; dx <= radius; dx++ {
					v := int(row[clampInt(x+dx, 0, w-1)])
					d := v - c
					if d < 0 {
						d = -d
					}
					wt := spaceW[(dy+radius)*size+dx+radius] * colorW[d]
					sum += wt * float64(v)
					norm += wt
				}
			}
			dst.Pix[y*dst.Stride+x] = clampByte(sum / norm)
		}
	}
	return dst
}

// median replaces each pixel with its square neighbourhood median.
func median(src *image.Gray, strength int) *image.Gray {
	radius := clampInt(strength/8, 1, 3)
	return filterGray(src, gift.Median(2*radius+1, false))
}

// adaptiveThreshold marks a pixel as paper when it is brighter than its
// window mean minus offset. Window sums come from an integral image.
func adaptiveThreshold(src *image.Gray, block, offset int) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(src.Pix[y*src.Stride+x])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}

	r := block / 2
	dst := newGray(w, h)
	for y := 0; y < h; y++ {
		y0, y1 := max(y-r, 0), min(y+r+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-r, 0), min(x+r+1, w)
			sum := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
			n := int64((x1 - x0) * (y1 - y0))
			mean := float64(sum) / float64(n)
			if float64(src.Pix[y*src.Stride+x]) > mean-float64(offset) {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// sharpen applies the 3x3 kernel with centre 9 and -1 neighbours.
func sharpen(src *image.Gray) *image.Gray {
	return filterGray(src, gift.Convolution(sharpenKernel, false, false, false, 0))
}

var sharpenKernel = []float32{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

// otsuLevel returns the global threshold maximizing between-class variance.
func otsuLevel(src *image.Gray) uint8 {
	var hist [256]int
	for _, v := range src.Pix {
		hist[v]++
	}
	total := len(src.Pix)
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var sumB float64
	var wB int
	best, level := -1.0, 0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = t
		}
	}
	return uint8(level)
}

func otsuThreshold(src *image.Gray) *image.Gray {
	level := otsuLevel(src)
	dst := newGray(src.Bounds().Dx(), src.Bounds().Dy())
	for i, v := range src.Pix {
		if v > level {
			dst.Pix[i] = 255
		}
	}
	return dst
}

// morph works on dark ink: opening erodes then dilates the ink, closing
// dilates then erodes. A local maximum shrinks ink, a local minimum grows it.
func morph(src *image.Gray, mode MorphologyMode, k int) *image.Gray {
	if k <= 1 {
		return src
	}
	switch mode {
	case MorphOpen:
		return filterGray(src, gift.Maximum(k, false), gift.Minimum(k, false))
	case MorphClose:
		return filterGray(src, gift.Minimum(k, false), gift.Maximum(k, false))
	default:
		return src
	}
}

// darkCount returns how many pixels are ink-dark.
func darkCount(img *image.Gray) int {
	n := 0
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for _, v := range row {
			if v < inkThreshold {
				n++
			}
		}
	}
	return n
}

func invert(src *image.Gray) *image.Gray {
	return filterGray(src, gift.Invert())
}

// filterGray runs a gift chain over a grayscale page. The result is a new
// zero-origin page sized by the chain.
func filterGray(src *image.Gray, filters ...gift.Filter) *image.Gray {
	g := gift.New(filters...)
	b := g.Bounds(src.Bounds())
	dst := newGray(b.Dx(), b.Dy())
	g.Draw(dst, src)
	return dst
}

// medianOf is used by deskew scoring.
func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	return s[len(s)/2]
}
