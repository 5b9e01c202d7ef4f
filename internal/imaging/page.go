package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Origin carries optional metadata about where a page came from.
type Origin struct {
	// PageIndex is the zero-based position within the document.
	PageIndex int `json:"page_index"`

	// DPI is the source scan resolution, 0 when unknown.
	DPI int `json:"dpi,omitempty"`

	// Source is a file name or other caller-provided label.
	Source string `json:"source,omitempty"`
}

// PageImage is an immutable raster page. Every transform returns a new PageImage;
// the pixels are owned by the value and never handed out for writing.
type PageImage struct {
	img    image.Image
	origin Origin
}

// NewPageImage copies img into a new PageImage. The copy is rebased to a
// zero origin so later stages can index pixels directly.
func NewPageImage(img image.Image, origin Origin) (*PageImage, error) {
	const op = "NewPageImage"

	if img == nil {
		return nil, NewImageError(op, ErrInvalidImage, "nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, NewImageError(op, ErrInvalidImage, fmt.Sprintf("zero-area image %dx%d", b.Dx(), b.Dy()))
	}

	return &PageImage{img: cloneImage(img), origin: origin}, nil
}

func newPage(img *image.Gray, origin Origin) *PageImage {
	return &PageImage{img: img, origin: origin}
}

// Width returns the page width in pixels.
func (p *PageImage) Width() int { return p.img.Bounds().Dx() }

// Height returns the page height in pixels.
func (p *PageImage) Height() int { return p.img.Bounds().Dy() }

// Origin returns the page metadata.
func (p *PageImage) Origin() Origin { return p.origin }

// IsGray reports whether the page is already single-channel.
func (p *PageImage) IsGray() bool {
	_, ok := p.img.(*image.Gray)
	return ok
}

// Format names the pixel format: "gray" or "rgba".
func (p *PageImage) Format() string {
	if p.IsGray() {
		return "gray"
	}
	return "rgba"
}

// Gray returns a grayscale copy of the page.
func (p *PageImage) Gray() *image.Gray {
	return toGray(p.img)
}

// Image returns a copy of the page pixels.
func (p *PageImage) Image() image.Image {
	return cloneImage(p.img)
}

// WithOrigin returns the same pixels with different metadata.
func (p *PageImage) WithOrigin(origin Origin) *PageImage {
	return &PageImage{img: p.img, origin: origin}
}

// EncodePNG writes the page as PNG. Engines receive pages in this form.
func (p *PageImage) EncodePNG(w io.Writer) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, p.img); err != nil {
		return WrapImageError("EncodePNG", err, "")
	}
	return nil
}

// PNG returns the page encoded as PNG bytes.
func (p *PageImage) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a PNG, JPEG, GIF, TIFF, BMP or WebP page.
func Decode(r io.Reader, origin Origin) (*PageImage, error) {
	const op = "Decode"

	img, format, err := image.Decode(r)
	if err != nil {
		if err == image.ErrFormat {
			return nil, NewImageError(op, ErrUnsupportedFormat, origin.Source)
		}
		return nil, NewImageError(op, ErrInvalidImage, err.Error())
	}

	page, err := NewPageImage(img, origin)
	if err != nil {
		return nil, WrapImageError(op, err, format)
	}
	return page, nil
}

// LoadFile decodes the page stored at path.
func LoadFile(path string, pageIndex int) (*PageImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapImageError("LoadFile", err, path)
	}
	defer f.Close()

	return Decode(f, Origin{PageIndex: pageIndex, Source: path})
}

func cloneImage(src image.Image) image.Image {
	b := src.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())
	if g, ok := src.(*image.Gray); ok {
		dst := image.NewGray(rect)
		draw.Draw(dst, rect, g, b.Min, draw.Src)
		return dst
	}
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, src, b.Min, draw.Src)
	return dst
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
