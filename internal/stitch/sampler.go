package stitch

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// PixelBuffer is a downsampled, interleaved RGBA copy of an image used for cheap
// comparisons. It is never mutated after creation and may be shared between
// comparisons against the same source image.
type PixelBuffer struct {
	Pix          []byte
	Width        int
	Height       int
	Scale        float64
	SourceWidth  int
	SourceHeight int
}

// Empty reports whether the buffer holds no pixels. Empty buffers never match.
func (b PixelBuffer) Empty() bool {
	return b.Width <= 0 || b.Height <= 0 || len(b.Pix) < b.Width*b.Height*4
}

func (b PixelBuffer) offset(x, y int) int {
	return (y*b.Width + x) * 4
}

// scaledDim keeps floor semantics while absorbing float noise such as 30*0.1 = 2.9999.
func scaledDim(n int, scale float64) int {
	return int(math.Floor(float64(n)*scale + 1e-9))
}

// Downsample reduces img by scale using a Catmull-Rom kernel, which widens its support
// when shrinking and therefore averages over the source area. The output is
// deterministic for a given image and scale.
func Downsample(img image.Image, scale float64) PixelBuffer {
	buf := PixelBuffer{Scale: scale}
	if img == nil || scale <= 0 {
		return buf
	}
	b := img.Bounds()
	buf.SourceWidth, buf.SourceHeight = b.Dx(), b.Dy()

	w, h := scaledDim(b.Dx(), scale), scaledDim(b.Dy(), scale)
	if w <= 0 || h <= 0 {
		return buf
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)

	buf.Pix = dst.Pix
	buf.Width = w
	buf.Height = h
	return buf
}

// rowsRGBA copies rows [y0, y1) of img into a fresh RGBA image whose origin is (0, y0).
// It is used for native-resolution refinement where only a narrow band is needed.
func rowsRGBA(img image.Image, y0, y1 int) *image.RGBA {
	b := img.Bounds()
	rect := image.Rect(0, y0, b.Dx(), y1)
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, img, image.Pt(b.Min.X, b.Min.Y+y0), draw.Src)
	return dst
}
