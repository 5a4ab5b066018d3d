package stitch

import (
	"image"
	"image/color"
)

// strip renders rows [from, from+h) of an endless column of 10x20 coloured blocks. Two
// strips with the same seed agree wherever their row ranges intersect.
func strip(from, h, w int, seed uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, blockColor((from+y)/10, x/20, seed))
		}
	}
	return img
}

func blockColor(row, col int, seed uint32) color.RGBA {
	h := uint32(row)*0x9e3779b1 + uint32(col)*0x85ebca77 + seed*0xc2b2ae3d
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return color.RGBA{R: uint8(h), G: uint8(h >> 8), B: uint8(h >> 16), A: 255}
}

// rowBuffer builds a sampled buffer at scale 1 whose row y is the uniform gray rows[y].
func rowBuffer(rows []uint8, width int) PixelBuffer {
	buf := PixelBuffer{Pix: make([]byte, len(rows)*width*4), Width: width, Height: len(rows), Scale: 1}
	for y, v := range rows {
		for x := 0; x < width; x++ {
			o := buf.offset(x, y)
			buf.Pix[o], buf.Pix[o+1], buf.Pix[o+2], buf.Pix[o+3] = v, v, v, 255
		}
	}
	buf.SourceWidth, buf.SourceHeight = buf.Width, buf.Height
	return buf
}

// tintRed adds delta to the red channel of rows [y0, y1), saturating at 255.
func tintRed(img *image.RGBA, y0, y1, delta int) {
	for y := y0; y < y1; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			c := img.RGBAAt(x, y)
			c.R = uint8(min(int(c.R)+delta, 255))
			img.SetRGBA(x, y, c)
		}
	}
}

// copyRows overwrites rows [y0, y1) of dst with rows starting at src row from.
func copyRows(dst, src *image.RGBA, y0, y1, from int) {
	for y := y0; y < y1; y++ {
		for x := dst.Rect.Min.X; x < dst.Rect.Max.X; x++ {
			dst.SetRGBA(x, y, src.RGBAAt(x, from+y-y0))
		}
	}
}

// bufferProfile scans every row of scale-1 buffers with a fixed band.
func bufferProfile(band int) Profile {
	p := GenericProfile()
	p.Scale = 1
	p.HeaderRatio, p.FooterRatio = 0, 0
	p.BandRows, p.MinBandRows, p.MaxBandFrac = band, 1, 0
	p.ColumnStride = 1
	return p
}
