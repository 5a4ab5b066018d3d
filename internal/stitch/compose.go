package stitch

import (
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	apperrors "scrollstitch/internal/errors"
)

// MaxCanvasPixels bounds the composed canvas; larger plans fail with a render error.
const MaxCanvasPixels = 1 << 28

// Compose renders images onto one canvas at native resolution following plan.
func Compose(images []image.Image, plan PlanState) (*image.RGBA, error) {
	return Render(images, plan, 1)
}

// RenderFullResolution is Compose under the name used by export paths.
func RenderFullResolution(images []image.Image, plan PlanState) (*image.RGBA, error) {
	return Render(images, plan, 1)
}

// Render composes the plan at scale. Offsets are always native; a scale below one only
// shrinks the output for previews. Narrower images are centred horizontally.
func Render(images []image.Image, plan PlanState, scale float64) (*image.RGBA, error) {
	if len(images) != plan.Len() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("plan %s expects %d images, got %d", plan.ID, plan.Len(), len(images)), nil)
	}
	if plan.Len() == 0 {
		return nil, apperrors.NewInsufficientInput("nothing to render", nil)
	}
	if scale <= 0 || scale > 1 {
		scale = 1
	}

	width, height := plan.CanvasWidth(), plan.CanvasHeight()
	cw, ch := scaledDim(width, scale), scaledDim(height, scale)
	if cw <= 0 || ch <= 0 {
		return nil, apperrors.NewRenderFailure(fmt.Sprintf("empty canvas %dx%d", cw, ch), nil)
	}
	if int64(cw)*int64(ch) > MaxCanvasPixels {
		return nil, apperrors.NewRenderFailure(fmt.Sprintf("canvas %dx%d exceeds %d pixels", cw, ch, MaxCanvasPixels), nil)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, cw, ch))

	for i, img := range images {
		if img == nil {
			return nil, apperrors.NewRenderFailure(fmt.Sprintf("image %d is missing", i), nil)
		}
		from, to, dstY := plan.span(i)
		if to <= from {
			continue
		}
		b := img.Bounds()
		src := image.Rect(b.Min.X, b.Min.Y+from, b.Max.X, b.Min.Y+to)
		x := (width - b.Dx()) / 2

		if scale == 1 {
			dst := image.Rect(x, dstY, x+b.Dx(), dstY+to-from)
			draw.Draw(canvas, dst, img, src.Min, draw.Src)
			continue
		}
		dst := image.Rect(
			scaledDim(x, scale), scaledDim(dstY, scale),
			scaledDim(x+b.Dx(), scale), scaledDim(dstY+to-from, scale),
		)
		if dst.Empty() {
			continue
		}
		xdraw.ApproxBiLinear.Scale(canvas, dst, img, src, xdraw.Src, nil)
	}
	return canvas, nil
}

// MergeImages draws upper in full and lower from below the overlap midpoint, producing a
// single reference frame. When the result is taller than maxHeight only the bottom
// maxHeight rows are kept. Without a confident overlap lower is stacked underneath.
func MergeImages(m *Matcher, upper, lower image.Image, maxHeight int) *image.RGBA {
	ub, lb := upper.Bounds(), lower.Bounds()
	cut := OverlapResult{TopY: ub.Dy()}
	if ov, ok := m.FindOverlap(upper, lower); ok {
		cut = ov
	}

	width := max(ub.Dx(), lb.Dx())
	height := cut.TopY + lb.Dy() - cut.BottomY
	full := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(full, image.Rect((width-ub.Dx())/2, 0, width, ub.Dy()), upper, ub.Min, draw.Src)

	lx := (width - lb.Dx()) / 2
	draw.Draw(full, image.Rect(lx, cut.TopY, lx+lb.Dx(), height), lower, image.Pt(lb.Min.X, lb.Min.Y+cut.BottomY), draw.Src)

	if maxHeight <= 0 || height <= maxHeight {
		return full
	}
	out := image.NewRGBA(image.Rect(0, 0, width, maxHeight))
	draw.Draw(out, out.Bounds(), full, image.Pt(0, height-maxHeight), draw.Src)
	return out
}
