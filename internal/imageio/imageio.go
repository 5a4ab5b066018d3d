// Package imageio loads source screenshots and writes stitched results. Common formats go
// through Go decoders; anything else is routed through ImageMagick.
package imageio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gopkg.in/gographics/imagick.v3/imagick"
)

// Load decodes the image at path.
func Load(path string) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic", ".heif", ".avif":
		return loadWithMagick(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		if magick, merr := loadWithMagick(path); merr == nil {
			return magick, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// LoadAll decodes paths in order, stopping at the first failure or cancellation.
func LoadAll(ctx context.Context, paths []string) ([]image.Image, error) {
	images := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := Load(p)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func loadWithMagick(path string) (image.Image, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("imagemagick read %s: %w", path, err)
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return nil, err
	}
	blob, err := mw.GetImageBlob()
	if err != nil {
		return nil, fmt.Errorf("imagemagick export %s: %w", path, err)
	}
	return png.Decode(bytes.NewReader(blob))
}

// Format returns the normalised output format for path, or fallback when the extension
// is not recognised.
func Format(path, fallback string) string {
	switch ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext {
	case "jpg", "jpeg":
		return "jpg"
	case "png", "tif", "tiff", "webp":
		if ext == "tif" {
			return "tiff"
		}
		return ext
	default:
		return fallback
	}
}

// Save encodes img to path in the format implied by its extension. quality applies to
// lossy formats.
func Save(path string, img image.Image, quality int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := Encode(img, Format(path, "png"), quality)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Encode renders img in format ("png", "jpg", "tiff" or "webp").
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 92
	}
	var buf bytes.Buffer
	switch format {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	case "jpg", "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case "tiff":
		if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return nil, err
		}
	default:
		return encodeWithMagick(img, format, quality)
	}
	return buf.Bytes(), nil
}

func encodeWithMagick(img image.Image, format string, quality int) ([]byte, error) {
	var src bytes.Buffer
	if err := png.Encode(&src, img); err != nil {
		return nil, err
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImageBlob(src.Bytes()); err != nil {
		return nil, fmt.Errorf("imagemagick read blob: %w", err)
	}
	if err := mw.SetImageFormat(strings.ToUpper(format)); err != nil {
		return nil, fmt.Errorf("imagemagick format %s: %w", format, err)
	}
	if err := mw.SetImageCompressionQuality(uint(quality)); err != nil {
		return nil, err
	}
	blob, err := mw.GetImageBlob()
	if err != nil {
		return nil, fmt.Errorf("imagemagick encode %s: %w", format, err)
	}
	return blob, nil
}
