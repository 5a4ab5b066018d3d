package imageio

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

func checker(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/4+y/4)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 10, G: 220, B: 30, A: 255})
			}
		}
	}
	return img
}

func TestSaveLoadLossless(t *testing.T) {
	src := checker(16, 24)
	for _, name := range []string{"out.png", "out.tiff"} {
		path := filepath.Join(t.TempDir(), "nested", name)
		if err := Save(path, src, 0); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if got.Bounds() != src.Bounds() {
			t.Fatalf("%s: expected bounds %v, got %v", name, src.Bounds(), got.Bounds())
		}
		r, g, b, _ := got.At(5, 1).RGBA()
		if r>>8 != 10 || g>>8 != 220 || b>>8 != 30 {
			t.Fatalf("%s: unexpected pixel %d,%d,%d", name, r>>8, g>>8, b>>8)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := map[string]string{
		"a.JPEG": "jpg",
		"a.tif":  "tiff",
		"a.webp": "webp",
		"a.xyz":  "png",
	}
	for path, want := range cases {
		if got := Format(path, "png"); got != want {
			t.Fatalf("Format(%q) = %q, want %q", path, got, want)
		}
	}
}
