package tasks

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"scrollstitch/internal/config"
	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/imageio"
	"scrollstitch/internal/stitch"
	"scrollstitch/internal/storage"
	"scrollstitch/internal/video"
)

type memStore struct {
	mu    sync.Mutex
	plans map[string]storage.PlanRecord
}

func newMemStore() *memStore {
	return &memStore{plans: make(map[string]storage.PlanRecord)}
}

func (m *memStore) SavePlan(jobID string, inputs []string, state stitch.PlanState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.plans[state.ID]
	rec.ID, rec.JobID, rec.State = state.ID, jobID, state
	if len(inputs) > 0 {
		rec.Inputs = inputs
	}
	m.plans[state.ID] = rec
	return nil
}

func (m *memStore) LoadPlan(id string) (storage.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.plans[id]
	if !ok {
		return storage.PlanRecord{}, apperrors.NewNotFoundError("plan "+id, nil)
	}
	return rec, nil
}

type sliceStream struct {
	frames []image.Image
	pos    int
	closed bool
}

func (s *sliceStream) Next(ctx context.Context) (stitch.Frame, error) {
	if s.pos >= len(s.frames) {
		return stitch.Frame{}, io.EOF
	}
	f := stitch.Frame{Index: s.pos, Image: s.frames[s.pos]}
	s.pos++
	return f, nil
}

func (s *sliceStream) Info() video.Info { return video.Info{FPS: 3, FrameCount: len(s.frames)} }

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// strip renders rows [from, from+h) of an endless column of 10x20 coloured blocks.
func strip(from, h, w int, seed uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint32((from+y)/10)*0x9e3779b1 + uint32(x/20)*0x85ebca77 + seed*0xc2b2ae3d
			v ^= v >> 16
			v *= 0x85ebca6b
			v ^= v >> 13
			v *= 0xc2b2ae35
			v ^= v >> 16
			img.SetRGBA(x, y, color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 255})
		}
	}
	return img
}

func newTestRunner(t *testing.T) (*Runner, *memStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.SessionDir = t.TempDir()
	cfg.Paths.DefaultOutput = t.TempDir()
	store := newMemStore()
	return NewRunner(cfg, store, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func writeShots(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := imageio.Save(filepath.Join(dir, "shot-1.png"), strip(100, 200, 100, 1), 0); err != nil {
		t.Fatalf("write shot: %v", err)
	}
	if err := imageio.Save(filepath.Join(dir, "shot-2.png"), strip(0, 200, 100, 1), 0); err != nil {
		t.Fatalf("write shot: %v", err)
	}
	return dir
}

func TestStitchScreenshotsStoresPlanInOrder(t *testing.T) {
	r, store := newTestRunner(t)
	dir := writeShots(t)

	res, err := r.StitchScreenshots(context.Background(), ScreenshotRequest{
		JobID:   "job-1",
		Inputs:  []string{dir},
		Mode:    stitch.ModeGeneric,
		Reorder: true,
	})
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if res.Height != 300 || res.Width != 100 {
		t.Fatalf("expected 100x300 result, got %dx%d", res.Width, res.Height)
	}
	if !slices.Equal(res.Plan.Sources, []int{1, 0}) {
		t.Fatalf("expected sources [1 0], got %v", res.Plan.Sources)
	}
	if _, err := os.Stat(res.OutputFile); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if res.Bytes == 0 {
		t.Fatalf("expected output size")
	}
	if d, ok := res.Meta()["mean_diff"].(float64); !ok || d > 1 {
		t.Fatalf("expected near-zero mean_diff in job meta, got %v", res.Meta()["mean_diff"])
	}

	rec, err := store.LoadPlan(res.PlanID)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if len(rec.Inputs) != 2 || filepath.Base(rec.Inputs[0]) != "000.png" {
		t.Fatalf("unexpected staged inputs %v", rec.Inputs)
	}
	first, err := imageio.Load(rec.Inputs[0])
	if err != nil {
		t.Fatalf("load staged: %v", err)
	}
	want := strip(0, 200, 100, 1).RGBAAt(5, 5)
	if r, g, b, _ := first.At(5, 5).RGBA(); uint8(r>>8) != want.R || uint8(g>>8) != want.G || uint8(b>>8) != want.B {
		t.Fatalf("expected the top screenshot staged first")
	}
}

func TestStitchScreenshotsNeedsTwoImages(t *testing.T) {
	r, _ := newTestRunner(t)
	dir := t.TempDir()
	if err := imageio.Save(filepath.Join(dir, "only.png"), strip(0, 50, 50, 1), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := r.StitchScreenshots(context.Background(), ScreenshotRequest{Inputs: []string{dir}})
	if !apperrors.IsKind(err, apperrors.KindInsufficientInput) {
		t.Fatalf("expected insufficient input, got %v", err)
	}
}

func TestRemoteInputWithoutAccount(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.StitchScreenshots(context.Background(), ScreenshotRequest{Inputs: []string{"az://shots/batch/"}})
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRenderPlanPreviewAndFull(t *testing.T) {
	r, _ := newTestRunner(t)
	res, err := r.StitchScreenshots(context.Background(), ScreenshotRequest{JobID: "job-2", Inputs: []string{writeShots(t)}, Reorder: true})
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}

	full, err := r.RenderPlan(context.Background(), RenderRequest{PlanID: res.PlanID, Full: true})
	if err != nil {
		t.Fatalf("render full: %v", err)
	}
	if full.Height != 300 {
		t.Fatalf("expected full height 300, got %d", full.Height)
	}
	preview, err := r.RenderPlan(context.Background(), RenderRequest{PlanID: res.PlanID})
	if err != nil {
		t.Fatalf("render preview: %v", err)
	}
	if preview.Width != 50 || preview.Height != 150 {
		t.Fatalf("expected 50x150 preview, got %dx%d", preview.Width, preview.Height)
	}
	if _, err := r.RenderPlan(context.Background(), RenderRequest{PlanID: "missing"}); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdjustPlan(t *testing.T) {
	r, store := newTestRunner(t)
	res, err := r.StitchScreenshots(context.Background(), ScreenshotRequest{JobID: "job-3", Inputs: []string{writeShots(t)}, Reorder: true})
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}

	state, err := r.AdjustPlan(context.Background(), AdjustRequest{PlanID: res.PlanID, Top: 20, Offsets: map[int]int{1: -10}})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if state.TopCrop != 20 || state.Offsets[1] != res.Plan.Offsets[1]-10 {
		t.Fatalf("unexpected adjusted state %+v", state)
	}
	if state.CanvasHeight() != 270 {
		t.Fatalf("expected height 270, got %d", state.CanvasHeight())
	}

	_, err = r.AdjustPlan(context.Background(), AdjustRequest{PlanID: res.PlanID, Bottom: 5, Offsets: map[int]int{1: -1000}})
	if !errors.Is(err, stitch.ErrOffsetBeforePrevious) {
		t.Fatalf("expected ErrOffsetBeforePrevious, got %v", err)
	}
	rec, _ := store.LoadPlan(res.PlanID)
	if rec.State.BottomCrop != 0 || rec.State.Offsets[1] != state.Offsets[1] {
		t.Fatalf("rejected adjustment must not be stored, got %+v", rec.State)
	}
}

func TestStitchVideoSavesKeyframes(t *testing.T) {
	r, store := newTestRunner(t)
	stream := &sliceStream{frames: []image.Image{
		strip(0, 400, 200, 4),
		strip(10, 400, 200, 4),
		strip(120, 400, 200, 4),
	}}
	r.openVideo = func(ctx context.Context, path string) (FrameStream, error) { return stream, nil }

	res, err := r.StitchVideo(context.Background(), VideoRequest{JobID: "job-v", Input: "rec.mp4"})
	if err != nil {
		t.Fatalf("stitch video: %v", err)
	}
	if !stream.closed {
		t.Fatalf("expected stream to be closed")
	}
	if res.ImageCount != 2 || res.Sampled != 3 {
		t.Fatalf("expected 2 keyframes of 3 sampled, got %d of %d", res.ImageCount, res.Sampled)
	}
	rec, err := store.LoadPlan(res.PlanID)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if len(rec.Inputs) != 2 || filepath.Base(rec.Inputs[1]) != "001-frame00002.png" {
		t.Fatalf("unexpected keyframe files %v", rec.Inputs)
	}
	if rec.State.Mode != stitch.ModeVideo {
		t.Fatalf("expected video plan, got %s", rec.State.Mode)
	}
}
