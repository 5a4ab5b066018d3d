package tasks

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"

	"scrollstitch/internal/config"
	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/fsutil"
	"scrollstitch/internal/imageio"
	"scrollstitch/internal/logging"
	"scrollstitch/internal/remote"
	"scrollstitch/internal/stitch"
	"scrollstitch/internal/storage"
	"scrollstitch/internal/video"
)

// PlanStore persists plans and the session copies of their inputs.
type PlanStore interface {
	SavePlan(jobID string, inputs []string, state stitch.PlanState) error
	LoadPlan(id string) (storage.PlanRecord, error)
}

// FrameStream is an opened, sampled recording.
type FrameStream interface {
	stitch.FrameSource
	Info() video.Info
	Close() error
}

// ScreenshotRequest stitches a set of screenshots. Inputs may be files, directories or
// az:// locations.
type ScreenshotRequest struct {
	JobID   string
	Inputs  []string
	Output  string
	Mode    stitch.Mode
	Reorder bool
}

// VideoRequest stitches the keyframes of one screen recording.
type VideoRequest struct {
	JobID  string
	Input  string
	Output string
}

// RenderRequest re-renders a stored plan.
type RenderRequest struct {
	PlanID string
	Output string
	Full   bool
}

// AdjustRequest applies manual corrections to a stored plan. Offsets maps an interior
// image index to a row delta.
type AdjustRequest struct {
	PlanID  string
	Top     int
	Bottom  int
	Offsets map[int]int
}

// StitchResult describes a written stitch.
type StitchResult struct {
	PlanID     string
	OutputFile string
	Width      int
	Height     int
	ImageCount int
	Fallbacks  []int
	Warning    string
	Bytes      int64
	Plan       stitch.PlanState

	// video only
	Sampled  int
	Segments int
	Aborted  bool
}

// Meta flattens the result for job records and notifications.
func (r StitchResult) Meta() map[string]any {
	meta := map[string]any{
		"plan":      r.PlanID,
		"output":    r.OutputFile,
		"width":     r.Width,
		"height":    r.Height,
		"images":    r.ImageCount,
		"fallbacks": r.Fallbacks,
		"bytes":     r.Bytes,
		"mean_diff": r.Plan.MeanDiff,
	}
	if r.Warning != "" {
		meta["warning"] = r.Warning
	}
	if r.Sampled > 0 {
		meta["sampled"] = r.Sampled
		meta["segments"] = r.Segments
		meta["aborted"] = r.Aborted
	}
	return meta
}

// Runner executes stitch, render and adjust tasks against the plan store.
type Runner struct {
	stitcher    *stitch.Stitcher
	store       PlanStore
	remote      remote.Store
	defaultMode stitch.Mode
	compose     config.ComposeConfig
	sessionDir  string
	outputDir   string
	logger      *slog.Logger

	openVideo func(ctx context.Context, path string) (FrameStream, error)

	adjustMu sync.Mutex
}

// NewRunner wires a runner from configuration. rs may be nil when no remote storage is configured.
func NewRunner(cfg *config.Config, store PlanStore, rs remote.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	mode, err := stitch.ParseMode(cfg.Matcher.DefaultMode)
	if err != nil {
		mode = stitch.ModeGeneric
	}
	vopts := video.Options{
		Decoder:        cfg.Video.Decoder,
		TargetFPS:      cfg.Video.TargetFPS,
		DedupeDistance: cfg.Video.DedupeDistance,
		FFmpegPath:     cfg.Video.FFmpegPath,
		FFprobePath:    cfg.Video.FFprobePath,
	}
	r := &Runner{
		stitcher:    stitch.NewStitcher(cfg.StitchOptions(), logger),
		store:       store,
		remote:      rs,
		defaultMode: mode,
		compose:     cfg.Compose,
		sessionDir:  cfg.Paths.SessionDir,
		outputDir:   cfg.Paths.DefaultOutput,
		logger:      logger,
	}
	r.openVideo = func(ctx context.Context, path string) (FrameStream, error) {
		return video.Open(ctx, path, vopts, logger)
	}
	return r
}

// StitchScreenshots orders, matches and composes screenshots, then stores the plan.
func (r *Runner) StitchScreenshots(ctx context.Context, req ScreenshotRequest) (StitchResult, error) {
	session, err := r.session(req.JobID)
	if err != nil {
		return StitchResult{}, err
	}
	paths, err := r.resolveInputs(ctx, req.Inputs, session)
	if err != nil {
		return StitchResult{}, err
	}
	if len(paths) < 2 {
		return StitchResult{}, apperrors.NewInsufficientInput(fmt.Sprintf("need at least two screenshots, found %d", len(paths)), nil)
	}

	images, err := imageio.LoadAll(ctx, paths)
	if err != nil {
		return StitchResult{}, apperrors.NewDecoderFailure("load screenshots", err)
	}
	mode := req.Mode
	if mode == "" {
		mode = r.defaultMode
	}

	img, plan, warning, err := stitch.Result(r.stitcher.StitchImages(ctx, mode, images, req.Reorder))
	if err != nil {
		return StitchResult{}, err
	}

	inputs, err := stageSources(session, paths, plan.Sources)
	if err != nil {
		return StitchResult{}, apperrors.NewInternalError("stage sources", err)
	}
	return r.finish(ctx, req.JobID, req.Output, img, plan, warning, inputs)
}

// StitchVideo selects keyframes from a recording and composes them in capture order.
func (r *Runner) StitchVideo(ctx context.Context, req VideoRequest) (StitchResult, error) {
	session, err := r.session(req.JobID)
	if err != nil {
		return StitchResult{}, err
	}
	input := req.Input
	if remote.IsRemote(input) {
		files, err := r.download(ctx, input, filepath.Join(session, "remote"))
		if err != nil {
			return StitchResult{}, err
		}
		input = files[0]
	}

	src, err := r.openVideo(ctx, input)
	if err != nil {
		return StitchResult{}, err
	}
	defer src.Close()
	info := src.Info()
	logging.LogProcessingStep(r.logger, req.JobID, "decode", "opened", map[string]any{
		"fps":      info.FPS,
		"frames":   info.FrameCount,
		"duration": info.Duration.String(),
	})

	selection, err := r.stitcher.SelectFrames(ctx, src)
	if err != nil {
		return StitchResult{}, err
	}
	logging.LogProcessingStep(r.logger, req.JobID, "select", "done", map[string]any{
		"sampled":   selection.Sampled,
		"keyframes": len(selection.Frames),
		"segments":  len(selection.Segments),
		"discarded": selection.DiscardedBuffers,
		"aborted":   selection.Aborted,
	})

	inputs := make([]string, len(selection.Frames))
	for i, f := range selection.Frames {
		inputs[i] = filepath.Join(session, fmt.Sprintf("%03d-frame%05d.png", i, f.Index))
		if err := imageio.Save(inputs[i], f.Image, 0); err != nil {
			return StitchResult{}, apperrors.NewInternalError("save keyframe", err)
		}
	}

	img, plan, warning, err := stitch.Result(r.stitcher.ComposeFrames(ctx, selection.Frames))
	if err != nil {
		return StitchResult{}, err
	}
	res, err := r.finish(ctx, req.JobID, req.Output, img, plan, warning, inputs)
	if err != nil {
		return StitchResult{}, err
	}
	res.Sampled = selection.Sampled
	res.Segments = len(selection.Segments)
	res.Aborted = selection.Aborted
	return res, nil
}

// RenderPlan re-renders a stored plan as a preview, or at full resolution when req.Full is set.
func (r *Runner) RenderPlan(ctx context.Context, req RenderRequest) (StitchResult, error) {
	rec, err := r.store.LoadPlan(req.PlanID)
	if err != nil {
		return StitchResult{}, err
	}
	images, err := imageio.LoadAll(ctx, rec.Inputs)
	if err != nil {
		return StitchResult{}, apperrors.NewDecoderFailure(fmt.Sprintf("load sources of plan %s", req.PlanID), err)
	}

	var (
		img    *image.RGBA
		suffix string
	)
	if req.Full {
		img, err = stitch.RenderFullResolution(images, rec.State)
		suffix = "full"
	} else {
		scale := rec.State.PreviewScale
		if scale <= 0 {
			scale = r.compose.PreviewScale
		}
		img, err = stitch.Render(images, rec.State, scale)
		suffix = "preview"
	}
	if err != nil {
		return StitchResult{}, err
	}

	out, size, err := r.writeOutput(ctx, req.Output, rec.State.ID+"-"+suffix, img)
	if err != nil {
		return StitchResult{}, err
	}
	return StitchResult{
		PlanID:     rec.State.ID,
		OutputFile: out,
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
		ImageCount: rec.State.Len(),
		Fallbacks:  rec.State.Fallback,
		Bytes:      size,
		Plan:       rec.State,
	}, nil
}

// AdjustPlan applies req to the stored plan and saves the result. Interior offsets are
// applied first, in index order; any rejected step leaves the stored plan untouched.
func (r *Runner) AdjustPlan(ctx context.Context, req AdjustRequest) (stitch.PlanState, error) {
	r.adjustMu.Lock()
	defer r.adjustMu.Unlock()

	rec, err := r.store.LoadPlan(req.PlanID)
	if err != nil {
		return stitch.PlanState{}, err
	}
	plan, err := stitch.RestorePlan(rec.State)
	if err != nil {
		return stitch.PlanState{}, apperrors.NewInternalError(fmt.Sprintf("stored plan %s is invalid", req.PlanID), err)
	}

	indices := make([]int, 0, len(req.Offsets))
	for i := range req.Offsets {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	for _, i := range indices {
		if _, err := plan.AdjustInteriorOffset(i, req.Offsets[i]); err != nil {
			return rec.State, apperrors.NewValidationError(fmt.Sprintf("adjust image %d", i), err)
		}
	}
	if req.Top != 0 {
		plan.AdjustTopCrop(req.Top)
	}
	if req.Bottom != 0 {
		plan.AdjustBottomCrop(req.Bottom)
	}

	state := plan.Snapshot()
	if err := r.store.SavePlan(rec.JobID, nil, state); err != nil {
		return stitch.PlanState{}, apperrors.NewInternalError("save plan", err)
	}
	r.logger.Info("Adjusted plan",
		"plan", state.ID,
		"top_crop", state.TopCrop,
		"bottom_crop", state.BottomCrop,
		"height", state.CanvasHeight(),
		"fallbacks", len(state.Fallback))
	return state, nil
}

func (r *Runner) finish(ctx context.Context, jobID, output string, img *image.RGBA, plan stitch.PlanState, warning string, inputs []string) (StitchResult, error) {
	if err := r.store.SavePlan(jobID, inputs, plan); err != nil {
		return StitchResult{}, apperrors.NewInternalError("save plan", err)
	}
	out, size, err := r.writeOutput(ctx, output, plan.ID, img)
	if err != nil {
		return StitchResult{}, err
	}
	if warning != "" {
		r.logger.Warn("Stitch used fallback placement", "plan", plan.ID, "fallbacks", plan.Fallback)
	}
	return StitchResult{
		PlanID:     plan.ID,
		OutputFile: out,
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
		ImageCount: plan.Len(),
		Fallbacks:  plan.Fallback,
		Warning:    warning,
		Bytes:      size,
		Plan:       plan,
	}, nil
}

// writeOutput saves img to output, defaulting to <output dir>/<name>.<format>. A remote
// output is written locally first and then uploaded.
func (r *Runner) writeOutput(ctx context.Context, output, name string, img image.Image) (string, int64, error) {
	var target string
	if remote.IsRemote(output) {
		if r.remote == nil {
			return "", 0, apperrors.NewValidationError(output, remote.ErrNotConfigured)
		}
		target, output = output, ""
	}
	if output == "" {
		format := r.compose.OutputFormat
		if format == "" {
			format = "png"
		}
		output = filepath.Join(r.outputDir, name+"."+format)
	}

	if err := imageio.Save(output, img, r.compose.Quality); err != nil {
		return "", 0, apperrors.NewRenderFailure("write output", err)
	}
	var size int64
	if info, err := os.Stat(output); err == nil {
		size = info.Size()
	}
	b := img.Bounds()
	r.logger.Info("Wrote stitch",
		"output", output,
		"size", humanize.Bytes(uint64(size)),
		"dimensions", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()))

	if target != "" {
		if err := r.remote.Upload(ctx, output, target); err != nil {
			return "", 0, apperrors.NewInternalError("upload output", err)
		}
		return target, size, nil
	}
	return output, size, nil
}

func (r *Runner) session(jobID string) (string, error) {
	if jobID == "" {
		jobID = "adhoc"
	}
	dir := filepath.Join(r.sessionDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.NewInternalError("create session directory", err)
	}
	return dir, nil
}

// resolveInputs downloads remote locations and expands directories in input order.
func (r *Runner) resolveInputs(ctx context.Context, inputs []string, session string) ([]string, error) {
	var paths []string
	for i, in := range inputs {
		if !remote.IsRemote(in) {
			expanded, err := fsutil.ExpandInputs([]string{in})
			if err != nil {
				return nil, apperrors.NewNotFoundError(fmt.Sprintf("input %s", in), err)
			}
			paths = append(paths, expanded...)
			continue
		}
		files, err := r.download(ctx, in, filepath.Join(session, "remote", fmt.Sprint(i)))
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	return paths, nil
}

func (r *Runner) download(ctx context.Context, uri, dir string) ([]string, error) {
	if r.remote == nil {
		return nil, apperrors.NewValidationError(uri, remote.ErrNotConfigured)
	}
	files, err := r.remote.Download(ctx, uri, dir)
	if err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("download %s", uri), err)
	}
	return files, nil
}
