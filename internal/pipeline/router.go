package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/stitch"
	"scrollstitch/internal/tasks"
)

// Runner is the task layer the router dispatches to.
type Runner interface {
	StitchScreenshots(ctx context.Context, req tasks.ScreenshotRequest) (tasks.StitchResult, error)
	StitchVideo(ctx context.Context, req tasks.VideoRequest) (tasks.StitchResult, error)
	RenderPlan(ctx context.Context, req tasks.RenderRequest) (tasks.StitchResult, error)
}

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log    *slog.Logger
	runner Runner
}

// NewRouter returns the Processor that executes stitch jobs with runner.
func NewRouter(logger *slog.Logger, runner Runner) Processor {
	return &router{log: logger, runner: runner}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobScreenshots:
		return r.handleScreenshots(ctx, job)
	case JobVideo:
		return r.handleVideo(ctx, job)
	case JobRender:
		return r.handleRender(ctx, job)
	default:
		return Result{Job: job, Error: apperrors.NewValidationError(fmt.Sprintf("unknown job type: %s", job.Type), nil)}
	}
}

func (r *router) handleScreenshots(ctx context.Context, job Job) Result {
	inputs := getStringsOption(job.Options, "inputs")
	if len(inputs) == 0 && job.InputPath != "" {
		inputs = []string{job.InputPath}
	}
	var mode stitch.Mode
	if name := getStringOption(job.Options, "mode"); name != "" {
		m, err := stitch.ParseMode(name)
		if err != nil {
			return Result{Job: job, Error: apperrors.NewValidationError("invalid mode", err)}
		}
		mode = m
	}
	reorder := true
	if v, ok := job.Options["reorder"].(bool); ok {
		reorder = v
	}

	res, err := r.runner.StitchScreenshots(ctx, tasks.ScreenshotRequest{
		JobID:   job.ID,
		Inputs:  inputs,
		Output:  job.Output,
		Mode:    mode,
		Reorder: reorder,
	})
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: res.Meta()}
}

func (r *router) handleVideo(ctx context.Context, job Job) Result {
	res, err := r.runner.StitchVideo(ctx, tasks.VideoRequest{
		JobID:  job.ID,
		Input:  job.InputPath,
		Output: job.Output,
	})
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: res.Meta()}
}

func (r *router) handleRender(ctx context.Context, job Job) Result {
	planID := job.InputPath
	if planID == "" {
		planID = getStringOption(job.Options, "plan")
	}
	if planID == "" {
		return Result{Job: job, Error: apperrors.NewValidationError("render job needs a plan id", nil)}
	}
	res, err := r.runner.RenderPlan(ctx, tasks.RenderRequest{
		PlanID: planID,
		Output: job.Output,
		Full:   getBoolOption(job.Options, "full"),
	})
	if err != nil {
		return Result{Job: job, Error: err}
	}
	meta := res.Meta()
	meta["full"] = getBoolOption(job.Options, "full")
	return Result{Job: job, Meta: meta}
}

// Helper functions to safely extract typed options from job.Options map. Options decoded
// from JSON carry []any instead of []string.
func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func getStringOption(options map[string]any, key string) string {
	if val, ok := options[key].(string); ok {
		return strings.TrimSpace(val)
	}
	return ""
}

func getStringsOption(options map[string]any, key string) []string {
	switch v := options[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
