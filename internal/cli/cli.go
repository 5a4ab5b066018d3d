package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"scrollstitch/internal/config"
	"scrollstitch/internal/grpcserver"
	"scrollstitch/internal/pipeline"
	"scrollstitch/internal/server"
	"scrollstitch/internal/stitch"
	"scrollstitch/internal/storage"
	"scrollstitch/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type planStore interface {
	RecentJobs(limit int) ([]storage.JobRecord, error)
	LoadPlan(id string) (storage.PlanRecord, error)
	ListPlans(limit int) ([]storage.PlanRecord, error)
}

type adjuster interface {
	AdjustPlan(ctx context.Context, req tasks.AdjustRequest) (stitch.PlanState, error)
}

type serveOptions struct {
	HTTPAddr string
	GRPCAddr string
	Watch    []string
}

type serverFunc func(ctx context.Context, r *Root, opts serveOptions) error

// Root wires CLI commands to the pipeline, the plan store and the runner.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    planStore
	adjuster adjuster
	serveFn  serverFunc
}

// NewRoot constructs the CLI root.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store planStore, adj adjuster) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		adjuster: adj,
		serveFn:  defaultServe,
	}
}

// defaultServe runs the HTTP API, the gRPC service when an address is set, and the inbox
// watcher when directories are given, until ctx is cancelled or a listener fails.
func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	srv := server.NewServer(opts.HTTPAddr, r.store, r.pipeline, r.adjuster, r.log)
	go func() { errCh <- srv.Start(ctx) }()

	if opts.GRPCAddr != "" {
		svc := grpcserver.NewStitchService(r.pipeline, r.store, r.adjuster, r.log)
		go func() { errCh <- grpcserver.Serve(ctx, opts.GRPCAddr, svc, r.log) }()
	}

	if len(opts.Watch) > 0 {
		w, err := r.startInbox(opts.Watch)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (r *Root) startInbox(dirs []string) (*tasks.InboxWatcher, error) {
	w, err := tasks.NewInboxWatcher(dirs, r.cfg.Watch.SettleDelay.Duration, r.submitBatch, r.log)
	if err != nil {
		return nil, fmt.Errorf("create inbox watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return nil, fmt.Errorf("start inbox watcher: %w", err)
	}
	return w, nil
}

// submitBatch turns a settled inbox batch into a job.
func (r *Root) submitBatch(b tasks.Batch) {
	req := pipeline.Request{Type: pipeline.JobScreenshots, Inputs: b.Files, Output: r.cfg.Watch.OutputDir}
	if b.Video {
		req = pipeline.Request{Type: pipeline.JobVideo, Input: b.Files[0], Output: r.cfg.Watch.OutputDir}
	}
	job, err := req.Job()
	if err != nil {
		r.log.Error("Inbox batch rejected", "dir", b.Dir, "error", err)
		return
	}
	if err := r.enqueue(context.Background(), job); err != nil {
		r.log.Error("Inbox batch not queued", "dir", b.Dir, "error", err)
	}
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// parseOffsets reads "index:delta" pairs such as "2:-14".
func parseOffsets(pairs []string) (map[int]int, error) {
	offsets := make(map[int]int, len(pairs))
	for _, p := range pairs {
		idx, delta, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("offset %q: expected index:delta", p)
		}
		i, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return nil, fmt.Errorf("offset %q: bad index: %w", p, err)
		}
		d, err := strconv.Atoi(strings.TrimSpace(delta))
		if err != nil {
			return nil, fmt.Errorf("offset %q: bad delta: %w", p, err)
		}
		offsets[i] += d
	}
	return offsets, nil
}

func printResult(w io.Writer, res pipeline.Result) {
	meta := res.Meta
	fmt.Fprintf(w, "Job:    %s (%s)\n", res.Job.ID, res.Status())
	if plan, ok := meta["plan"]; ok {
		fmt.Fprintf(w, "Plan:   %v\n", plan)
	}
	if out, ok := meta["output"]; ok {
		fmt.Fprintf(w, "Output: %v\n", out)
	}
	if width, ok := meta["width"]; ok {
		fmt.Fprintf(w, "Size:   %vx%v\n", width, meta["height"])
	}
	if sampled, ok := meta["sampled"]; ok {
		fmt.Fprintf(w, "Frames: %v sampled, %v keyframes\n", sampled, meta["images"])
	}
	if warning, ok := meta["warning"]; ok {
		fmt.Fprintf(w, "Warning: %v\n", warning)
	}
}
