package grpcserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/pipeline"
	"scrollstitch/internal/stitch"
	"scrollstitch/internal/storage"
	"scrollstitch/internal/tasks"
)

type stubQueue struct {
	mu      sync.Mutex
	jobs    []pipeline.Job
	err     error
	results chan pipeline.Result
	subbed  chan struct{}
}

func (q *stubQueue) Submit(job pipeline.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Subscribe() (<-chan pipeline.Result, func()) {
	close(q.subbed)
	return q.results, func() {}
}

type stubPlans map[string]storage.PlanRecord

func (p stubPlans) LoadPlan(id string) (storage.PlanRecord, error) {
	rec, ok := p[id]
	if !ok {
		return storage.PlanRecord{}, apperrors.NewNotFoundError("plan "+id, nil)
	}
	return rec, nil
}

type stubAdjuster struct {
	got tasks.AdjustRequest
}

func (a *stubAdjuster) AdjustPlan(ctx context.Context, req tasks.AdjustRequest) (stitch.PlanState, error) {
	a.got = req
	if req.Top < 0 {
		return stitch.PlanState{}, apperrors.NewValidationError("negative crop", stitch.ErrOffsetBeforePrevious)
	}
	return stitch.PlanState{ID: req.PlanID, Heights: []int{100, 100}, TopCrop: req.Top}, nil
}

func startService(t *testing.T, q *stubQueue, adj *stubAdjuster) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	plans := stubPlans{"plan-1": {ID: "plan-1", JobID: "job-1", Inputs: []string{"a.png", "b.png"}}}
	RegisterStitcherServer(srv, NewStitchService(q, plans, adj, slog.New(slog.NewTextHandler(io.Discard, nil))))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func newQueue() *stubQueue {
	return &stubQueue{results: make(chan pipeline.Result, 4), subbed: make(chan struct{})}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestSubmitQueuesJob(t *testing.T) {
	q := newQueue()
	client := startService(t, q, &stubAdjuster{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := client.Submit(ctx, mustStruct(t, map[string]any{
		"type":   "screenshots",
		"inputs": []any{"a.png", "b.png"},
		"mode":   "list",
	}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(q.jobs))
	}
	if got := out.Fields["id"].GetStringValue(); got != q.jobs[0].ID {
		t.Fatalf("expected id %q, got %q", q.jobs[0].ID, got)
	}
	if q.jobs[0].Options["mode"] != "list" {
		t.Fatalf("expected mode option, got %v", q.jobs[0].Options)
	}
}

func TestSubmitErrors(t *testing.T) {
	q := newQueue()
	client := startService(t, q, &stubAdjuster{})
	ctx := context.Background()

	_, err := client.Submit(ctx, mustStruct(t, map[string]any{"type": "bogus"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	q.err = pipeline.ErrQueueFull
	_, err = client.Submit(ctx, mustStruct(t, map[string]any{"type": "video", "input": "rec.mp4"}))
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestGetPlan(t *testing.T) {
	client := startService(t, newQueue(), &stubAdjuster{})
	ctx := context.Background()

	out, err := client.GetPlan(ctx, mustStruct(t, map[string]any{"id": "plan-1"}))
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got := out.Fields["job_id"].GetStringValue(); got != "job-1" {
		t.Fatalf("expected job-1, got %q (%v)", got, out)
	}

	_, err = client.GetPlan(ctx, mustStruct(t, map[string]any{"id": "missing"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	_, err = client.GetPlan(ctx, mustStruct(t, map[string]any{}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestAdjust(t *testing.T) {
	adj := &stubAdjuster{}
	client := startService(t, newQueue(), adj)
	ctx := context.Background()

	out, err := client.Adjust(ctx, mustStruct(t, map[string]any{
		"id":      "plan-1",
		"top":     12,
		"offsets": map[string]any{"1": -4},
	}))
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adj.got.PlanID != "plan-1" || adj.got.Top != 12 || adj.got.Offsets[1] != -4 {
		t.Fatalf("unexpected adjust request %+v", adj.got)
	}
	if got := out.Fields["top_crop"].GetNumberValue(); got != 12 {
		t.Fatalf("expected top_crop 12, got %v", got)
	}

	_, err = client.Adjust(ctx, mustStruct(t, map[string]any{"id": "plan-1", "top": -1}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestWatchFiltersByID(t *testing.T) {
	q := newQueue()
	client := startService(t, q, &stubAdjuster{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Watch(ctx, mustStruct(t, map[string]any{"id": "job-2"}))
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	select {
	case <-q.subbed:
	case <-ctx.Done():
		t.Fatalf("watch never subscribed")
	}
	q.results <- pipeline.Result{Job: pipeline.Job{ID: "job-1", Type: pipeline.JobVideo}}
	q.results <- pipeline.Result{Job: pipeline.Job{ID: "job-2", Type: pipeline.JobRender}, Meta: map[string]any{"height": 300}}

	ev, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if ev.Fields["id"].GetStringValue() != "job-2" || ev.Fields["status"].GetStringValue() != "completed" {
		t.Fatalf("unexpected event %v", ev)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("expected stream end, got %v", err)
	}
}
