package storage

import (
	"path/filepath"
	"slices"
	"testing"

	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/stitch"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "scrollstitch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePlan(id string) stitch.PlanState {
	return stitch.PlanState{
		ID:         id,
		Mode:       stitch.ModeGeneric,
		Widths:     []int{100, 100},
		Heights:    []int{200, 200},
		Offsets:    []int{0, 150},
		SelfStarts: []int{0, 50},
		Sources:    []int{1, 0},
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openStore(t)
	if err := s.RecordJobQueued(JobRecord{ID: "job-1", JobType: "screenshots", Status: "queued", InputPath: "in", OutputPath: "out.png"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordJobStart("job-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordJobResult("job-1", "completed", map[string]any{"plan": "p-1", "images": 3}, ""); err != nil {
		t.Fatalf("result: %v", err)
	}

	jobs, err := s.RecentJobs(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != "completed" || jobs[0].StartedAt == nil || jobs[0].CompletedAt == nil {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	meta, err := s.JobMeta("job-1")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta["plan"] != "p-1" || meta["images"] != float64(3) {
		t.Fatalf("unexpected meta %v", meta)
	}
	if _, err := s.JobMeta("missing"); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveAndLoadPlan(t *testing.T) {
	s := openStore(t)
	inputs := []string{"/tmp/s/0.png", "/tmp/s/1.png"}
	if err := s.SavePlan("job-1", inputs, samplePlan("plan-1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	adjusted := samplePlan("plan-1")
	adjusted.TopCrop = 20
	if err := s.SavePlan("job-1", nil, adjusted); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := s.LoadPlan("plan-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !slices.Equal(rec.Inputs, inputs) {
		t.Fatalf("expected inputs to survive update, got %v", rec.Inputs)
	}
	if rec.State.TopCrop != 20 || !slices.Equal(rec.State.Sources, []int{1, 0}) {
		t.Fatalf("unexpected state %+v", rec.State)
	}
	if rec.JobID != "job-1" {
		t.Fatalf("expected job id, got %q", rec.JobID)
	}

	if _, err := s.LoadPlan("nope"); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListPlans(t *testing.T) {
	s := openStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.SavePlan("", []string{id + ".png"}, samplePlan(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	plans, err := s.ListPlans(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	if plans[0].ID != "c" || plans[1].ID != "b" {
		t.Fatalf("expected newest first, got %s, %s", plans[0].ID, plans[1].ID)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatalf("expected nil store to ignore writes, got %v", err)
	}
	if err := s.SavePlan("", nil, samplePlan("x")); err != nil {
		t.Fatalf("expected nil store to ignore plan writes, got %v", err)
	}
	if _, err := s.LoadPlan("x"); err == nil {
		t.Fatalf("expected error reading from nil store")
	}
}
