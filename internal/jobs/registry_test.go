package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry()
	job := r.Create("process_chapter", "ch-1")
	if job.State != StateQueued || job.ID == "" {
		t.Fatalf("unexpected new job: %+v", job)
	}

	got, err := r.Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Kind != "process_chapter" || got.ChapterID != "ch-1" {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestUpdateProgress(t *testing.T) {
	r := NewRegistry()
	job := r.Create("process_chapter", "ch-1")

	err := r.Update(job.ID, func(j *Job) {
		j.State = StateRunning
		j.TotalChunks = 10
		j.DoneChunks = 3
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := r.Get(job.ID)
	if got.State != StateRunning || got.DoneChunks != 3 {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := r.Update("nope", func(j *Job) {}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	job := r.Create("restitch", "ch-1")

	got, _ := r.Get(job.ID)
	got.State = StateFailed

	again, _ := r.Get(job.ID)
	if again.State != StateQueued {
		t.Fatal("mutation of returned copy leaked into registry")
	}
}

func TestListNewestFirst(t *testing.T) {
	r := NewRegistry()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	})

	first := r.Create("a", "")
	second := r.Create("b", "")

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatal("expected newest-first ordering")
	}
}
