package pipeline

import (
	"testing"
	"time"
)

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "j1", Title: "doc", Status: StatusQueued, UpdatedAt: time.Now()}
	store.Put(job)

	if got := store.Get("j1"); got != job {
		t.Errorf("Get returned %v", got)
	}
	if got := store.Get("missing"); got != nil {
		t.Errorf("Get for unknown id = %v, want nil", got)
	}
}

func TestJobStore_CleanupEvictsExpired(t *testing.T) {
	store := NewJobStore(time.Minute)
	stale := &Job{ID: "stale", UpdatedAt: time.Now().Add(-2 * time.Minute)}
	fresh := &Job{ID: "fresh", UpdatedAt: time.Now()}
	store.Put(stale)
	store.Put(fresh)

	store.Cleanup()

	if store.Get("stale") != nil {
		t.Error("stale job survived cleanup")
	}
	if store.Get("fresh") == nil {
		t.Error("fresh job evicted")
	}
}

func TestJob_SnapshotIsDetached(t *testing.T) {
	job := &Job{ID: "j1", Status: StatusQueued}
	job.AddError("first")

	snap := job.Snapshot()
	job.SetStatus(StatusPlacing, "placing")
	job.AddError("second")

	if snap.Status != StatusQueued {
		t.Errorf("snapshot status mutated to %s", snap.Status)
	}
	if len(snap.Progress.Errors) != 1 {
		t.Errorf("snapshot errors = %v", snap.Progress.Errors)
	}
	if got := job.Snapshot(); got.Status != StatusPlacing || len(got.Progress.Errors) != 2 {
		t.Errorf("live job = %s %v", got.Status, got.Progress.Errors)
	}
}

func TestJob_HadErrors(t *testing.T) {
	job := &Job{ID: "j1"}
	if job.HadErrors() {
		t.Error("new job reports errors")
	}
	job.AddError("boom")
	if !job.HadErrors() {
		t.Error("error not recorded")
	}
}
