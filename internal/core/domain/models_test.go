package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJobLifecycle(t *testing.T) {
	job := Job{ID: "job-1", Requested: 3, State: JobStatePending}

	job.MarkRunning()
	if job.State != JobStateRunning {
		t.Fatalf("expected running, got %s", job.State)
	}

	at := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	job.MarkCompleted(at)
	if job.State != JobStateCompleted || !job.CompletedAt.Equal(at) {
		t.Fatalf("unexpected completed job: %+v", job)
	}
}

func TestMarkFailedRecordsError(t *testing.T) {
	job := Job{ID: "job-2"}
	job.MarkFailed(time.Now(), errors.New("boom"))

	if job.State != JobStateFailed {
		t.Fatalf("job state not failed: %s", job.State)
	}
	if job.Error != "boom" {
		t.Fatalf("unexpected error text: %q", job.Error)
	}
}

func TestMarkFailedNilErrorKeepsText(t *testing.T) {
	job := Job{ID: "job-3"}
	job.MarkFailed(time.Now(), nil)

	if job.State != JobStateFailed {
		t.Fatalf("job state not failed: %s", job.State)
	}
	if job.Error != "" {
		t.Fatalf("expected empty error, got %q", job.Error)
	}
}

func TestJobOmitsCompletedAtUntilFinished(t *testing.T) {
	job := Job{ID: "job-1", Requested: 2, State: JobStateRunning}
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if strings.Contains(string(b), "completed_at") {
		t.Fatalf("running job should not carry completed_at: %s", b)
	}

	job.MarkCompleted(time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC))
	b, _ = json.Marshal(job)
	if !strings.Contains(string(b), `"completed_at":"2024-05-04T00:00:00Z"`) {
		t.Fatalf("completed job should carry completed_at: %s", b)
	}
}
