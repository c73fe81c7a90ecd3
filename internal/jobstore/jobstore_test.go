package jobstore

import (
	"testing"
	"time"

	"github.com/heyitsk/autoCrawler/internal/hybridcrawl"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := New(fixedClock{now: time.Unix(100, 0)})
	job := &Job{ID: "job-1", SeedURL: "https://example.com"}
	store.Create(job)

	got, err := store.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusQueued {
		t.Fatalf("expected StatusQueued, got %v", got.Status)
	}

	if err := store.MarkRunning("job-1"); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	got, _ = store.Get("job-1")
	if got.Status != StatusRunning || got.Started == nil {
		t.Fatalf("expected running job with Started set, got %+v", got)
	}

	session := hybridcrawl.CrawlSession{SessionID: "job-1", State: hybridcrawl.SessionCompleted}
	if err := store.CompleteRecursive("job-1", session); err != nil {
		t.Fatalf("CompleteRecursive() error = %v", err)
	}
	got, _ = store.Get("job-1")
	if got.Status != StatusSucceeded || got.Finished == nil {
		t.Fatalf("expected succeeded job with Finished set, got %+v", got)
	}
}

func TestStoreCompleteRecursiveAbortedMapsToFailed(t *testing.T) {
	t.Parallel()

	store := New(fixedClock{now: time.Unix(0, 0)})
	store.Create(&Job{ID: "job-2"})

	session := hybridcrawl.CrawlSession{SessionID: "job-2", State: hybridcrawl.SessionAborted}
	if err := store.CompleteRecursive("job-2", session); err != nil {
		t.Fatalf("CompleteRecursive() error = %v", err)
	}
	got, _ := store.Get("job-2")
	if got.Status != StatusFailed {
		t.Fatalf("expected StatusFailed for aborted session, got %v", got.Status)
	}
}

func TestStoreCompleteSingleFailureCarriesErrorText(t *testing.T) {
	t.Parallel()

	store := New(fixedClock{now: time.Unix(0, 0)})
	store.Create(&Job{ID: "job-3"})

	result := hybridcrawl.PageResult{
		Success: false,
		Error:   &hybridcrawl.ErrorInfo{Kind: hybridcrawl.ErrTimeout, Message: "timed out"},
	}
	if err := store.CompleteSingle("job-3", result); err != nil {
		t.Fatalf("CompleteSingle() error = %v", err)
	}
	got, _ := store.Get("job-3")
	if got.Status != StatusFailed || got.ErrorText != "timed out" {
		t.Fatalf("expected failed job with error text, got %+v", got)
	}
}

func TestStoreGetUnknownJob(t *testing.T) {
	t.Parallel()

	store := New(fixedClock{now: time.Unix(0, 0)})
	if _, err := store.Get("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreCancelInvokesCancelFunc(t *testing.T) {
	t.Parallel()

	store := New(fixedClock{now: time.Unix(0, 0)})
	canceled := false
	store.Create(&Job{ID: "job-4", Cancel: func() { canceled = true }})

	if err := store.Cancel("job-4"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !canceled {
		t.Fatal("expected Cancel to invoke the job's CancelFunc")
	}
	got, _ := store.Get("job-4")
	if got.Status != StatusCanceled {
		t.Fatalf("expected StatusCanceled, got %v", got.Status)
	}
}

func TestStoreCancelAlreadyFinished(t *testing.T) {
	t.Parallel()

	store := New(fixedClock{now: time.Unix(0, 0)})
	store.Create(&Job{ID: "job-5"})
	if err := store.CompleteSingle("job-5", hybridcrawl.PageResult{Success: true}); err != nil {
		t.Fatalf("CompleteSingle() error = %v", err)
	}
	if err := store.Cancel("job-5"); err == nil {
		t.Fatal("expected error canceling an already-finished job")
	}
}
