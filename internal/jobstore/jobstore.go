// Package jobstore tracks the lifecycle of crawlctl's asynchronous crawl
// jobs: a job wraps one CrawlRecursive (or CrawlOne) invocation, from
// submission through completion, so a caller can poll status instead of
// holding an HTTP connection open for the whole crawl.
package jobstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/heyitsk/autoCrawler/internal/hybridcrawl"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// ErrNotFound is returned when a job ID has no matching record.
var ErrNotFound = errors.New("job not found")

// Job is the persisted record for one crawl request.
type Job struct {
	ID        string
	SeedURL   string
	Recursive bool
	Options   hybridcrawl.Options
	Status    Status
	ErrorText string
	Submitted time.Time
	Started   *time.Time
	Finished  *time.Time
	Cancel    context.CancelFunc

	Session *hybridcrawl.CrawlSession
	Result  *hybridcrawl.PageResult
}

// Clock abstracts time.Now so tests can control job timestamps.
type Clock interface {
	Now() time.Time
}

// Store persists Job records for the lifetime of the crawlctl process.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	clock Clock
}

// New builds an empty in-memory Store.
func New(clock Clock) *Store {
	return &Store{
		jobs:  make(map[string]*Job),
		clock: clock,
	}
}

// Create inserts a new job in StatusQueued.
func (s *Store) Create(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Submitted = s.clock.Now()
	job.Status = StatusQueued
	s.jobs[job.ID] = job
}

// Get fetches a job by ID.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// MarkRunning transitions a job to StatusRunning and stamps Started.
func (s *Store) MarkRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := s.clock.Now()
	job.Status = StatusRunning
	job.Started = &now
	return nil
}

// CompleteRecursive stores a finished recursive crawl's session and derives
// the terminal status from it.
func (s *Store) CompleteRecursive(id string, session hybridcrawl.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := s.clock.Now()
	job.Session = &session
	job.Finished = &now
	if session.State == hybridcrawl.SessionAborted {
		job.Status = StatusFailed
	} else {
		job.Status = StatusSucceeded
	}
	return nil
}

// CompleteSingle stores a finished single-page crawl's result.
func (s *Store) CompleteSingle(id string, result hybridcrawl.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := s.clock.Now()
	job.Result = &result
	job.Finished = &now
	if result.Success {
		job.Status = StatusSucceeded
	} else {
		job.Status = StatusFailed
		if result.Error != nil {
			job.ErrorText = result.Error.Message
		}
	}
	return nil
}

// Fail marks a job failed with the given error text, e.g. an invalid seed
// URL rejected before the engine ever runs.
func (s *Store) Fail(id, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := s.clock.Now()
	job.Status = StatusFailed
	job.ErrorText = errText
	job.Finished = &now
	return nil
}

// Cancel invokes the job's context.CancelFunc, if the job carries one and
// hasn't already finished, and sets Status to StatusCanceled. A later
// CompleteRecursive or CompleteSingle call for the same job replaces that
// status with the terminal status it derives from the crawl's outcome.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Finished != nil {
		return errors.New("job already finished")
	}
	if job.Cancel != nil {
		job.Cancel()
	}
	job.Status = StatusCanceled
	return nil
}
