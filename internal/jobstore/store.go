// Package jobstore keeps the process-wide job records.
//
// Each record carries its own mutex so that writers for one job never contend
// with readers or writers of another. The map itself is guarded separately and
// only held long enough to look a record up.
package jobstore

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/common"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

// ErrIllegalTransition is returned when a status change is not an edge of the job state machine.
var ErrIllegalTransition = errors.New("illegal job transition")

type record struct {
	mu  sync.Mutex
	job entity.Job
}

// Store is a synchronized keyed store of jobs.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*record
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for transition events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:   make(map[string]*record),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) lookup(id string) (*record, error) {
	s.mu.RLock()
	r, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return r, nil
}

// Create registers a new pending job.
func (s *Store) Create(id string) error {
	if id == "" {
		return fmt.Errorf("empty job id: %w", common.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("job %s already exists: %w", id, common.ErrInvalidInput)
	}
	s.jobs[id] = &record{job: entity.Job{
		ID:        id,
		Status:    constants.JobStatusPending,
		History:   []constants.JobStatus{constants.JobStatusPending},
		CreatedAt: s.now(),
	}}
	s.logger.Debug("jobstore.created", "job_id", id)
	return nil
}

// transition moves the job along one state-machine edge; apply runs under the record lock.
func (s *Store) transition(id string, to constants.JobStatus, apply func(*entity.Job)) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.job.Status
	if !constants.CanTransition(from, to) {
		return fmt.Errorf("job %s %s -> %s: %w", id, from, to, ErrIllegalTransition)
	}
	r.job.Status = to
	r.job.History = append(r.job.History, to)
	if apply != nil {
		apply(&r.job)
	}
	s.logger.Info("pipeline.status", "job_id", id, "from", string(from), "to", string(to))
	return nil
}

// Start marks the job processing.
func (s *Store) Start(id string) error {
	return s.transition(id, constants.JobStatusProcessing, func(j *entity.Job) {
		t := s.now()
		j.StartedAt = &t
	})
}

// Complete attaches the result and marks the job completed.
func (s *Store) Complete(id string, res entity.Result) error {
	stored := res.Clone()
	return s.transition(id, constants.JobStatusCompleted, func(j *entity.Job) {
		t := s.now()
		j.FinishedAt = &t
		j.Result = stored
	})
}

// Fail marks the job failed. No result is kept.
func (s *Store) Fail(id string, f entity.Failure) error {
	return s.transition(id, constants.JobStatusFailed, func(j *entity.Job) {
		t := s.now()
		j.FinishedAt = &t
		j.Result = nil
		j.Failure = &f
	})
}

// Status returns the current status.
func (s *Store) Status(id string) (constants.JobStatus, error) {
	r, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Status, nil
}

// Result returns a copy of the result of a completed job.
func (s *Store) Result(id string) (*entity.Result, error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Status != constants.JobStatusCompleted || r.job.Result == nil {
		return nil, fmt.Errorf("job %s is %s: %w", id, r.job.Status, common.ErrResultNotReady)
	}
	return r.job.Result.Clone(), nil
}

// Get returns a deep copy of the whole record.
func (s *Store) Get(id string) (entity.Job, error) {
	r, err := s.lookup(id)
	if err != nil {
		return entity.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone(), nil
}

// RecordReview replaces any prior review for the job. Decisions are stored as
// given; indices that address no detection are kept and ignored by readers.
func (s *Store) RecordReview(id string, decisions map[int]bool) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.Review = &entity.Review{Decisions: maps.Clone(decisions), RecordedAt: s.now()}
	if r.job.Review.Decisions == nil {
		r.job.Review.Decisions = map[int]bool{}
	}
	return nil
}

// Discard removes a job that was never picked up. It exists for admission rollback.
func (s *Store) Discard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Status != constants.JobStatusPending {
		return fmt.Errorf("job %s is %s: %w", id, r.job.Status, ErrIllegalTransition)
	}
	delete(s.jobs, id)
	return nil
}

// Len reports the number of stored jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
