// Package job implements the in-process job registry and state machine:
// create/get/list/cancel/update_progress over single and batch processing
// jobs, plus a bounded worker pool that runs them.
package job

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of job kinds.
type Type string

const (
	TypeSingleDocument Type = "single_document"
	TypeBatchProcessing Type = "batch_processing"
)

// Status is the closed set of job states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of {completed, failed, cancelled}.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one externally addressable unit of work.
type Job struct {
	ID          string     `json:"job_id"`
	Type        Type       `json:"job_type"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Step        string     `json:"step,omitempty"`
	StepMessage string     `json:"step_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// clampProgress bounds p to [0, 100].
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ErrNotFound is returned when an operation references an unknown job ID.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("job: unknown job %q", e.ID) }

// snapshotStore persists job snapshots for recovery/inspection. Implemented
// by a Redis-backed store; nil is a valid no-op store.
type snapshotStore interface {
	Save(Job) error
}

// Manager is the in-process job registry: a mutex-guarded map plus
// reverse-chronological ordering tracked by insertion sequence.
type Manager struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string // insertion order, oldest first
	store snapshotStore
}

// NewManager builds an empty Manager. store may be nil.
func NewManager(store snapshotStore) *Manager {
	return &Manager{jobs: map[string]*Job{}, store: store}
}

// CreateJob registers a new pending job and returns its ID.
func (m *Manager) CreateJob(jobType Type) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	j := &Job{ID: id, Type: jobType, Status: StatusPending, Progress: 0, CreatedAt: time.Now().UTC()}
	m.jobs[id] = j
	m.order = append(m.order, id)
	m.persist(*j)
	return id
}

// GetJob returns a copy of the job with id, or ErrNotFound.
func (m *Manager) GetJob(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, &ErrNotFound{ID: id}
	}
	return *j, nil
}

// ListJobs returns up to limit jobs starting at offset, newest first.
func (m *Manager) ListJobs(limit, offset int) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	reversed := make([]string, len(m.order))
	for i, id := range m.order {
		reversed[len(m.order)-1-i] = id
	}

	if offset >= len(reversed) {
		return nil
	}
	reversed = reversed[offset:]
	if limit > 0 && limit < len(reversed) {
		reversed = reversed[:limit]
	}

	out := make([]Job, 0, len(reversed))
	for _, id := range reversed {
		out = append(out, *m.jobs[id])
	}
	return out
}

// JobCount returns the total number of tracked jobs.
func (m *Manager) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Start transitions a pending job to running.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	if j.Status != StatusPending {
		return fmt.Errorf("job: cannot start job %q from status %q", id, j.Status)
	}
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	m.persist(*j)
	return nil
}

// Complete transitions a running job to completed, sets progress to 100,
// and records completed_at.
func (m *Manager) Complete(id string, result any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("job: cannot complete job %q already in terminal status %q", id, j.Status)
	}
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Progress = 100
	j.Result = result
	j.CompletedAt = &now
	m.persist(*j)
	return nil
}

// Fail transitions a running job to failed.
func (m *Manager) Fail(id string, jobErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("job: cannot fail job %q already in terminal status %q", id, j.Status)
	}
	now := time.Now().UTC()
	j.Status = StatusFailed
	if jobErr != nil {
		j.Error = jobErr.Error()
	}
	j.CompletedAt = &now
	m.persist(*j)
	return nil
}

// CancelJob requests cancellation of job id. Cancelling a job already in
// a terminal state is a no-op that returns false without error.
func (m *Manager) CancelJob(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, &ErrNotFound{ID: id}
	}
	if j.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	m.persist(*j)
	return true, nil
}

// UpdateProgress sets job id's progress, clamped to [0, 100].
func (m *Manager) UpdateProgress(id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	j.Progress = clampProgress(progress)
	m.persist(*j)
	return nil
}

// UpdateStep records the current pipeline step and an optional message,
// surfaced through job status queries.
func (m *Manager) UpdateStep(id, step, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	j.Step = step
	j.StepMessage = message
	m.persist(*j)
	return nil
}

// IsCancelled reports whether job id has been cancelled, for workers to
// poll between document tasks in a batch.
func (m *Manager) IsCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return ok && j.Status == StatusCancelled
}

func (m *Manager) persist(j Job) {
	if m.store == nil {
		return
	}
	_ = m.store.Save(j)
}

// MarshalSnapshot renders j as the JSON document persisted to the
// snapshot store.
func MarshalSnapshot(j Job) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("job: marshal snapshot: %w", err)
	}
	return data, nil
}

// unmarshalSnapshot parses a snapshot previously produced by
// MarshalSnapshot.
func unmarshalSnapshot(data []byte, j *Job) error {
	if err := json.Unmarshal(data, j); err != nil {
		return fmt.Errorf("job: unmarshal snapshot: %w", err)
	}
	return nil
}
