package builder

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrBuildInProgress is returned when a build is started while another run
// against the same snapshot target is still active.
var ErrBuildInProgress = errors.New("an index build is already in progress")

// Manager runs at most one build job at a time on a background worker and
// exposes its latest progress and terminal outcome to callers. Observers
// poll Status rather than consuming the job's event channel directly.
type Manager struct {
	mu      sync.Mutex
	running bool
	jobID   string
	job     *Job
	latest  Progress
	outcome *Outcome
}

// Status is a point-in-time view of the manager's current or last run.
type Status struct {
	JobID   string   `json:"job_id,omitempty"`
	Running bool     `json:"running"`
	Stage   Stage    `json:"stage"`
	Message string   `json:"message,omitempty"`
	Percent int      `json:"percent"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// NewManager creates an idle manager.
func NewManager() *Manager {
	return &Manager{latest: Progress{Stage: StageIdle}}
}

// Start launches job on a background goroutine and returns its id.
// Fails with ErrBuildInProgress when a run is already active. onDone, when
// non-nil, is invoked with the terminal outcome after the run finishes.
func (m *Manager) Start(ctx context.Context, job *Job, onDone func(*Outcome)) (string, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return "", ErrBuildInProgress
	}
	id := uuid.New().String()
	m.running = true
	m.jobID = id
	m.job = job
	m.latest = Progress{Stage: StageScanning}
	m.outcome = nil
	m.mu.Unlock()

	outcomeCh := make(chan *Outcome, 1)
	go func() {
		outcomeCh <- job.Run(ctx)
	}()
	go func() {
		for p := range job.Events() {
			m.mu.Lock()
			m.latest = p
			m.mu.Unlock()
		}
		outcome := <-outcomeCh
		m.mu.Lock()
		m.running = false
		m.job = nil
		m.outcome = outcome
		m.mu.Unlock()
		if onDone != nil {
			onDone(outcome)
		}
	}()
	return id, nil
}

// Cancel requests cancellation of the active run, if any.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil {
		return false
	}
	m.job.Cancel()
	return true
}

// Status returns the current run state, or the last outcome when idle.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		JobID:   m.jobID,
		Running: m.running,
		Stage:   m.latest.Stage,
		Message: m.latest.Message,
		Percent: m.latest.Percent,
		Outcome: m.outcome,
	}
}
