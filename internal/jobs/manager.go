package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vpool/pkg/logger"

	"github.com/google/uuid"
)

const defaultInterval = time.Minute

// Job represents a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Status is a snapshot of one job's ticks
type Status struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   *time.Time    `json:"lastRun,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}

// runner drives a single job and records its outcomes
type runner struct {
	job      Job
	interval time.Duration

	mu     sync.Mutex
	status Status
}

func newRunner(job Job) *runner {
	interval := job.Interval()
	if interval <= 0 {
		interval = defaultInterval
	}
	return &runner{
		job:      job,
		interval: interval,
		status:   Status{Name: job.Name(), Interval: interval},
	}
}

// loop ticks immediately, then on every interval until ctx is done
func (r *runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs the job once under its own trace id. A panic fails the tick only.
func (r *runner) tick(parent context.Context) {
	name := r.job.Name()
	ctx := logger.WithTraceID(parent, name+"-"+uuid.New().String()[:8])

	r.mu.Lock()
	r.status.Running = true
	r.mu.Unlock()

	started := time.Now()
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return r.job.Run(ctx)
	}()
	if err != nil {
		logger.WarnCtx(ctx, "background job %s failed after %v: %v", name, time.Since(started), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Running = false
	r.status.Runs++
	r.status.LastRun = &started
	r.status.LastError = ""
	if err != nil {
		r.status.Failures++
		r.status.LastError = err.Error()
	}
}

func (r *runner) snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	if s.LastRun != nil {
		at := *s.LastRun
		s.LastRun = &at
	}
	return s
}

// Manager runs registered jobs on their intervals until stopped.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	runners []*runner
	started bool

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{ctx: ctx, cancel: cancel}
}

// Register adds a job. Jobs registered after Start are not run.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runners = append(m.runners, newRunner(job))
}

// Names lists registered jobs
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.runners))
	for _, r := range m.runners {
		names = append(names, r.job.Name())
	}
	return names
}

// Status reports every registered job in registration order
func (m *Manager) Status() []Status {
	m.mu.Lock()
	runners := append([]*runner(nil), m.runners...)
	m.mu.Unlock()

	out := make([]Status, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.snapshot())
	}
	return out
}

// Start launches all registered jobs; later calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	for _, r := range m.runners {
		m.wg.Add(1)
		go func(r *runner) {
			defer m.wg.Done()
			r.loop(m.ctx)
		}(r)
	}
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}
