package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidsonq/modelforge/internal/log"
)

// TaskStatus is the lifecycle state of an async optimization.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task tracks one async optimization job.
type Task struct {
	ID         string     `json:"id"`
	Status     TaskStatus `json:"status"`
	Params     Params     `json:"params"`
	Outcome    *Outcome   `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TaskTracker runs optimizations in the background and keeps their state in
// memory. State does not survive a process restart.
type TaskTracker struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	optimizer *Optimizer
}

func NewTaskTracker(o *Optimizer) *TaskTracker {
	return &TaskTracker{
		tasks:     make(map[string]*Task),
		optimizer: o,
	}
}

// Submit validates the parameters, then launches the optimization in a
// goroutine and returns the tracking id immediately.
func (tt *TaskTracker) Submit(ctx context.Context, p Params) (*Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	task := &Task{
		ID:        uuid.NewString(),
		Status:    TaskPending,
		Params:    p,
		CreatedAt: time.Now().UTC(),
	}
	tt.mu.Lock()
	tt.tasks[task.ID] = task
	tt.mu.Unlock()

	go tt.run(ctx, task.ID, p)
	log.Info(log.CatBackend, "task submitted", "task", task.ID, "model", p.ModelID)
	return tt.snapshot(task.ID), nil
}

func (tt *TaskTracker) run(ctx context.Context, id string, p Params) {
	tt.update(id, func(t *Task) { t.Status = TaskRunning })

	outcome, err := tt.optimizer.Run(ctx, p)
	now := time.Now().UTC()
	tt.update(id, func(t *Task) {
		t.FinishedAt = &now
		if err != nil {
			t.Status = TaskFailed
			t.Error = err.Error()
			return
		}
		t.Status = TaskCompleted
		t.Outcome = outcome
	})
}

func (tt *TaskTracker) update(id string, fn func(*Task)) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if t, ok := tt.tasks[id]; ok {
		fn(t)
	}
}

// Get returns a copy of the task state, or nil when the id is unknown.
func (tt *TaskTracker) Get(id string) *Task {
	return tt.snapshot(id)
}

// List returns copies of all tracked tasks, newest first.
func (tt *TaskTracker) List() []*Task {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make([]*Task, 0, len(tt.tasks))
	for id := range tt.tasks {
		out = append(out, tt.copyLocked(id))
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (tt *TaskTracker) snapshot(id string) *Task {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.copyLocked(id)
}

func (tt *TaskTracker) copyLocked(id string) *Task {
	t, ok := tt.tasks[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}
