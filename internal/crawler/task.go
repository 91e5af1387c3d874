package crawler

import (
	"sync"
	"time"
)

// Task tracks one submitted index request. Callers may wait on it or drop it.
type Task struct {
	ID        string
	URL       string
	Submitted time.Time

	once sync.Once
	done chan struct{}
	err  error
}

// NewTask creates a pending task.
func NewTask(id, url string, submitted time.Time) *Task {
	return &Task{
		ID:        id,
		URL:       url,
		Submitted: submitted,
		done:      make(chan struct{}),
	}
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task error. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Complete records the result. Only the first call has an effect.
func (t *Task) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}
