package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"cryptorafts/platform/internal/db"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/workers"
)

func init() {
	logging.SetLogger(zap.NewNop().Sugar())
}

func newTestDocs(t *testing.T) *repositories.DocumentRepository {
	t.Helper()
	orm, err := db.InitSQLiteORM(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.Migrate(orm); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return repositories.NewDocumentRepository(orm, nil)
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type queuedTask struct {
	name  string
	delay time.Duration
	fn    workers.TaskFunc
}

// manualTasks records submitted work so tests decide when it runs
type manualTasks struct {
	mu    sync.Mutex
	tasks []queuedTask
}

func (m *manualTasks) Submit(name string, fn workers.TaskFunc) bool {
	return m.SubmitAfter(name, 0, fn)
}

func (m *manualTasks) SubmitAfter(name string, delay time.Duration, fn workers.TaskFunc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, queuedTask{name: name, delay: delay, fn: fn})
	return true
}

func (m *manualTasks) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tasks))
	for _, t := range m.tasks {
		names = append(names, t.name)
	}
	return names
}

// Delay returns the delay of the first queued task called name
func (m *manualTasks) Delay(name string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.name == name {
			return t.delay, true
		}
	}
	return 0, false
}

// Drain runs queued tasks, including any they submit, until none remain
func (m *manualTasks) Drain(t *testing.T) {
	t.Helper()
	for {
		m.mu.Lock()
		batch := m.tasks
		m.tasks = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, task := range batch {
			if err := task.fn(context.Background()); err != nil {
				t.Errorf("task %s failed: %v", task.name, err)
			}
		}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func expectNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected callback: %+v", v)
	case <-time.After(100 * time.Millisecond):
	}
}
