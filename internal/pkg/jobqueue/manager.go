package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Task is one run of a periodic background job.
type Task func(ctx context.Context) error

type periodicTask struct {
	name     string
	interval time.Duration
	run      Task
}

// Manager runs registered tasks on their own tickers until stopped.
type Manager struct {
	tasks   []periodicTask
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewManager() *Manager {
	return &Manager{}
}

// Every registers task to run each interval after Start. Tasks added while
// the manager is running are picked up on the next Start.
func (m *Manager) Every(name string, interval time.Duration, task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if interval <= 0 {
		log.Warnf("[JobQueue Manager] Ignoring task %s with non-positive interval %s", name, interval)
		return
	}
	m.tasks = append(m.tasks, periodicTask{name: name, interval: interval, run: task})
}

// Start starts one worker per registered task. The context passed to tasks is
// derived from ctx and canceled by Stop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	log.Infof("[JobQueue Manager] Starting %d background tasks", len(m.tasks))

	for _, task := range m.tasks {
		m.wg.Add(1)
		go m.worker(ctx, task)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop cancels running tasks and waits for their workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(ctx context.Context, task periodicTask) {
	defer m.wg.Done()

	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", task.name, task.interval)

	for {
		select {
		case <-ctx.Done():
			log.Infof("[JobQueue Manager] %s worker stopping", task.name)
			return
		case <-ticker.C:
			log.Debugf("[JobQueue Manager] Running %s", task.name)
			if err := task.run(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue Manager] Error running %s: %v", task.name, err)
			}
		}
	}
}
