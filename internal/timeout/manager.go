// Package timeout provides hierarchical operation timeouts, cooperative
// cancellation handles and per-request resource cleanup.
package timeout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-apigateway/internal/errors"

	"github.com/sirupsen/logrus"
)

// Operation classifies a timeout budget
type Operation string

const (
	OpConnection Operation = "connection"
	OpRequest    Operation = "request"  // end-to-end, including retries
	OpUpstream   Operation = "upstream" // single attempt
	OpPlugin     Operation = "plugin"
	OpIdle       Operation = "idle"
)

// Config sets the default budget per operation class
type Config struct {
	Connection time.Duration
	Request    time.Duration
	Upstream   time.Duration
	Plugin     time.Duration
	Idle       time.Duration

	LeakThreshold time.Duration // handles older than this are reported
}

// Handle is a cooperative cancellation token for a long operation
type Handle struct {
	ID        string
	Signal    <-chan struct{}
	Operation Operation

	cancel    context.CancelFunc
	createdAt time.Time
}

// Cancel releases the handle's resources and fires its signal
func (h *Handle) Cancel() {
	h.cancel()
}

// Manager executes functions under typed timeouts and tracks active
// cancellation handles.
type Manager struct {
	mu      sync.Mutex
	config  Config
	handles map[string]*Handle
	nextID  int64
	logger  *logrus.Logger
}

// NewManager creates a manager with the given budgets; zero fields fall
// back to conservative defaults.
func NewManager(config Config, logger *logrus.Logger) *Manager {
	if config.Connection <= 0 {
		config.Connection = 5 * time.Second
	}
	if config.Request <= 0 {
		config.Request = 30 * time.Second
	}
	if config.Upstream <= 0 {
		config.Upstream = 10 * time.Second
	}
	if config.Plugin <= 0 {
		config.Plugin = 5 * time.Second
	}
	if config.Idle <= 0 {
		config.Idle = 65 * time.Second
	}
	if config.LeakThreshold <= 0 {
		config.LeakThreshold = 2 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		config:  config,
		handles: make(map[string]*Handle),
		logger:  logger,
	}
}

// Budget returns the default duration for an operation class
func (m *Manager) Budget(op Operation) time.Duration {
	switch op {
	case OpConnection:
		return m.config.Connection
	case OpUpstream:
		return m.config.Upstream
	case OpPlugin:
		return m.config.Plugin
	case OpIdle:
		return m.config.Idle
	default:
		return m.config.Request
	}
}

// Execute runs fn under the operation's budget (or custom when > 0). On
// expiry it returns a typed timeout error; plugin timeouts are the one
// non-retryable class.
func (m *Manager) Execute(fn func(ctx context.Context) error, op Operation, custom time.Duration) error {
	return m.ExecuteContext(context.Background(), fn, op, custom)
}

// ExecuteContext is Execute bounded additionally by a parent context, so
// caller cancellation propagates into fn alongside the budget.
func (m *Manager) ExecuteContext(parent context.Context, fn func(ctx context.Context) error, op Operation, custom time.Duration) error {
	budget := m.Budget(op)
	if custom > 0 {
		budget = custom
	}

	ctx, cancel := context.WithTimeout(parent, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		// fn may return in the same instant the budget expires; expiry wins.
		if ctx.Err() == nil {
			return err
		}
	case <-ctx.Done():
	}
	if parent.Err() != nil {
		return errors.ConnectionError(string(op)+" operation canceled", parent.Err())
	}
	if op == OpPlugin {
		return errors.PluginTimeoutError(string(op), budget)
	}
	return errors.TimeoutError(string(op)+" operation", budget)
}

// CreateHandle returns a tracked cancellation handle for op
func (m *Manager) CreateHandle(op Operation) *Handle {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.nextID++
	id := fmt.Sprintf("%s-%d", op, m.nextID)
	handle := &Handle{
		ID:        id,
		Signal:    ctx.Done(),
		Operation: op,
		createdAt: time.Now(),
	}
	handle.cancel = func() {
		cancel()
		m.release(id)
	}
	m.handles[id] = handle
	m.mu.Unlock()

	return handle
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.handles, id)
	m.mu.Unlock()
}

// ActiveHandles reports how many handles are outstanding
func (m *Manager) ActiveHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// ReportLeaks logs and returns handles older than the leak threshold
func (m *Manager) ReportLeaks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var leaked []string
	now := time.Now()
	for id, h := range m.handles {
		if now.Sub(h.createdAt) > m.config.LeakThreshold {
			leaked = append(leaked, id)
			m.logger.WithFields(logrus.Fields{
				"handle":    id,
				"operation": string(h.Operation),
				"age":       now.Sub(h.createdAt).String(),
			}).Warn("Leaked cancellation handle")
		}
	}
	return leaked
}

// Shutdown cancels every active handle
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}
