package timeout

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Releaser frees one request-owned resource (timer, stream, listener,
// cancellation controller).
type Releaser func()

// CleanupManager tracks resource ownership keyed by request id so that
// every exit path can release everything a request acquired.
type CleanupManager struct {
	mu        sync.Mutex
	resources map[string][]Releaser
	logger    *logrus.Logger
}

// NewCleanupManager creates an empty registry
func NewCleanupManager(logger *logrus.Logger) *CleanupManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CleanupManager{
		resources: make(map[string][]Releaser),
		logger:    logger,
	}
}

// Track registers a releaser under a request id
func (cm *CleanupManager) Track(requestID string, release Releaser) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.resources[requestID] = append(cm.resources[requestID], release)
}

// CleanupRequest releases every resource owned by requestID, most recent
// first. Releaser panics are contained so one bad resource cannot leak
// the rest.
func (cm *CleanupManager) CleanupRequest(requestID string) {
	cm.mu.Lock()
	releasers := cm.resources[requestID]
	delete(cm.resources, requestID)
	cm.mu.Unlock()

	for i := len(releasers) - 1; i >= 0; i-- {
		func(release Releaser) {
			defer func() {
				if r := recover(); r != nil {
					cm.logger.WithFields(logrus.Fields{
						"request_id": requestID,
						"panic":      r,
					}).Error("Resource release panicked")
				}
			}()
			release()
		}(releasers[i])
	}
}

// Pending reports how many requests still own resources
func (cm *CleanupManager) Pending() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.resources)
}

// Shutdown releases everything for every request
func (cm *CleanupManager) Shutdown() {
	cm.mu.Lock()
	ids := make([]string, 0, len(cm.resources))
	for id := range cm.resources {
		ids = append(ids, id)
	}
	cm.mu.Unlock()

	for _, id := range ids {
		cm.CleanupRequest(id)
	}
}
