// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// Watcher instruments client references and owns the registries that
// every instrumented call consults: error observers, slow-write monitors,
// the permission debugging configuration and the simulation queue.
//
// A Watcher is meant to be created once per process (or once per test)
// and shared by all the references it wraps. The zero value is not ready
// to use; construct using [NewWatcher].
//
// All methods are safe for concurrent use.
type Watcher struct {
	// afterFunc starts timers (configurable for testing).
	afterFunc func(d time.Duration, f func()) Timer

	// classifier classifies errors.
	classifier ErrClassifier

	// logger is the [SLogger] in use.
	logger SLogger

	// methods declares which methods are instrumented.
	methods MethodTable

	// timeNow mocks [time.Now].
	timeNow func() time.Time

	// mu protects the registries below.
	mu sync.Mutex

	// errorHandles are the registered error observers in registration order.
	errorHandles []*ErrorHandle

	// slowWrites are the registered slow-write monitors in registration order.
	slowWrites []*SlowWriteHandle

	// debug is the permission debugging configuration or nil.
	debug *PermissionDebugConfig

	// serial numbers write calls.
	serial atomic.Uint64

	// queue serializes permission-denied simulations.
	queue *simulationQueue
}

// NewWatcher returns a new [*Watcher] with empty registries.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewWatcher(cfg *Config, logger SLogger) *Watcher {
	return &Watcher{
		afterFunc:  cfg.AfterFunc,
		classifier: cfg.ErrClassifier,
		logger:     logger,
		methods:    DefaultMethodTable(),
		timeNow:    cfg.TimeNow,
		queue:      newSimulationQueue(logger),
	}
}

// SetMethodTable replaces the table of instrumented methods.
//
// Call this before wrapping references: methods missing from the table
// are passed through without instrumentation.
func (w *Watcher) SetMethodTable(table MethodTable) {
	w.mu.Lock()
	w.methods = table
	w.mu.Unlock()
}

func (w *Watcher) methodSpec(name string) (MethodSpec, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	spec, ok := w.methods[name]
	return spec, ok && spec.HasCompletion
}
