// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"log/slog"
	"sync"
)

// simulationQueue runs simulation links one at a time, in enqueue order.
//
// Each link waits for the previous one to terminate, whatever the outcome:
// a failing (or panicking) link never blocks its successors.
type simulationQueue struct {
	logger SLogger

	// mu protects tail.
	mu sync.Mutex

	// tail is closed when the last enqueued link terminates.
	tail chan struct{}
}

func newSimulationQueue(logger SLogger) *simulationQueue {
	tail := make(chan struct{})
	close(tail)
	return &simulationQueue{logger: logger, tail: tail}
}

// enqueue schedules link after all the previously enqueued links.
func (q *simulationQueue) enqueue(link func()) {
	q.mu.Lock()
	prev := q.tail
	next := make(chan struct{})
	q.tail = next
	q.mu.Unlock()

	go func() {
		defer close(next)
		<-prev
		defer func() {
			if r := recover(); r != nil {
				q.logger.Info("simulationPanic", slog.Any("panic", r))
			}
		}()
		link()
	}()
}

// idle returns a channel closed when all the links enqueued so far
// have terminated.
func (q *simulationQueue) idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tail
}
