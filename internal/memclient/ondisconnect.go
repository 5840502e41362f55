// SPDX-License-Identifier: GPL-3.0-or-later

package memclient

import "github.com/bassosimone/refwatch"

// OnDisconnect queues writes applied when the connection closes.
//
// Access is checked when the write is queued.
type OnDisconnect struct {
	r *Ref
}

var _ refwatch.OnDisconnect = &OnDisconnect{}

func (od *OnDisconnect) queue(segments []string, value any, apply func(db *Database)) ([]any, error) {
	c := od.r.c
	if err := c.authorize("write", segments, value); err != nil {
		return nil, err
	}
	return nil, c.queueDisconnect(&disconnectOp{segments: segments, apply: func() { apply(c.db) }})
}

// Set implements [refwatch.OnDisconnect].
func (od *OnDisconnect) Set(value any, done refwatch.Completion) refwatch.Promise {
	segments := od.r.segments
	return od.r.c.run(done, func() ([]any, error) {
		return od.queue(segments, value, func(db *Database) {
			db.Put(joinPath(segments), value)
		})
	})
}

// SetWithPriority implements [refwatch.OnDisconnect].
func (od *OnDisconnect) SetWithPriority(value, priority any, done refwatch.Completion) refwatch.Promise {
	segments := od.r.segments
	return od.r.c.run(done, func() ([]any, error) {
		return od.queue(segments, value, func(db *Database) {
			db.Put(joinPath(segments), value)
			db.setPriority(segments, priority)
		})
	})
}

// Update implements [refwatch.OnDisconnect].
func (od *OnDisconnect) Update(values map[string]any, done refwatch.Completion) refwatch.Promise {
	return od.r.c.run(done, func() ([]any, error) {
		for key, value := range values {
			segments := childSegments(od.r.segments, key)
			if _, err := od.queue(segments, value, func(db *Database) {
				db.Put(joinPath(segments), value)
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

// Remove implements [refwatch.OnDisconnect].
func (od *OnDisconnect) Remove(done refwatch.Completion) refwatch.Promise {
	segments := od.r.segments
	return od.r.c.run(done, func() ([]any, error) {
		return od.queue(segments, nil, func(db *Database) {
			db.Put(joinPath(segments), nil)
			db.setPriority(segments, nil)
		})
	})
}

// Cancel implements [refwatch.OnDisconnect].
func (od *OnDisconnect) Cancel(done refwatch.Completion) refwatch.Promise {
	return od.r.c.run(done, func() ([]any, error) {
		return nil, od.r.c.cancelDisconnect(od.r.segments)
	})
}
