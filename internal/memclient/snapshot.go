// SPDX-License-Identifier: GPL-3.0-or-later

package memclient

import (
	"cmp"
	"slices"
)

// Snapshot is the value of a location delivered to event listeners.
type Snapshot struct {
	// Key is the last path segment, "" for the root.
	Key string

	// Value is the value, nil when the location does not exist.
	Value any

	// Priority is the priority of the location or nil.
	Priority any

	// Children are the children selected by the query, in query order.
	Children []*Snapshot
}

// Exists returns whether the location has a value.
func (s *Snapshot) Exists() bool {
	return s.Value != nil
}

// bound is a query boundary set by StartAt, EndAt or EqualTo.
type bound struct {
	value  any
	key    string
	hasKey bool
}

func newBound(value any, key []string) *bound {
	b := &bound{value: value}
	if len(key) > 0 {
		b.key, b.hasKey = key[0], true
	}
	return b
}

// query contains the refinements of a [Query].
type query struct {
	orderBy    string
	orderChild string
	limitFirst int
	limitLast  int
	start      *bound
	end        *bound
}

// clone returns a copy of q, or a new query when q is nil.
func (q *query) clone() *query {
	if q == nil {
		return &query{orderBy: "key"}
	}
	out := *q
	return &out
}

// newSnapshot builds the snapshot of value at segments, applying q.
func newSnapshot(segments []string, value any, q *query, priorities map[string]any) *Snapshot {
	snap := &Snapshot{Value: cloneValue(value), Priority: priorities[joinPath(segments)]}
	if n := len(segments); n > 0 {
		snap.Key = segments[n-1]
	}
	children, ok := snap.Value.(map[string]any)
	if !ok {
		return snap
	}
	q = q.clone()
	for key, child := range children {
		path := childSegments(segments, key)
		snap.Children = append(snap.Children, &Snapshot{
			Key:      key,
			Value:    child,
			Priority: priorities[joinPath(path)],
		})
	}
	slices.SortFunc(snap.Children, func(a, b *Snapshot) int {
		if c := compareValues(q.orderValue(a), q.orderValue(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	snap.Children = slices.DeleteFunc(snap.Children, func(child *Snapshot) bool {
		return !q.accepts(child)
	})
	if q.limitFirst > 0 && len(snap.Children) > q.limitFirst {
		snap.Children = snap.Children[:q.limitFirst]
	}
	if q.limitLast > 0 && len(snap.Children) > q.limitLast {
		snap.Children = snap.Children[len(snap.Children)-q.limitLast:]
	}
	selected := make(map[string]any, len(snap.Children))
	for _, child := range snap.Children {
		selected[child.Key] = child.Value
	}
	snap.Value = selected
	if len(selected) <= 0 {
		snap.Value = nil
	}
	return snap
}

// orderValue returns the value used to sort child.
func (q *query) orderValue(child *Snapshot) any {
	switch q.orderBy {
	case "value":
		return child.Value
	case "priority":
		return child.Priority
	case "child":
		return lookup(child.Value, splitPath(q.orderChild))
	default:
		return child.Key
	}
}

// accepts returns whether child is within the query bounds.
func (q *query) accepts(child *Snapshot) bool {
	value := q.orderValue(child)
	if b := q.start; b != nil {
		c := compareValues(value, b.value)
		if c < 0 || (c == 0 && b.hasKey && child.Key < b.key) {
			return false
		}
	}
	if b := q.end; b != nil {
		c := compareValues(value, b.value)
		if c > 0 || (c == 0 && b.hasKey && child.Key > b.key) {
			return false
		}
	}
	return true
}

// compareValues orders values as null, booleans, numbers, strings, objects.
func compareValues(a, b any) int {
	if c := cmp.Compare(rank(a), rank(b)); c != 0 {
		return c
	}
	switch va := a.(type) {
	case bool:
		vb := b.(bool)
		switch {
		case va == vb:
			return 0
		case !va:
			return -1
		default:
			return 1
		}
	case string:
		return cmp.Compare(va, b.(string))
	}
	if fa, ok := asFloat(a); ok {
		fb, _ := asFloat(b)
		return cmp.Compare(fa, fb)
	}
	return 0
}

func rank(value any) int {
	switch value.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := asFloat(value); ok {
		return 2
	}
	return 4
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
