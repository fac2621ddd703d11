// Package sequence turns the server's at-least-once, possibly reordered
// delivery of numbered events into the exactly-once, in-order stream the
// state projector requires.
package sequence

import (
	"sort"

	"github.com/parques-online/client-go/pkg/protocol"
)

// Gap describes a hole in the event numbering: everything from Expected up
// to (but not including) Received is missing.
type Gap struct {
	Expected int64
	Received int64
	Missing  int64
}

// Manager buffers out-of-order events and releases the longest contiguous
// prefix after the last applied sequence number. It runs no timers and
// does no I/O; its only side effect is the gap callback. It is owned by a
// single goroutine (the session loop) and is not safe for concurrent use.
type Manager struct {
	lastApplied int64
	pending     map[int64]protocol.Event
	onGap       func(Gap)
}

// New creates a manager. Pass -1 when no events have been applied yet
// (sequence numbers start at 0), or a snapshot's event_seq to resume
// after it.
func New(initial int64) *Manager {
	return &Manager{
		lastApplied: initial,
		pending:     make(map[int64]protocol.Event),
	}
}

// SetGapHandler registers the callback invoked once per detected gap.
func (m *Manager) SetGapHandler(fn func(Gap)) { m.onGap = fn }

// LastApplied returns the highest sequence number released so far.
func (m *Manager) LastApplied() int64 { return m.lastApplied }

// ProcessEvents accepts a batch in any order, possibly with duplicates,
// and returns the strictly ordered contiguous run starting at
// lastApplied+1. Events at or below lastApplied are discarded; later
// duplicates overwrite buffered ones. If events stay buffered beyond the
// next expected seq after the release loop, the gap handler fires once
// for the whole detection, not once per missing event.
func (m *Manager) ProcessEvents(batch []protocol.Event) []protocol.Event {
	sorted := append([]protocol.Event(nil), batch...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for _, ev := range sorted {
		if ev.Seq > m.lastApplied {
			m.pending[ev.Seq] = ev
		}
	}

	var ready []protocol.Event
	for {
		next := m.lastApplied + 1
		ev, ok := m.pending[next]
		if !ok {
			break
		}
		delete(m.pending, next)
		ready = append(ready, ev)
		m.lastApplied = next
	}

	if len(m.pending) > 0 {
		min := int64(-1)
		for seq := range m.pending {
			if min == -1 || seq < min {
				min = seq
			}
		}
		if min > m.lastApplied+1 && m.onGap != nil {
			m.onGap(Gap{
				Expected: m.lastApplied + 1,
				Received: min,
				Missing:  min - m.lastApplied - 1,
			})
		}
	}

	return ready
}

// Reset clears the buffer and moves lastApplied to seq. Called after a
// full snapshot replaces the working state.
func (m *Manager) Reset(seq int64) {
	m.lastApplied = seq
	m.pending = make(map[int64]protocol.Event)
}

// FlushPending releases everything buffered in sequence order regardless
// of contiguity and advances lastApplied to the highest released seq.
// Escape hatch for forced fast-forward, where visible progress matters
// more than state correctness.
func (m *Manager) FlushPending() []protocol.Event {
	if len(m.pending) == 0 {
		return nil
	}
	events := make([]protocol.Event, 0, len(m.pending))
	for _, ev := range m.pending {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	m.lastApplied = events[len(events)-1].Seq
	m.pending = make(map[int64]protocol.Event)
	return events
}

// HasPending reports whether any events are buffered waiting on a gap.
func (m *Manager) HasPending() bool { return len(m.pending) > 0 }

// PendingCount returns the number of buffered events.
func (m *Manager) PendingCount() int { return len(m.pending) }
