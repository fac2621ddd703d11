package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parques-online/client-go/pkg/protocol"
)

func task(id string, seq int64, d time.Duration) Task {
	return Task{ID: id, Type: TaskTokenMove, Event: protocol.Event{Seq: seq, EventType: protocol.EvtTokenMoved}, Duration: d}
}

// recvID receives one played task id with a timeout so tests never hang.
func recvID(t *testing.T, ch <-chan string, within time.Duration) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(within):
		t.Fatalf("timed out waiting for a played task")
		return "" // unreachable
	}
}

func recvNoID(t *testing.T, ch <-chan string, within time.Duration) {
	t.Helper()
	select {
	case id := <-ch:
		t.Fatalf("expected no task to play within %v, got %q", within, id)
	case <-time.After(within):
	}
}

func waitFor(t *testing.T, cond func() bool, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", within)
}

func TestQueue_PlaysInEnqueueOrder(t *testing.T) {
	played := make(chan string, 8)
	q := NewQueue(PlayerFunc(func(ctx context.Context, tk Task) error {
		played <- tk.ID
		return nil
	}), zap.NewNop())
	defer q.Close()

	// Deliberately out of numeric seq order: the queue must not re-sort.
	q.EnqueueMany([]Task{
		task("A", 3, 0),
		task("B", 1, 0),
		task("C", 2, 0),
	})

	for _, want := range []string{"A", "B", "C"} {
		if got := recvID(t, played, time.Second); got != want {
			t.Fatalf("played %q, want %q", got, want)
		}
	}

	waitFor(t, func() bool { return q.LastProcessedSeq() == 3 }, time.Second)
	waitFor(t, func() bool { return !q.Playing() }, time.Second)
}

func TestQueue_AwaitsCompletionBeforeNext(t *testing.T) {
	release := make(chan struct{})
	played := make(chan string, 8)
	q := NewQueue(PlayerFunc(func(ctx context.Context, tk Task) error {
		played <- tk.ID
		if tk.ID == "A" {
			<-release
		}
		return nil
	}), zap.NewNop())
	defer q.Close()

	q.Enqueue(task("A", 0, 0))
	q.Enqueue(task("B", 1, 0))

	if got := recvID(t, played, time.Second); got != "A" {
		t.Fatalf("first played %q, want A", got)
	}
	// B must not start while A's completion signal is outstanding.
	recvNoID(t, played, 50*time.Millisecond)
	if !q.Playing() {
		t.Fatalf("queue should report playing while a task is in flight")
	}

	close(release)
	if got := recvID(t, played, time.Second); got != "B" {
		t.Fatalf("second played %q, want B", got)
	}
}

func TestQueue_TaskErrorDoesNotStallDrain(t *testing.T) {
	played := make(chan string, 8)
	q := NewQueue(PlayerFunc(func(ctx context.Context, tk Task) error {
		played <- tk.ID
		if tk.ID == "boom" {
			return errors.New("renderer exploded")
		}
		return nil
	}), zap.NewNop())
	defer q.Close()

	q.EnqueueMany([]Task{task("boom", 0, 0), task("after", 1, 0)})

	recvID(t, played, time.Second)
	if got := recvID(t, played, time.Second); got != "after" {
		t.Fatalf("queue stalled on a failing task, got %q", got)
	}
	waitFor(t, func() bool { return q.LastProcessedSeq() == 1 }, time.Second)
}

func TestQueue_SkipToEnd(t *testing.T) {
	started := make(chan struct{})
	q := NewQueue(PlayerFunc(func(ctx context.Context, tk Task) error {
		close(started)
		<-ctx.Done() // block until skipped
		return ctx.Err()
	}), zap.NewNop())
	defer q.Close()

	q.EnqueueMany([]Task{task("A", 5, time.Hour), task("B", 9, time.Hour), task("C", 7, time.Hour)})
	<-started

	q.SkipToEnd()

	if q.Len() != 0 {
		t.Fatalf("queue not emptied: %d tasks left", q.Len())
	}
	if q.Playing() {
		t.Fatalf("queue still reports playing after skip")
	}
	// Marker covers the discarded tasks' highest seq; the canceled
	// in-flight task records its own seq when it returns.
	waitFor(t, func() bool { return q.LastProcessedSeq() == 9 }, time.Second)
}

func TestQueue_FastForwardShortensDurations(t *testing.T) {
	durations := make(chan time.Duration, 2)
	q := NewQueue(PlayerFunc(func(ctx context.Context, tk Task) error {
		durations <- tk.Duration
		return nil
	}), zap.NewNop())
	defer q.Close()

	q.SetFastForward(true)
	q.Enqueue(task("A", 0, time.Second))

	select {
	case d := <-durations:
		if d != 100*time.Millisecond {
			t.Fatalf("fast-forward duration = %v, want 100ms", d)
		}
	case <-time.After(time.Second):
		t.Fatalf("task never played")
	}
}

func TestQueue_EnqueueAfterCloseDropped(t *testing.T) {
	played := make(chan string, 1)
	q := NewQueue(PlayerFunc(func(ctx context.Context, tk Task) error {
		played <- tk.ID
		return nil
	}), zap.NewNop())

	q.Close()
	q.Enqueue(task("late", 0, 0))

	recvNoID(t, played, 50*time.Millisecond)
}
