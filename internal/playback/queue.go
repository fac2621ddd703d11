// Package playback serializes the visual replay of authoritative events.
// Tasks play strictly in enqueue order at a pace decoupled from arrival:
// the queue waits for each task's completion before starting the next,
// can fast-forward a backlog, and can be skipped to the live state.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parques-online/client-go/pkg/protocol"
)

// Task types, one per animated event family.
const (
	TaskDiceRoll         = "dice_roll"
	TaskTokenMove        = "token_move"
	TaskTokenExitHell    = "token_exit_hell"
	TaskTokenReachHeaven = "token_reach_heaven"
	TaskTokenCapture     = "token_capture"
	TaskStackForm        = "stack_form"
	TaskStackDissolve    = "stack_dissolve"
	TaskStackSplit       = "stack_split"
	TaskStackMove        = "stack_move"
)

// FastForwardFactor shortens each task's duration while catching up after
// a reconnect backlog. Order is preserved, only pace changes.
const FastForwardFactor = 0.1

// Task is a deferred unit of visual work derived from exactly one event.
// Tasks are immutable once created.
type Task struct {
	ID       string
	Type     string
	Event    protocol.Event
	Duration time.Duration
}

// NewTask derives a task from its source event.
func NewTask(taskType string, ev protocol.Event, duration time.Duration) Task {
	return Task{ID: uuid.NewString(), Type: taskType, Event: ev, Duration: duration}
}

// Player is the rendering collaborator: play one task's animation and
// return when it is visually complete. The context is canceled when the
// user skips to the live state or the queue shuts down.
type Player interface {
	Play(ctx context.Context, task Task) error
}

// PlayerFunc adapts a function to the Player interface.
type PlayerFunc func(ctx context.Context, task Task) error

func (f PlayerFunc) Play(ctx context.Context, task Task) error { return f(ctx, task) }

// Queue drains tasks with a single consumer goroutine. A task that fails
// is logged and treated as complete; a broken animation never stalls
// game-state progress.
type Queue struct {
	player Player
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}

	mu            sync.Mutex
	tasks         []Task
	playing       bool
	fastForward   bool
	closed        bool
	lastProcessed int64
	cancelCurrent context.CancelFunc
}

func NewQueue(player Player, log *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		player:        player,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		lastProcessed: -1,
	}
	go q.drain()
	return q
}

// Enqueue appends one task. Tasks enqueued after Close are dropped.
func (q *Queue) Enqueue(task Task) { q.EnqueueMany([]Task{task}) }

// EnqueueMany appends tasks in the given order. The queue never reorders;
// ordering correctness is the caller's responsibility.
func (q *Queue) EnqueueMany(tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Warn("playback queue closed, dropping tasks", zap.Int("count", len(tasks)))
		return
	}
	q.tasks = append(q.tasks, tasks...)
	q.mu.Unlock()

	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// SetFastForward toggles the catch-up pace for tasks not yet started.
func (q *Queue) SetFastForward(enabled bool) {
	q.mu.Lock()
	q.fastForward = enabled
	q.mu.Unlock()
}

// FastForwarding reports the current pace mode.
func (q *Queue) FastForwarding() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fastForward
}

// SkipToEnd discards all remaining tasks without playing them, cancels
// the in-flight one, advances the processed-seq marker to the highest
// discarded seq, and leaves the queue idle.
func (q *Queue) SkipToEnd() {
	q.mu.Lock()
	for _, t := range q.tasks {
		if t.Event.Seq > q.lastProcessed {
			q.lastProcessed = t.Event.Seq
		}
	}
	q.tasks = nil
	q.playing = false
	q.fastForward = false
	cancel := q.cancelCurrent
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Playing reports whether a task is being played or waiting to start.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len returns the number of tasks not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// LastProcessedSeq returns the highest source seq played or skipped.
func (q *Queue) LastProcessedSeq() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastProcessed
}

// SetLastProcessedSeq moves the marker, used when a snapshot supersedes
// the replay position.
func (q *Queue) SetLastProcessedSeq(seq int64) {
	q.mu.Lock()
	q.lastProcessed = seq
	q.mu.Unlock()
}

// Close stops the drain goroutine. Further enqueues are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.tasks = nil
	q.playing = false
	q.mu.Unlock()

	q.cancel()
	<-q.done
}

func (q *Queue) drain() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.kick:
		}
		for {
			task, ok := q.next()
			if !ok {
				break
			}
			q.play(task)
		}
	}
}

// next pops the head and keeps the playing flag honest: it is the only
// place the flag flips, so it is never a stale true on an empty queue.
func (q *Queue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 || q.closed {
		q.playing = false
		return Task{}, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.playing = true
	if q.fastForward {
		task.Duration = time.Duration(float64(task.Duration) * FastForwardFactor)
	}
	return task, true
}

func (q *Queue) play(task Task) {
	ctx, cancel := context.WithCancel(q.ctx)
	q.mu.Lock()
	q.cancelCurrent = cancel
	q.mu.Unlock()

	err := q.player.Play(ctx, task)
	cancel()

	q.mu.Lock()
	q.cancelCurrent = nil
	if task.Event.Seq > q.lastProcessed {
		q.lastProcessed = task.Event.Seq
	}
	q.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		q.log.Error("playback task failed",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.Type),
			zap.Int64("seq", task.Event.Seq),
			zap.Error(err))
	}
}
