// Package uithread provides the UI-affine looper: a single goroutine that
// runs posted tasks one at a time in FIFO order.
//
// Work that must not race with navigation (prefetch drains, contents and
// profile construction) is posted here. A task runs to completion before the
// next one starts, so a task blocking the looper also defers everything
// queued behind it.
package uithread

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQuit is returned when posting to a looper that has been shut down.
var ErrQuit = errors.New("looper has quit")

// Task is a unit of work run on the looper. The context passed in is marked
// as running on the looper, see OnLooper.
type Task func(ctx context.Context)

type looperKey struct{}

// Looper runs tasks on one dedicated goroutine.
type Looper struct {
	name string
	log  *zap.Logger
	ctx  context.Context

	mu      sync.Mutex
	queue   []Task
	running bool
	quit    bool

	wake chan struct{}
	done chan struct{}
}

// New starts a looper goroutine.
func New(name string, log *zap.Logger) *Looper {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Looper{
		name: name,
		log:  log.With(zap.String("looper", name)),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	l.ctx = context.WithValue(context.Background(), looperKey{}, l)
	go l.loop()
	return l
}

// Name returns the looper's name.
func (l *Looper) Name() string {
	return l.name
}

// Post enqueues a task. It returns false if the looper has quit.
func (l *Looper) Post(task Task) bool {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Execute posts fn, so the looper can be used as a callback executor.
// Calls made after Quit are dropped.
func (l *Looper) Execute(fn func()) {
	if !l.Post(func(context.Context) { fn() }) {
		l.log.Debug("Dropped callback posted after quit")
	}
}

// PostAndWait runs task on the looper and blocks until it returns or ctx is
// done. When ctx already belongs to this looper the task runs inline, which
// keeps nested calls from deadlocking.
func (l *Looper) PostAndWait(ctx context.Context, task Task) error {
	if l.OnLooper(ctx) {
		task(ctx)
		return nil
	}

	finished := make(chan struct{})
	ok := l.Post(func(lctx context.Context) {
		defer close(finished)
		task(lctx)
	})
	if !ok {
		return ErrQuit
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnLooper reports whether ctx was handed out by this looper to a running task.
func (l *Looper) OnLooper(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(looperKey{}).(*Looper)
	return owner == l
}

// Pending returns the number of queued tasks, not counting a running one.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Idle reports whether nothing is queued or running.
func (l *Looper) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) == 0 && !l.running
}

// Quit stops accepting tasks. Tasks already queued still run.
func (l *Looper) Quit() {
	l.mu.Lock()
	l.quit = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the looper goroutine has exited.
func (l *Looper) Wait() {
	<-l.done
}

func (l *Looper) loop() {
	defer close(l.done)

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			if l.quit {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			continue
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.running = true
		l.mu.Unlock()

		l.run(task)

		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}
}

func (l *Looper) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task(l.ctx)
}
