package libqjs

import "sync"

// TeardownCallback is an immediate teardown task: it runs once, inline,
// during Environment.Destroy.
type TeardownCallback func(env *Environment, data any)

// DeferredTeardownHandle is the narrow handle a deferred teardown
// callback receives — narrower than *Environment by design, preserving
// the original's js_deferred_teardown_t shape (spec: "a deferred-teardown
// callback receives a narrow handle, not the full environment").
type DeferredTeardownHandle struct {
	env  *Environment
	task *teardownTask
}

// DeferredTeardownCallback is invoked once when destroy_env reaches a
// deferred task; the host must eventually call FinishDeferredTeardown(handle)
// to let the environment finish closing.
type DeferredTeardownCallback func(handle *DeferredTeardownHandle, data any)

type taskKind int

const (
	taskImmediate taskKind = iota
	taskDeferred
)

type teardownTask struct {
	kind     taskKind
	immCb    TeardownCallback
	deferCb  DeferredTeardownCallback
	data     any
}

// teardownQueue is the intrusive doubly-linked list of spec §4.J,
// represented as a Go slice: registration prepends (index 0), removal is
// O(n) by value match, matching the documented complexity exactly even
// though a slice could offer O(1) append — the spec's ordering guarantee
// (LIFO prepend, forward iteration at destroy) is what must be preserved,
// not the asymptotic removal cost.
type teardownQueue struct {
	mu               sync.Mutex
	tasks            []*teardownTask
	outstandingCount int
}

func newTeardownQueue() *teardownQueue { return &teardownQueue{} }

// AddTeardownImmediate registers cb to run once, inline, when the
// environment is destroyed.
func (e *Environment) AddTeardownImmediate(cb TeardownCallback, data any) {
	e.teardown.mu.Lock()
	defer e.teardown.mu.Unlock()
	t := &teardownTask{kind: taskImmediate, immCb: cb, data: data}
	e.teardown.tasks = append([]*teardownTask{t}, e.teardown.tasks...)
}

// RemoveTeardownImmediate cancels a previously registered immediate
// task, matched by callback identity and data equality (Go function
// values are not comparable unless they are nil, so this matches by
// data only when multiple registrations share a callback — callers
// needing precise removal should use distinct data per registration,
// mirroring the original's (callback, data) pair match).
func (e *Environment) RemoveTeardownImmediate(data any) {
	e.teardown.mu.Lock()
	defer e.teardown.mu.Unlock()
	for i, t := range e.teardown.tasks {
		if t.kind == taskImmediate && t.data == data {
			e.teardown.tasks = append(e.teardown.tasks[:i], e.teardown.tasks[i+1:]...)
			return
		}
	}
}

// AddTeardownDeferred registers a deferred task: it receives a handle
// and must call FinishDeferredTeardown(handle) once its async work
// completes. Deferred tasks bump the environment's outstanding-work
// counter and block Destroy's completion until finished.
func (e *Environment) AddTeardownDeferred(cb DeferredTeardownCallback, data any) *DeferredTeardownHandle {
	e.teardown.mu.Lock()
	t := &teardownTask{kind: taskDeferred, deferCb: cb, data: data}
	e.teardown.tasks = append([]*teardownTask{t}, e.teardown.tasks...)
	e.teardown.outstandingCount++
	e.teardown.mu.Unlock()
	return &DeferredTeardownHandle{env: e, task: t}
}

// FinishDeferredTeardown completes a deferred teardown task. If this was
// the last outstanding deferred task and the environment is destroying,
// the environment proceeds to close.
func (e *Environment) FinishDeferredTeardown(handle *DeferredTeardownHandle) {
	q := e.teardown
	q.mu.Lock()
	for i, t := range q.tasks {
		if t == handle.task {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	q.outstandingCount--
	remaining := q.outstandingCount
	q.mu.Unlock()

	e.loop.UnrefTeardown()

	if remaining <= 0 {
		e.mu.Lock()
		destroying := e.destroying
		e.mu.Unlock()
		if destroying {
			e.finishDestroy()
		}
	}
}

func (q *teardownQueue) outstandingDeferred() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstandingCount
}

// runImmediate walks the queue invoking every immediate task inline and
// removing it, leaving deferred tasks in place. Tasks run in the queue's
// current (LIFO-prepend) order, i.e. reverse registration order, per
// spec §5 ("Teardown immediate tasks run in reverse registration order").
func (q *teardownQueue) runImmediate(env *Environment) {
	q.mu.Lock()
	remaining := q.tasks[:0:0]
	var immediate []*teardownTask
	for _, t := range q.tasks {
		if t.kind == taskImmediate {
			immediate = append(immediate, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	q.tasks = remaining
	q.mu.Unlock()

	for _, t := range immediate {
		t.immCb(env, t.data)
	}

	// Deferred tasks still in the queue get their callback invoked now
	// (with their handle), matching destroy_env's walk: the task stays
	// registered (blocking close) until FinishDeferredTeardown.
	q.mu.Lock()
	deferred := append([]*teardownTask(nil), q.tasks...)
	q.mu.Unlock()
	for _, t := range deferred {
		t.deferCb(&DeferredTeardownHandle{env: env, task: t}, t.data)
	}
}
