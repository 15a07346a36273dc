/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package runqueue

import (
	"runtime"
	"sync/atomic"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/runqueue/mpsc"
)

const (
	idle int32 = iota
	running
)

// RunQueue executes pushed functions one at a time, in push order, without
// holding a goroutine while idle. Every stream owns one and funnels its state
// changes through it.
type RunQueue struct {
	name    string
	queue   *mpsc.Queue
	pending int32
	state   int32
	stopped int32
}

type task struct{ fn func() }
type stopTask struct{ onStop func() }

// New returns an idle queue. name only shows up in panic logs.
func New(name string) *RunQueue {
	return &RunQueue{
		name:  name,
		queue: mpsc.New(),
	}
}

// Run pushes a new operation function into the queue.
// Operations pushed after Stop are silently discarded.
func (q *RunQueue) Run(fn func()) {
	if atomic.LoadInt32(&q.stopped) == 1 {
		return
	}
	atomic.AddInt32(&q.pending, 1)
	q.queue.Push(&task{fn: fn})
	q.schedule()
}

// Stop signals the queue to stop running.
//
// onStop is run once every previously scheduled operation has been executed.
func (q *RunQueue) Stop(onStop func()) {
	if !atomic.CompareAndSwapInt32(&q.stopped, 0, 1) {
		return
	}
	atomic.AddInt32(&q.pending, 1)
	q.queue.Push(&stopTask{onStop: onStop})
	q.schedule()
}

func (q *RunQueue) schedule() {
	if atomic.CompareAndSwapInt32(&q.state, idle, running) {
		go q.process()
	}
}

func (q *RunQueue) process() {
	for {
		if done := q.run(); done {
			return
		}
		atomic.StoreInt32(&q.state, idle)
		if atomic.LoadInt32(&q.pending) == 0 {
			return
		}
		// a producer may have pushed after the last pop
		if !atomic.CompareAndSwapInt32(&q.state, idle, running) {
			return
		}
	}
}

// run drains the queue. It returns true once the stop message has been consumed.
func (q *RunQueue) run() (done bool) {
	for {
		switch msg := q.queue.Pop().(type) {
		case *task:
			q.exec(msg.fn)
			atomic.AddInt32(&q.pending, -1)

		case *stopTask:
			atomic.AddInt32(&q.pending, -1)
			if cb := msg.onStop; cb != nil {
				q.exec(cb)
			}
			return true

		default:
			if atomic.LoadInt32(&q.pending) > 0 && q.queue.Empty() {
				// push in progress, spin until it completes
				runtime.Gosched()
				continue
			}
			return false
		}
	}
}

func (q *RunQueue) exec(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			q.logStackTrace(err)
		}
	}()
	fn()
}

func (q *RunQueue) logStackTrace(err interface{}) {
	stack := make([]byte, 4096)
	stack = stack[:runtime.Stack(stack, false)]
	log.Errorf("runqueue %s: recovered from panic: %v\n%s", q.name, err, stack)
}
