/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package mpsc

import (
	"sync/atomic"
	"unsafe"
)

type node struct {
	next *node
	val  interface{}
}

// Queue is an intrusive multiple-producer single-consumer queue.
// Push may be called concurrently; Pop must only be called from one goroutine at a time.
type Queue struct {
	head *node
	tail *node
	stub node
}

// New returns an initialized mpsc queue.
func New() *Queue {
	q := &Queue{}
	q.head = &q.stub
	q.tail = &q.stub
	return q
}

// Push adds x to the back of the queue.
func (q *Queue) Push(x interface{}) {
	n := &node{val: x}
	prev := (*node)(atomic.SwapPointer((*unsafe.Pointer)(unsafe.Pointer(&q.head)), unsafe.Pointer(n)))
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&prev.next)), unsafe.Pointer(n))
}

// Pop removes the item from the front of the queue or returns nil if the queue is empty.
// An element being pushed concurrently may not be observed until its push completes.
func (q *Queue) Pop() interface{} {
	tail := q.tail
	next := (*node)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&tail.next))))
	if next == nil {
		return nil
	}
	q.tail = next
	v := next.val
	next.val = nil
	return v
}

// Empty reports whether no completed push is pending.
func (q *Queue) Empty() bool {
	return atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&q.tail.next))) == nil
}
