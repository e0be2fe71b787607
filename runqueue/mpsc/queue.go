/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

// Package mpsc implements an intrusive multiple-producer single-consumer queue.
// Push can be safely invoked from concurrent goroutines while Pop must always
// be called from a single consumer.
package mpsc

import (
	"sync/atomic"
	"unsafe"
)

type node struct {
	next  *node
	value interface{}
}

// Queue represents a lock-free mpsc queue instance.
type Queue struct {
	head, tail *node
}

// New returns an initialized mpsc queue.
func New() *Queue {
	stub := &node{}
	return &Queue{head: stub, tail: stub}
}

// Push appends a new value to the queue tail.
func (q *Queue) Push(value interface{}) {
	n := &node{value: value}
	prev := (*node)(atomic.SwapPointer((*unsafe.Pointer)(unsafe.Pointer(&q.head)), unsafe.Pointer(n)))
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&prev.next)), unsafe.Pointer(n))
}

// Pop extracts the queue front value, returning nil if the queue is empty.
func (q *Queue) Pop() interface{} {
	tail := q.tail
	next := (*node)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&tail.next))))
	if next == nil {
		return nil
	}
	q.tail = next
	v := next.value
	next.value = nil
	return v
}
