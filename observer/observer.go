// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

// Package observer wraps a blocking operation as a subscribable
// {status, data, error} value for UI and other reactive adapters.
package observer

import (
	"context"
	"sync"
)

type Status uint8

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is the observable state. Data is only meaningful with
// StatusSuccess and Err only with StatusError.
type Snapshot[T any] struct {
	Status Status
	Data   T
	Err    error
}

// Observable runs one operation at a time. Starting a new run or calling
// Reset supersedes the previous run: its context is canceled and its result
// is never published.
type Observable[T any] struct {
	lock       sync.Mutex
	snapshot   Snapshot[T]
	generation uint64
	cancel     context.CancelFunc
	nextID     uint64
	subs       map[uint64]func(Snapshot[T])

	// notifyLock orders deliveries the same way as state changes.
	notifyLock sync.Mutex
}

func New[T any]() *Observable[T] {
	return &Observable[T]{subs: make(map[uint64]func(Snapshot[T]))}
}

// Subscribe registers fn for every subsequent state change and returns a
// function that removes it. fn receives the new state and must not call
// methods of o.
func (o *Observable[T]) Subscribe(fn func(Snapshot[T])) func() {
	o.lock.Lock()
	defer o.lock.Unlock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	return func() {
		o.lock.Lock()
		defer o.lock.Unlock()
		delete(o.subs, id)
	}
}

func (o *Observable[T]) Snapshot() Snapshot[T] {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.snapshot
}

// Run executes fn, publishing Loading and then Success or Error. The result
// is returned to the caller even if the run was superseded.
func (o *Observable[T]) Run(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.lock.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.generation++
	generation := o.generation
	o.cancel = cancel
	o.publishLocked(Snapshot[T]{Status: StatusLoading})

	data, err := fn(ctx)

	o.lock.Lock()
	if o.generation != generation {
		o.lock.Unlock()
		return data, err
	}
	o.cancel = nil
	if err != nil {
		o.publishLocked(Snapshot[T]{Status: StatusError, Err: err})
	} else {
		o.publishLocked(Snapshot[T]{Status: StatusSuccess, Data: data})
	}
	return data, err
}

// Reset cancels any in-flight run and returns to StatusIdle.
func (o *Observable[T]) Reset() {
	o.lock.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.generation++
	o.publishLocked(Snapshot[T]{})
}

// publishLocked stores s and delivers it. It must be called with lock held
// and releases it.
func (o *Observable[T]) publishLocked(s Snapshot[T]) {
	o.snapshot = s
	subs := make([]func(Snapshot[T]), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.notifyLock.Lock()
	o.lock.Unlock()

	defer o.notifyLock.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
