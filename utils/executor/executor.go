// Package executor runs handler callbacks in FIFO order on a bounded number
// of goroutines and lets the owner stop accepting work and wait for what is
// in flight.
package executor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/abc463774475/msglist"
	nlog "github.com/abc463774475/my_tool/n_log"
	"golang.org/x/sync/semaphore"
)

type Executor struct {
	name  string
	sem   *semaphore.Weighted
	queue *msglist.MsgList

	mu        sync.Mutex
	accepting bool
	pending   atomic.Int64
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New creates an executor running at most workers tasks at once. Tasks
// start in the order they were scheduled. workers < 1 is treated as 1.
func New(name string, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		name:      name,
		sem:       semaphore.NewWeighted(int64(workers)),
		queue:     msglist.NewMsgList(),
		accepting: true,
	}
	go e.dispatch()
	return e
}

// Execute schedules task. It returns false when the executor no longer
// accepts tasks.
func (e *Executor) Execute(task func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.accepting {
		return false
	}
	e.wg.Add(1)
	e.pending.Add(1)
	e.queue.Push(task)
	return true
}

// dispatch starts queued tasks one by one as workers free up.
func (e *Executor) dispatch() {
	for {
		items := e.queue.Pop()
		for _, item := range items {
			// recv nil, means the executor is stopped
			task, ok := item.(func())
			if !ok {
				return
			}
			_ = e.sem.Acquire(context.Background(), 1)
			go e.run(task)
		}
	}
}

func (e *Executor) run(task func()) {
	defer e.wg.Done()
	defer e.pending.Add(-1)
	defer e.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			nlog.Erro("executor %v: task panic: %v\n%s", e.name, r, debug.Stack())
		}
	}()
	task()
}

func (e *Executor) SetAcceptingTasks(accepting bool) {
	e.mu.Lock()
	e.accepting = accepting
	e.mu.Unlock()
}

func (e *Executor) IsAcceptingTasks() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepting
}

// Pending is the number of scheduled tasks that have not finished.
func (e *Executor) Pending() int64 {
	return e.pending.Load()
}

// Await blocks until every scheduled task has finished or ctx is done.
func (e *Executor) Await(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for the queued and running ones.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.SetAcceptingTasks(false)
	e.stopOnce.Do(func() {
		e.queue.Push(nil)
	})
	if err := e.Await(ctx); err != nil {
		nlog.Erro("executor %v: %v tasks still running at shutdown", e.name, e.Pending())
		return err
	}
	return nil
}
