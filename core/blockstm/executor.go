// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package blockstm

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ExecTask is the VM's contract with a worker: execute txn_index at the
// given version against mvh, recording every read and write performed. The
// scheduler never calls into this interface itself - only the worker loop
// does, exactly as described by the system's consumer contract.
type ExecTask interface {
	// Execute runs one incarnation of the transaction. It must return
	// ErrExecAbortError when a speculative read observed a still-executing
	// blocker (or, if the blocker is unknown, with Dependency < 0).
	Execute(mvh *MVHashMap, version Version) error

	// MVReadList and the MVWriteList family report the read and write sets
	// of the most recent (successful) call to Execute.
	MVReadList() []ReadDescriptor
	MVWriteList() []WriteDescriptor
	MVFullWriteList() []WriteDescriptor

	// Settle is called once, after the transaction's final committed
	// incarnation has been validated successfully and every earlier
	// transaction has already been settled. It is where a real VM would
	// apply the incarnation's effects to the canonical state.
	Settle()
}

// ErrExecAbortError is returned by ExecTask.Execute to signal that execution
// was abandoned because of a speculative read of a value written by a
// transaction that is still executing. Dependency is that transaction's
// index, or -1 if the blocker could not be identified.
type ErrExecAbortError struct {
	Dependency int
}

func (e ErrExecAbortError) Error() string {
	if e.Dependency >= 0 {
		return fmt.Sprintf("execution aborted due to dependency on txn %d", e.Dependency)
	}
	return "execution aborted"
}

// ExecutorStats are cumulative counters kept across a run, for logging and
// benchmarking only - the scheduler's own correctness never depends on them.
type ExecutorStats struct {
	Executions       int64
	ExecutionAborts  int64
	Validations      int64
	ValidationAborts int64
}

// Executor drives a fixed worker pool that repeatedly asks a Scheduler for
// work and carries it out against an ExecTask slice and a shared MVHashMap,
// implementing the worker loop described in the scheduler's consumer
// contract.
type Executor struct {
	tasks []ExecTask
	sched *Scheduler
	mvh   *MVHashMap
	txIO  *TxnInputOutput

	numWorkers int
	log        log.Logger

	executions       atomic.Int64
	executionAborts  atomic.Int64
	validations      atomic.Int64
	validationAborts atomic.Int64
}

// NewExecutor builds an Executor for tasks, one ExecTask per transaction in
// index order. numWorkers must be positive. An empty tasks slice is legal
// and Run trivially succeeds without ever touching a Scheduler, which
// requires a positive block size.
func NewExecutor(tasks []ExecTask, numWorkers int) *Executor {
	if numWorkers <= 0 {
		panic("blockstm: numWorkers must be positive")
	}

	ex := &Executor{
		tasks:      tasks,
		mvh:        MakeMVHashMap(),
		txIO:       MakeTxnInputOutput(len(tasks)),
		numWorkers: numWorkers,
		log:        log.New("module", "blockstm"),
	}
	if len(tasks) > 0 {
		ex.sched = NewScheduler(len(tasks))
	}
	return ex
}

// Scheduler exposes the underlying Scheduler, mostly for tests and
// diagnostics that want to assert on its state mid-run or after Run returns.
func (ex *Executor) Scheduler() *Scheduler { return ex.sched }

// Stats returns a point-in-time snapshot of the executor's counters.
func (ex *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Executions:       ex.executions.Load(),
		ExecutionAborts:  ex.executionAborts.Load(),
		Validations:      ex.validations.Load(),
		ValidationAborts: ex.validationAborts.Load(),
	}
}

// Run executes the block to completion: it blocks until the scheduler
// reports done, or any worker returns a non-abort error, or ctx is
// cancelled. On success it returns the recorded read/write sets of the
// final, committed incarnation of every transaction.
func (ex *Executor) Run(ctx context.Context) (*TxnInputOutput, error) {
	if len(ex.tasks) == 0 {
		return ex.txIO, nil
	}

	begin := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < ex.numWorkers; i++ {
		g.Go(func() error { return ex.workerLoop(ctx) })
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// By the time every worker has exited, done_marker is set, which means
	// every transaction's final status is Executed with a validated
	// incarnation equivalent to serial execution in index order. Settling in
	// that same order lets each task apply its effects to canonical state.
	for _, t := range ex.tasks {
		t.Settle()
	}

	stats := ex.Stats()
	ex.log.Info("blockstm run complete",
		"txns", len(ex.tasks),
		"executions", stats.Executions,
		"executionAborts", stats.ExecutionAborts,
		"validations", stats.Validations,
		"validationAborts", stats.ValidationAborts,
		"elapsed", time.Since(begin),
	)

	return ex.txIO, nil
}

func (ex *Executor) workerLoop(ctx context.Context) error {
	for !ex.sched.Done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task, ok := ex.sched.NextTask()
		if !ok {
			// No suspension points: the scheduler never blocks a worker.
			// Yield so other goroutines (in particular the one that would
			// unblock this path) get a turn on a GOMAXPROCS-constrained
			// machine, then ask again.
			runtime.Gosched()
			continue
		}

		if err := ex.drive(task); err != nil {
			return err
		}
	}
	return nil
}

// drive carries a task, and every follow-on task the scheduler hands back
// for the same slot, to completion.
func (ex *Executor) drive(task Task) error {
	for {
		var (
			next Task
			cont bool
			err  error
		)

		switch task.Kind {
		case TaskKindExecution:
			next, cont, err = ex.execute(task)
		case TaskKindValidation:
			next, cont = ex.validate(task)
		default:
			panic(fmt.Sprintf("blockstm: unknown task kind %v", task.Kind))
		}

		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		task = next
	}
}

func (ex *Executor) execute(task Task) (Task, bool, error) {
	ex.executions.Add(1)

	t := ex.tasks[task.TxnIndex]
	version := Version{TxnIndex: task.TxnIndex, Incarnation: task.Incarnation}

	err := t.Execute(ex.mvh, version)
	if abortErr, ok := err.(ErrExecAbortError); ok {
		ex.executionAborts.Add(1)

		if abortErr.Dependency >= 0 && ex.sched.AddDependency(task.TxnIndex, abortErr.Dependency) {
			return Task{}, false, nil
		}
		// Either there was no known blocker, or the blocker had already
		// committed by the time we tried to park on it (a stale read): retry
		// the same incarnation without releasing the task slot.
		return task, true, nil
	}
	if err != nil {
		return Task{}, false, errors.Wrapf(err, "blockstm: txn %d incarnation %d", task.TxnIndex, task.Incarnation)
	}

	reads := t.MVReadList()
	writes := t.MVWriteList()
	allWrites := t.MVFullWriteList()

	prevAllWrites := ex.txIO.AllWriteSet(task.TxnIndex)
	wroteNewLocation := TxnOutput(allWrites).hasNewWrite(prevAllWrites)

	ex.mvh.FlushMVWriteSet(allWrites)

	// A shrinking write set means some previously-written location is no
	// longer written by the latest incarnation; stale entries must be
	// cleared so later readers fall through to an earlier writer (or to
	// storage) instead of observing a location this incarnation never
	// touched.
	stillWritten := make(map[Key]bool, len(allWrites))
	for _, w := range allWrites {
		stillWritten[w.Path] = true
	}
	for _, w := range prevAllWrites {
		if !stillWritten[w.Path] {
			ex.mvh.Delete(w.Path, task.TxnIndex)
		}
	}

	ex.txIO.recordRead(task.TxnIndex, reads)
	ex.txIO.recordWrite(task.TxnIndex, writes)
	ex.txIO.recordAllWrite(task.TxnIndex, allWrites)

	next, cont := ex.sched.FinishExecution(task.TxnIndex, wroteNewLocation)
	return next, cont, nil
}

func (ex *Executor) validate(task Task) (Task, bool) {
	ex.validations.Add(1)

	ok := ex.mvh.ValidateReads(task.TxnIndex, ex.txIO.ReadSet(task.TxnIndex))
	aborted := !ok
	if aborted {
		aborted = ex.sched.TryValidationAbort(task.TxnIndex, task.Incarnation)
		if aborted {
			ex.validationAborts.Add(1)
			for _, w := range ex.txIO.AllWriteSet(task.TxnIndex) {
				ex.mvh.MarkEstimate(w.Path, task.TxnIndex)
			}
		}
	}

	return ex.sched.FinishValidation(task.TxnIndex, aborted)
}

// Execute runs tasks to completion using numWorkers goroutines and returns
// the final read/write record. It is a convenience wrapper around
// NewExecutor and Run for callers that don't need access to the scheduler
// mid-run.
func Execute(ctx context.Context, tasks []ExecTask, numWorkers int) (*TxnInputOutput, *ExecutorStats, error) {
	ex := NewExecutor(tasks, numWorkers)
	txIO, err := ex.Run(ctx)
	if err != nil {
		return nil, nil, err
	}
	stats := ex.Stats()
	return txIO, &stats, nil
}
