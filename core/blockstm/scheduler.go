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
	"fmt"
	"sync/atomic"
)

// Scheduler coordinates optimistic parallel execution and validation of a
// fixed, ordered sequence of BlockSize transactions. It is shared by N
// worker goroutines that loop calling NextTask and reporting completion
// through FinishExecution, TryValidationAbort, FinishValidation and
// AddDependency. The scheduler has no notion of what a transaction does; it
// only ever sees indices, incarnations and the boolean outcomes the workers
// report back.
//
// A Scheduler is safe for concurrent use by multiple goroutines. Every
// method takes a pointer receiver, and every mutation goes through an atomic
// or a per-entry mutex; there is no lock over the Scheduler as a whole.
type Scheduler struct {
	blockSize int

	status *statusTable
	deps   *dependencyTable

	executionIdx   atomic.Int64
	validationIdx  atomic.Int64
	decreaseCnt    atomic.Int64
	numActiveTasks atomic.Int64
	doneMarker     atomic.Bool
}

// NewScheduler builds a Scheduler for a block of blockSize transactions.
// blockSize must be positive; the block's shape never changes after this
// call.
func NewScheduler(blockSize int) *Scheduler {
	if blockSize <= 0 {
		panic("blockstm: block size must be positive")
	}
	return &Scheduler{
		blockSize: blockSize,
		status:    newStatusTable(blockSize),
		deps:      newDependencyTable(blockSize),
	}
}

// BlockSize returns the fixed number of transactions in the block.
func (s *Scheduler) BlockSize() int { return s.blockSize }

func (s *Scheduler) checkIndex(idx int, who string) {
	if idx < 0 || idx >= s.blockSize {
		panic(fmt.Sprintf("blockstm: %s: index %d out of range [0,%d)", who, idx, s.blockSize))
	}
}

// NextTask returns the next unit of work a worker should perform, or false
// if none is immediately available. It biases workers toward validating
// already-executed transactions before pushing the execution frontier
// further: if validation_idx < execution_idx, a validation task is
// preferred, reducing wasted re-execution work downstream of a pending
// abort.
//
// NextTask does not retry the other kind when its preferred kind yields
// nothing; a worker that gets false back simply loops around and calls
// NextTask again, which naturally re-evaluates the preference and may also
// discover that done() has become true in the interim.
func (s *Scheduler) NextTask() (Task, bool) {
	if s.validationIdx.Load() < s.executionIdx.Load() {
		return s.nextVersionToValidate()
	}
	return s.nextVersionToExecute()
}

func (s *Scheduler) nextVersionToExecute() (Task, bool) {
	if s.executionIdx.Load() >= int64(s.blockSize) {
		s.checkDone()
		return Task{}, false
	}

	s.numActiveTasks.Add(1)
	idx := int(s.executionIdx.Add(1) - 1)

	return s.tryIncarnate(idx)
}

func (s *Scheduler) nextVersionToValidate() (Task, bool) {
	if s.validationIdx.Load() >= int64(s.blockSize) {
		s.checkDone()
		return Task{}, false
	}

	s.numActiveTasks.Add(1)
	idx := int(s.validationIdx.Add(1) - 1)

	// idx may have overshot block_size under concurrent fetch_add racing the
	// boundary; guarding here (rather than trusting the load above) is the
	// defensive re-check the source keeps even though one fetch_add can only
	// push the cursor one past the last valid index.
	if idx < s.blockSize {
		if incarnation, ok := s.status.currentIfExecuted(idx); ok {
			return Task{TxnIndex: idx, Incarnation: incarnation, Kind: TaskKindValidation}, true
		}
	}

	s.numActiveTasks.Add(-1)
	return Task{}, false
}

// tryIncarnate is the point that guarantees at most one concurrent execution
// per version: it flips Ready -> Executing under idx's status lock, or fails
// if idx isn't Ready. On failure the caller's task slot is released.
func (s *Scheduler) tryIncarnate(idx int) (Task, bool) {
	if idx < 0 || idx >= s.blockSize {
		s.numActiveTasks.Add(-1)
		return Task{}, false
	}

	incarnation, ok := s.status.tryIncarnate(idx)
	if !ok {
		s.numActiveTasks.Add(-1)
		return Task{}, false
	}
	return Task{TxnIndex: idx, Incarnation: incarnation, Kind: TaskKindExecution}, true
}

// FinishExecution records that idx's current incarnation finished executing.
// wroteNewLocation must be true iff this incarnation wrote to a storage
// location that no earlier incarnation of idx had written; the data store
// is the source of truth for that bit, the scheduler only branches on it.
//
// If a follow-on task is returned, the caller must perform it without
// releasing its active-task slot - the slot is implicitly transferred.
func (s *Scheduler) FinishExecution(idx int, wroteNewLocation bool) (Task, bool) {
	s.checkIndex(idx, "FinishExecution")

	incarnation := s.status.finishExecution(idx)

	resumed := s.deps.drain(idx)
	s.resumeDependencies(resumed)

	if int(s.validationIdx.Load()) > idx {
		if wroteNewLocation {
			// The write set expanded: any successor that previously read "no
			// value" at the new location may now be wrong, so the whole
			// validation frontier from idx onward must retreat.
			s.decreaseValidationIdx(idx)
		} else {
			// Only idx's own reads can be newly invalidated downstream;
			// validate it immediately without handing back the task slot.
			return Task{TxnIndex: idx, Incarnation: incarnation, Kind: TaskKindValidation}, true
		}
	}

	s.numActiveTasks.Add(-1)
	return Task{}, false
}

// TryValidationAbort flips idx's status from Executed to Aborting iff the
// stored incarnation still matches incarnation. A false return means
// somebody else already aborted or re-executed this version and the
// caller's validation result is stale and must be discarded.
func (s *Scheduler) TryValidationAbort(idx, incarnation int) bool {
	s.checkIndex(idx, "TryValidationAbort")
	return s.status.tryValidationAbort(idx, incarnation)
}

// FinishValidation reports the outcome of validating idx. If aborted is
// false the task slot is simply released. If aborted is true, idx is put
// back to Ready with a bumped incarnation, every strictly later transaction
// is queued for re-validation, and - if the execution frontier has already
// passed idx - idx is immediately re-incarnated as an Execution task
// returned to the caller without releasing its slot.
func (s *Scheduler) FinishValidation(idx int, aborted bool) (Task, bool) {
	s.checkIndex(idx, "FinishValidation")

	if !aborted {
		s.numActiveTasks.Add(-1)
		return Task{}, false
	}

	s.status.setReady(idx)
	s.decreaseValidationIdx(idx + 1)

	if int(s.executionIdx.Load()) > idx {
		if t, ok := s.tryIncarnate(idx); ok {
			return t, true
		}
		return Task{}, false
	}

	s.numActiveTasks.Add(-1)
	return Task{}, false
}

// AddDependency is called by a worker whose speculative execution of idx
// observed that blockingIdx is still Executing. If blockingIdx has since
// become Executed, AddDependency returns false and the caller must re-read
// instead of parking - the dependency would never fire. Otherwise idx is
// parked: under blockingIdx's dependency-set lock, its status moves to
// Aborting and it is recorded in blockingIdx's dependency set - both before
// the lock is released - then its task slot is released and AddDependency
// returns true. Marking Aborting under that same lock is load-bearing: it
// stops a concurrent FinishExecution(blockingIdx) from draining the set and
// calling setReady(idx) while idx is still Executing.
//
// idx must differ from blockingIdx; both must be valid indices into the
// block.
func (s *Scheduler) AddDependency(idx, blockingIdx int) bool {
	s.checkIndex(idx, "AddDependency")
	s.checkIndex(blockingIdx, "AddDependency")
	if idx == blockingIdx {
		panic("blockstm: AddDependency: a transaction cannot depend on itself")
	}

	parked := s.deps.tryPark(blockingIdx, idx, s.status.isExecuted, s.status.markAborting)
	if !parked {
		return false
	}

	s.numActiveTasks.Add(-1)
	return true
}

// resumeDependencies makes every index in resumed Ready again and retreats
// execution_idx to the smallest of them so the dispatcher reconsiders them.
// It does nothing when resumed is empty.
func (s *Scheduler) resumeDependencies(resumed []int) {
	if len(resumed) == 0 {
		return
	}

	minIdx := resumed[0]
	for _, idx := range resumed {
		s.status.setReady(idx)
		if idx < minIdx {
			minIdx = idx
		}
	}
	s.decreaseExecutionIdx(minIdx)
}

// decreaseExecutionIdx retreats execution_idx to min(execution_idx, target)
// and bumps decrease_cnt. It never blocks.
func (s *Scheduler) decreaseExecutionIdx(target int) {
	fetchMin(&s.executionIdx, int64(target))
	s.decreaseCnt.Add(1)
}

// decreaseValidationIdx retreats validation_idx to min(validation_idx,
// target) and bumps decrease_cnt. It never blocks.
func (s *Scheduler) decreaseValidationIdx(target int) {
	fetchMin(&s.validationIdx, int64(target))
	s.decreaseCnt.Add(1)
}

// fetchMin retreats v to min(v, target) using a compare-and-swap retry loop,
// standing in for the source's fetch_min primitive (Go's sync/atomic has no
// native fetch-min).
func fetchMin(v *atomic.Int64, target int64) {
	for {
		cur := v.Load()
		if target >= cur {
			return
		}
		if v.CompareAndSwap(cur, target) {
			return
		}
	}
}

// checkDone implements the termination detector's double-read protocol.
// Between the two reads of decrease_cnt it observes execution_idx,
// validation_idx and num_active_tasks: if both cursors are past the block,
// there are no active tasks, and decrease_cnt did not change across the
// bracket, then no cursor-rollback occurred concurrently with this check -
// so no in-flight worker can have reintroduced work - and done_marker is
// set. Every quantity here is read with sequentially consistent ordering;
// weakening any one of these four loads breaks the proof.
func (s *Scheduler) checkDone() {
	observed := s.decreaseCnt.Load()
	exec := s.executionIdx.Load()
	val := s.validationIdx.Load()
	active := s.numActiveTasks.Load()
	confirm := s.decreaseCnt.Load()

	if exec >= int64(s.blockSize) && val >= int64(s.blockSize) && active == 0 && observed == confirm {
		s.doneMarker.Store(true)
	}
}

// Done reports whether the scheduler has established that no further work
// exists for this block.
func (s *Scheduler) Done() bool {
	return s.doneMarker.Load()
}

// Stats is a point-in-time, non-authoritative snapshot of the scheduler's
// cursors, useful for logging and diagnostics. It is never consulted by the
// scheduler's own control flow.
type Stats struct {
	ExecutionIdx   int64
	ValidationIdx  int64
	DecreaseCnt    int64
	NumActiveTasks int64
	Done           bool
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		ExecutionIdx:   s.executionIdx.Load(),
		ValidationIdx:  s.validationIdx.Load(),
		DecreaseCnt:    s.decreaseCnt.Load(),
		NumActiveTasks: s.numActiveTasks.Load(),
		Done:           s.Done(),
	}
}
