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
	"sync"
)

// statusCell holds the (incarnation, status) pair for a single transaction,
// guarded by its own mutex. The scheduler never packs this into a lock-free
// word: per-entry locking is the baseline correct design and keeps the
// try_validation_abort / finish_execution race simple to reason about.
type statusCell struct {
	mu          sync.Mutex
	incarnation int
	status      status
}

// statusTable is the fixed-size table of per-transaction statuses. It is
// allocated once at construction and never resized or relocated.
type statusTable struct {
	cells []statusCell
}

func newStatusTable(blockSize int) *statusTable {
	return &statusTable{cells: make([]statusCell, blockSize)}
}

func (t *statusTable) illegal(idx int, op string, c *statusCell) {
	panic(fmt.Sprintf("blockstm: illegal transition for txn %d: %s from (incarnation=%d, status=%s)", idx, op, c.incarnation, c.status))
}

// tryIncarnate flips Ready -> Executing and returns the current incarnation.
// It is the single gate that guarantees at most one concurrent execution per
// version: only one caller can ever observe status == Ready for a given idx
// before another caller's transition lands.
func (t *statusTable) tryIncarnate(idx int) (incarnation int, ok bool) {
	c := &t.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != statusReady {
		return 0, false
	}
	c.status = statusExecuting
	return c.incarnation, true
}

// finishExecution flips Executing -> Executed, leaving the incarnation
// unchanged, and returns it.
func (t *statusTable) finishExecution(idx int) int {
	c := &t.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != statusExecuting {
		t.illegal(idx, "finishExecution", c)
	}
	c.status = statusExecuted
	return c.incarnation
}

// markAborting flips Executing -> Aborting. It is used only by AddDependency
// to park a transaction mid-execution once it has observed a speculative
// read of a still-executing blocker; the transaction is revived later by
// setReady once its blocker completes.
func (t *statusTable) markAborting(idx int) {
	c := &t.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != statusExecuting {
		t.illegal(idx, "markAborting", c)
	}
	c.status = statusAborting
}

// tryValidationAbort flips Executed -> Aborting iff the stored incarnation
// still matches the caller's incarnation. A mismatch (or a status other than
// Executed) means somebody else already aborted or re-executed this version,
// so the caller's validation result is stale and must be discarded.
func (t *statusTable) tryValidationAbort(idx, incarnation int) bool {
	c := &t.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != statusExecuted || c.incarnation != incarnation {
		return false
	}
	c.status = statusAborting
	return true
}

// setReady flips Aborting -> Ready, bumping the incarnation, and returns the
// new incarnation number.
func (t *statusTable) setReady(idx int) int {
	c := &t.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != statusAborting {
		t.illegal(idx, "setReady", c)
	}
	c.incarnation++
	c.status = statusReady
	return c.incarnation
}

// isExecuted reports whether idx's current status is Executed.
func (t *statusTable) isExecuted(idx int) bool {
	c := &t.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status == statusExecuted
}

// currentIfExecuted returns the current incarnation and true iff idx's
// status is Executed, used by next_version_to_validate to decide whether a
// freshly claimed index is actually ready to be validated.
func (t *statusTable) currentIfExecuted(idx int) (incarnation int, ok bool) {
	c := &t.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != statusExecuted {
		return 0, false
	}
	return c.incarnation, true
}

// snapshot returns the current (incarnation, status) for diagnostics and
// tests. It takes no part in the scheduler's control flow.
func (t *statusTable) snapshot(idx int) (incarnation int, st status) {
	c := &t.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.incarnation, c.status
}
