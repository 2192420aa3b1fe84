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
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// dependencyCell holds the set of txn indices that attempted to read a value
// written by this entry's transaction while it was still executing, and
// therefore parked themselves waiting on it.
type dependencyCell struct {
	mu  sync.Mutex
	set mapset.Set[int]
}

// dependencyTable is the fixed-size table of per-transaction dependency
// sets, one cell per transaction in the block.
type dependencyTable struct {
	cells []dependencyCell
}

func newDependencyTable(blockSize int) *dependencyTable {
	d := &dependencyTable{cells: make([]dependencyCell, blockSize)}
	for i := range d.cells {
		d.cells[i].set = mapset.NewThreadUnsafeSet[int]()
	}
	return d
}

// tryPark acquires blockingIdx's dependency-set lock, and while still
// holding it, asks isExecuted whether blockingIdx has already committed its
// result. This ordering - lock first, check status second - is what
// serialises a parking attempt against drain: either the check observes
// Executed (and the caller must retry its read instead of parking), or
// markAborting and the insertion both happen before drain clears the set and
// the dependent is guaranteed to be resumed. markAborting runs under the
// same lock as the insertion, not after it: a concurrent FinishExecution of
// blockingIdx must never be able to drain and resume dependent before
// dependent's status has actually moved to Aborting, or resumeDependencies
// would call setReady on a transaction that is still Executing. No dependent
// can be lost or resumed out of order.
func (d *dependencyTable) tryPark(blockingIdx, dependent int, isExecuted func(int) bool, markAborting func(int)) bool {
	c := &d.cells[blockingIdx]
	c.mu.Lock()
	defer c.mu.Unlock()

	if isExecuted(blockingIdx) {
		return false
	}
	markAborting(dependent)
	c.set.Add(dependent)
	return true
}

// drain atomically swaps out idx's dependency set for an empty one and
// returns the indices that had parked on it, sorted ascending so callers can
// cheaply find the minimum.
func (d *dependencyTable) drain(idx int) []int {
	c := &d.cells[idx]
	c.mu.Lock()
	set := c.set
	c.set = mapset.NewThreadUnsafeSet[int]()
	c.mu.Unlock()

	if set.Cardinality() == 0 {
		return nil
	}
	out := set.ToSlice()
	sort.Ints(out)
	return out
}
