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

// ReadKind records where a read was satisfied from. The scheduler never
// looks at it; MVHashMap.ValidateReads uses it to tell a storage read from a
// read of an earlier transaction's write.
type ReadKind int

const (
	ReadKindMap ReadKind = iota
	ReadKindStorage
)

// ReadDescriptor records one read a transaction performed: the location, how
// it was resolved, and the version it resolved to (for a storage read, V is
// the zero Version).
type ReadDescriptor struct {
	Path Key
	Kind ReadKind
	V    Version
}

// WriteDescriptor records one write a transaction performed.
type WriteDescriptor struct {
	Path Key
	V    Version
	Val  interface{}
}

// TxnInput is the full read set recorded for one incarnation.
type TxnInput []ReadDescriptor

// TxnOutput is the write set recorded for one incarnation. Two flavours are
// tracked per transaction, both for its last completed incarnation: the
// write set reported by MVWriteList, and the full write set reported by
// MVFullWriteList (compared against the next incarnation's to detect
// locations that stopped being written and must be deleted from the data
// store).
type TxnOutput []WriteDescriptor

// hasNewWrite reports whether txo contains a path not present in cmp - i.e.
// whether this incarnation's write set expanded relative to cmp.
func (txo TxnOutput) hasNewWrite(cmp []WriteDescriptor) bool {
	if len(txo) == 0 {
		return false
	}
	if len(cmp) == 0 {
		return true
	}

	seen := make(map[Key]bool, len(cmp))
	for _, w := range cmp {
		seen[w.Path] = true
	}
	for _, w := range txo {
		if !seen[w.Path] {
			return true
		}
	}
	return false
}

// TxnInputOutput is a fixed-size table recording the read and write sets of
// the last completed incarnation of every transaction in the block. It is
// the scheduler-adjacent bookkeeping a worker consults and updates when
// reporting execution results - the scheduler itself never touches it.
type TxnInputOutput struct {
	inputs     []TxnInput
	outputs    []TxnOutput
	allOutputs []TxnOutput
}

// MakeTxnInputOutput allocates a table for numTx transactions.
func MakeTxnInputOutput(numTx int) *TxnInputOutput {
	return &TxnInputOutput{
		inputs:     make([]TxnInput, numTx),
		outputs:    make([]TxnOutput, numTx),
		allOutputs: make([]TxnOutput, numTx),
	}
}

func (io *TxnInputOutput) ReadSet(txnIdx int) []ReadDescriptor { return io.inputs[txnIdx] }
func (io *TxnInputOutput) WriteSet(txnIdx int) []WriteDescriptor { return io.outputs[txnIdx] }
func (io *TxnInputOutput) AllWriteSet(txnIdx int) []WriteDescriptor { return io.allOutputs[txnIdx] }

func (io *TxnInputOutput) recordRead(txnIdx int, input []ReadDescriptor)  { io.inputs[txnIdx] = input }
func (io *TxnInputOutput) recordWrite(txnIdx int, output []WriteDescriptor) { io.outputs[txnIdx] = output }
func (io *TxnInputOutput) recordAllWrite(txnIdx int, output []WriteDescriptor) {
	io.allOutputs[txnIdx] = output
}

// hasReadDep reports whether any write in from is read by to - the building
// block for reconstructing a dependency graph after the fact, for profiling.
func hasReadDep(from TxnOutput, to TxnInput) bool {
	reads := make(map[Key]bool, len(to))
	for _, r := range to {
		reads[r.Path] = true
	}
	for _, w := range from {
		if reads[w.Path] {
			return true
		}
	}
	return false
}
