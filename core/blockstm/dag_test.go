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
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
)

func TestBuildDependencyGraphAndLongestPath(t *testing.T) {
	t.Parallel()

	keyA := NewAddressKey(common.BigToAddress(big.NewInt(1)))
	keyB := NewAddressKey(common.BigToAddress(big.NewInt(2)))
	keyC := NewAddressKey(common.BigToAddress(big.NewInt(3)))

	txIO := MakeTxnInputOutput(3)

	// txn 0 writes A; txn 1 reads A (a real dependency) and writes B.
	txIO.recordAllWrite(0, []WriteDescriptor{{Path: keyA, V: Version{TxnIndex: 0, Incarnation: 0}, Val: int64(1)}})
	txIO.recordRead(1, []ReadDescriptor{{Path: keyA, Kind: ReadKindMap, V: Version{TxnIndex: 0, Incarnation: 0}}})
	txIO.recordAllWrite(1, []WriteDescriptor{{Path: keyB, V: Version{TxnIndex: 1, Incarnation: 0}, Val: int64(2)}})

	// txn 2 is untouched by either: a fully independent transaction.
	txIO.recordAllWrite(2, []WriteDescriptor{{Path: keyC, V: Version{TxnIndex: 2, Incarnation: 0}, Val: int64(3)}})

	graph := BuildDependencyGraph(txIO)

	stats := map[int]ExecutionStat{
		0: {Start: 0, End: 10 * time.Millisecond},
		1: {Start: 10 * time.Millisecond, End: 25 * time.Millisecond},
		2: {Start: 0, End: 5 * time.Millisecond},
	}

	path, weight := graph.LongestPath(stats)
	require.Equal(t, []int{0, 1}, path, "txn 2 never appears: it has no recorded dependency edge")
	require.Equal(t, 25*time.Millisecond, weight)

	var lines []string
	graph.Report(stats, func(line string) { lines = append(lines, line) })
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "critical path (2 txns): 0->1")
	require.True(t, strings.HasPrefix(lines[1], "ideal time"))
}

func TestBuildDependencyGraphNoDependenciesDoesNotHang(t *testing.T) {
	t.Parallel()

	keyA := NewAddressKey(common.BigToAddress(big.NewInt(1)))
	keyB := NewAddressKey(common.BigToAddress(big.NewInt(2)))

	txIO := MakeTxnInputOutput(2)
	txIO.recordAllWrite(0, []WriteDescriptor{{Path: keyA, V: Version{TxnIndex: 0}, Val: int64(1)}})
	txIO.recordAllWrite(1, []WriteDescriptor{{Path: keyB, V: Version{TxnIndex: 1}, Val: int64(2)}})

	graph := BuildDependencyGraph(txIO)

	path, weight := graph.LongestPath(nil)
	require.Nil(t, path)
	require.Zero(t, weight)
}
