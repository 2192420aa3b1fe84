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

// Command blockstm-bench runs a synthetic block of balance-transfer
// transactions through the scheduler and reports how much parallelism it
// found. It exists to give a reader something to run; it is not part of the
// scheduler's public API.
package main

import (
	"math/big"
	"math/rand"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xPolygon/block-stm-scheduler/core/blockstm"
)

// baseStore is the "committed" ledger beneath the multi-version layer: what
// a read resolves to when no earlier, still-live incarnation has written the
// location. A real embedding would back this with the state trie; here it's
// a plain guarded map seeded once before the run.
type baseStore struct {
	mu       sync.RWMutex
	balances map[blockstm.Key]*uint256.Int
}

func newBaseStore() *baseStore {
	return &baseStore{balances: make(map[blockstm.Key]*uint256.Int)}
}

func (b *baseStore) seed(k blockstm.Key, v *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[k] = v
}

func (b *baseStore) get(k blockstm.Key) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.balances[k]; ok {
		return v
	}
	return uint256.NewInt(0)
}

// transferTask moves amount from one account's balance to another's. It is
// deliberately simple: one read-modify-write per side, so conflicts are easy
// to reason about and to force by reusing accounts across transactions.
type transferTask struct {
	txIdx  int
	from   blockstm.Key
	to     blockstm.Key
	amount *uint256.Int
	base   *baseStore

	reads  []blockstm.ReadDescriptor
	writes []blockstm.WriteDescriptor
}

func (t *transferTask) read(mvh *blockstm.MVHashMap, k blockstm.Key) (*uint256.Int, error) {
	res := mvh.Read(k, t.txIdx)

	switch res.Status() {
	case blockstm.MVReadResultDependency:
		return nil, blockstm.ErrExecAbortError{Dependency: res.DepIdx()}
	case blockstm.MVReadResultDone:
		t.reads = append(t.reads, blockstm.ReadDescriptor{
			Path: k,
			Kind: blockstm.ReadKindMap,
			V:    blockstm.Version{TxnIndex: res.DepIdx(), Incarnation: res.Incarnation()},
		})
		return res.Value().(*uint256.Int), nil
	default: // MVReadResultNone
		t.reads = append(t.reads, blockstm.ReadDescriptor{Path: k, Kind: blockstm.ReadKindStorage})
		return t.base.get(k), nil
	}
}

func (t *transferTask) Execute(mvh *blockstm.MVHashMap, version blockstm.Version) error {
	t.reads = nil
	t.writes = nil

	fromBal, err := t.read(mvh, t.from)
	if err != nil {
		return err
	}
	toBal, err := t.read(mvh, t.to)
	if err != nil {
		return err
	}

	newFrom := new(uint256.Int).Sub(fromBal, t.amount)
	newTo := new(uint256.Int).Add(toBal, t.amount)

	t.writes = []blockstm.WriteDescriptor{
		{Path: t.from, V: version, Val: newFrom},
		{Path: t.to, V: version, Val: newTo},
	}
	return nil
}

func (t *transferTask) MVReadList() []blockstm.ReadDescriptor       { return t.reads }
func (t *transferTask) MVWriteList() []blockstm.WriteDescriptor     { return t.writes }
func (t *transferTask) MVFullWriteList() []blockstm.WriteDescriptor { return t.writes }
func (t *transferTask) Settle()                                     {}

// generateBlock builds numTxns random transfers among numAccounts accounts,
// each seeded with a starting balance, and returns the tasks plus the base
// store they read from.
func generateBlock(numTxns, numAccounts int, seed int64) ([]blockstm.ExecTask, *baseStore) {
	rnd := rand.New(rand.NewSource(seed))
	base := newBaseStore()

	accounts := make([]blockstm.Key, numAccounts)
	for i := range accounts {
		addr := common.BigToAddress(new(big.Int).SetInt64(int64(i + 1)))
		accounts[i] = blockstm.NewAddressKey(addr)
		base.seed(accounts[i], uint256.NewInt(1_000_000))
	}

	tasks := make([]blockstm.ExecTask, numTxns)
	for i := 0; i < numTxns; i++ {
		from := accounts[rnd.Intn(numAccounts)]
		to := accounts[rnd.Intn(numAccounts)]
		for to == from {
			to = accounts[rnd.Intn(numAccounts)]
		}
		tasks[i] = &transferTask{
			txIdx:  i,
			from:   from,
			to:     to,
			amount: uint256.NewInt(uint64(rnd.Intn(100) + 1)),
			base:   base,
		}
	}
	return tasks, base
}
