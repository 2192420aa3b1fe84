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

// Package blockstm implements a Block-STM style scheduler that drives
// optimistic parallel execution and validation of a fixed, ordered sequence
// of transactions within a block.
package blockstm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key identifies a storage location read or written by a transaction. The
// scheduler never inspects a Key's contents; it only ever compares and hashes
// them on behalf of the multi-version data store.
type Key struct {
	addr common.Address
	slot common.Hash
	kind byte
}

// NewAddressKey returns the Key for an account's top-level state (balance,
// nonce, code).
func NewAddressKey(addr common.Address) Key {
	return Key{addr: addr, kind: 'a'}
}

// NewStateKey returns the Key for a single storage slot of an account.
func NewStateKey(addr common.Address, slot common.Hash) Key {
	return Key{addr: addr, slot: slot, kind: 's'}
}

func (k Key) String() string {
	if k.kind == 's' {
		return fmt.Sprintf("%s/%s", k.addr, k.slot)
	}
	return k.addr.String()
}

// Version is the pair (txn index, incarnation) - the unit of work the
// scheduler hands out and the key the multi-version data store tags writes
// with. Incarnations start at zero and are bumped on every abort of their
// transaction.
type Version struct {
	TxnIndex    int
	Incarnation int
}

func (v Version) String() string {
	return fmt.Sprintf("(%d,%d)", v.TxnIndex, v.Incarnation)
}

// TaskKind distinguishes the two kinds of work the scheduler dispatches.
type TaskKind int

const (
	TaskKindExecution TaskKind = iota
	TaskKindValidation
)

func (k TaskKind) String() string {
	switch k {
	case TaskKindExecution:
		return "execution"
	case TaskKindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Task is the unit handed back by NextTask and the completion handlers: a
// version to work on and what kind of work to perform on it.
type Task struct {
	TxnIndex    int
	Incarnation int
	Kind        TaskKind
}

func (t Task) String() string {
	return fmt.Sprintf("%s(%d,%d)", t.Kind, t.TxnIndex, t.Incarnation)
}

// status is the per-transaction state in the incarnation/status state
// machine described by the scheduler's data model.
type status int

const (
	statusReady status = iota
	statusExecuting
	statusExecuted
	statusAborting
)

func (s status) String() string {
	switch s {
	case statusReady:
		return "ready"
	case statusExecuting:
		return "executing"
	case statusExecuted:
		return "executed"
	case statusAborting:
		return "aborting"
	default:
		return "unknown"
	}
}
