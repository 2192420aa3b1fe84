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

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/0xPolygon/block-stm-scheduler/core/blockstm"
)

func main() {
	app := &cli.App{
		Name:  "blockstm-bench",
		Usage: "run a synthetic block of transfers through the Block-STM scheduler",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "txns", Value: 256, Usage: "number of transactions in the block"},
			&cli.IntFlag{Name: "accounts", Value: 16, Usage: "number of distinct accounts, lower means more conflicts"},
			&cli.IntFlag{Name: "workers", Value: runtime.NumCPU(), Usage: "number of worker goroutines"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "PRNG seed for the synthetic block"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	numTxns := c.Int("txns")
	numAccounts := c.Int("accounts")
	numWorkers := c.Int("workers")
	seed := c.Int64("seed")

	if numTxns <= 0 {
		return errors.New("txns must be positive")
	}
	if numAccounts <= 0 {
		return errors.New("accounts must be positive")
	}

	tasks, _ := generateBlock(numTxns, numAccounts, seed)

	ex := blockstm.NewExecutor(tasks, numWorkers)

	txIO, err := ex.Run(context.Background())
	if err != nil {
		return errors.Wrap(err, "block execution failed")
	}

	stats := ex.Stats()
	log.Info("bench finished",
		"txns", numTxns, "accounts", numAccounts, "workers", numWorkers,
		"executions", stats.Executions, "executionAborts", stats.ExecutionAborts,
		"validations", stats.Validations, "validationAborts", stats.ValidationAborts,
	)

	graph := blockstm.BuildDependencyGraph(txIO)
	graph.Report(nil, func(line string) { fmt.Println(line) })

	return nil
}
