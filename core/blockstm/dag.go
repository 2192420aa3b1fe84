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
	"sort"
	"strings"
	"time"

	"github.com/heimdalr/dag"

	"github.com/ethereum/go-ethereum/log"
)

// DependencyGraph is a post-hoc reconstruction, from a completed run's
// recorded read/write sets, of which transactions actually read a value
// written by an earlier one. It exists purely for profiling: the scheduler
// never builds or consults it while driving execution, since at schedule
// time those dependencies aren't known yet - that's exactly what optimistic
// execution is for. Building it after the fact answers "how parallel could
// this block have been" for a human looking at a profile.
type DependencyGraph struct {
	*dag.DAG
}

// BuildDependencyGraph scans txIO's final, committed read/write sets and
// adds an edge j -> i whenever transaction i read a location transaction j
// (j < i) wrote.
func BuildDependencyGraph(txIO *TxnInputOutput) DependencyGraph {
	d := DependencyGraph{dag.NewDAG()}
	ids := make(map[int]string, len(txIO.inputs))

	vertexFor := func(i int) string {
		if id, ok := ids[i]; ok {
			return id
		}
		id, _ := d.AddVertex(i)
		ids[i] = id
		return id
	}

	for i := len(txIO.inputs) - 1; i > 0; i-- {
		to := txIO.inputs[i]

		for j := i - 1; j >= 0; j-- {
			from := txIO.allOutputs[j]

			if hasReadDep(from, to) {
				fromID, toID := vertexFor(j), vertexFor(i)
				if err := d.AddEdge(fromID, toID); err != nil {
					log.Warn("blockstm: failed to add dependency edge", "from", j, "to", i, "err", err)
				}
			}
		}
	}

	return d
}

// ExecutionStat is the wall-clock window during which one incarnation ran,
// relative to the start of the run.
type ExecutionStat struct {
	Start time.Duration
	End   time.Duration
}

// LongestPath returns the longest dependency chain in the graph, in
// ascending transaction-index order, and the ideal execution time of that
// chain - the lower bound on wall-clock time no amount of parallelism could
// beat given these dependencies.
func (d DependencyGraph) LongestPath(stats map[int]ExecutionStat) ([]int, time.Duration) {
	vertices := d.GetVertices()
	if len(vertices) == 0 {
		return nil, 0
	}

	idxToID := make(map[int]string, len(vertices))
	order := make([]int, 0, len(vertices))
	for id, v := range vertices {
		idxToID[v.(int)] = id
		order = append(order, v.(int))
	}
	sort.Ints(order)

	prev := make(map[int]int, len(vertices))
	weight := make(map[int]time.Duration, len(vertices))

	maxIdx, maxWeight := order[0], time.Duration(0)

	for _, i := range order {
		prev[i] = -1

		parents, _ := d.GetParents(idxToID[i])
		if len(parents) == 0 {
			weight[i] = stats[i].End - stats[i].Start
		} else {
			for _, p := range parents {
				pIdx := p.(int)
				w := weight[pIdx] + stats[i].End - stats[i].Start
				if w > weight[i] {
					weight[i] = w
					prev[i] = pIdx
				}
			}
		}

		if weight[i] > maxWeight {
			maxIdx, maxWeight = i, weight[i]
		}
	}

	var path []int
	for i := maxIdx; i != -1; i = prev[i] {
		path = append(path, i)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}

	return path, maxWeight
}

// Report writes a short human-readable summary of the critical path to out.
func (d DependencyGraph) Report(stats map[int]ExecutionStat, out func(string)) {
	path, weight := d.LongestPath(stats)

	var serial time.Duration
	for _, v := range d.GetVertices() {
		i := v.(int)
		serial += stats[i].End - stats[i].Start
	}

	strs := make([]string, len(path))
	for i, v := range path {
		strs[i] = fmt.Sprint(v)
	}

	out(fmt.Sprintf("critical path (%d txns): %s", len(path), strings.Join(strs, "->")))
	if serial > 0 {
		out(fmt.Sprintf("ideal time %v of %v serial (%.1f%%)", weight, serial, float64(weight)*100.0/float64(serial)))
	}
}
