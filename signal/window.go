// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package signal computes sliding-window averages of modification
// probabilities along individual reads, and reads and writes the resulting
// bedGraph tracks.
package signal

import (
	"github.com/grailbio/forkseq/interval"
	"github.com/grailbio/forkseq/modsignal"
)

// PosType is the reference coordinate type.
type PosType = interval.PosType

// Window is the average probability of one channel over [Start, End) of one
// read.  Covered counts the reference positions in the window that carry a
// probability.
type Window struct {
	Chrom   string
	Start   PosType
	End     PosType
	Mean    float64
	Covered int
}

// Track is the window sequence of one read and one channel, in increasing
// Start order.
type Track struct {
	ReadID  string
	Channel string
	Windows []Window
}

// Windows slides a window of width windowBP over [readStart, readEnd) in steps
// of stepBP.  Windows are placed at readStart + k*stepBP and must end at or
// before readEnd.  A window covering fewer than minCovered positions of probs
// is skipped.  probs must be sorted by position with no duplicates.
func Windows(chrom string, readStart, readEnd PosType, probs []modsignal.RefProb, windowBP, stepBP, minCovered int) []Window {
	if minCovered < 1 {
		minCovered = 1
	}
	w, step := PosType(windowBP), PosType(stepBP)
	if w <= 0 || step <= 0 || readEnd-readStart < w {
		return nil
	}
	// prefix[i] is the sum of probs[:i].
	prefix := make([]float64, len(probs)+1)
	for i, p := range probs {
		prefix[i+1] = prefix[i] + p.Prob
	}
	var (
		result []Window
		lo, hi int
	)
	for start := readStart; start+w <= readEnd; start += step {
		end := start + w
		for lo < len(probs) && probs[lo].Pos < start {
			lo++
		}
		if hi < lo {
			hi = lo
		}
		for hi < len(probs) && probs[hi].Pos < end {
			hi++
		}
		n := hi - lo
		if n < minCovered {
			continue
		}
		result = append(result, Window{
			Chrom:   chrom,
			Start:   start,
			End:     end,
			Mean:    (prefix[hi] - prefix[lo]) / float64(n),
			Covered: n,
		})
	}
	return result
}
