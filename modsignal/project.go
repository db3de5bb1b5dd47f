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
package modsignal

import (
	"fmt"

	"github.com/grailbio/forkseq/interval"
	"github.com/grailbio/hts/sam"
)

// PosType is the reference coordinate type.
type PosType = interval.PosType

// RefProb is one modification probability at a 0-based reference position.
type RefProb struct {
	Pos  PosType
	Prob float64
}

// Opts configures Project.
type Opts struct {
	// FoldInsertions pools the probabilities of inserted query bases with
	// the last reference base aligned before the insertion.  When false,
	// inserted bases are dropped.
	FoldInsertions bool `yaml:"fold_insertions"`
}

// DefaultOpts drops inserted bases.
var DefaultOpts = Opts{}

// ProjectProbs places per-query probabilities on the reference, walking the
// CIGAR once with parallel reference and query cursors.  The result is in
// increasing reference position, at most one entry per position.
//
//   M, =, X   one query base per reference base
//   I         query only; dropped, or folded left with FoldInsertions
//   D, N      reference only; no entry (uncovered)
//   S         query only; dropped
//   H, P      neither
func ProjectProbs(cigar sam.Cigar, refStart PosType, probs QueryProbs, opts Opts) ([]RefProb, error) {
	result := make([]RefProb, 0, len(probs))
	posInRef := refStart
	posInRead := 0
	// last is the reference position of the most recent aligned base, or -1.
	last := PosType(-1)
	// pooled accumulates folded values for the entry at result[len-1] when it
	// sits at last.  Only an aligned op moves last, so only it flushes the
	// pool; insertions on either side of a deletion share one mean.
	var pooledSum float64
	var pooledN int
	flushPool := func() {
		if pooledN > 0 {
			result[len(result)-1].Prob = pooledSum / float64(pooledN)
		}
		pooledSum, pooledN = 0, 0
	}
	for _, co := range cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if posInRead+cLen > len(probs) {
				return nil, fmt.Errorf("modsignal.ProjectProbs: CIGAR %v consumes more than %d query bases", cigar, len(probs))
			}
			flushPool()
			for k := 0; k < cLen; k++ {
				if p := probs[posInRead+k]; p >= 0 {
					result = append(result, RefProb{Pos: posInRef + PosType(k), Prob: p})
				}
			}
			posInRef += PosType(cLen)
			posInRead += cLen
			last = posInRef - 1
		case sam.CigarInsertion:
			if posInRead+cLen > len(probs) {
				return nil, fmt.Errorf("modsignal.ProjectProbs: CIGAR %v consumes more than %d query bases", cigar, len(probs))
			}
			if opts.FoldInsertions && last >= 0 {
				for k := 0; k < cLen; k++ {
					p := probs[posInRead+k]
					if p < 0 {
						continue
					}
					if n := len(result); n == 0 || result[n-1].Pos != last {
						result = append(result, RefProb{Pos: last, Prob: p})
						pooledSum, pooledN = p, 1
						continue
					}
					if pooledN == 0 {
						pooledSum, pooledN = result[len(result)-1].Prob, 1
					}
					pooledSum += p
					pooledN++
				}
			}
			posInRead += cLen
		case sam.CigarSoftClipped:
			posInRead += cLen
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += PosType(cLen)
		case sam.CigarHardClipped, sam.CigarPadded:
		default:
			return nil, fmt.Errorf("modsignal.ProjectProbs: unsupported CIGAR operation %v", co)
		}
	}
	flushPool()
	if posInRead != len(probs) {
		return nil, fmt.Errorf("modsignal.ProjectProbs: CIGAR %v covers %d query bases, SEQ has %d", cigar, posInRead, len(probs))
	}
	return result, nil
}

// Project returns the probabilities of channel along the reference span of r.
// ok is false if r carries no modification tags.
func Project(r *sam.Record, channel Channel, opts Opts) (probs []RefProb, ok bool, err error) {
	var qp QueryProbs
	if qp, ok, err = ParseQueryProbs(r, channel); err != nil || !ok {
		return
	}
	probs, err = ProjectProbs(r.Cigar, PosType(r.Pos), qp, opts)
	return
}
