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

// Package forkfilter keeps the reads whose fork calls are geometrically
// consistent: a leftward and a rightward fork flanking an origin, or
// converging on a termination.  Everything else a detector reports for a read
// is dropped, and the surviving forks are written back out so that signal
// extraction can be restricted to those reads.
package forkfilter

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/forkseq/interval"
)

// PosType is the coordinate type shared with package interval.
type PosType = interval.PosType

// TrailingScore is the score forkSense assigns to a fork that runs off the end
// of its read.
const TrailingScore = -3

// Opts configures Filter and LoadInputs.
type Opts struct {
	// OriginTolerance is the slack, in bp, allowed on each side when checking
	// that an origin midpoint lies between the left and right fork starts.
	OriginTolerance PosType `yaml:"origin_tolerance"`
	// TerminationTolerance is the corresponding slack for a termination
	// midpoint lying between the right fork end and the left fork start.
	TerminationTolerance PosType `yaml:"termination_tolerance"`
	// ReadIDColumn and ScoreColumn are the 0-based columns of the read name
	// and the fork score in the fork files.
	ReadIDColumn int `yaml:"read_id_column"`
	ScoreColumn  int `yaml:"score_column"`
	// MinScore drops fork records scoring below it.
	MinScore float64 `yaml:"min_score"`
	// DropTrailing drops forks carrying TrailingScore.
	DropTrailing bool `yaml:"drop_trailing"`
	// Chromosomes, if non-empty, restricts the records to these chromosomes.
	// Records on other chromosomes are treated as malformed.
	Chromosomes []string `yaml:"chromosomes,omitempty"`
}

// DefaultOpts reads the six-column layout and applies the strict pairing
// rule.
var DefaultOpts = Opts{
	ReadIDColumn: 3,
	ScoreColumn:  4,
	MinScore:     -math.MaxFloat64,
}

// Validate checks that the options are usable.
func (o *Opts) Validate() error {
	if o.OriginTolerance < 0 || o.TerminationTolerance < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("forkfilter: negative tolerance (origin %d, termination %d)", o.OriginTolerance, o.TerminationTolerance))
	}
	if o.ReadIDColumn < 3 || o.ScoreColumn < 3 || o.ReadIDColumn == o.ScoreColumn {
		return errors.E(errors.Invalid, fmt.Sprintf("forkfilter: invalid read_id/score columns %d/%d", o.ReadIDColumn, o.ScoreColumn))
	}
	return nil
}

// Rule identifies the pairing rule that accepted a tract.
type Rule int

const (
	// OriginPair is a left and right fork flanking a shared origin.
	OriginPair Rule = iota
	// TerminationPair is a left and right fork converging on a shared
	// termination.
	TerminationPair
)

func (r Rule) String() string {
	switch r {
	case OriginPair:
		return "origin-pair"
	case TerminationPair:
		return "termination-pair"
	}
	return fmt.Sprintf("Rule(%d)", int(r))
}

// ValidatedTract is a left/right fork pair confirmed by an origin or a
// termination on the same read.  Left, Right and Anchor are copies of input
// records.
type ValidatedTract struct {
	ReadID string
	Rule   Rule
	Left   interval.GenomicInterval
	Right  interval.GenomicInterval
	// Anchor is the origin or termination that accepted the pair.
	Anchor interval.GenomicInterval
}

// Score is the combined score of the two forks.
func (t *ValidatedTract) Score() float64 {
	return t.Left.Score + t.Right.Score
}

// Span is the sum of the two fork lengths.
func (t *ValidatedTract) Span() PosType {
	return t.Left.Len() + t.Right.Len()
}

// Start returns the leftmost fork start.
func (t *ValidatedTract) Start() PosType {
	if t.Right.Start < t.Left.Start {
		return t.Right.Start
	}
	return t.Left.Start
}

// Intervals returns the two forks, left first.
func (t *ValidatedTract) Intervals() []interval.GenomicInterval {
	return []interval.GenomicInterval{t.Left, t.Right}
}

// Stats counts the outcome of one Filter call.
type Stats struct {
	Reads            int
	OriginPairs      int
	TerminationPairs int
	// Unpaired counts reads with forks that no rule accepted.
	Unpaired int
	// LowScore counts fork records dropped by MinScore or DropTrailing.
	LowScore int
}

// originCompatible reports whether origin sits between the left fork start and
// the right fork start.
func originCompatible(left, right, origin *interval.GenomicInterval, tol PosType) bool {
	if left.Chrom != origin.Chrom || right.Chrom != origin.Chrom {
		return false
	}
	mid := origin.Mid()
	return left.Start-tol <= mid && mid <= right.Start+tol
}

// terminationCompatible reports whether term sits between the right fork end
// and the left fork start: the rightward fork arrives from the left, the
// leftward fork from the right.
func terminationCompatible(left, right, term *interval.GenomicInterval, tol PosType) bool {
	if left.Chrom != term.Chrom || right.Chrom != term.Chrom {
		return false
	}
	mid := term.Mid()
	return right.End-tol <= mid && mid <= left.Start+tol
}

// better reports whether a should be preferred over b.
func better(a, b *ValidatedTract) bool {
	if sa, sb := a.Score(), b.Score(); sa != sb {
		return sa > sb
	}
	if la, lb := a.Span(), b.Span(); la != lb {
		return la > lb
	}
	return a.Start() < b.Start()
}

func (o *Opts) keepFork(iv *interval.GenomicInterval) bool {
	if o.DropTrailing && iv.Score == TrailingScore {
		return false
	}
	return iv.Score >= o.MinScore
}

// pairRead returns the best tract for one read, trying origin pairs before
// termination pairs.
func pairRead(idx *interval.ReadIndex, g *interval.ReadGroup, opts *Opts, stats *Stats) (best ValidatedTract, found bool) {
	recs := idx.Records
	var left, right []int32
	for _, i := range g.Left {
		if opts.keepFork(&recs[i]) {
			left = append(left, i)
		} else {
			stats.LowScore++
		}
	}
	for _, i := range g.Right {
		if opts.keepFork(&recs[i]) {
			right = append(right, i)
		} else {
			stats.LowScore++
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return
	}
	for _, rule := range [...]Rule{OriginPair, TerminationPair} {
		anchors, tol, compatible := g.Origins, opts.OriginTolerance, originCompatible
		if rule == TerminationPair {
			anchors, tol, compatible = g.Terminations, opts.TerminationTolerance, terminationCompatible
		}
		for _, li := range left {
			for _, ri := range right {
				for _, ai := range anchors {
					if !compatible(&recs[li], &recs[ri], &recs[ai], tol) {
						continue
					}
					cand := ValidatedTract{
						ReadID: g.ReadID,
						Rule:   rule,
						Left:   recs[li],
						Right:  recs[ri],
						Anchor: recs[ai],
					}
					if !found || better(&cand, &best) {
						best, found = cand, true
					}
					// Further anchors for the same fork pair give the same score.
					break
				}
			}
		}
		if found {
			return
		}
	}
	return
}

// Filter pairs the fork records of each read against the origins and
// terminations of the same read.  A read contributes at most one tract: the
// best origin pair if there is one, else the best termination pair.  The
// result is ordered by chromosome, left fork start, then read_id.
func Filter(left, right, origins, terminations []interval.GenomicInterval, opts Opts) []ValidatedTract {
	tracts, _ := FilterWithStats(left, right, origins, terminations, opts)
	return tracts
}

// FilterWithStats is Filter, also returning outcome counts.
func FilterWithStats(left, right, origins, terminations []interval.GenomicInterval, opts Opts) ([]ValidatedTract, Stats) {
	idx := interval.NewReadIndex(left, right, origins, terminations)
	stats := Stats{Reads: idx.NumReads()}
	var tracts []ValidatedTract
	for gi := 0; gi < idx.NumReads(); gi++ {
		g := idx.Group(gi)
		if len(g.Left) == 0 && len(g.Right) == 0 {
			continue
		}
		t, ok := pairRead(idx, g, &opts, &stats)
		if !ok {
			stats.Unpaired++
			continue
		}
		if t.Rule == OriginPair {
			stats.OriginPairs++
		} else {
			stats.TerminationPairs++
		}
		tracts = append(tracts, t)
	}
	sort.SliceStable(tracts, func(i, j int) bool {
		a, b := &tracts[i], &tracts[j]
		if a.Left.Chrom != b.Left.Chrom {
			return a.Left.Chrom < b.Left.Chrom
		}
		if a.Left.Start != b.Left.Start {
			return a.Left.Start < b.Left.Start
		}
		return a.ReadID < b.ReadID
	})
	log.Printf("forkfilter: %d read(s), %d origin pair(s), %d termination pair(s), %d unpaired, %d low-score fork(s)",
		stats.Reads, stats.OriginPairs, stats.TerminationPairs, stats.Unpaired, stats.LowScore)
	return tracts, stats
}

// ReadIDs returns the set of reads that yielded a tract.
func ReadIDs(tracts []ValidatedTract) map[string]bool {
	ids := make(map[string]bool, len(tracts))
	for i := range tracts {
		ids[tracts[i].ReadID] = true
	}
	return ids
}
