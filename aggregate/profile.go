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
package aggregate

import (
	"context"
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/forkseq/signal"
	"github.com/montanaflynn/stats"
)

// Pair is the A and B signal of one track key (a read, or a sample for merged
// tracks) on one chromosome, at the window starts present in both channels.
type Pair struct {
	Key    string
	Chrom  string
	Starts []PosType
	A      []float64
	B      []float64
}

// Diff returns A-B per position.
func (p *Pair) Diff() []float64 {
	d := make([]float64, len(p.Starts))
	for i := range d {
		d[i] = p.A[i] - p.B[i]
	}
	return d
}

// joinWindows pairs the windows of the two channels by (chromosome, start).
// Both inputs are sorted.  Repeated keys are paired in order.
func joinWindows(key string, a, b []signal.Window) []Pair {
	var (
		pairs []Pair
		cur   *Pair
	)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		wa, wb := &a[i], &b[j]
		if wa.Chrom != wb.Chrom {
			if wa.Chrom < wb.Chrom {
				i++
			} else {
				j++
			}
			continue
		}
		if wa.Start != wb.Start {
			if wa.Start < wb.Start {
				i++
			} else {
				j++
			}
			continue
		}
		if cur == nil || cur.Chrom != wa.Chrom {
			pairs = append(pairs, Pair{Key: key, Chrom: wa.Chrom})
			cur = &pairs[len(pairs)-1]
		}
		cur.Starts = append(cur.Starts, wa.Start)
		cur.A = append(cur.A, wa.Mean)
		cur.B = append(cur.B, wb.Mean)
		i++
		j++
	}
	return pairs
}

// LoadPairs loads the tracks in dir and pairs <A>__<key> with <B>__<key>.
// Keys present in one channel only are ignored.  The result is ordered by
// key, then chromosome.
func LoadPairs(ctx context.Context, dir string, opts Opts) ([]Pair, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	files, err := listTracks(ctx, dir, &opts)
	if err != nil {
		return nil, err
	}
	windows, _, err := loadTracks(ctx, files, &opts)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*[2][]signal.Window)
	var keys []string
	for i, f := range files {
		v, ok := byKey[f.key]
		if !ok {
			v = &[2][]signal.Window{}
			byKey[f.key] = v
			keys = append(keys, f.key)
		}
		v[f.channel] = windows[i]
	}
	sort.Strings(keys)
	var pairs []Pair
	unpaired := 0
	for _, key := range keys {
		v := byKey[key]
		if v[0] == nil || v[1] == nil {
			unpaired++
			continue
		}
		for _, w := range v {
			sort.SliceStable(w, func(i, j int) bool {
				if w[i].Chrom != w[j].Chrom {
					return w[i].Chrom < w[j].Chrom
				}
				return w[i].Start < w[j].Start
			})
		}
		pairs = append(pairs, joinWindows(key, v[0], v[1])...)
	}
	log.Printf("aggregate.LoadPairs: %s: %d track pair(s), %d key(s) with one channel only", dir, len(pairs), unpaired)
	return pairs, nil
}

// argMinMax returns the first index of the minimum and of the maximum.
func argMinMax(v []float64) (imin, imax int) {
	for i := range v {
		if v[i] < v[imin] {
			imin = i
		}
		if v[i] > v[imax] {
			imax = i
		}
	}
	return
}

// Align places the A-B difference of p on coordinates relative to the
// minimum of its smoothed difference.  If the minimum lies downstream of the
// maximum, the window starts are mirrored so that every aligned read runs from
// the B-dominant toward the A-dominant region.
func Align(p *Pair, smoothing int) (xs []int64, diff []float64) {
	n := len(p.Starts)
	if n == 0 {
		return nil, nil
	}
	diff = p.Diff()
	imin, imax := argMinMax(signal.MovingAverage(diff, smoothing))
	starts := make([]int64, n)
	for i, s := range p.Starts {
		starts[i] = int64(s)
	}
	if starts[imin] > starts[imax] {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			starts[i], starts[j] = starts[j], starts[i]
		}
	}
	origin := starts[imin]
	xs = make([]int64, n)
	for i := range starts {
		xs[i] = starts[i] - origin
	}
	return xs, diff
}

// ProfilePoint summarizes the aligned differences at one relative position.
// SD and the derived columns are NaN when N is 1.
type ProfilePoint struct {
	X          int64
	MedianDiff float64
	Mean       float64
	SD         float64
	N          int
	SE         float64
	CILower    float64
	CIUpper    float64
	Sample     string
}

// ProfilePairs aligns every pair and summarizes the differences by relative
// position, keeping positions in [ClipMin, ClipMax].
func ProfilePairs(pairs []Pair, sample string, opts Opts) []ProfilePoint {
	groups := make(map[int64][]float64)
	for i := range pairs {
		xs, diff := Align(&pairs[i], opts.AlignSmoothing)
		for j, x := range xs {
			groups[x] = append(groups[x], diff[j])
		}
	}
	points := make([]ProfilePoint, 0, len(groups))
	for x, values := range groups {
		if x < opts.ClipMin || x > opts.ClipMax {
			continue
		}
		p := ProfilePoint{X: x, N: len(values), Sample: sample}
		p.MedianDiff, _ = stats.Median(values)
		p.Mean, _ = stats.Mean(values)
		p.SD = math.NaN()
		if p.N > 1 {
			variance, _ := stats.SampleVariance(values)
			p.SD = math.Sqrt(variance)
		}
		p.SE = p.SD / math.Sqrt(float64(p.N))
		p.CILower = p.Mean - 1.96*p.SE
		p.CIUpper = p.Mean + 1.96*p.SE
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].X < points[j].X })
	return points
}

// Profile loads the track pairs in dir and returns their aligned summary.
func Profile(ctx context.Context, dir, sample string, opts Opts) ([]ProfilePoint, error) {
	pairs, err := LoadPairs(ctx, dir, opts)
	if err != nil {
		return nil, err
	}
	points := ProfilePairs(pairs, sample, opts)
	log.Printf("aggregate.Profile: %s: %d aligned position(s) from %d pair(s)", sample, len(points), len(pairs))
	return points, nil
}
