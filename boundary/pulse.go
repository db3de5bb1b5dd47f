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
package boundary

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/forkseq/aggregate"
	"github.com/grailbio/forkseq/signal"
)

// PulseOpts configures Pulse.  Distances are in the units of the series
// positions (bp after alignment).
type PulseOpts struct {
	// Smoothing is the moving-average width used to find the EdU start.
	Smoothing int `yaml:"smoothing"`
	// EduThreshold is the smoothed difference below which EdU dominates.
	EduThreshold float64 `yaml:"edu_threshold"`
	// EduWindowMin is the exclusive lower bound of the EdU start search; the
	// upper bound is 0.
	EduWindowMin float64 `yaml:"edu_window_min"`
	// DropSmoothing is the rolling-mean width used to find the BrdU end.
	DropSmoothing int `yaml:"drop_smoothing"`
	// BrdUSearchSpan bounds the BrdU peak search after the BrdU start.
	BrdUSearchSpan float64 `yaml:"brdu_search_span"`
	DropDiff       float64 `yaml:"drop_diff"`
	DropRatio      float64 `yaml:"drop_ratio"`
	// EdgeMargin is the minimum distance between a boundary and the read end
	// for the read to count as complete.
	EdgeMargin float64 `yaml:"edge_margin"`
	// PulseLengthBP converts track lengths to speeds.
	PulseLengthBP float64 `yaml:"pulse_length_bp"`
	// ProfileEndThreshold and ProfileEndOffset locate the BrdU end of an
	// aggregate profile: the first x beyond BrdU start + offset whose smoothed
	// median difference drops to the threshold.
	ProfileEndThreshold float64 `yaml:"profile_end_threshold"`
	ProfileEndOffset    float64 `yaml:"profile_end_offset"`
}

// DefaultPulseOpts matches a 10 kb EdU pulse followed by a BrdU chase.
var DefaultPulseOpts = PulseOpts{
	Smoothing:           101,
	EduThreshold:        -0.1,
	EduWindowMin:        -10000,
	DropSmoothing:       201,
	BrdUSearchSpan:      15000,
	DropDiff:            0.75,
	DropRatio:           0.65,
	EdgeMargin:          1500,
	PulseLengthBP:       10000,
	ProfileEndThreshold: 0.01,
	ProfileEndOffset:    100,
}

// Validate checks that the options are usable.
func (o *PulseOpts) Validate() error {
	if o.Smoothing < 1 || o.DropSmoothing < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("boundary: smoothing widths %d/%d must be positive", o.Smoothing, o.DropSmoothing))
	}
	if o.PulseLengthBP <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("boundary: pulse length %v must be positive", o.PulseLengthBP))
	}
	return nil
}

// PulseBoundaries are the pulse edges found along one aligned series.
// Positions that could not be found are NaN, as are the lengths derived from
// them.
type PulseBoundaries struct {
	Source    string
	EduStart  float64
	BrdUStart float64
	BrdUEnd   float64
	EduTrack  float64
	BrdUTrack float64
	EduSpeed  float64
	BrdUSpeed float64
	ForkTrack float64
	ForkSpeed float64
	// Complete is false if a boundary is missing or lies within EdgeMargin of
	// the read ends, i.e. the pulse may run off the read.
	Complete bool
}

// rollingMean is a centered rolling mean of width size that averages over
// however many values the window holds at the edges.  For an even size the
// window extends one position further left than right.
func rollingMean(values []float64, size int) []float64 {
	n := len(values)
	out := make([]float64, n)
	prefix := make([]float64, n+1)
	for i, v := range values {
		prefix[i+1] = prefix[i] + v
	}
	left, right := size/2, (size-1)/2
	for i := range out {
		lo, hi := i-left, i+right+1
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}

// Pulse locates the EdU start, BrdU start and BrdU end along s, which must be
// sorted by position with A the BrdU channel and B the EdU channel; see
// Aligned.
func Pulse(s Series, opts PulseOpts) (PulseBoundaries, error) {
	res := PulseBoundaries{
		Source:    s.Source,
		EduStart:  math.NaN(),
		BrdUStart: math.NaN(),
		BrdUEnd:   math.NaN(),
	}
	if err := opts.Validate(); err != nil {
		return res, err
	}
	n := len(s.Positions)
	if len(s.A) != n || len(s.B) != n {
		return res, errors.E(errors.Invalid, fmt.Sprintf("boundary.Pulse: %s: %d positions, %d/%d values", s.Source, n, len(s.A), len(s.B)))
	}
	if n == 0 {
		return res, nil
	}
	diff := make([]float64, n)
	for i := range diff {
		diff[i] = s.A[i] - s.B[i]
	}
	smoothed := signal.MovingAverage(diff, opts.Smoothing)
	for i, p := range s.Positions {
		x := float64(p)
		if smoothed[i] < opts.EduThreshold && x > opts.EduWindowMin && x < 0 {
			res.EduStart = x
			break
		}
	}
	if !math.IsNaN(res.EduStart) {
		for i, p := range s.Positions {
			x := float64(p)
			if x >= res.EduStart && x > 0 && diff[i] > 0 {
				res.BrdUStart = x
				break
			}
		}
	}
	if !math.IsNaN(res.BrdUStart) {
		res.BrdUEnd = brduEnd(s, diff, res.BrdUStart, &opts)
	}

	res.EduTrack = res.BrdUStart - res.EduStart
	res.BrdUTrack = res.BrdUEnd - res.BrdUStart
	res.EduSpeed = res.EduTrack / opts.PulseLengthBP
	res.BrdUSpeed = res.BrdUTrack / opts.PulseLengthBP
	res.ForkTrack = res.EduTrack + res.BrdUTrack
	res.ForkSpeed = res.ForkTrack / (2 * opts.PulseLengthBP)

	readStart, readEnd := float64(s.Positions[0]), float64(s.Positions[n-1])
	res.Complete = !math.IsNaN(res.EduStart) && res.EduStart-readStart >= opts.EdgeMargin &&
		!math.IsNaN(res.BrdUEnd) && math.Abs(res.BrdUEnd-readEnd) >= opts.EdgeMargin &&
		!math.IsNaN(res.BrdUTrack)
	return res, nil
}

// brduEnd finds the BrdU signal peak after brduStart, then the first later
// position where both the difference and its ratio to BrdU have dropped.
func brduEnd(s Series, diff []float64, brduStart float64, opts *PulseOpts) float64 {
	brdu := rollingMean(s.A, opts.DropSmoothing)
	diffSm := rollingMean(diff, opts.DropSmoothing)
	peak := -1
	for i, p := range s.Positions {
		x := float64(p)
		if x <= brduStart || x > brduStart+opts.BrdUSearchSpan {
			continue
		}
		if peak < 0 || brdu[i] > brdu[peak] {
			peak = i
		}
	}
	if peak < 0 {
		return math.NaN()
	}
	for i := peak + 1; i < len(s.Positions); i++ {
		if s.Positions[i] <= s.Positions[peak] {
			continue
		}
		if diffSm[i] <= opts.DropDiff && diffSm[i]/brdu[i] <= opts.DropRatio {
			return float64(s.Positions[i])
		}
	}
	return math.NaN()
}

// ProfileBoundaries locates the pulse edges on an aggregate profile, using its
// median difference, which must be sorted by X.  Unlike Pulse, the whole
// profile is searched: the EdU start is the first x where the smoothed median
// drops below EduThreshold, the BrdU start the first x from there with a
// positive median.  The BrdU end is found by smoothing only the points beyond
// BrdU start + ProfileEndOffset and taking the first whose smoothed median is
// at most ProfileEndThreshold.  Missing medians count as 0.
func ProfileBoundaries(points []aggregate.ProfilePoint, opts PulseOpts) (PulseBoundaries, error) {
	res := PulseBoundaries{EduStart: math.NaN(), BrdUStart: math.NaN(), BrdUEnd: math.NaN()}
	if err := opts.Validate(); err != nil {
		return res, err
	}
	if len(points) == 0 {
		return res, nil
	}
	res.Source = points[0].Sample
	median := make([]float64, len(points))
	for i := range points {
		if median[i] = points[i].MedianDiff; math.IsNaN(median[i]) {
			median[i] = 0
		}
	}
	smoothed := signal.MovingAverage(median, opts.Smoothing)
	for i := range points {
		if smoothed[i] < opts.EduThreshold {
			res.EduStart = float64(points[i].X)
			break
		}
	}
	if !math.IsNaN(res.EduStart) {
		for i := range points {
			if x := float64(points[i].X); x >= res.EduStart && median[i] > 0 {
				res.BrdUStart = x
				break
			}
		}
	}
	if !math.IsNaN(res.BrdUStart) {
		var (
			tailX      []float64
			tailMedian []float64
		)
		for i := range points {
			if x := float64(points[i].X); x > res.BrdUStart+opts.ProfileEndOffset {
				tailX = append(tailX, x)
				tailMedian = append(tailMedian, median[i])
			}
		}
		for i, v := range signal.MovingAverage(tailMedian, opts.Smoothing) {
			if v <= opts.ProfileEndThreshold {
				res.BrdUEnd = tailX[i]
				break
			}
		}
	}
	res.EduTrack = res.BrdUStart - res.EduStart
	res.BrdUTrack = res.BrdUEnd - res.BrdUStart
	res.EduSpeed = res.EduTrack / opts.PulseLengthBP
	res.BrdUSpeed = res.BrdUTrack / opts.PulseLengthBP
	res.ForkTrack = res.EduTrack + res.BrdUTrack
	res.ForkSpeed = res.ForkTrack / (2 * opts.PulseLengthBP)
	res.Complete = !math.IsNaN(res.ForkTrack)
	return res, nil
}
