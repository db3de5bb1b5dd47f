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

// Package boundary locates the positions where the dominant label of a
// two-channel signal changes, either as sustained sign changes of the channel
// contrast (Detect) or as the edges of a sequential two-analog pulse along an
// aligned read (Pulse).
package boundary

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/forkseq/aggregate"
	"github.com/grailbio/forkseq/signal"
)

// Series is a two-channel signal sampled at increasing positions.
type Series struct {
	Chrom string
	// Source is the read or sample the series comes from.
	Source    string
	Positions []int64
	A         []float64
	B         []float64
}

// FromPair converts a window pair into a Series.
func FromPair(p *aggregate.Pair) Series {
	s := Series{Chrom: p.Chrom, Source: p.Key, Positions: make([]int64, len(p.Starts)), A: p.A, B: p.B}
	for i, x := range p.Starts {
		s.Positions[i] = int64(x)
	}
	return s
}

// Aligned returns p on the relative coordinates of aggregate.Align, sorted by
// position.
func Aligned(p *aggregate.Pair, smoothing int) Series {
	xs, _ := aggregate.Align(p, smoothing)
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return xs[idx[i]] < xs[idx[j]] })
	s := Series{Chrom: p.Chrom, Source: p.Key}
	for _, i := range idx {
		s.Positions = append(s.Positions, xs[i])
		s.A = append(s.A, p.A[i])
		s.B = append(s.B, p.B[i])
	}
	return s
}

// Mode selects the per-position contrast of the two channels.
type Mode int

const (
	// Difference is A - B.
	Difference Mode = iota
	// LogRatio is log2((A + Epsilon) / (B + Epsilon)).
	LogRatio
)

func (m Mode) String() string {
	switch m {
	case Difference:
		return "difference"
	case LogRatio:
		return "log-ratio"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the String form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "difference", "diff":
		return Difference, nil
	case "log-ratio", "logratio", "ratio":
		return LogRatio, nil
	}
	return Difference, errors.E(errors.Invalid, fmt.Sprintf("boundary: unknown mode %q", s))
}

// UnmarshalYAML parses a Mode from its String form.
func (m *Mode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	var err error
	*m, err = ParseMode(s)
	return err
}

// MarshalYAML writes the String form of a Mode.
func (m Mode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// Opts configures Detect.
type Opts struct {
	Mode Mode `yaml:"mode"`
	// Epsilon keeps LogRatio finite for zero signals.
	Epsilon float64 `yaml:"epsilon"`
	// SmoothingWindow is the width, in positions, of the centered moving
	// average applied to the contrast.
	SmoothingWindow int `yaml:"smoothing_window"`
	// Threshold separates A dominance (above) from B dominance (below).
	Threshold float64 `yaml:"threshold"`
	// MinRunLength is the number of positions a new side must hold, with no
	// return to the old side, for a crossing to be reported.
	MinRunLength int `yaml:"min_run_length"`
}

// DefaultOpts smooths over five positions and requires three.
var DefaultOpts = Opts{
	Mode:            Difference,
	Epsilon:         1e-3,
	SmoothingWindow: 5,
	MinRunLength:    3,
}

// Validate checks that the options are usable.
func (o *Opts) Validate() error {
	if o.MinRunLength < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("boundary: min run length %d must be positive", o.MinRunLength))
	}
	if o.SmoothingWindow < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("boundary: smoothing window %d must be positive", o.SmoothingWindow))
	}
	if o.Mode == LogRatio && o.Epsilon <= 0 {
		return errors.E(errors.Invalid, "boundary: log-ratio mode needs a positive epsilon")
	}
	return nil
}

// Direction names of a BoundaryCall.
const (
	AToB = "A->B"
	BToA = "B->A"
)

// BoundaryCall is one confirmed change of the dominant channel.
type BoundaryCall struct {
	Chrom    string
	Position int64
	Source   string
	// RunLength is the number of consecutive positions, from Position, that
	// stay off the old side.
	RunLength int
	Direction string
}

// Contrast returns the smoothed per-position contrast of s.
func Contrast(s *Series, opts *Opts) []float64 {
	c := make([]float64, len(s.Positions))
	for i := range c {
		if opts.Mode == LogRatio {
			c[i] = math.Log2((s.A[i] + opts.Epsilon) / (s.B[i] + opts.Epsilon))
		} else {
			c[i] = s.A[i] - s.B[i]
		}
	}
	return signal.MovingAverage(c, opts.SmoothingWindow)
}

func sideOf(v, threshold float64) int {
	switch {
	case v > threshold:
		return 1
	case v < threshold:
		return -1
	}
	return 0
}

// Detect reports the sustained changes of the dominant channel along s.  The
// initial dominant side is the first one held for MinRunLength positions.  A
// crossing starts at the first position off the dominant side (a position
// exactly at Threshold counts, so ties resolve to the earlier position) and is
// confirmed if the MinRunLength positions from there contain no dominant-side
// position and at least one on the other side.  Each confirmed crossing flips
// the dominant side, so a run yields at most one call.
func Detect(s Series, opts Opts) ([]BoundaryCall, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	n := len(s.Positions)
	if len(s.A) != n || len(s.B) != n {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("boundary.Detect: %s: %d positions, %d/%d values", s.Source, n, len(s.A), len(s.B)))
	}
	contrast := Contrast(&s, &opts)
	sides := make([]int, n)
	for i, v := range contrast {
		sides[i] = sideOf(v, opts.Threshold)
	}
	runLen := opts.MinRunLength

	// Initial dominant side.
	dominant, p := 0, 0
	for i := 0; i+runLen <= n && dominant == 0; i++ {
		if sides[i] == 0 {
			continue
		}
		held := true
		for k := i + 1; k < i+runLen; k++ {
			if sides[k] != sides[i] {
				held = false
				break
			}
		}
		if held {
			dominant, p = sides[i], i+runLen
		}
	}
	if dominant == 0 {
		return nil, nil
	}

	var calls []BoundaryCall
	for ; p+runLen <= n; p++ {
		if sides[p] == dominant {
			continue
		}
		confirmed := false
		for k := p; k < p+runLen; k++ {
			if sides[k] == dominant {
				confirmed = false
				break
			}
			if sides[k] == -dominant {
				confirmed = true
			}
		}
		if !confirmed {
			continue
		}
		run := 0
		for k := p; k < n && sides[k] != dominant; k++ {
			run++
		}
		dir := AToB
		if dominant < 0 {
			dir = BToA
		}
		calls = append(calls, BoundaryCall{
			Chrom:     s.Chrom,
			Position:  s.Positions[p],
			Source:    s.Source,
			RunLength: run,
			Direction: dir,
		})
		dominant = -dominant
	}
	return calls, nil
}
