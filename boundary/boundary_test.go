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
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/forkseq/aggregate"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// contrastSeries builds a series with A - B equal to diffs, positions 100 bp
// apart.
func contrastSeries(diffs ...float64) Series {
	s := Series{Chrom: "chr1", Source: "r1"}
	for i, d := range diffs {
		s.Positions = append(s.Positions, int64(i*100))
		if d >= 0 {
			s.A = append(s.A, d)
			s.B = append(s.B, 0)
		} else {
			s.A = append(s.A, 0)
			s.B = append(s.B, -d)
		}
	}
	return s
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestDetectStep(t *testing.T) {
	s := contrastSeries(concat(repeat(1, 10), repeat(-1, 10))...)
	calls, err := Detect(s, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, calls, []BoundaryCall{
		{Chrom: "chr1", Position: 1000, Source: "r1", RunLength: 10, Direction: AToB},
	})

	// Starting B-dominant.
	s = contrastSeries(concat(repeat(-1, 10), repeat(1, 10))...)
	calls, err = Detect(s, DefaultOpts)
	assert.NoError(t, err)
	require.Len(t, calls, 1)
	expect.EQ(t, calls[0].Position, int64(1000))
	expect.EQ(t, calls[0].Direction, BToA)
}

func TestDetectBlip(t *testing.T) {
	opts := DefaultOpts
	opts.SmoothingWindow = 1
	s := contrastSeries(concat(repeat(1, 10), []float64{-1, -1}, repeat(1, 10))...)
	calls, err := Detect(s, opts)
	assert.NoError(t, err)
	expect.EQ(t, len(calls), 0)

	// Smoothing absorbs the blip too.
	calls, err = Detect(s, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, len(calls), 0)
}

func TestDetectTie(t *testing.T) {
	opts := DefaultOpts
	opts.SmoothingWindow = 1
	s := contrastSeries(concat(repeat(1, 5), []float64{0}, repeat(-1, 5))...)
	calls, err := Detect(s, opts)
	assert.NoError(t, err)
	expect.EQ(t, calls, []BoundaryCall{
		{Chrom: "chr1", Position: 500, Source: "r1", RunLength: 6, Direction: AToB},
	})
}

func TestDetectMultiple(t *testing.T) {
	opts := DefaultOpts
	opts.SmoothingWindow = 1
	s := contrastSeries(concat(repeat(1, 6), repeat(-1, 6), repeat(1, 6))...)
	calls, err := Detect(s, opts)
	assert.NoError(t, err)
	expect.EQ(t, calls, []BoundaryCall{
		{Chrom: "chr1", Position: 600, Source: "r1", RunLength: 6, Direction: AToB},
		{Chrom: "chr1", Position: 1200, Source: "r1", RunLength: 6, Direction: BToA},
	})

	// A change too close to the end cannot be confirmed.
	s = contrastSeries(concat(repeat(1, 6), repeat(-1, 2))...)
	calls, err = Detect(s, opts)
	assert.NoError(t, err)
	expect.EQ(t, len(calls), 0)

	// No side is ever held.
	s = contrastSeries(repeat(0, 10)...)
	calls, err = Detect(s, opts)
	assert.NoError(t, err)
	expect.EQ(t, len(calls), 0)
}

func TestDetectLogRatio(t *testing.T) {
	opts := DefaultOpts
	opts.Mode = LogRatio
	s := Series{Chrom: "chr2", Source: "s1"}
	for i := 0; i < 12; i++ {
		s.Positions = append(s.Positions, int64(i*1000))
		if i < 6 {
			s.A, s.B = append(s.A, 0.2), append(s.B, 0.6)
		} else {
			s.A, s.B = append(s.A, 0.6), append(s.B, 0.2)
		}
	}
	calls, err := Detect(s, opts)
	assert.NoError(t, err)
	expect.EQ(t, calls, []BoundaryCall{
		{Chrom: "chr2", Position: 6000, Source: "s1", RunLength: 6, Direction: BToA},
	})
}

func TestDetectErrors(t *testing.T) {
	opts := DefaultOpts
	opts.MinRunLength = 0
	_, err := Detect(contrastSeries(1, 1, 1), opts)
	expect.True(t, errors.Is(errors.Invalid, err))

	s := contrastSeries(1, 1, 1)
	s.B = s.B[:1]
	_, err = Detect(s, DefaultOpts)
	expect.True(t, errors.Is(errors.Invalid, err))

	m, err := ParseMode("log-ratio")
	assert.NoError(t, err)
	expect.EQ(t, m, LogRatio)
	_, err = ParseMode("median")
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestFromPair(t *testing.T) {
	p := aggregate.Pair{
		Key:    "r7",
		Chrom:  "chr3",
		Starts: []aggregate.PosType{100, 200, 300, 400, 500},
		A:      []float64{0.9, 0.7, 0.5, 0.3, 0.1},
		B:      []float64{0, 0, 0, 0, 0},
	}
	s := FromPair(&p)
	expect.EQ(t, s.Positions, []int64{100, 200, 300, 400, 500})
	expect.EQ(t, s.Source, "r7")

	// The minimum lies downstream, so the read is mirrored.
	s = Aligned(&p, 1)
	expect.EQ(t, s.Positions, []int64{0, 100, 200, 300, 400})
	expect.EQ(t, s.A, []float64{0.1, 0.3, 0.5, 0.7, 0.9})
	expect.EQ(t, s.Chrom, "chr3")
}

func TestRollingMean(t *testing.T) {
	expect.EQ(t, rollingMean([]float64{1, 2, 3, 4, 5}, 3), []float64{1.5, 2, 3, 4, 4.5})
	expect.EQ(t, rollingMean([]float64{1, 2, 3}, 1), []float64{1, 2, 3})
	expect.EQ(t, rollingMean([]float64{1, 2, 3, 4, 5}, 4), []float64{1.5, 2, 2.5, 3.5, 4})
}

// pulseSeries is a read aligned at its EdU minimum: flat before -3000, EdU
// up to 0, strong BrdU up to 8000, then a weak BrdU tail.
func pulseSeries(from int64) Series {
	s := Series{Chrom: "chr1", Source: "read1"}
	for x := from; x <= 20000; x += 100 {
		var a, b float64
		switch {
		case x < -3000:
			a, b = 0.1, 0.1
		case x <= 0:
			a, b = 0.1, 0.6
		case x <= 8000:
			a, b = 0.9, 0.1
		default:
			a, b = 0.2, 0.1
		}
		s.Positions = append(s.Positions, x)
		s.A = append(s.A, a)
		s.B = append(s.B, b)
	}
	return s
}

func TestPulse(t *testing.T) {
	opts := DefaultPulseOpts
	opts.Smoothing = 1
	opts.DropSmoothing = 1

	res, err := Pulse(pulseSeries(-5000), opts)
	assert.NoError(t, err)
	expect.EQ(t, res, PulseBoundaries{
		Source:    "read1",
		EduStart:  -3000,
		BrdUStart: 100,
		BrdUEnd:   8100,
		EduTrack:  3100,
		BrdUTrack: 8000,
		EduSpeed:  0.31,
		BrdUSpeed: 0.8,
		ForkTrack: 11100,
		ForkSpeed: 0.555,
		Complete:  true,
	})

	// The EdU start is too close to the read start.
	res, err = Pulse(pulseSeries(-3500), opts)
	assert.NoError(t, err)
	expect.EQ(t, res.EduStart, -3000.0)
	expect.False(t, res.Complete)

	// No EdU segment at all.
	s := pulseSeries(-5000)
	for i := range s.B {
		s.B[i] = 0
	}
	res, err = Pulse(s, opts)
	assert.NoError(t, err)
	expect.True(t, math.IsNaN(res.EduStart) && math.IsNaN(res.BrdUEnd) && math.IsNaN(res.ForkSpeed))
	expect.False(t, res.Complete)
}

func TestProfileBoundaries(t *testing.T) {
	var points []aggregate.ProfilePoint
	for x := int64(-300); x <= 1000; x += 100 {
		var d float64
		switch {
		case x < -200:
		case x <= 0:
			d = -0.5
		case x <= 500:
			d = 0.8
		}
		points = append(points, aggregate.ProfilePoint{X: x, MedianDiff: d, Sample: "s1"})
	}
	opts := DefaultPulseOpts
	opts.Smoothing = 1
	res, err := ProfileBoundaries(points, opts)
	assert.NoError(t, err)
	expect.EQ(t, res.Source, "s1")
	expect.EQ(t, res.EduStart, -200.0)
	expect.EQ(t, res.BrdUStart, 100.0)
	expect.EQ(t, res.BrdUEnd, 600.0)
	expect.True(t, res.Complete)
}

func TestProfileBoundariesWholeProfile(t *testing.T) {
	opts := DefaultPulseOpts
	opts.Smoothing = 1

	// The EdU dip lies before -10000 and the BrdU run starts past 0.
	var points []aggregate.ProfilePoint
	for x := int64(-16000); x <= 8000; x += 100 {
		var d float64
		switch {
		case x >= -15000 && x < -12000:
			d = -0.5
		case x >= 1000 && x <= 5000:
			d = 0.8
		}
		points = append(points, aggregate.ProfilePoint{X: x, MedianDiff: d, Sample: "s1"})
	}
	res, err := ProfileBoundaries(points, opts)
	assert.NoError(t, err)
	expect.EQ(t, res.EduStart, -15000.0)
	expect.EQ(t, res.BrdUStart, 1000.0)
	expect.EQ(t, res.BrdUEnd, 5100.0)
	expect.True(t, res.Complete)

	// The end is read from the tail smoothed on its own: smoothing the whole
	// profile would carry the 0.9 at 300 into 400.
	opts.Smoothing = 3
	points = points[:0]
	for x := int64(0); x <= 1000; x += 100 {
		var d float64
		switch {
		case x < 200:
			d = -0.5
		case x < 400:
			d = 0.9
		}
		points = append(points, aggregate.ProfilePoint{X: x, MedianDiff: d, Sample: "s1"})
	}
	res, err = ProfileBoundaries(points, opts)
	assert.NoError(t, err)
	expect.EQ(t, res.EduStart, 0.0)
	expect.EQ(t, res.BrdUStart, 200.0)
	expect.EQ(t, res.BrdUEnd, 400.0)
}

func TestWriteCalls(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteCallsTo(&buf, []BoundaryCall{
		{Chrom: "chr1", Position: 1000, Source: "r1", RunLength: 10, Direction: AToB},
	}))
	expect.EQ(t, buf.String(), "chromosome\tposition\tsource\trun_length\tdirection\nchr1\t1000\tr1\t10\tA->B\n")
}

func TestWritePulses(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	opts := DefaultPulseOpts
	opts.Smoothing = 1
	opts.DropSmoothing = 1
	complete, err := Pulse(pulseSeries(-5000), opts)
	assert.NoError(t, err)
	incomplete, err := Pulse(pulseSeries(-3500), opts)
	assert.NoError(t, err)
	incomplete.Source = "read2"

	path := filepath.Join(tmpdir, "pulses.csv")
	assert.NoError(t, WritePulses(ctx, path, []PulseBoundaries{complete, incomplete}))
	in, err := file.Open(ctx, path)
	assert.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(in.Reader(ctx))
	assert.NoError(t, err)
	assert.NoError(t, in.Close(ctx))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	expect.EQ(t, lines, []string{
		"source,edu_start,brdu_start,brdu_end,edu_track,brdu_track,edu_speed,brdu_speed,fork_track,fork_speed",
		"read1,-3000,100,8100,3100,8000,0.31,0.8,11100,0.555",
	})
}
