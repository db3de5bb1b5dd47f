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
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func writeTracks(t *testing.T, dir string, files map[string]string) {
	ctx := vcontext.Background()
	for name, content := range files {
		out, err := file.Create(ctx, filepath.Join(dir, name))
		assert.NoError(t, err)
		_, err = out.Writer(ctx).Write([]byte(content))
		assert.NoError(t, err)
		assert.NoError(t, out.Close(ctx))
	}
}

func TestAggregate(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	writeTracks(t, tmpdir, map[string]string{
		"BrdU__r1.bedgraph": "chr1\t1000\t1100\t0.500000\nchr1\t1500\t1600\t1.000000\nchr1\t3200\t3300\t0.250000\n",
		"EdU__r1.bedgraph":  "chr1\t1000\t1100\t0.500000\nnot a window\n",
		"BrdU__r2.bedgraph": "chr1\t1100\t1200\t0.000000\nchr2\t0\t100\t1.000000\n",
		"Other__r1.bedgraph": "chr1\t1000\t1100\t0.900000\n",
		"notes.txt":          "chr1\t1000\t1100\t0.900000\n",
	})
	opts := DefaultOpts
	opts.Parallelism = 2
	bins, err := Aggregate(ctx, tmpdir, "s1", opts)
	assert.NoError(t, err)
	require.Len(t, bins, 8)

	type row struct {
		chrom   string
		start   PosType
		channel string
		count   int
	}
	var got []row
	counts := map[string]int{}
	for _, b := range bins {
		got = append(got, row{b.Chrom, b.Start, b.Channel, b.Count})
		counts[b.Channel] += b.Count
		expect.EQ(t, b.End, b.Start+1000)
		expect.EQ(t, b.Sample, "s1")
		if b.Count == 0 {
			expect.True(t, math.IsNaN(b.Mean) && math.IsNaN(b.Variance))
		}
	}
	expect.EQ(t, got, []row{
		{"chr1", 1000, "BrdU", 3}, {"chr1", 1000, "EdU", 1},
		{"chr1", 2000, "BrdU", 0}, {"chr1", 2000, "EdU", 0},
		{"chr1", 3000, "BrdU", 1}, {"chr1", 3000, "EdU", 0},
		{"chr2", 0, "BrdU", 1}, {"chr2", 0, "EdU", 0},
	})
	// Every window lands in exactly one bin.
	expect.EQ(t, counts, map[string]int{"BrdU": 5, "EdU": 1})
	expect.EQ(t, bins[0].Mean, 0.5)
	expect.EQ(t, bins[0].Variance, 0.25)
	expect.EQ(t, bins[1].Variance, 0.0)

	_, err = Aggregate(ctx, filepath.Join(tmpdir, "missing"), "s1", opts)
	expect.True(t, err != nil)
	opts.BinWidth = 0
	_, err = Aggregate(ctx, tmpdir, "s1", opts)
	expect.True(t, err != nil)
}

func TestWriteTable(t *testing.T) {
	bins := []Bin{
		{Chrom: "chr1", Start: 0, End: 1000, Channel: "BrdU", Mean: 0.5, Count: 2, Variance: 0.125},
		{Chrom: "chr1", Start: 0, End: 1000, Channel: "EdU", Mean: math.NaN(), Variance: math.NaN()},
	}
	var buf bytes.Buffer
	assert.NoError(t, WriteTableTo(&buf, "s1", bins))
	expect.EQ(t, buf.String(), "#sample=s1\n"+
		"chromosome\tbin_start\tbin_end\tchannel\tmean\tcount\tvariance\n"+
		"chr1\t0\t1000\tBrdU\t0.500000\t2\t0.125000\n"+
		"chr1\t0\t1000\tEdU\tNA\t0\tNA\n")
}

func TestTableToPairs(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	bins := []Bin{
		{Chrom: "chr1", Start: 0, End: 1000, Channel: "BrdU", Mean: 0.75, Count: 2},
		{Chrom: "chr1", Start: 0, End: 1000, Channel: "EdU", Mean: 0.25, Count: 2},
		{Chrom: "chr1", Start: 1000, End: 2000, Channel: "BrdU", Mean: 0.5, Count: 1},
		{Chrom: "chr1", Start: 1000, End: 2000, Channel: "EdU", Mean: math.NaN(), Variance: math.NaN()},
		{Chrom: "chr2", Start: 5000, End: 6000, Channel: "BrdU", Mean: math.NaN(), Variance: math.NaN()},
		{Chrom: "chr2", Start: 5000, End: 6000, Channel: "EdU", Mean: 1, Count: 1},
	}
	path := filepath.Join(tmpdir, "agg.tsv.gz")
	assert.NoError(t, WriteTable(ctx, path, "s1", bins))
	sample, got, err := ReadTable(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, sample, "s1")
	require.Len(t, got, len(bins))
	expect.True(t, math.IsNaN(got[3].Mean))

	pairs := BinPairs(got, DefaultOpts.Channels)
	require.Len(t, pairs, 1)
	expect.EQ(t, pairs[0], Pair{Key: "s1", Chrom: "chr1", Starts: []PosType{0}, A: []float64{0.75}, B: []float64{0.25}})
}

func TestProfilePairs(t *testing.T) {
	pairs := []Pair{
		// Minimum before maximum: aligned as is.
		{Key: "r1", Chrom: "chr1", Starts: []PosType{1000, 1100, 1200, 1300},
			A: []float64{0.5, 0, 0, 1}, B: []float64{0.5, 0.5, 1, 0}},
		// Minimum after maximum: mirrored.
		{Key: "r2", Chrom: "chr1", Starts: []PosType{5000, 5100, 5200, 5300},
			A: []float64{1, 0, 0, 0}, B: []float64{0, 1, 0, 0}},
	}
	xs, diff := Align(&pairs[1], 1)
	expect.EQ(t, xs, []int64{100, 0, -100, -200})
	expect.EQ(t, diff, []float64{1, -1, 0, 0})

	opts := DefaultOpts
	opts.AlignSmoothing = 1
	points := ProfilePairs(pairs, "s1", opts)
	require.Len(t, points, 4)
	var x []int64
	for _, p := range points {
		x = append(x, p.X)
		expect.EQ(t, p.N, 2)
		expect.EQ(t, p.Sample, "s1")
	}
	expect.EQ(t, x, []int64{-200, -100, 0, 100})
	expect.EQ(t, points[1].MedianDiff, -0.25)
	expect.EQ(t, points[1].Mean, -0.25)
	expect.True(t, math.Abs(points[1].SD-math.Sqrt(0.125)) < 1e-12)
	expect.True(t, math.Abs(points[1].SE-0.25) < 1e-12)
	expect.EQ(t, points[2].Mean, -1.0)
	expect.EQ(t, points[2].SD, 0.0)
	expect.EQ(t, points[2].CILower, -1.0)

	opts.ClipMax = 50
	expect.EQ(t, len(ProfilePairs(pairs, "s1", opts)), 3)
}

func TestProfile(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	writeTracks(t, tmpdir, map[string]string{
		"BrdU__r1.bedgraph": "chr1\t1000\t1100\t0.500000\nchr1\t1100\t1200\t1.000000\nchr1\t1200\t1300\t1.000000\n",
		// The window at 1050 has no BrdU counterpart and is dropped.
		"EdU__r1.bedgraph": "chr1\t1000\t1100\t1.000000\nchr1\t1050\t1150\t1.000000\nchr1\t1100\t1200\t0.000000\nchr1\t1200\t1300\t0.000000\n",
		"BrdU__r2.bedgraph": "chr1\t1000\t1100\t0.500000\n",
	})
	opts := DefaultOpts
	opts.AlignSmoothing = 1
	pairs, err := LoadPairs(ctx, tmpdir, opts)
	assert.NoError(t, err)
	require.Len(t, pairs, 1)
	expect.EQ(t, pairs[0].Starts, []PosType{1000, 1100, 1200})
	expect.EQ(t, pairs[0].Diff(), []float64{-0.5, 1, 1})

	points, err := Profile(ctx, tmpdir, "s1", opts)
	assert.NoError(t, err)
	require.Len(t, points, 3)
	expect.EQ(t, points[0].X, int64(0))
	expect.True(t, math.IsNaN(points[0].SD))

	var buf bytes.Buffer
	assert.NoError(t, WriteProfileTo(&buf, points[:1]))
	expect.EQ(t, buf.String(), "x,median_diff,mean,sd,n,se,ci_lower,ci_upper,sample_name\n"+
		"0,-0.500000,-0.500000,NA,1,NA,NA,NA,s1\n")
}

func TestMergedTracksSkipped(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	writeTracks(t, tmpdir, map[string]string{
		"BrdU__r1.bedgraph":     "chr1\t1000\t1100\t0.500000\n",
		"EdU__r1.bedgraph":      "chr1\t1000\t1100\t0.250000\n",
		"BrdU__sample.bedgraph": "chr1\t1000\t1100\t0.500000\nchr1\t1100\t1200\t0.500000\n",
		"EdU__sample.bedgraph":  "chr1\t1000\t1100\t0.250000\n",
	})
	opts := DefaultOpts
	bins, err := Aggregate(ctx, tmpdir, "s1", opts)
	assert.NoError(t, err)
	require.Len(t, bins, 2)
	expect.EQ(t, bins[0].Count, 1)
	expect.EQ(t, bins[1].Count, 1)

	pairs, err := LoadPairs(ctx, tmpdir, opts)
	assert.NoError(t, err)
	require.Len(t, pairs, 1)
	expect.EQ(t, pairs[0].Key, "r1")

	// A directory holding only merged tracks is aggregated as is.
	merged := filepath.Join(tmpdir, "merged")
	assert.NoError(t, os.MkdirAll(merged, 0755))
	writeTracks(t, merged, map[string]string{
		"BrdU__sample.bedgraph": "chr1\t1000\t1100\t0.500000\nchr1\t1100\t1200\t0.500000\n",
		"EdU__sample.bedgraph":  "chr1\t1000\t1100\t0.250000\n",
	})
	bins, err = Aggregate(ctx, merged, "s1", opts)
	assert.NoError(t, err)
	require.Len(t, bins, 2)
	expect.EQ(t, bins[0].Channel, "BrdU")
	expect.EQ(t, bins[0].Count, 2)
}
