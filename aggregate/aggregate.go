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

// Package aggregate merges the per-read signal tracks of a sample: onto a
// fixed genomic grid (Aggregate), and onto a common coordinate system anchored
// at each read's strongest second-label signal (Profile).
package aggregate

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/forkseq/interval"
	"github.com/grailbio/forkseq/signal"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// PosType is the reference coordinate type.
type PosType = interval.PosType

// Opts configures Aggregate and Profile.
type Opts struct {
	// Channels are the two channel names, A first.
	Channels [2]string `yaml:"channels"`
	// BinWidth is the grid cell width for Aggregate.
	BinWidth int `yaml:"bin_width"`
	// Parallelism bounds the number of track files parsed at once.  0 means
	// runtime.NumCPU().
	Parallelism int `yaml:"parallelism"`
	// AlignSmoothing is the moving-average width, in windows, used to locate
	// the minimum of each read's A-B difference.
	AlignSmoothing int `yaml:"align_smoothing"`
	// ClipMin and ClipMax bound the aligned positions kept by Profile.
	ClipMin int64 `yaml:"clip_min"`
	ClipMax int64 `yaml:"clip_max"`
	// MergedSample is the key of the merged track files written by a
	// non-per-read extraction.  When per-read tracks sit in the same
	// directory, the merged files are skipped so no window counts twice.
	MergedSample string `yaml:"merged_sample"`
}

// DefaultOpts aggregates BrdU against EdU.
var DefaultOpts = Opts{
	Channels:       [2]string{"BrdU", "EdU"},
	BinWidth:       1000,
	AlignSmoothing: 500,
	ClipMin:        -40000,
	ClipMax:        60000,
	MergedSample:   signal.DefaultOpts.Sample,
}

// Validate checks that the options are usable.
func (o *Opts) Validate() error {
	if o.Channels[0] == "" || o.Channels[1] == "" || o.Channels[0] == o.Channels[1] {
		return errors.E(errors.Invalid, fmt.Sprintf("aggregate: invalid channel pair %q", o.Channels))
	}
	if o.BinWidth <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("aggregate: bin width %d must be positive", o.BinWidth))
	}
	if o.ClipMin > o.ClipMax {
		return errors.E(errors.Invalid, fmt.Sprintf("aggregate: clip range [%d, %d] is empty", o.ClipMin, o.ClipMax))
	}
	return nil
}

func (o *Opts) parallelism() int {
	if o.Parallelism <= 0 {
		return runtime.NumCPU()
	}
	return o.Parallelism
}

// trackFile is one bedGraph track found in the input directory.
type trackFile struct {
	path    string
	channel int
	key     string
}

// listTracks returns the bedGraph files of the two channels in dir, sorted by
// path.
func listTracks(ctx context.Context, dir string, opts *Opts) ([]trackFile, error) {
	var files []trackFile
	lister := file.List(ctx, dir, false)
	for lister.Scan() {
		ch, key, ok := signal.ParseTrackFileName(lister.Path())
		if !ok {
			continue
		}
		for i, name := range opts.Channels {
			if ch == name {
				files = append(files, trackFile{path: lister.Path(), channel: i, key: key})
			}
		}
	}
	if err := lister.Err(); err != nil {
		return nil, errors.E(errors.NotExist, err, fmt.Sprintf("aggregate: list %s", dir))
	}
	if len(files) == 0 {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("aggregate: no %s or %s track files found in %s", opts.Channels[0], opts.Channels[1], dir))
	}
	perRead := false
	for _, f := range files {
		if f.key != opts.MergedSample {
			perRead = true
			break
		}
	}
	if perRead && opts.MergedSample != "" {
		kept := files[:0]
		for _, f := range files {
			if f.key == opts.MergedSample {
				log.Error.Printf("aggregate: %s: merged track next to per-read tracks; skipping", f.path)
				continue
			}
			kept = append(kept, f)
		}
		files = kept
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

// loadTracks parses files concurrently.  windows[i] holds the windows of
// files[i].
func loadTracks(ctx context.Context, files []trackFile, opts *Opts) (windows [][]signal.Window, malformed int, err error) {
	windows = make([][]signal.Window, len(files))
	counts := make([]int, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallelism())
	for i := range files {
		i := i
		g.Go(func() error {
			w, n, err := signal.ReadBedGraph(gctx, files[i].path)
			if err != nil {
				return err
			}
			windows[i], counts[i] = w, n
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return
	}
	for _, n := range counts {
		malformed += n
	}
	return
}

// Bin is the summary of one channel over one grid cell.  Mean and Variance
// are NaN when Count is zero.
type Bin struct {
	Chrom    string
	Start    PosType
	End      PosType
	Channel  string
	Sample   string
	Mean     float64
	Count    int
	Variance float64
}

// binKey identifies a grid cell.  It is the llrb key of the occupied cells.
type binKey struct {
	chrom string
	index int64
}

// Compare implements llrb.Comparable.
func (k binKey) Compare(c llrb.Comparable) int {
	k2 := c.(binKey)
	if k.chrom != k2.chrom {
		if k.chrom < k2.chrom {
			return -1
		}
		return 1
	}
	switch {
	case k.index < k2.index:
		return -1
	case k.index > k2.index:
		return 1
	}
	return 0
}

// binValues holds the window means that fell into one cell, per channel.
type binValues [2][]float64

func summarize(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	mean, _ = stats.Mean(values)
	if len(values) == 1 {
		return mean, 0
	}
	variance, _ = stats.SampleVariance(values)
	return mean, variance
}

// Aggregate bins every window of the two channels' tracks in dir by
// floor(window_start / BinWidth).  For each chromosome, every cell from the
// first to the last occupied one is reported for both channels; cells without
// windows have Count 0.  The result is ordered by chromosome, bin start, then
// channel (A first).
func Aggregate(ctx context.Context, dir, sample string, opts Opts) ([]Bin, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	files, err := listTracks(ctx, dir, &opts)
	if err != nil {
		return nil, err
	}
	windows, malformed, err := loadTracks(ctx, files, &opts)
	if err != nil {
		return nil, err
	}
	cells := make(map[binKey]*binValues)
	var order llrb.Tree
	var nWindows [2]int
	width := int64(opts.BinWidth)
	for i, f := range files {
		for _, w := range windows[i] {
			k := binKey{chrom: w.Chrom, index: int64(w.Start) / width}
			v, ok := cells[k]
			if !ok {
				v = &binValues{}
				cells[k] = v
				order.Insert(k)
			}
			v[f.channel] = append(v[f.channel], w.Mean)
			nWindows[f.channel]++
		}
	}

	var bins []Bin
	emit := func(k binKey, v *binValues) {
		for ch := range opts.Channels {
			b := Bin{
				Chrom:   k.chrom,
				Start:   PosType(k.index * width),
				End:     PosType((k.index + 1) * width),
				Channel: opts.Channels[ch],
				Sample:  sample,
			}
			if v != nil {
				b.Count = len(v[ch])
				b.Mean, b.Variance = summarize(v[ch])
			} else {
				b.Mean, b.Variance = math.NaN(), math.NaN()
			}
			bins = append(bins, b)
		}
	}
	var prev *binKey
	order.Do(func(c llrb.Comparable) bool {
		k := c.(binKey)
		if prev != nil && prev.chrom == k.chrom {
			for gap := prev.index + 1; gap < k.index; gap++ {
				emit(binKey{chrom: k.chrom, index: gap}, nil)
			}
		}
		emit(k, cells[k])
		prev = &k
		return false
	})
	log.Printf("aggregate: %s: %d track file(s), %d/%d %s/%s window(s), %d malformed line(s), %d bin row(s)",
		sample, len(files), nWindows[0], nWindows[1], opts.Channels[0], opts.Channels[1], malformed, len(bins))
	return bins, nil
}
