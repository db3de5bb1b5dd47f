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
package signal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/forkseq/forkfilter"
	"github.com/grailbio/forkseq/interval"
	"github.com/grailbio/forkseq/modsignal"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Opts configures Extract.
type Opts struct {
	// WindowBP and StepBP are the window width and the distance between
	// consecutive window starts.
	WindowBP int `yaml:"window_bp"`
	StepBP   int `yaml:"step_bp"`
	// MinCoveredBases is the minimum number of reference positions carrying
	// a probability for a window to be reported.
	MinCoveredBases int `yaml:"min_covered_bases"`
	// Parallelism is the number of workers.  0 means runtime.NumCPU().
	Parallelism int `yaml:"parallelism"`
	// MaxReads, if positive, stops after the first MaxReads qualifying
	// records of the BAM.
	MaxReads int `yaml:"max_reads"`
	// OutputDir receives the bedGraph files.
	OutputDir string `yaml:"output_dir"`
	// Sample names the merged track files.
	Sample string `yaml:"sample"`
	// OutputPerRead writes one bedGraph per read and channel instead of one
	// merged bedGraph per channel.
	OutputPerRead bool `yaml:"output_per_read"`
	// WriteWig also writes a WIG next to every per-read bedGraph.
	WriteWig bool `yaml:"write_wig"`
	// NoFilter processes every record regardless of the validated read set.
	NoFilter bool `yaml:"no_filter"`
	// Region, if set, restricts processing to records overlapping it
	// ("chr", "chr:pos" or "chr:start-end", 1-based).
	Region string `yaml:"region"`
	// Channels are the two modification channels, A first.
	Channels [2]modsignal.Channel `yaml:"channels"`
	// Project configures the probability projection.
	Project modsignal.Opts `yaml:"project"`
}

// DefaultOpts matches the usual pulse-labelling analysis: 100bp windows every
// 10bp.
var DefaultOpts = Opts{
	WindowBP:        100,
	StepBP:          10,
	MinCoveredBases: 1,
	Sample:          "sample",
	Channels:        modsignal.DefaultChannels,
	Project:         modsignal.DefaultOpts,
}

// Validate checks that the options are usable.
func (o *Opts) Validate() error {
	if o.WindowBP <= 0 || o.StepBP <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("signal: window (%d) and step (%d) must be positive", o.WindowBP, o.StepBP))
	}
	if o.MinCoveredBases < 0 || o.MinCoveredBases > o.WindowBP {
		return errors.E(errors.Invalid, fmt.Sprintf("signal: min covered bases %d outside [0, %d]", o.MinCoveredBases, o.WindowBP))
	}
	if o.OutputDir == "" {
		return errors.E(errors.Invalid, "signal: no output directory")
	}
	if !o.OutputPerRead && o.Sample == "" {
		return errors.E(errors.Invalid, "signal: merged output needs a sample name")
	}
	for _, ch := range o.Channels {
		if ch.Name == "" || ch.Code == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("signal: incomplete channel %+v", ch))
		}
	}
	if o.Channels[0].Name == o.Channels[1].Name {
		return errors.E(errors.Invalid, fmt.Sprintf("signal: duplicate channel name %s", o.Channels[0].Name))
	}
	return nil
}

// Result is the outcome of Extract.
type Result struct {
	// Tracks holds two tracks per processed read, in BAM order.
	Tracks []Track
	// Failed lists the reads that could not be processed.
	Failed []string
	// Skipped counts qualifying-by-name records without modification tags.
	Skipped int
}

// readTask is one qualifying record and its position in BAM order.
type readTask struct {
	seq int
	rec *sam.Record
}

type readResult struct {
	seq    int
	readID string
	tracks []Track
	err    error
}

// Extract computes the signal tracks of the reads in tracts.
func Extract(ctx context.Context, bamPath string, tracts []forkfilter.ValidatedTract, opts Opts) (Result, error) {
	return ExtractReads(ctx, bamPath, forkfilter.ReadIDs(tracts), opts)
}

// ExtractReads computes the signal tracks of the named reads (every read with
// NoFilter).  A single goroutine streams the BAM and hands each qualifying
// record to a worker chosen by the hash of its name; workers write their own
// reads' files, so per-read outputs never collide.  A failure on one read is
// logged and recorded in Result.Failed.
func ExtractReads(ctx context.Context, bamPath string, reads map[string]bool, opts Opts) (res Result, err error) {
	if err = opts.Validate(); err != nil {
		return
	}
	var region *interval.Entry
	if opts.Region != "" {
		var e interval.Entry
		if e, err = interval.ParseRegionString(opts.Region); err != nil {
			err = errors.E(errors.Invalid, err)
			return
		}
		region = &e
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	var in file.File
	if in, err = file.Open(ctx, bamPath); err != nil {
		err = errors.E(errors.NotExist, err, fmt.Sprintf("signal.Extract: %s", bamPath))
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	var bamr *bam.Reader
	if bamr, err = bam.NewReader(in.Reader(ctx), 1); err != nil {
		err = errors.E(err, fmt.Sprintf("signal.Extract: %s", bamPath))
		return
	}
	defer func() {
		if e := bamr.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if err = os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return
	}

	queues := make([]chan readTask, parallelism)
	for i := range queues {
		queues[i] = make(chan readTask, 64)
	}
	results := make(chan readResult, parallelism)
	var fatal errors.Once

	go func() {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		fatal.Set(dispatch(ctx, bamr, reads, region, &opts, queues, &res.Skipped))
	}()
	go func() {
		fatal.Set(traverse.Each(parallelism, func(workerIdx int) error {
			for task := range queues[workerIdx] {
				results <- processRead(ctx, task, &opts)
			}
			return nil
		}))
		close(results)
	}()

	var collected []readResult
	for r := range results {
		if r.err != nil {
			log.Error.Printf("signal.Extract: read %s: %v", r.readID, r.err)
			res.Failed = append(res.Failed, r.readID)
			continue
		}
		collected = append(collected, r)
	}
	if err = fatal.Err(); err != nil {
		return
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].seq < collected[j].seq })
	sort.Strings(res.Failed)
	for _, r := range collected {
		res.Tracks = append(res.Tracks, r.tracks...)
	}
	if !opts.OutputPerRead {
		if err = writeMerged(ctx, res.Tracks, &opts); err != nil {
			return
		}
	}
	log.Printf("signal.Extract: %d read(s) processed, %d failed, %d without modification tags",
		len(collected), len(res.Failed), res.Skipped)
	return
}

// qualifies reports whether a record is a primary, mapped alignment.
func qualifies(r *sam.Record) bool {
	return r.Flags&(sam.Unmapped|sam.Secondary|sam.Supplementary) == 0 && r.Ref != nil && r.Pos >= 0
}

// dispatch streams the BAM, routing qualifying records to their worker queue.
func dispatch(ctx context.Context, bamr *bam.Reader, reads map[string]bool, region *interval.Entry, opts *Opts, queues []chan readTask, skipped *int) error {
	n := 0
	for opts.MaxReads <= 0 || n < opts.MaxReads {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := bamr.Read()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !qualifies(rec) {
			continue
		}
		if !opts.NoFilter && !reads[rec.Name] {
			continue
		}
		if region != nil && !region.Overlaps(rec.Ref.Name(), PosType(rec.Pos), PosType(rec.End())) {
			continue
		}
		if !modsignal.HasTags(rec) {
			log.Debug.Printf("signal.Extract: read %s has no modification tags; skipping", rec.Name)
			*skipped++
			continue
		}
		h := seahash.Sum64(gunsafe.StringToBytes(rec.Name))
		queues[h%uint64(len(queues))] <- readTask{seq: n, rec: rec}
		n++
	}
	return nil
}

// processRead computes, and in per-read mode writes, both tracks of one read.
// A panic is reported as the read's error so that the worker keeps draining
// its queue.
func processRead(ctx context.Context, task readTask, opts *Opts) (res readResult) {
	res.seq = task.seq
	defer func() {
		if r := recover(); r != nil {
			res.tracks = nil
			res.err = fmt.Errorf("signal.Extract: panic: %v", r)
		}
	}()
	rec := task.rec
	res.readID = rec.Name
	chrom := rec.Ref.Name()
	start, end := PosType(rec.Pos), PosType(rec.End())
	for _, ch := range opts.Channels {
		probs, _, err := modsignal.Project(rec, ch, opts.Project)
		if err != nil {
			res.err = err
			return res
		}
		track := Track{
			ReadID:  rec.Name,
			Channel: ch.Name,
			Windows: Windows(chrom, start, end, probs, opts.WindowBP, opts.StepBP, opts.MinCoveredBases),
		}
		res.tracks = append(res.tracks, track)
	}
	if opts.OutputPerRead {
		for i := range res.tracks {
			tr := &res.tracks[i]
			path := filepath.Join(opts.OutputDir, TrackFileName(tr.Channel, tr.ReadID))
			if err := WriteBedGraph(ctx, path, tr.Windows); err != nil {
				res.err = err
				return res
			}
			if opts.WriteWig {
				path = filepath.Join(opts.OutputDir, WigFileName(tr.Channel, tr.ReadID))
				if err := WriteWig(ctx, path, tr.Windows, opts.StepBP); err != nil {
					res.err = err
					return res
				}
			}
		}
	}
	return res
}

// writeMerged writes one bedGraph per channel holding every read's windows,
// ordered by chromosome, window start and read_id.
func writeMerged(ctx context.Context, tracks []Track, opts *Opts) error {
	type keyed struct {
		readID string
		win    Window
	}
	for _, ch := range opts.Channels {
		var rows []keyed
		for i := range tracks {
			if tracks[i].Channel != ch.Name {
				continue
			}
			for _, w := range tracks[i].Windows {
				rows = append(rows, keyed{tracks[i].ReadID, w})
			}
		}
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := &rows[i], &rows[j]
			if a.win.Chrom != b.win.Chrom {
				return a.win.Chrom < b.win.Chrom
			}
			if a.win.Start != b.win.Start {
				return a.win.Start < b.win.Start
			}
			return a.readID < b.readID
		})
		windows := make([]Window, len(rows))
		for i := range rows {
			windows[i] = rows[i].win
		}
		path := filepath.Join(opts.OutputDir, TrackFileName(ch.Name, opts.Sample))
		if err := WriteBedGraph(ctx, path, windows); err != nil {
			return err
		}
		log.Printf("signal.Extract: wrote %d window(s) to %s", len(windows), path)
	}
	return nil
}

// LoadReadIDs returns the read names of a filtered interval BED.
func LoadReadIDs(ctx context.Context, path string, readIDColumn int) (map[string]bool, error) {
	records, _, err := interval.ReadBEDFromPath(ctx, path, interval.BEDOpts{
		Orientation:  interval.Left,
		ReadIDColumn: readIDColumn,
		ScoreColumn:  -1,
	})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(records))
	for i := range records {
		ids[records[i].ReadID] = true
	}
	return ids, nil
}
