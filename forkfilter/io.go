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
package forkfilter

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/forkseq/encoding/outfile"
	"github.com/grailbio/forkseq/interval"
)

// Paths names the four detector outputs.
type Paths struct {
	Left         string
	Right        string
	Origins      string
	Terminations string
}

// Inputs holds the loaded detector outputs.
type Inputs struct {
	Left         []interval.GenomicInterval
	Right        []interval.GenomicInterval
	Origins      []interval.GenomicInterval
	Terminations []interval.GenomicInterval
	// Malformed is the total number of skipped lines across the four files.
	Malformed int
}

// bedOpts returns the BED layout for one of the four inputs.  Origins and
// terminations carry no usable score.
func (o *Opts) bedOpts(orientation interval.Orientation) interval.BEDOpts {
	bo := interval.BEDOpts{
		Orientation:  orientation,
		ReadIDColumn: o.ReadIDColumn,
		ScoreColumn:  o.ScoreColumn,
	}
	if orientation == interval.Origin || orientation == interval.Termination {
		bo.ScoreColumn = -1
	}
	if len(o.Chromosomes) > 0 {
		bo.Chromosomes = make(map[string]bool, len(o.Chromosomes))
		for _, c := range o.Chromosomes {
			bo.Chromosomes[c] = true
		}
	}
	return bo
}

// LoadInputs reads the four files concurrently.  Every path must exist; an
// empty file yields an empty collection.
func LoadInputs(ctx context.Context, paths Paths, opts Opts) (in Inputs, err error) {
	if err = opts.Validate(); err != nil {
		return
	}
	jobs := []struct {
		path        string
		orientation interval.Orientation
		dst         *[]interval.GenomicInterval
	}{
		{paths.Left, interval.Left, &in.Left},
		{paths.Right, interval.Right, &in.Right},
		{paths.Origins, interval.Origin, &in.Origins},
		{paths.Terminations, interval.Termination, &in.Terminations},
	}
	for _, job := range jobs {
		if job.path == "" {
			return in, errors.E(errors.Invalid, fmt.Sprintf("forkfilter.LoadInputs: no %s path given", job.orientation))
		}
		if _, err = file.Stat(ctx, job.path); err != nil {
			return in, errors.E(errors.NotExist, err, fmt.Sprintf("forkfilter.LoadInputs: %s", job.path))
		}
	}
	malformed := make([]int, len(jobs))
	err = traverse.Each(len(jobs), func(i int) error {
		records, stats, err := interval.ReadBEDFromPath(ctx, jobs[i].path, opts.bedOpts(jobs[i].orientation))
		if err != nil {
			return err
		}
		*jobs[i].dst = records
		malformed[i] = stats.Malformed
		return nil
	})
	for _, n := range malformed {
		in.Malformed += n
	}
	log.Printf("forkfilter.LoadInputs: %d left, %d right, %d origin, %d termination record(s); %d malformed line(s) skipped",
		len(in.Left), len(in.Right), len(in.Origins), len(in.Terminations), in.Malformed)
	return
}

// WriteFilteredBED writes the two forks of every tract, in tract order, with
// their original columns.  A ".gz" path is BGZF-compressed.
func WriteFilteredBED(ctx context.Context, path string, tracts []ValidatedTract) (err error) {
	var out *outfile.Writer
	if out, err = outfile.Create(ctx, path, 1); err != nil {
		return err
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	records := make([]interval.GenomicInterval, 0, 2*len(tracts))
	for i := range tracts {
		records = append(records, tracts[i].Left, tracts[i].Right)
	}
	return interval.WriteBED(out, records)
}

// Run loads the inputs, filters them and writes the filtered BED to outPath.
func Run(ctx context.Context, paths Paths, outPath string, opts Opts) ([]ValidatedTract, error) {
	in, err := LoadInputs(ctx, paths, opts)
	if err != nil {
		return nil, err
	}
	tracts := Filter(in.Left, in.Right, in.Origins, in.Terminations, opts)
	if err = WriteFilteredBED(ctx, outPath, tracts); err != nil {
		return nil, err
	}
	log.Printf("forkfilter.Run: wrote %d tract(s) to %s", len(tracts), outPath)
	return tracts, nil
}
