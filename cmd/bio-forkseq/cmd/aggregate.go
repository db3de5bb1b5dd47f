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
package cmd

import (
	"context"
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/forkseq/aggregate"
	"github.com/grailbio/forkseq/boundary"
	"github.com/grailbio/forkseq/config"
	"v.io/x/lib/cmdline"
)

func bindAggregateFlags(cmd *cmdline.Command, opts *aggregate.Opts) {
	cmd.Flags.StringVar(&opts.Channels[0], "channel-a", opts.Channels[0], "Name of the first channel")
	cmd.Flags.StringVar(&opts.Channels[1], "channel-b", opts.Channels[1], "Name of the second channel")
	cmd.Flags.IntVar(&opts.Parallelism, "parallelism", opts.Parallelism, "Number of track files parsed at once; 0 = runtime.NumCPU()")
	cmd.Flags.StringVar(&opts.MergedSample, "merged-sample", opts.MergedSample, "Key of merged track files, skipped when per-read tracks are present")
}

func newCmdAggregate() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "aggregate",
		Short:    "Summarize signal tracks into fixed-width bins",
		ArgsName: "trackdir",
		Long: `
Aggregate reads the bedGraph files under trackdir and writes, per bin and
channel, the mean, count and variance of the window values starting in the bin.
Bins between occupied ones are written with count 0 and NA statistics.`,
	}
	cfg := config.Default()
	configPath := cmd.Flags.String("config", "", configHelp)
	sample := cmd.Flags.String("sample", "sample", "Sample name recorded in the table")
	outPath := cmd.Flags.String("out", "", "Output table; .gz output is BGZF-compressed")
	bindAggregateFlags(cmd, &cfg.Aggregate)
	cmd.Flags.IntVar(&cfg.Aggregate.BinWidth, "bin-width", cfg.Aggregate.BinWidth, "Bin width in bp")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("aggregate takes one track directory, but got %v", argv)
		}
		if *outPath == "" {
			return fmt.Errorf("aggregate: -out is required")
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, *configPath, &cfg); err != nil {
			return err
		}
		bins, err := aggregate.Aggregate(ctx, argv[0], *sample, cfg.Aggregate)
		if err != nil {
			return err
		}
		return aggregate.WriteTable(ctx, *outPath, *sample, bins)
	})
	return cmd
}

// loadPairs returns the per-read window pairs under dir, or the per-chromosome
// bin pairs of an aggregate table if table is set.
func loadPairs(ctx context.Context, dir, table string, opts aggregate.Opts) (pairs []aggregate.Pair, sample string, err error) {
	if table == "" {
		pairs, err = aggregate.LoadPairs(ctx, dir, opts)
		return
	}
	var bins []aggregate.Bin
	if sample, bins, err = aggregate.ReadTable(ctx, table); err != nil {
		return
	}
	return aggregate.BinPairs(bins, opts.Channels), sample, nil
}

func newCmdProfile() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "profile",
		Short:    "Align reads on their EdU minimum and summarize the BrdU-EdU difference",
		ArgsName: "[trackdir]",
		Long: `
Profile aligns every read's BrdU-EdU difference on the minimum of its smoothed
difference and writes, per relative position, the median, mean, standard
deviation and 95% confidence interval across reads.  With -table, the bins of
an aggregate table are profiled instead of the per-read tracks.`,
	}
	cfg := config.Default()
	configPath := cmd.Flags.String("config", "", configHelp)
	sample := cmd.Flags.String("sample", "", "Sample name written to every row; defaults to the table's sample")
	table := cmd.Flags.String("table", "", "Aggregate table to profile instead of a track directory")
	outPath := cmd.Flags.String("out", "", "Output CSV")
	boundariesPath := cmd.Flags.String("boundaries", "", "If set, write the pulse boundaries of the profile to this CSV")
	bindAggregateFlags(cmd, &cfg.Aggregate)
	cmd.Flags.IntVar(&cfg.Aggregate.AlignSmoothing, "align-smoothing", cfg.Aggregate.AlignSmoothing, "Moving-average width, in windows, used to find each read's minimum")
	cmd.Flags.Int64Var(&cfg.Aggregate.ClipMin, "clip-min", cfg.Aggregate.ClipMin, "Smallest relative position kept")
	cmd.Flags.Int64Var(&cfg.Aggregate.ClipMax, "clip-max", cfg.Aggregate.ClipMax, "Largest relative position kept")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) > 1 || (*table == "" && len(argv) == 0) || (*table != "" && len(argv) == 1) {
			return fmt.Errorf("profile takes either one track directory or -table, but got %v", argv)
		}
		if *outPath == "" {
			return fmt.Errorf("profile: -out is required")
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, *configPath, &cfg); err != nil {
			return err
		}
		if err := cfg.Aggregate.Validate(); err != nil {
			return err
		}
		var dir string
		if len(argv) == 1 {
			dir = argv[0]
		}
		pairs, tableSample, err := loadPairs(ctx, dir, *table, cfg.Aggregate)
		if err != nil {
			return err
		}
		name := *sample
		if name == "" {
			name = tableSample
		}
		if name == "" {
			name = "sample"
		}
		points := aggregate.ProfilePairs(pairs, name, cfg.Aggregate)
		if err = aggregate.WriteProfile(ctx, *outPath, points); err != nil {
			return err
		}
		if *boundariesPath == "" {
			return nil
		}
		b, err := boundary.ProfileBoundaries(points, cfg.Pulse)
		if err != nil {
			return err
		}
		if !b.Complete {
			log.Error.Printf("profile: %s: incomplete pulse boundaries (edu_start %v, brdu_start %v, brdu_end %v)", name, b.EduStart, b.BrdUStart, b.BrdUEnd)
		} else {
			log.Printf("profile: %s: fork track %.0f bp, fork speed %.3f", name, b.ForkTrack, b.ForkSpeed)
		}
		return boundary.WritePulses(ctx, *boundariesPath, []boundary.PulseBoundaries{b})
	})
	return cmd
}
