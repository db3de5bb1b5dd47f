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
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/forkseq/config"
	"github.com/grailbio/forkseq/signal"
	"v.io/x/lib/cmdline"
)

func newCmdExtract() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "extract",
		Short:    "Compute sliding-window BrdU/EdU signal tracks of validated reads",
		ArgsName: "bampath",
		Long: `
Extract streams a coordinate-sorted BAM, keeps the primary alignments of the
reads named in -filtered and writes the windowed mean modification probability
of both channels as bedGraph files under -out-dir: one file per read and
channel with -per-read, otherwise one file per channel.`,
	}
	cfg := config.Default()
	configPath := cmd.Flags.String("config", "", configHelp)
	filtered := cmd.Flags.String("filtered", "", "Filtered fork BED naming the reads to process (see filter)")
	cmd.Flags.IntVar(&cfg.Filter.ReadIDColumn, "read-id-column", cfg.Filter.ReadIDColumn, "0-based read name column of -filtered")
	opts := &cfg.Extract
	cmd.Flags.StringVar(&opts.OutputDir, "out-dir", opts.OutputDir, "Output directory of the track files")
	cmd.Flags.IntVar(&opts.WindowBP, "window", opts.WindowBP, "Window width in bp")
	cmd.Flags.IntVar(&opts.StepBP, "step", opts.StepBP, "Distance in bp between consecutive window starts")
	cmd.Flags.IntVar(&opts.MinCoveredBases, "min-covered", opts.MinCoveredBases, "Windows with fewer positions carrying a probability are skipped")
	cmd.Flags.IntVar(&opts.Parallelism, "parallelism", opts.Parallelism, "Number of workers; 0 = runtime.NumCPU()")
	cmd.Flags.IntVar(&opts.MaxReads, "max-reads", opts.MaxReads, "Stop after this many qualifying reads; 0 = no limit")
	cmd.Flags.StringVar(&opts.Sample, "sample", opts.Sample, "Sample name of the merged track files")
	cmd.Flags.BoolVar(&opts.OutputPerRead, "per-read", opts.OutputPerRead, "Write one bedGraph per read and channel")
	cmd.Flags.BoolVar(&opts.WriteWig, "wig", opts.WriteWig, "With -per-read, also write fixedStep WIG files")
	cmd.Flags.BoolVar(&opts.NoFilter, "no-filter", opts.NoFilter, "Process every read, ignoring -filtered")
	cmd.Flags.StringVar(&opts.Region, "region", opts.Region, "Restrict to reads overlapping <contig>[:<1-based first pos>-<last pos>]")
	cmd.Flags.BoolVar(&opts.Project.FoldInsertions, "fold-insertions", opts.Project.FoldInsertions, "Pool inserted bases with the preceding reference base instead of dropping them")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("extract takes one BAM path, but got %v", argv)
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, *configPath, &cfg); err != nil {
			return err
		}
		var reads map[string]bool
		if !cfg.Extract.NoFilter {
			if *filtered == "" {
				return fmt.Errorf("extract: -filtered is required unless -no-filter is set")
			}
			var err error
			if reads, err = signal.LoadReadIDs(ctx, *filtered, cfg.Filter.ReadIDColumn); err != nil {
				return err
			}
		}
		res, err := signal.ExtractReads(ctx, argv[0], reads, cfg.Extract)
		if err != nil {
			return err
		}
		if len(res.Failed) > 0 {
			log.Error.Printf("extract: %d read(s) failed: %v", len(res.Failed), res.Failed)
		}
		log.Printf("extract: %d track(s), %d read(s) without modification tags", len(res.Tracks), res.Skipped)
		return nil
	})
	return cmd
}
