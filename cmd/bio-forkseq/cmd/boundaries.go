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
	"runtime"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/forkseq/aggregate"
	"github.com/grailbio/forkseq/boundary"
	"github.com/grailbio/forkseq/config"
	"v.io/x/lib/cmdline"
)

// callBoundaries runs Detect on every pair and, if pulses is set, Pulse on
// every aligned pair.  Results are in pair order.
func callBoundaries(pairs []aggregate.Pair, cfg *config.Config, pulses bool) ([]boundary.BoundaryCall, []boundary.PulseBoundaries, error) {
	perPair := make([][]boundary.BoundaryCall, len(pairs))
	var pulseRes []boundary.PulseBoundaries
	if pulses {
		pulseRes = make([]boundary.PulseBoundaries, len(pairs))
	}
	parallelism := cfg.Aggregate.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(pairs) {
		parallelism = len(pairs)
	}
	err := traverse.Each(parallelism, func(workerIdx int) error {
		for i := workerIdx; i < len(pairs); i += parallelism {
			p := &pairs[i]
			var err error
			if perPair[i], err = boundary.Detect(boundary.FromPair(p), cfg.Boundary); err != nil {
				return err
			}
			if pulses {
				if pulseRes[i], err = boundary.Pulse(boundary.Aligned(p, cfg.Aggregate.AlignSmoothing), cfg.Pulse); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	var calls []boundary.BoundaryCall
	for _, c := range perPair {
		calls = append(calls, c...)
	}
	return calls, pulseRes, nil
}

func runBoundaries(ctx context.Context, dir, table, outPath, pulsesPath string, cfg *config.Config) error {
	if err := cfg.Boundary.Validate(); err != nil {
		return err
	}
	if err := cfg.Pulse.Validate(); err != nil {
		return err
	}
	pairs, _, err := loadPairs(ctx, dir, table, cfg.Aggregate)
	if err != nil {
		return err
	}
	calls, pulses, err := callBoundaries(pairs, cfg, pulsesPath != "")
	if err != nil {
		return err
	}
	if err = boundary.WriteCalls(ctx, outPath, calls); err != nil {
		return err
	}
	log.Printf("boundaries: %d call(s) over %d series", len(calls), len(pairs))
	if pulsesPath == "" {
		return nil
	}
	complete := 0
	for i := range pulses {
		if pulses[i].Complete {
			complete++
		}
	}
	log.Printf("boundaries: %d of %d read(s) with complete pulse boundaries", complete, len(pulses))
	return boundary.WritePulses(ctx, pulsesPath, pulses)
}

func newCmdBoundaries() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "boundaries",
		Short:    "Call the positions where the dominant analog changes",
		ArgsName: "[trackdir]",
		Long: `
Boundaries pairs the BrdU and EdU tracks of every read under trackdir (or the
bins of every chromosome of an aggregate table, with -table) and reports each
sustained change of the dominant channel.  With -pulses, the EdU start, BrdU
start and BrdU end of every read are located after alignment and the reads
whose pulse lies fully inside the read are summarized as fork tracks and
speeds.`,
	}
	cfg := config.Default()
	configPath := cmd.Flags.String("config", "", configHelp)
	table := cmd.Flags.String("table", "", "Aggregate table to scan instead of a track directory")
	outPath := cmd.Flags.String("out", "", "Output TSV of boundary calls")
	pulsesPath := cmd.Flags.String("pulses", "", "If set, write the per-read pulse summary CSV here")
	bindAggregateFlags(cmd, &cfg.Aggregate)
	cmd.Flags.IntVar(&cfg.Aggregate.AlignSmoothing, "align-smoothing", cfg.Aggregate.AlignSmoothing, "Moving-average width, in windows, used to align reads for -pulses")
	cmd.Flags.Var(modeValue{&cfg.Boundary.Mode}, "mode", "Channel contrast: difference or log-ratio")
	cmd.Flags.IntVar(&cfg.Boundary.SmoothingWindow, "smoothing", cfg.Boundary.SmoothingWindow, "Moving-average width, in positions, applied to the contrast")
	cmd.Flags.IntVar(&cfg.Boundary.MinRunLength, "min-run", cfg.Boundary.MinRunLength, "Positions a new dominant channel must hold")
	cmd.Flags.Float64Var(&cfg.Boundary.Threshold, "threshold", cfg.Boundary.Threshold, "Contrast separating the two channels")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) > 1 || (*table == "" && len(argv) == 0) || (*table != "" && len(argv) == 1) {
			return fmt.Errorf("boundaries takes either one track directory or -table, but got %v", argv)
		}
		if *outPath == "" {
			return fmt.Errorf("boundaries: -out is required")
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, *configPath, &cfg); err != nil {
			return err
		}
		var dir string
		if len(argv) == 1 {
			dir = argv[0]
		}
		return runBoundaries(ctx, dir, *table, *outPath, *pulsesPath, &cfg)
	})
	return cmd
}
