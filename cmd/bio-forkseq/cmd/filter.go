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
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/forkseq/config"
	"github.com/grailbio/forkseq/forkfilter"
	"v.io/x/lib/cmdline"
)

func newCmdFilter() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "filter",
		Short: "Keep the forks that pair with a shared origin or termination",
		Long: `
Filter reads left-fork, right-fork, origin and termination BED files and keeps,
per read, the best left/right fork pair that flanks an origin or converges on a
termination.  The kept fork records are written unmodified to -out.`,
	}
	cfg := config.Default()
	var paths forkfilter.Paths
	configPath := cmd.Flags.String("config", "", configHelp)
	cmd.Flags.StringVar(&paths.Left, "left", "", "Left-moving fork BED")
	cmd.Flags.StringVar(&paths.Right, "right", "", "Right-moving fork BED")
	cmd.Flags.StringVar(&paths.Origins, "origins", "", "Origin BED")
	cmd.Flags.StringVar(&paths.Terminations, "terminations", "", "Termination BED")
	outPath := cmd.Flags.String("out", "", "Output BED of the validated forks; .gz output is BGZF-compressed")
	cmd.Flags.Var(posValue{&cfg.Filter.OriginTolerance}, "origin-tolerance", "Slack, in bp, on each side of the fork starts flanking an origin")
	cmd.Flags.Var(posValue{&cfg.Filter.TerminationTolerance}, "termination-tolerance", "Slack, in bp, around the fork ends converging on a termination")
	cmd.Flags.IntVar(&cfg.Filter.ReadIDColumn, "read-id-column", cfg.Filter.ReadIDColumn, "0-based read name column of the BED inputs")
	cmd.Flags.IntVar(&cfg.Filter.ScoreColumn, "score-column", cfg.Filter.ScoreColumn, "0-based score column of the fork BEDs; 8 for forkSense output")
	cmd.Flags.Float64Var(&cfg.Filter.MinScore, "min-score", cfg.Filter.MinScore, "Drop forks scoring below this")
	cmd.Flags.BoolVar(&cfg.Filter.DropTrailing, "drop-trailing", cfg.Filter.DropTrailing, "Drop forks carrying the run-off-the-read score (-3)")
	cmd.Flags.Var(listValue{&cfg.Filter.Chromosomes}, "chromosomes", "Comma-separated chromosome names to accept; empty accepts any")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("filter takes no arguments, but got %v", argv)
		}
		if paths.Left == "" || paths.Right == "" || paths.Origins == "" || paths.Terminations == "" {
			return fmt.Errorf("filter: -left, -right, -origins and -terminations are required")
		}
		if *outPath == "" {
			return fmt.Errorf("filter: -out is required")
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, *configPath, &cfg); err != nil {
			return err
		}
		_, err := forkfilter.Run(ctx, paths, *outPath, cfg.Filter)
		return err
	})
	return cmd
}
