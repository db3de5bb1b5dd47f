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
	"log"
	"os"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/forkseq/config"
	"v.io/x/lib/cmdline"
)

const configHelp = "YAML file holding the options of every stage; command-line flags take precedence"

func newCmdConfig() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "config",
		Short:    "Print the effective configuration as YAML",
		ArgsName: "",
	}
	configPath := cmd.Flags.String("config", "", configHelp)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("config takes no arguments, but got %v", argv)
		}
		c, err := config.Load(vcontext.Background(), *configPath)
		if err != nil {
			return err
		}
		return config.Write(os.Stdout, c)
	})
	return cmd
}

func Run() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-forkseq",
			Short:    "Replication fork analysis of nanopore reads carrying BrdU and EdU",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdFilter(),
				newCmdExtract(),
				newCmdAggregate(),
				newCmdProfile(),
				newCmdBoundaries(),
				newCmdConfig(),
			},
		})
}
