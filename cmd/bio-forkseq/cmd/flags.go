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
	"flag"
	"strconv"
	"strings"

	"github.com/grailbio/forkseq/boundary"
	"github.com/grailbio/forkseq/config"
	"github.com/grailbio/forkseq/interval"
)

// posValue is a flag.Value for a reference coordinate.
type posValue struct{ p *interval.PosType }

func (v posValue) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatInt(int64(*v.p), 10)
}

func (v posValue) Set(s string) error {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return err
	}
	*v.p = interval.PosType(n)
	return nil
}

// listValue is a flag.Value for a comma-separated list.
type listValue struct{ l *[]string }

func (v listValue) String() string {
	if v.l == nil {
		return ""
	}
	return strings.Join(*v.l, ",")
}

func (v listValue) Set(s string) error {
	*v.l = nil
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*v.l = append(*v.l, item)
		}
	}
	return nil
}

// modeValue is a flag.Value for a boundary.Mode.
type modeValue struct{ m *boundary.Mode }

func (v modeValue) String() string {
	if v.m == nil {
		return boundary.Difference.String()
	}
	return v.m.String()
}

func (v modeValue) Set(s string) (err error) {
	*v.m, err = boundary.ParseMode(s)
	return
}

// applyConfig overlays the configuration file at path onto cfg, whose fields
// the flags of fs are bound to, and then reapplies the flags given on the
// command line.  Command-line flags thus take precedence over the file, which
// takes precedence over the defaults.
func applyConfig(ctx context.Context, fs *flag.FlagSet, path string, cfg *config.Config) error {
	set := map[string]string{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })
	if err := config.LoadInto(ctx, path, cfg); err != nil {
		return err
	}
	for name, value := range set {
		if err := fs.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}
