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

// Package config holds the options of every analysis stage in one YAML
// document.  Keys that are absent keep their DefaultOpts values, e.g.
//
//   filter:
//     origin_tolerance: 500
//     score_column: 8
//   extract:
//     window_bp: 200
//   boundary:
//     mode: log-ratio
package config

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/forkseq/aggregate"
	"github.com/grailbio/forkseq/boundary"
	"github.com/grailbio/forkseq/forkfilter"
	"github.com/grailbio/forkseq/signal"
	"gopkg.in/yaml.v2"
)

// Config is the full set of stage options.
type Config struct {
	Filter    forkfilter.Opts    `yaml:"filter"`
	Extract   signal.Opts        `yaml:"extract"`
	Aggregate aggregate.Opts     `yaml:"aggregate"`
	Boundary  boundary.Opts      `yaml:"boundary"`
	Pulse     boundary.PulseOpts `yaml:"pulse"`
}

// Default returns the configuration made of every stage's DefaultOpts.
func Default() Config {
	return Config{
		Filter:    forkfilter.DefaultOpts,
		Extract:   signal.DefaultOpts,
		Aggregate: aggregate.DefaultOpts,
		Boundary:  boundary.DefaultOpts,
		Pulse:     boundary.DefaultPulseOpts,
	}
}

// Parse overlays the YAML document data onto Default.  Unknown keys are an
// error.
func Parse(data []byte) (Config, error) {
	c := Default()
	err := overlay(data, &c)
	return c, err
}

func overlay(data []byte, c *Config) error {
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.E(errors.Invalid, err, "config")
	}
	return nil
}

// Load reads the configuration at path.  An empty path yields Default.
func Load(ctx context.Context, path string) (Config, error) {
	c := Default()
	err := LoadInto(ctx, path, &c)
	return c, err
}

// LoadInto overlays the configuration at path onto c, leaving the fields the
// document does not mention unchanged.  An empty path leaves c unchanged.
func LoadInto(ctx context.Context, path string, c *Config) (err error) {
	if path == "" {
		return nil
	}
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return errors.E(errors.NotExist, err, fmt.Sprintf("config.Load: %s", path))
	}
	defer file.CloseAndReport(ctx, in, &err)
	var data []byte
	if data, err = ioutil.ReadAll(in.Reader(ctx)); err != nil {
		return
	}
	if err = overlay(data, c); err != nil {
		err = errors.E(err, path)
	}
	return
}

// Write writes c as YAML.
func Write(w io.Writer, c Config) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
