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
package aggregate

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/forkseq/encoding/outfile"
)

// formatFloat writes NaN as "NA".
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func create(ctx context.Context, path string, write func(io.Writer) error) (err error) {
	var out *outfile.Writer
	if out, err = outfile.Create(ctx, path, 2); err != nil {
		return
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return write(out)
}

// WriteTableTo writes bins as a tab-separated table preceded by a #sample=
// line and a header row.
func WriteTableTo(w io.Writer, sample string, bins []Bin) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("#sample=" + sample)
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, col := range []string{"chromosome", "bin_start", "bin_end", "channel", "mean", "count", "variance"} {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i := range bins {
		b := &bins[i]
		tw.WriteString(b.Chrom)
		tw.WriteInt64(int64(b.Start))
		tw.WriteInt64(int64(b.End))
		tw.WriteString(b.Channel)
		tw.WriteString(formatFloat(b.Mean))
		tw.WriteInt64(int64(b.Count))
		tw.WriteString(formatFloat(b.Variance))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteTable writes the aggregate table to path; a ".gz" path is
// BGZF-compressed.
func WriteTable(ctx context.Context, path, sample string, bins []Bin) error {
	return create(ctx, path, func(w io.Writer) error { return WriteTableTo(w, sample, bins) })
}

var profileHeader = []string{"x", "median_diff", "mean", "sd", "n", "se", "ci_lower", "ci_upper", "sample_name"}

// WriteProfileTo writes points as CSV with a header row.
func WriteProfileTo(w io.Writer, points []ProfilePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(profileHeader); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			strconv.FormatInt(p.X, 10),
			formatFloat(p.MedianDiff),
			formatFloat(p.Mean),
			formatFloat(p.SD),
			strconv.Itoa(p.N),
			formatFloat(p.SE),
			formatFloat(p.CILower),
			formatFloat(p.CIUpper),
			p.Sample,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteProfile writes the profile CSV to path.
func WriteProfile(ctx context.Context, path string, points []ProfilePoint) error {
	return create(ctx, path, func(w io.Writer) error { return WriteProfileTo(w, points) })
}
