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
package boundary

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/forkseq/encoding/outfile"
)

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func create(ctx context.Context, path string, write func(io.Writer) error) (err error) {
	var out *outfile.Writer
	if out, err = outfile.Create(ctx, path, 1); err != nil {
		return
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return write(out)
}

// WriteCallsTo writes calls as a tab-separated table with a header row.
func WriteCallsTo(w io.Writer, calls []BoundaryCall) error {
	tw := tsv.NewWriter(w)
	for _, col := range []string{"chromosome", "position", "source", "run_length", "direction"} {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i := range calls {
		c := &calls[i]
		tw.WriteString(c.Chrom)
		tw.WriteInt64(c.Position)
		tw.WriteString(c.Source)
		tw.WriteInt64(int64(c.RunLength))
		tw.WriteString(c.Direction)
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteCalls writes the boundary table to path.
func WriteCalls(ctx context.Context, path string, calls []BoundaryCall) error {
	return create(ctx, path, func(w io.Writer) error { return WriteCallsTo(w, calls) })
}

var pulseHeader = []string{"source", "edu_start", "brdu_start", "brdu_end", "edu_track", "brdu_track", "edu_speed", "brdu_speed", "fork_track", "fork_speed"}

// WritePulsesTo writes the complete entries of pulses as CSV with a header
// row.  Incomplete entries are left out.
func WritePulsesTo(w io.Writer, pulses []PulseBoundaries) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pulseHeader); err != nil {
		return err
	}
	for _, p := range pulses {
		if !p.Complete {
			continue
		}
		row := []string{
			p.Source,
			formatFloat(p.EduStart),
			formatFloat(p.BrdUStart),
			formatFloat(p.BrdUEnd),
			formatFloat(p.EduTrack),
			formatFloat(p.BrdUTrack),
			formatFloat(p.EduSpeed),
			formatFloat(p.BrdUSpeed),
			formatFloat(p.ForkTrack),
			formatFloat(p.ForkSpeed),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePulses writes the pulse summary CSV to path.
func WritePulses(ctx context.Context, path string, pulses []PulseBoundaries) error {
	return create(ctx, path, func(w io.Writer) error { return WritePulsesTo(w, pulses) })
}
