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
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
)

// ReadTable parses a table written by WriteTable.
func ReadTable(ctx context.Context, path string) (sample string, bins []Bin, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		err = errors.E(errors.NotExist, err, fmt.Sprintf("aggregate.ReadTable: %s", path))
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(r); err != nil {
			return
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	scanner := bufio.NewScanner(r)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "#sample="):
			sample = strings.TrimPrefix(line, "#sample=")
			continue
		case line == "" || line[0] == '#' || strings.HasPrefix(line, "chromosome\t"):
			continue
		}
		var b Bin
		if b, err = parseBinLine(line); err != nil {
			err = errors.E(errors.Invalid, err, fmt.Sprintf("aggregate.ReadTable: %s:%d", path, lineIdx))
			return
		}
		b.Sample = sample
		bins = append(bins, b)
	}
	err = scanner.Err()
	return
}

func parseFloatNA(s string) (float64, error) {
	if s == "NA" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseBinLine(line string) (b Bin, err error) {
	cols := strings.Split(line, "\t")
	if len(cols) != 7 {
		err = fmt.Errorf("%d columns, expected 7", len(cols))
		return
	}
	var start, end, count int64
	if start, err = strconv.ParseInt(cols[1], 10, 32); err != nil {
		return
	}
	if end, err = strconv.ParseInt(cols[2], 10, 32); err != nil {
		return
	}
	if count, err = strconv.ParseInt(cols[5], 10, 64); err != nil {
		return
	}
	b.Chrom, b.Start, b.End, b.Channel, b.Count = cols[0], PosType(start), PosType(end), cols[3], int(count)
	if b.Mean, err = parseFloatNA(cols[4]); err != nil {
		return
	}
	b.Variance, err = parseFloatNA(cols[6])
	return
}

// BinPairs converts an aggregate table into one Pair per chromosome, keyed by
// the sample.  Cells where either channel is empty are left out.
func BinPairs(bins []Bin, channels [2]string) []Pair {
	type cell struct {
		mean [2]float64
		seen [2]bool
	}
	var pairs []Pair
	var cur *Pair
	var pending []cell
	var pendingStarts []PosType
	flush := func() {
		if cur == nil {
			return
		}
		for i, c := range pending {
			if c.seen[0] && c.seen[1] {
				cur.Starts = append(cur.Starts, pendingStarts[i])
				cur.A = append(cur.A, c.mean[0])
				cur.B = append(cur.B, c.mean[1])
			}
		}
		pending, pendingStarts = pending[:0], pendingStarts[:0]
		if len(cur.Starts) == 0 {
			pairs = pairs[:len(pairs)-1]
		}
		cur = nil
	}
	for i := range bins {
		b := &bins[i]
		ch := -1
		for k, name := range channels {
			if b.Channel == name {
				ch = k
			}
		}
		if ch < 0 {
			continue
		}
		if cur == nil || cur.Chrom != b.Chrom {
			flush()
			pairs = append(pairs, Pair{Key: b.Sample, Chrom: b.Chrom})
			cur = &pairs[len(pairs)-1]
		}
		n := len(pendingStarts)
		if n == 0 || pendingStarts[n-1] != b.Start {
			pending = append(pending, cell{})
			pendingStarts = append(pendingStarts, b.Start)
			n++
		}
		if b.Count > 0 {
			pending[n-1].mean[ch] = b.Mean
			pending[n-1].seen[ch] = true
		}
	}
	flush()
	return pairs
}
