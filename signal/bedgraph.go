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
package signal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/forkseq/encoding/outfile"
	"github.com/klauspost/compress/gzip"
)

const (
	bedGraphSuffix = ".bedgraph"
	wigSuffix      = ".wig"
	// keySep separates the channel name from the read or sample name in
	// track file names.
	keySep = "__"
)

var keyReplacer = strings.NewReplacer("/", "_", " ", "_")

// TrackFileName returns the bedGraph file name for a channel and a read or
// sample name.
func TrackFileName(channel, key string) string {
	return channel + keySep + keyReplacer.Replace(key) + bedGraphSuffix
}

// WigFileName is TrackFileName for WIG output.
func WigFileName(channel, key string) string {
	return channel + keySep + keyReplacer.Replace(key) + wigSuffix
}

// ParseTrackFileName splits the base name of a bedGraph path into its channel
// and key.  ok is false for any other file.
func ParseTrackFileName(path string) (channel, key string, ok bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, bedGraphSuffix) {
		return
	}
	base = strings.TrimSuffix(base, bedGraphSuffix)
	i := strings.Index(base, keySep)
	if i <= 0 || i+len(keySep) == len(base) {
		return
	}
	return base[:i], base[i+len(keySep):], true
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// writeBedGraph writes "chrom start end value" lines.
func writeBedGraph(w io.Writer, windows []Window) error {
	tw := tsv.NewWriter(w)
	for i := range windows {
		win := &windows[i]
		tw.WriteString(win.Chrom)
		tw.WriteInt64(int64(win.Start))
		tw.WriteInt64(int64(win.End))
		tw.WriteString(formatValue(win.Mean))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// writeWig writes windows as fixedStep WIG blocks with 1-based starts.  A new
// block starts at every chromosome change or gap in the step sequence.
func writeWig(w io.Writer, windows []Window, stepBP int) error {
	bw := bufio.NewWriter(w)
	for i := range windows {
		win := &windows[i]
		if i == 0 || win.Chrom != windows[i-1].Chrom || win.Start != windows[i-1].Start+PosType(stepBP) {
			if _, err := fmt.Fprintf(bw, "fixedStep chrom=%s start=%d step=%d span=%d\n", win.Chrom, win.Start+1, stepBP, win.End-win.Start); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(bw, "%s\n", formatValue(win.Mean)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func createAndWrite(ctx context.Context, path string, write func(io.Writer) error) (err error) {
	var out *outfile.Writer
	if out, err = outfile.Create(ctx, path, 1); err != nil {
		return err
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return write(out)
}

// WriteBedGraph creates (or overwrites) path with one line per window.
func WriteBedGraph(ctx context.Context, path string, windows []Window) error {
	return createAndWrite(ctx, path, func(w io.Writer) error { return writeBedGraph(w, windows) })
}

// WriteWig creates (or overwrites) path with the windows in WIG format.
func WriteWig(ctx context.Context, path string, windows []Window, stepBP int) error {
	return createAndWrite(ctx, path, func(w io.Writer) error { return writeWig(w, windows, stepBP) })
}

// ReadBedGraph parses a bedGraph file written by WriteBedGraph.  Malformed
// lines are logged and skipped; Covered is left at zero.
func ReadBedGraph(ctx context.Context, path string) (windows []Window, malformed int, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		err = errors.E(errors.NotExist, err, fmt.Sprintf("signal.ReadBedGraph: %s", path))
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
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' || bytes.HasPrefix(line, []byte("track")) {
			continue
		}
		win, e := parseBedGraphLine(line)
		if e != nil {
			log.Error.Printf("signal.ReadBedGraph: %s:%d: %v; skipping line", path, lineIdx, e)
			malformed++
			continue
		}
		windows = append(windows, win)
	}
	err = scanner.Err()
	return
}

func parseBedGraphLine(line []byte) (win Window, err error) {
	fields := bytes.Fields(line)
	if len(fields) != 4 {
		err = fmt.Errorf("%d columns, expected 4", len(fields))
		return
	}
	win.Chrom = string(fields[0])
	var start, end int64
	if start, err = strconv.ParseInt(gunsafe.BytesToString(fields[1]), 10, 32); err != nil {
		return
	}
	if end, err = strconv.ParseInt(gunsafe.BytesToString(fields[2]), 10, 32); err != nil {
		return
	}
	if start < 0 || start >= end {
		err = fmt.Errorf("invalid window [%d, %d)", start, end)
		return
	}
	win.Start, win.End = PosType(start), PosType(end)
	if win.Mean, err = strconv.ParseFloat(gunsafe.BytesToString(fields[3]), 64); err != nil {
		return
	}
	return
}
