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
package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// maxTokens bounds the number of columns retained per record.  forkSense
// writes nine.
const maxTokens = 16

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// BEDOpts defines how interval records are parsed.
type BEDOpts struct {
	// Orientation is attached to every record read.  If it is
	// OrientationUnknown, the orientation is taken from OrientationColumn
	// instead.
	Orientation Orientation
	// OrientationColumn is the 0-based column holding the orientation.  Only
	// consulted when Orientation is OrientationUnknown.
	OrientationColumn int
	// ReadIDColumn is the 0-based column holding the read name.
	ReadIDColumn int
	// ScoreColumn is the 0-based column holding the score.  4 for the
	// six-column layout, 8 for forkSense output.  A negative value means the
	// records carry no score; it is left at zero.
	ScoreColumn int
	// Chromosomes, if non-empty, is the set of recognized chromosome names.
	// Records on any other chromosome are malformed.
	Chromosomes map[string]bool
}

// DefaultBEDOpts describes the six-column layout
//   chromosome start end read_id score orientation
var DefaultBEDOpts = BEDOpts{
	OrientationColumn: 5,
	ReadIDColumn:      3,
	ScoreColumn:       4,
}

// LoadStats summarizes one BED load.
type LoadStats struct {
	// Records is the number of records kept.
	Records int
	// Malformed is the number of non-comment lines that were skipped.
	Malformed int
}

func isCommentLine(line []byte) bool {
	return len(line) == 0 || line[0] == '#' || bytes.HasPrefix(line, []byte("track")) || bytes.HasPrefix(line, []byte("browser"))
}

// parseRecord converts one tokenized line to a GenomicInterval.
func parseRecord(tokens [][]byte, opts *BEDOpts) (iv GenomicInterval, err error) {
	need := 3
	for _, col := range [...]int{opts.ReadIDColumn, opts.ScoreColumn} {
		if col+1 > need {
			need = col + 1
		}
	}
	if opts.Orientation == OrientationUnknown && opts.OrientationColumn+1 > need {
		need = opts.OrientationColumn + 1
	}
	if len(tokens) < need {
		err = fmt.Errorf("%d columns, at least %d required", len(tokens), need)
		return
	}
	iv.Chrom = string(tokens[0])
	if len(opts.Chromosomes) > 0 && !opts.Chromosomes[iv.Chrom] {
		err = fmt.Errorf("unrecognized chromosome %q", iv.Chrom)
		return
	}
	var start, end int64
	if start, err = strconv.ParseInt(gunsafe.BytesToString(tokens[1]), 10, 32); err != nil {
		return
	}
	if end, err = strconv.ParseInt(gunsafe.BytesToString(tokens[2]), 10, 32); err != nil {
		return
	}
	iv.Start = PosType(start)
	iv.End = PosType(end)
	if err = iv.Validate(); err != nil {
		return
	}
	iv.ReadID = string(tokens[opts.ReadIDColumn])
	if opts.ScoreColumn >= 0 {
		if iv.Score, err = strconv.ParseFloat(gunsafe.BytesToString(tokens[opts.ScoreColumn]), 64); err != nil {
			err = fmt.Errorf("non-numeric score %q", tokens[opts.ScoreColumn])
			return
		}
	}
	iv.Orientation = opts.Orientation
	if iv.Orientation == OrientationUnknown {
		if iv.Orientation, err = ParseOrientation(string(tokens[opts.OrientationColumn])); err != nil {
			return
		}
	}
	iv.Fields = make([]string, len(tokens))
	for i, tok := range tokens {
		iv.Fields[i] = string(tok)
	}
	return
}

// ReadBED parses interval records from r.  name is only used in warnings.
// Malformed lines are skipped with a logged warning; an empty input yields no
// records and no error.
func ReadBED(r io.Reader, name string, opts BEDOpts) (records []GenomicInterval, stats LoadStats, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 8<<20)
	var tokens [maxTokens][]byte
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := bytes.TrimRight(scanner.Bytes(), "\r")
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 || isCommentLine(tokens[0]) {
			continue
		}
		iv, e := parseRecord(tokens[:nToken], &opts)
		if e != nil {
			log.Error.Printf("interval.ReadBED: %s:%d: %v; skipping line", name, lineIdx, e)
			stats.Malformed++
			continue
		}
		records = append(records, iv)
	}
	if err = scanner.Err(); err != nil {
		err = errors.E(err, fmt.Sprintf("interval.ReadBED: %s", name))
		return
	}
	stats.Records = len(records)
	log.Debug.Printf("interval.ReadBED: %s: %d record(s), %d malformed line(s)", name, stats.Records, stats.Malformed)
	return
}

// ReadBEDFromPath opens path (gzip-compressed if its name says so) and calls
// ReadBED.  A missing file is an errors.NotExist error.
func ReadBEDFromPath(ctx context.Context, path string, opts BEDOpts) (records []GenomicInterval, stats LoadStats, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		err = errors.E(errors.NotExist, err, fmt.Sprintf("interval.ReadBEDFromPath: %s", path))
		return
	}
	defer file.CloseAndReport(ctx, infile, &err)
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		defer func() {
			if e := gz.Close(); e != nil && err == nil {
				err = e
			}
		}()
		reader = gz
	}
	return ReadBED(reader, path, opts)
}

// WriteBED writes records as tab-separated lines.  Records carrying their raw
// input columns are written verbatim; the others are written in the
// six-column layout.
func WriteBED(w io.Writer, records []GenomicInterval) error {
	tw := tsv.NewWriter(w)
	for i := range records {
		iv := &records[i]
		if len(iv.Fields) > 0 {
			for _, f := range iv.Fields {
				tw.WriteString(f)
			}
		} else {
			tw.WriteString(iv.Chrom)
			tw.WriteInt64(int64(iv.Start))
			tw.WriteInt64(int64(iv.End))
			tw.WriteString(iv.ReadID)
			tw.WriteString(strconv.FormatFloat(iv.Score, 'g', -1, 64))
			tw.WriteString(iv.Orientation.String())
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
