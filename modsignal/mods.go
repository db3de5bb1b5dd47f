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

// Package modsignal reads base-modification probabilities from the MM/ML tags
// of an alignment and places them on reference coordinates.
package modsignal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

var (
	tagMM       = sam.NewTag("MM")
	tagML       = sam.NewTag("ML")
	tagMMLegacy = sam.NewTag("Mm")
	tagMLLegacy = sam.NewTag("Ml")
)

// Channel is one modification signal, e.g. BrdU.  Code has the MM entry
// header form <base><strand><code>[?.], as in "N+b?".
type Channel struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// BrdU and EdU are the two analog channels written by DNAscent-style callers.
var (
	BrdU = Channel{Name: "BrdU", Code: "N+b?"}
	EdU  = Channel{Name: "EdU", Code: "N+e?"}
)

// DefaultChannels is the ordered channel pair, A first.
var DefaultChannels = [2]Channel{BrdU, EdU}

// header is a parsed MM entry header.
type header struct {
	base   byte
	strand byte
	// codes holds one element per modification listed in the entry.  Multiple
	// single-letter codes share the entry's ML values, interleaved.
	codes []string
	// implicit is true for the "." mode (or no mode): bases of the right kind
	// that are not listed have probability zero.
	implicit bool
}

func parseHeader(s string) (h header, err error) {
	if len(s) < 3 {
		err = fmt.Errorf("malformed modification header %q", s)
		return
	}
	h.base, h.strand = s[0], s[1]
	if h.strand != '+' && h.strand != '-' {
		err = fmt.Errorf("malformed modification header %q: strand %q", s, h.strand)
		return
	}
	code := s[2:]
	h.implicit = true
	switch code[len(code)-1] {
	case '?':
		h.implicit = false
		code = code[:len(code)-1]
	case '.':
		code = code[:len(code)-1]
	}
	if code == "" {
		err = fmt.Errorf("malformed modification header %q: no code", s)
		return
	}
	if _, e := strconv.Atoi(code); e == nil {
		// ChEBI identifier.
		h.codes = []string{code}
		return
	}
	for i := 0; i < len(code); i++ {
		h.codes = append(h.codes, code[i:i+1])
	}
	return
}

// matches returns the index of the channel's code within the entry, or -1.
func (h *header) matches(ch *header) int {
	if h.base != ch.base || h.strand != ch.strand || len(ch.codes) != 1 {
		return -1
	}
	for i, c := range h.codes {
		if c == ch.codes[0] {
			return i
		}
	}
	return -1
}

var complement = [256]byte{
	'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A', 'N': 'N',
	'a': 't', 'c': 'g', 'g': 'c', 't': 'a', 'n': 'n',
}

// QueryProbs holds one channel's probabilities indexed by query (SEQ)
// position.  Positions without a call are negative.
type QueryProbs []float64

// noCall marks a query position without a probability.
const noCall = -1

// Called reports whether query position q carries a probability.
func (p QueryProbs) Called(q int) bool {
	return p[q] >= 0
}

// tags returns the MM string and ML array of r, preferring the standard tag
// names over the legacy ones.  ok is false if either is missing.
func tags(r *sam.Record) (mm string, ml []uint8, ok bool, err error) {
	mmAux, mlAux := r.AuxFields.Get(tagMM), r.AuxFields.Get(tagML)
	if mmAux == nil || mlAux == nil {
		mmAux, mlAux = r.AuxFields.Get(tagMMLegacy), r.AuxFields.Get(tagMLLegacy)
	}
	if mmAux == nil || mlAux == nil {
		return
	}
	var isStr, isBytes bool
	mm, isStr = mmAux.Value().(string)
	ml, isBytes = mlAux.Value().([]uint8)
	if !isStr || !isBytes {
		err = fmt.Errorf("unexpected MM/ML value types %T/%T", mmAux.Value(), mlAux.Value())
		return
	}
	ok = true
	return
}

// HasTags reports whether r carries modification tags.
func HasTags(r *sam.Record) bool {
	_, _, ok, err := tags(r)
	return ok && err == nil
}

// ParseQueryProbs extracts the probabilities of channel from r.  Skip counts
// are walked over the read in its sequenced orientation, so for a
// reverse-strand record they run from the end of SEQ backwards over
// complemented bases.  ok is false if r has no MM/ML tags.
func ParseQueryProbs(r *sam.Record, channel Channel) (probs QueryProbs, ok bool, err error) {
	mm, ml, ok, err := tags(r)
	if err != nil || !ok {
		return nil, ok, errors.Wrapf(err, "modsignal: read %s", r.Name)
	}
	want, err := parseHeader(channel.Code)
	if err != nil {
		return nil, true, errors.Wrapf(err, "modsignal: channel %s", channel.Name)
	}
	seq := r.Seq.Expand()
	probs, err = parseMM(mm, ml, seq, r.Flags&sam.Reverse != 0, &want)
	if err != nil {
		return nil, true, errors.Wrapf(err, "modsignal: read %s", r.Name)
	}
	return probs, true, nil
}

func parseMM(mm string, ml []uint8, seq []byte, reverse bool, want *header) (QueryProbs, error) {
	if len(seq) == 0 {
		return nil, fmt.Errorf("record has no SEQ")
	}
	probs := make(QueryProbs, len(seq))
	for i := range probs {
		probs[i] = noCall
	}
	n := len(seq)
	mlIdx := 0
	for _, entry := range strings.Split(strings.TrimSuffix(mm, ";"), ";") {
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ",")
		h, err := parseHeader(parts[0])
		if err != nil {
			return nil, err
		}
		codeIdx := h.matches(want)
		nCodes := len(h.codes)
		if mlIdx+nCodes*(len(parts)-1) > len(ml) {
			return nil, fmt.Errorf("ML has %d values, MM needs more at entry %q", len(ml), parts[0])
		}
		if codeIdx < 0 {
			mlIdx += nCodes * (len(parts) - 1)
			continue
		}
		// j walks the read in sequenced orientation.
		j := 0
		listed := make([]bool, n)
		nextBase := func() int {
			for ; j < n; j++ {
				q := j
				b := seq[j]
				if reverse {
					q = n - 1 - j
					b = complement[seq[q]]
				}
				if h.base == 'N' || b == h.base || b == h.base+'a'-'A' {
					j++
					return q
				}
			}
			return -1
		}
		for _, skipStr := range parts[1:] {
			skip, err := strconv.Atoi(skipStr)
			if err != nil || skip < 0 {
				return nil, fmt.Errorf("malformed skip count %q in entry %q", skipStr, parts[0])
			}
			q := -1
			for k := 0; k <= skip; k++ {
				if q = nextBase(); q < 0 {
					return nil, fmt.Errorf("skip counts of entry %q run past the end of the read", parts[0])
				}
			}
			probs[q] = float64(ml[mlIdx+codeIdx]) / 255
			listed[q] = true
			mlIdx += nCodes
		}
		if h.implicit {
			j = 0
			for q := nextBase(); q >= 0; q = nextBase() {
				if !listed[q] {
					probs[q] = 0
				}
			}
		}
	}
	return probs, nil
}
