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
package modsignal

import (
	"fmt"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func newAux(name string, val interface{}) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(name), val)
	if err != nil {
		panic(fmt.Sprintf("error creating %s %v tag: %v", name, val, err))
	}
	return aux
}

func newRecord(seq string, reverse bool, mm string, ml []uint8) *sam.Record {
	r := &sam.Record{
		Name:  "read1",
		Pos:   100,
		Cigar: []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, len(seq))},
		Seq:   sam.NewSeq([]byte(seq)),
	}
	if reverse {
		r.Flags |= sam.Reverse
	}
	if mm != "" {
		r.AuxFields = sam.AuxFields{newAux("MM", mm), newAux("ML", ml)}
	}
	return r
}

// called converts QueryProbs into a map of called positions.
func called(p QueryProbs) map[int]float64 {
	m := map[int]float64{}
	for q := range p {
		if p.Called(q) {
			m[q] = p[q]
		}
	}
	return m
}

func TestParseQueryProbs(t *testing.T) {
	tests := []struct {
		name    string
		seq     string
		reverse bool
		mm      string
		ml      []uint8
		channel Channel
		want    map[int]float64
	}{
		{"any base", "ACGTACGT", false, "N+b?,0,2;", []uint8{255, 0}, BrdU,
			map[int]float64{0: 1, 3: 0}},
		{"explicit base", "ACGTACGT", false, "T+b?,1;", []uint8{51}, Channel{"t", "T+b?"},
			map[int]float64{7: 51.0 / 255}},
		{"second channel", "ACGTACGT", false, "N+b?,0;N+e?,1;", []uint8{51, 102}, EdU,
			map[int]float64{1: 102.0 / 255}},
		{"reverse any base", "ACGTAC", true, "N+b?,0,0;", []uint8{255, 128}, BrdU,
			map[int]float64{5: 1, 4: 128.0 / 255}},
		// Sequenced orientation is GTACGT; its first T is SEQ index 4.
		{"reverse explicit base", "ACGTAC", true, "T+b?,0;", []uint8{10}, Channel{"t", "T+b?"},
			map[int]float64{4: 10.0 / 255}},
		{"interleaved codes", "ACGTACGT", false, "C+mh?,0;", []uint8{10, 20}, Channel{"h", "C+h?"},
			map[int]float64{1: 20.0 / 255}},
		{"implicit zero", "CCAC", false, "C+m.,1;", []uint8{200}, Channel{"m", "C+m."},
			map[int]float64{0: 0, 1: 200.0 / 255, 3: 0}},
		{"no matching entry", "ACGT", false, "N+e?,0;", []uint8{5}, BrdU,
			map[int]float64{}},
	}
	for _, tt := range tests {
		r := newRecord(tt.seq, tt.reverse, tt.mm, tt.ml)
		probs, ok, err := ParseQueryProbs(r, tt.channel)
		assert.NoError(t, err, tt.name)
		assert.True(t, ok, tt.name)
		expect.EQ(t, called(probs), tt.want, tt.name)
	}
}

func TestParseQueryProbsErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		mm   string
		ml   []uint8
	}{
		{"past end", "N+b?,3,1;", []uint8{1, 2}},
		{"short ML", "N+b?,0,0;", []uint8{1}},
		{"bad skip", "N+b?,x;", []uint8{1}},
		{"bad header", "N*b?,0;", []uint8{1}},
	} {
		_, ok, err := ParseQueryProbs(newRecord("ACGT", false, tt.mm, tt.ml), BrdU)
		expect.True(t, ok, tt.name)
		expect.True(t, err != nil, tt.name)
	}
}

func TestTags(t *testing.T) {
	r := newRecord("ACGT", false, "", nil)
	_, ok, err := ParseQueryProbs(r, BrdU)
	assert.NoError(t, err)
	expect.False(t, ok)
	expect.False(t, HasTags(r))

	r.AuxFields = sam.AuxFields{newAux("Mm", "N+b?,1;"), newAux("Ml", []uint8{255})}
	expect.True(t, HasTags(r))
	probs, ok, err := ParseQueryProbs(r, BrdU)
	assert.NoError(t, err)
	expect.True(t, ok)
	expect.EQ(t, called(probs), map[int]float64{1: 1})
}

func cigar(ops ...sam.CigarOp) sam.Cigar {
	return sam.Cigar(ops)
}

func TestProjectProbs(t *testing.T) {
	var (
		m = func(n int) sam.CigarOp { return sam.NewCigarOp(sam.CigarMatch, n) }
		i = func(n int) sam.CigarOp { return sam.NewCigarOp(sam.CigarInsertion, n) }
		d = func(n int) sam.CigarOp { return sam.NewCigarOp(sam.CigarDeletion, n) }
		s = func(n int) sam.CigarOp { return sam.NewCigarOp(sam.CigarSoftClipped, n) }
		h = func(n int) sam.CigarOp { return sam.NewCigarOp(sam.CigarHardClipped, n) }
	)
	tests := []struct {
		name  string
		cigar sam.Cigar
		probs QueryProbs
		fold  bool
		want  []RefProb
	}{
		{"match", cigar(m(3)), QueryProbs{0.1, 0.2, 0.3}, false,
			[]RefProb{{100, 0.1}, {101, 0.2}, {102, 0.3}}},
		{"equal and mismatch", cigar(sam.NewCigarOp(sam.CigarEqual, 1), sam.NewCigarOp(sam.CigarMismatch, 1)), QueryProbs{0.1, 0.2}, false,
			[]RefProb{{100, 0.1}, {101, 0.2}}},
		{"insertion dropped", cigar(s(2), m(2), i(1), m(1)), QueryProbs{0.9, 0.9, 0.25, 0.75, 0.125, 0.5}, false,
			[]RefProb{{100, 0.25}, {101, 0.75}, {102, 0.5}}},
		{"insertion folded", cigar(s(2), m(2), i(1), m(1)), QueryProbs{0.9, 0.9, 0.25, 0.75, 0.25, 0.5}, true,
			[]RefProb{{100, 0.25}, {101, 0.5}, {102, 0.5}}},
		{"leading insertion folded", cigar(i(1), m(2)), QueryProbs{0.9, 0.25, 0.5}, true,
			[]RefProb{{100, 0.25}, {101, 0.5}}},
		{"fold into uncalled base", cigar(m(1), i(2)), QueryProbs{noCall, 0.25, 0.75}, true,
			[]RefProb{{100, 0.5}}},
		{"insertions around a deletion folded", cigar(m(1), i(1), d(1), i(1), m(1)), QueryProbs{0.25, 0.5, 0.75, 0.125}, true,
			[]RefProb{{100, 0.5}, {102, 0.125}}},
		{"deletion", cigar(m(2), d(3), m(2)), QueryProbs{0.1, 0.2, 0.3, 0.4}, false,
			[]RefProb{{100, 0.1}, {101, 0.2}, {105, 0.3}, {106, 0.4}}},
		{"skipped", cigar(m(1), sam.NewCigarOp(sam.CigarSkipped, 10), m(1)), QueryProbs{0.1, 0.2}, false,
			[]RefProb{{100, 0.1}, {111, 0.2}}},
		{"hard clip", cigar(h(5), m(3), h(2)), QueryProbs{0.1, 0.2, 0.3}, false,
			[]RefProb{{100, 0.1}, {101, 0.2}, {102, 0.3}}},
		{"uncalled bases", cigar(m(4)), QueryProbs{noCall, 0.2, noCall, 0.4}, false,
			[]RefProb{{101, 0.2}, {103, 0.4}}},
	}
	for _, tt := range tests {
		got, err := ProjectProbs(tt.cigar, 100, tt.probs, Opts{FoldInsertions: tt.fold})
		assert.NoError(t, err, tt.name)
		expect.EQ(t, got, tt.want, tt.name)
	}

	_, err := ProjectProbs(cigar(sam.NewCigarOp(sam.CigarBack, 1), m(1)), 100, QueryProbs{0.1}, DefaultOpts)
	expect.True(t, err != nil)
	_, err = ProjectProbs(cigar(m(3)), 100, QueryProbs{0.1, 0.2}, DefaultOpts)
	expect.True(t, err != nil)
	_, err = ProjectProbs(cigar(m(1)), 100, QueryProbs{0.1, 0.2}, DefaultOpts)
	expect.True(t, err != nil)
}

func TestProjectReverse(t *testing.T) {
	r := newRecord("ACGTAC", true, "N+b?,0,0;", []uint8{255, 128})
	r.Pos = 200
	r.Cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarSoftClipped, 1), sam.NewCigarOp(sam.CigarMatch, 5)}
	got, ok, err := Project(r, BrdU, DefaultOpts)
	assert.NoError(t, err)
	assert.True(t, ok)
	expect.EQ(t, got, []RefProb{{203, 128.0 / 255}, {204, 1}})
}
