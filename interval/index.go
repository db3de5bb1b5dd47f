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

// ReadGroup lists the records of one read, by orientation.  Each entry is an
// index into ReadIndex.Records.
type ReadGroup struct {
	ReadID       string
	Left         []int32
	Right        []int32
	Origins      []int32
	Terminations []int32
}

// ReadIndex groups interval records by read_id.  It is immutable after
// construction.
type ReadIndex struct {
	// Records is the concatenation of the left, right, origin and
	// termination collections, in that order.
	Records []GenomicInterval
	groups  []ReadGroup
	byRead  map[string]int
}

// NewReadIndex builds a ReadIndex over the four interval collections.  Records
// are filed by the collection they came from; their Orientation field is not
// consulted.
func NewReadIndex(left, right, origins, terminations []GenomicInterval) *ReadIndex {
	idx := &ReadIndex{
		Records: make([]GenomicInterval, 0, len(left)+len(right)+len(origins)+len(terminations)),
		byRead:  make(map[string]int),
	}
	for ci, c := range [...][]GenomicInterval{left, right, origins, terminations} {
		for _, iv := range c {
			i := int32(len(idx.Records))
			idx.Records = append(idx.Records, iv)
			g, ok := idx.byRead[iv.ReadID]
			if !ok {
				g = len(idx.groups)
				idx.byRead[iv.ReadID] = g
				idx.groups = append(idx.groups, ReadGroup{ReadID: iv.ReadID})
			}
			grp := &idx.groups[g]
			switch ci {
			case 0:
				grp.Left = append(grp.Left, i)
			case 1:
				grp.Right = append(grp.Right, i)
			case 2:
				grp.Origins = append(grp.Origins, i)
			default:
				grp.Terminations = append(grp.Terminations, i)
			}
		}
	}
	return idx
}

// NumReads returns the number of distinct read_ids.
func (idx *ReadIndex) NumReads() int {
	return len(idx.groups)
}

// Group returns the i-th read group, in order of first appearance.
func (idx *ReadIndex) Group(i int) *ReadGroup {
	return &idx.groups[i]
}

// Lookup returns the group for readID, or nil.
func (idx *ReadIndex) Lookup(readID string) *ReadGroup {
	if g, ok := idx.byRead[readID]; ok {
		return &idx.groups[g]
	}
	return nil
}
