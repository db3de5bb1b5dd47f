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
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PosType is the type used to represent interval coordinates.  int32 should be
// wide enough for some time to come, since that's what BAM is limited to.
type PosType int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

// Orientation identifies the kind of replication event an interval describes.
type Orientation int

const (
	// OrientationUnknown is the zero value; it is never attached to a loaded
	// record.
	OrientationUnknown Orientation = iota
	// Left is a leftward-moving fork.
	Left
	// Right is a rightward-moving fork.
	Right
	// Origin is a replication initiation event.
	Origin
	// Termination is a site where two converging forks met.
	Termination
)

var orientationNames = [...]string{"unknown", "left", "right", "origin", "termination"}

func (o Orientation) String() string {
	if o < 0 || int(o) >= len(orientationNames) {
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
	return orientationNames[o]
}

// ParseOrientation parses the orientation column of an interval record.  The
// full names, their first letters, and "+"/"-" for right/left forks are
// accepted, case-insensitively.
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(s) {
	case "left", "l", "-":
		return Left, nil
	case "right", "r", "+":
		return Right, nil
	case "origin", "o", "ori":
		return Origin, nil
	case "termination", "t", "term":
		return Termination, nil
	}
	return OrientationUnknown, fmt.Errorf("interval.ParseOrientation: unrecognized orientation %q", s)
}

// GenomicInterval is one detected fork, origin or termination on one read.
// Coordinates are 0-based, half-open.
type GenomicInterval struct {
	Chrom       string
	Start       PosType
	End         PosType
	ReadID      string
	Score       float64
	Orientation Orientation
	// Fields holds the record's raw input columns, so that a filtered BED can
	// reproduce whatever metadata the detector wrote.  Nil for records
	// constructed in code.
	Fields []string
}

// Len returns the number of bases covered by the interval.
func (iv *GenomicInterval) Len() PosType {
	return iv.End - iv.Start
}

// Mid returns the interval midpoint, rounded down.
func (iv *GenomicInterval) Mid() PosType {
	return iv.Start + (iv.End-iv.Start)/2
}

// Validate checks the GenomicInterval invariants.
func (iv *GenomicInterval) Validate() error {
	if iv.Chrom == "" {
		return fmt.Errorf("empty chromosome")
	}
	if iv.Start < 0 {
		return fmt.Errorf("negative start coordinate %d", iv.Start)
	}
	if iv.Start >= iv.End {
		return fmt.Errorf("invalid coordinate pair [%d, %d)", iv.Start, iv.End)
	}
	return nil
}

func (iv GenomicInterval) String() string {
	return fmt.Sprintf("%s:%d-%d(%s,%s)", iv.Chrom, iv.Start, iv.End, iv.ReadID, iv.Orientation)
}

// Entry is a single region, as parsed from a region string.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

// Overlaps returns true iff [start, end) on chrom overlaps the entry.
func (e *Entry) Overlaps(chrom string, start, end PosType) bool {
	return chrom == e.ChrName && start < e.End && end > e.Start0
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1] is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.Start0 = 0
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = region[0:colonPos]
	rangeStr := region[colonPos+1:]
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	start1Str := rangeStr[:dashPos]
	endStr := rangeStr[dashPos+1:]
	var start1 int
	if start1, err = strconv.Atoi(start1Str); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", start1Str)
		return
	}
	var end0 int
	if end0, err = strconv.Atoi(endStr); err != nil {
		return
	}
	if end0 < start1 || end0 >= PosTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end0)
	return
}
