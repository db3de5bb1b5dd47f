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
package main

/*
bio-forkseq pairs detected replication forks with the origins and
terminations that explain them, extracts per-read BrdU/EdU signal tracks for
the validated reads, aggregates them across reads and calls the positions
where the dominant analog changes.

A typical run:

  bio-forkseq filter -left left.bed -right right.bed -origins origins.bed \
      -terminations terminations.bed -out filtered.bed
  bio-forkseq extract -filtered filtered.bed -out-dir tracks reads.bam
  bio-forkseq aggregate -sample s1 -out s1.tsv.gz tracks
  bio-forkseq profile -sample s1 -out s1.profile.csv tracks
  bio-forkseq boundaries -out calls.tsv -pulses pulses.csv tracks
*/

import (
	"github.com/grailbio/forkseq/cmd/bio-forkseq/cmd"
)

func main() {
	cmd.Run()
}
