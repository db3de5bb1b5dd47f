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

// Package outfile creates the text outputs of the forkseq tools.  A path whose
// name marks it as gzip-compressed is written BGZF-compressed, so that the
// result can be indexed with tabix.
package outfile

import (
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/hts/bgzf"
)

// Writer is an open output file.
type Writer struct {
	f    file.File
	bgzf *bgzf.Writer
	w    io.Writer
}

// Create creates (or truncates) path.  parallelism is passed to the BGZF
// compressor and is ignored for uncompressed output.
func Create(ctx context.Context, path string, parallelism int) (*Writer, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, w: f.Writer(ctx)}
	if fileio.DetermineType(path) == fileio.Gzip {
		if parallelism <= 0 {
			parallelism = 1
		}
		w.bgzf = bgzf.NewWriter(w.w, parallelism)
		w.w = w.bgzf
	}
	return w, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Name returns the path the Writer was created with.
func (w *Writer) Name() string {
	return w.f.Name()
}

// Close flushes the compressor, if any, and closes the file.
func (w *Writer) Close(ctx context.Context) (err error) {
	if w.bgzf != nil {
		err = w.bgzf.Close()
	}
	if e := w.f.Close(ctx); e != nil && err == nil {
		err = e
	}
	return
}

