// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramexport

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/nlpodyssey/paramexport/internal/logger"
	"github.com/pkg/errors"
)

// FileExt is the extension of all output files.
const FileExt = ".msg"

// FileName returns the base name of the file holding the named entry:
// "model_param_<name>.msg" or "model_blob_<name>.msg".
func FileName(c Category, name string) string {
	return "model_" + c.String() + "_" + name + FileExt
}

// Saved describes a file successfully written.
type Saved struct {
	Name string
	Kind Kind
	Path string
	// Size of the file in bytes.
	Size int64
}

// Section lists what was saved from one Collection.
type Section struct {
	Category Category
	Saved    []Saved
}

// Report lists all files written during a run, by section.
type Report struct {
	Sections []Section
}

// Names returns the report as a flat list, each section being introduced
// by a marker such as "***PARAMS***".
func (r Report) Names() []string {
	var names []string
	for _, s := range r.Sections {
		names = append(names, sectionMarker(s.Category))
		for _, v := range s.Saved {
			names = append(names, v.Name)
		}
	}
	return names
}

func sectionMarker(c Category) string {
	switch c {
	case Params:
		return "***PARAMS***"
	case Blobs:
		return "***BLOBS***"
	}
	return "***" + c.String() + "***"
}

// Saver writes entries to files in a directory.
type Saver struct {
	dir string
}

// NewSaver returns a Saver writing into dir. The directory must exist.
func NewSaver(dir string) *Saver {
	return &Saver{dir: dir}
}

// Dir is the output directory.
func (s *Saver) Dir() string {
	return s.dir
}

// Save writes every serializable entry of c, returning the list of saved
// entries. Unsupported entries are logged and skipped.
//
// Blobs are written with their full nested structure. Params follow
// ParamLayout; the first error, such as ErrUnsupportedRank or a failed write,
// stops the process and is returned along with what was already saved.
func (s *Saver) Save(c *Collection) (Section, error) {
	section := Section{Category: c.Category}
	for _, e := range c.Entries {
		if c.Category == Blobs {
			logger.Log.Info("saving blob", "name", e.name)
		} else {
			logger.Log.Info("saving parameters", "name", e.name)
		}

		var (
			saved Saved
			err   error
		)
		switch e.kind {
		case KindSingle:
			saved, err = s.saveSingle(c.Category, e)
		case KindPair:
			saved, err = s.SavePair(e.name, e.array, e.bias)
		default:
			logger.Log.Warn(c.Category.String()+" not saved", "name", e.name, "value", e.opaque)
			continue
		}
		if err != nil {
			return section, err
		}
		section.Saved = append(section.Saved, saved)
	}
	return section, nil
}

func (s *Saver) saveSingle(c Category, e Entry) (Saved, error) {
	return s.write(c, e.name, KindSingle, func(enc *Encoder) error {
		if c == Blobs {
			return enc.EncodeNested(e.array)
		}
		return enc.EncodeParam(e.array)
	})
}

// SavePair writes weight and bias of a layer in a single param file.
func (s *Saver) SavePair(layerName string, weight, bias Array) (Saved, error) {
	return s.write(Params, layerName, KindPair, func(enc *Encoder) error {
		return enc.EncodePair(weight, bias)
	})
}

func (s *Saver) write(c Category, name string, kind Kind, encode func(*Encoder) error) (Saved, error) {
	path := filepath.Join(s.dir, FileName(c, name))
	n, err := writeFile(path, encode)
	if err != nil {
		return Saved{}, errors.Wrapf(err, "failed to save %s %q", c, name)
	}
	return Saved{Name: name, Kind: kind, Path: path, Size: n}, nil
}

func writeFile(path string, encode func(*Encoder) error) (n int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
		// no partial file is left behind on failure
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	cw := &countingWriter{w: f}
	bw := bufio.NewWriter(cw)
	if err = encode(NewEncoder(bw)); err != nil {
		return 0, err
	}
	if err = bw.Flush(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
