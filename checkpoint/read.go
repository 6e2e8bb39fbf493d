// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"io"

	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/header"
	"github.com/pkg/errors"
)

// ReadAll reads the whole content of a checkpoint stream, returning all
// tensors converted to float32 arrays, in storage order, and the header
// metadata.
func ReadAll(r io.Reader, headerSizeLimit int) ([]paramexport.Array, map[string]string, error) {
	head, err := readValidHeader(r, headerSizeLimit)
	if err != nil {
		return nil, nil, err
	}
	arrays, err := readArrays(head.Tensors, r)
	if err != nil {
		return nil, nil, err
	}
	return arrays, head.Metadata, nil
}

// readArrays reads the data of tensors sorted by offsets from a reader
// positioned at the beginning of the byte-buffer.
func readArrays(tensors []header.Tensor, r io.Reader) ([]paramexport.Array, error) {
	out := make([]paramexport.Array, len(tensors))
	for i, t := range tensors {
		data := make([]byte, t.ByteSize())
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrapf(err, "failed to read data of tensor %q", t.Name)
		}
		a, err := toArray(t, data)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
