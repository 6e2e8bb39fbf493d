// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"bufio"
	"io"
	"os"

	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/dtype"
	"github.com/nlpodyssey/paramexport/header"
	"github.com/pkg/errors"
)

// Write serializes arrays and additional metadata as an F32 checkpoint,
// in the given order.
func Write(w io.Writer, arrays []paramexport.Array, metadata map[string]string) error {
	head := header.Header{
		Tensors:  make([]header.Tensor, len(arrays)),
		Metadata: metadata,
	}
	offset := 0
	for i, a := range arrays {
		end := offset + a.Size()*dtype.F32.Size()
		head.Tensors[i] = header.Tensor{
			Name:  a.Name(),
			DType: dtype.F32,
			Shape: a.Shape(),
			Begin: offset,
			End:   end,
		}
		offset = end
	}
	if err := head.Validate(); err != nil {
		return errors.Wrap(err, "failed to generate a valid header")
	}

	if _, err := header.Write(w, head); err != nil {
		return err
	}
	for _, a := range arrays {
		if _, err := w.Write(dtype.FromFloat32(a.Data())); err != nil {
			return errors.Wrapf(err, "failed to write data of tensor %q", a.Name())
		}
	}
	return nil
}

// WriteFile creates the file at path and writes the checkpoint into it.
func WriteFile(path string, arrays []paramexport.Array, metadata map[string]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint %q", path)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	bw := bufio.NewWriter(f)
	if err = Write(bw, arrays, metadata); err != nil {
		return err
	}
	return bw.Flush()
}
