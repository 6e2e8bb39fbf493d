// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checkpoint reads the tensors of a trained model stored in
// safetensors format, converting them to float32 arrays.
package checkpoint

import (
	"io"
	"math"
	"math/bits"
	"os"

	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/dtype"
	"github.com/nlpodyssey/paramexport/header"
	"github.com/pkg/errors"
)

// DefaultHeaderSizeLimit is a reasonable upper bound for the size of a
// header, guarding against garbage files.
const DefaultHeaderSizeLimit = 100_000_000

// ErrTensorNotFound is returned when a tensor name is not in the checkpoint.
var ErrTensorNotFound = errors.New("tensor not found")

// File allows to read checkpoint content lazy-loading data of individual
// tensors.
type File struct {
	rs     io.ReadSeeker
	closer io.Closer
	head   header.Header
	// dataOffset is the byte-buffer offset relative to the start of rs
	dataOffset int64
}

// Open opens the checkpoint file at path and reads its header.
// The file must be closed with File.Close once all tensors needed were
// evaluated.
//
// If headerSizeLimit is positive, reading a larger header fails.
func Open(path string, headerSizeLimit int) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", path)
	}
	cf, err := NewLazy(f, headerSizeLimit)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to read checkpoint %q", path)
	}
	cf.closer = f
	return cf, nil
}

// NewLazy reads from "rs" the header and validates it, then returns a new
// File in case of success.
//
// The current "seek" position of "rs" is used as a base for all further
// seek-based operations. The given io.ReadSeeker must remain available as
// long as tensors are evaluated from the returned File or its LazyTensors.
func NewLazy(rs io.ReadSeeker, headerSizeLimit int) (*File, error) {
	initialOffset, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get initial offset")
	}

	head, err := readValidHeader(rs, headerSizeLimit)
	if err != nil {
		return nil, err
	}

	dataOffset, err := checkedAddNonNegInt64(initialOffset, int64(head.ByteBufferOffset))
	if err != nil {
		return nil, errors.Wrap(err, "failed to calculate total byte-buffer offset")
	}

	return &File{
		rs:         rs,
		head:       head,
		dataOffset: dataOffset,
	}, nil
}

func readValidHeader(r io.Reader, sizeLimit int) (header.Header, error) {
	if sizeLimit > 0 {
		r = io.LimitReader(r, int64(sizeLimit))
	}
	head, err := header.Read(r)
	if err != nil {
		return header.Header{}, errors.Wrap(err, "failed to read checkpoint header")
	}
	if err = head.Validate(); err != nil {
		return header.Header{}, errors.Wrap(err, "checkpoint header is invalid")
	}
	return head, nil
}

// Close closes the underlying file, if the File was created with Open.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Metadata returns the free-form key/value string pairs as read from the
// header. It can be nil.
func (f *File) Metadata() map[string]string {
	return f.head.Metadata
}

// TensorNames returns the names of all tensors in storage order.
func (f *File) TensorNames() []string {
	return f.head.Names()
}

// Has reports whether a tensor with this name exists.
func (f *File) Has(name string) bool {
	_, ok := f.head.Lookup(name)
	return ok
}

// LazyTensor returns a LazyTensor by its name, and whether it has been found.
func (f *File) LazyTensor(name string) (_ LazyTensor, ok bool) {
	t, ok := f.head.Lookup(name)
	if !ok {
		return LazyTensor{}, false
	}
	return LazyTensor{
		rs:         f.rs,
		t:          t,
		dataOffset: f.dataOffset,
	}, true
}

// Array reads the named tensor and converts it to a float32 Array.
func (f *File) Array(name string) (paramexport.Array, error) {
	lt, ok := f.LazyTensor(name)
	if !ok {
		return paramexport.Array{}, errors.Wrapf(ErrTensorNotFound, "%q", name)
	}
	return lt.Eval()
}

// AllArrays reads and converts all tensors, in storage order.
func (f *File) AllArrays() ([]paramexport.Array, error) {
	if _, err := f.rs.Seek(f.dataOffset, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "failed to seek to byte-buffer offset")
	}
	return readArrays(f.head.Tensors, f.rs)
}

// LazyTensor provides information about a tensor and allows to load its
// data later. It implements paramexport.Deferred.
type LazyTensor struct {
	rs io.ReadSeeker
	t  header.Tensor
	// dataOffset is the byte-buffer offset relative to the start of rs
	dataOffset int64
}

var _ paramexport.Deferred = LazyTensor{}

// Name returns the name of the tensor.
func (lt LazyTensor) Name() string {
	return lt.t.Name
}

// DType returns the stored data type of the tensor.
func (lt LazyTensor) DType() dtype.DType {
	return lt.t.DType
}

// Shape returns a copy of the shape of the tensor.
func (lt LazyTensor) Shape() []int {
	if len(lt.t.Shape) == 0 {
		return nil
	}
	return append([]int(nil), lt.t.Shape...)
}

// ReadData reads and returns the raw little-endian data of the tensor.
func (lt LazyTensor) ReadData() ([]byte, error) {
	size := lt.t.ByteSize()
	if size == 0 {
		return nil, nil
	}
	offset, err := checkedAddNonNegInt64(lt.dataOffset, int64(lt.t.Begin))
	if err != nil {
		return nil, errors.Wrap(err, "failed to calculate tensor data offset")
	}
	if _, err = lt.rs.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "failed to seek to tensor data offset")
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(lt.rs, data); err != nil {
		return nil, errors.Wrap(err, "failed to read tensor data")
	}
	return data, nil
}

// Eval reads the tensor data and converts it to a float32 Array, whatever
// the stored data type.
func (lt LazyTensor) Eval() (paramexport.Array, error) {
	data, err := lt.ReadData()
	if err != nil {
		return paramexport.Array{}, errors.Wrapf(err, "tensor %q", lt.t.Name)
	}
	return toArray(lt.t, data)
}

func toArray(t header.Tensor, data []byte) (paramexport.Array, error) {
	values, err := t.DType.ToFloat32(data)
	if err != nil {
		return paramexport.Array{}, errors.Wrapf(err, "failed to convert tensor %q", t.Name)
	}
	return paramexport.NewArray(t.Name, t.Shape, values)
}

var errInt64SumOverflow = errors.New("int64 sum overflow")

func checkedAddNonNegInt64(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, errors.New("unexpected negative number")
	}
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 || sum > math.MaxInt64 {
		return 0, errInt64SumOverflow
	}
	return int64(sum), nil
}
