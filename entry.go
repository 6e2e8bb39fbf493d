// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramexport

import "fmt"

// Kind tells which variant an Entry holds.
type Kind uint8

const (
	// KindUnsupported marks a value that is neither an array nor a
	// weight/bias pair. It is never written.
	KindUnsupported Kind = iota
	// KindSingle marks a plain numeric array.
	KindSingle
	// KindPair marks a layer's weight and bias, written to the same file.
	KindPair
)

func (k Kind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindSingle:
		return "single"
	case KindPair:
		return "pair"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Entry is a named value extracted from a network. Depending on its Kind,
// it holds either a single Array, a weight/bias pair, or an opaque value
// that cannot be serialized.
type Entry struct {
	name   string
	kind   Kind
	array  Array
	bias   Array
	opaque any
}

// Single returns an Entry holding one array.
func Single(name string, a Array) Entry {
	return Entry{name: name, kind: KindSingle, array: a}
}

// WeightBias returns an Entry holding a layer's weight and bias, in this
// order.
func WeightBias(name string, weight, bias Array) Entry {
	return Entry{name: name, kind: KindPair, array: weight, bias: bias}
}

// Unsupported returns an Entry for a value which is not serializable.
// The value is only kept for diagnostics.
func Unsupported(name string, value any) Entry {
	return Entry{name: name, kind: KindUnsupported, opaque: value}
}

// Name of the entry, used to build the output file name.
func (e Entry) Name() string { return e.name }

// Kind of the entry.
func (e Entry) Kind() Kind { return e.kind }

// Array returns the array of a KindSingle entry.
func (e Entry) Array() (Array, bool) {
	return e.array, e.kind == KindSingle
}

// Pair returns weight and bias of a KindPair entry.
func (e Entry) Pair() (weight, bias Array, ok bool) {
	return e.array, e.bias, e.kind == KindPair
}

// Value returns the opaque value of a KindUnsupported entry.
func (e Entry) Value() any {
	return e.opaque
}

// Category separates the two kinds of collections extracted from a network.
type Category uint8

const (
	// Params are learnable weights and biases.
	Params Category = iota + 1
	// Blobs are intermediate values computed by a forward pass.
	Blobs
)

func (c Category) String() string {
	switch c {
	case Params:
		return "param"
	case Blobs:
		return "blob"
	}
	return fmt.Sprintf("Category(%d)", c)
}

// InfoName is the reserved name of the descriptive entry heading every
// Collection.
const InfoName = "info"

// Collection is an ordered set of entries of the same Category.
type Collection struct {
	Category Category
	Entries  []Entry
}

// NewCollection returns a Collection whose first entry is the reserved
// InfoName entry, describing its category.
func NewCollection(c Category) *Collection {
	info := fmt.Sprintf("net.%ss data", c)
	return &Collection{
		Category: c,
		Entries:  []Entry{Unsupported(InfoName, info)},
	}
}

// Add appends entries to the collection.
func (c *Collection) Add(e ...Entry) {
	c.Entries = append(c.Entries, e...)
}

// Names of all entries, in order.
func (c *Collection) Names() []string {
	names := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		names[i] = e.name
	}
	return names
}
