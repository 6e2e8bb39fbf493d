// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramexport

import (
	"github.com/pkg/errors"
)

// ErrUnsupportedRank is returned when a parameter has a rank other than 1, 2
// or 4.
var ErrUnsupportedRank = errors.New("unsupported parameter rank")

// ParamLayout returns the shape a parameter array is encoded with.
//
// This is the convention expected by readers of convolution and
// fully-connected layers, not a general rule over tensor ranks:
//
//   - rank 4, a convolution weight (out, in, kh, kw): kept nested;
//   - rank 2, a fully-connected weight: flattened row-major to one
//     dimension, losing the shape;
//   - rank 1, a bias: kept as it is.
//
// Any other rank is rejected with ErrUnsupportedRank.
func ParamLayout(a Array) ([]int, error) {
	switch a.Rank() {
	case 4, 1:
		return a.Shape(), nil
	case 2:
		return []int{a.Size()}, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedRank, "parameter %q has shape %v", a.name, a.shape)
}
