// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramexport

import (
	"github.com/nlpodyssey/paramexport/internal/logger"
	"github.com/pkg/errors"
)

// Deferred is a value whose content is only computed, or loaded, when
// explicitly evaluated.
type Deferred interface {
	Eval() (Array, error)
}

// DeferredFunc adapts an ordinary function to the Deferred interface.
type DeferredFunc func() (Array, error)

// Eval calls f.
func (f DeferredFunc) Eval() (Array, error) {
	return f()
}

// SaveLayer writes weight and bias of a layer to
// "<dir>/model_param_<layerName>.msg".
//
// A rank 4 weight is kept nested, a rank 2 weight is flattened, and any other
// rank fails with ErrUnsupportedRank. The bias is written as it is.
func SaveLayer(dir string, weight, bias Array, layerName string) (Saved, error) {
	saved, err := NewSaver(dir).SavePair(layerName, weight, bias)
	if err != nil {
		return Saved{}, err
	}
	logger.Log.Info("saved layer parameters",
		"layer", layerName, "weight", layerName+".weight", "bias", layerName+".bias", "file", FileName(Params, layerName))
	return saved, nil
}

// SaveDeferredLayer evaluates weight and bias, then saves them as SaveLayer
// does.
func SaveDeferredLayer(dir string, weight, bias Deferred, layerName string) (Saved, error) {
	w, err := weight.Eval()
	if err != nil {
		return Saved{}, errors.Wrapf(err, "failed to evaluate weight of layer %q", layerName)
	}
	b, err := bias.Eval()
	if err != nil {
		return Saved{}, errors.Wrapf(err, "failed to evaluate bias of layer %q", layerName)
	}
	return SaveLayer(dir, w, b, layerName)
}
