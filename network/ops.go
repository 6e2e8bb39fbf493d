// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package network

import (
	"math"

	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/netdesc"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func (l *layer) forward(in paramexport.Array) (paramexport.Array, error) {
	if !equalShapes(in.Shape(), l.inShape) {
		return paramexport.Array{}, errors.Wrapf(paramexport.ErrShapeMismatch,
			"bottom %q has shape %v, expected %v", l.desc.Bottom, in.Shape(), l.inShape)
	}
	x := in.Data()
	var y []float32
	switch l.desc.Type {
	case netdesc.Convolution:
		y = l.convolution(x)
	case netdesc.Pooling:
		y = l.pooling(x)
	case netdesc.ReLU:
		y = relu(x)
	case netdesc.LRN:
		y = l.lrn(x)
	case netdesc.InnerProduct:
		y = l.innerProduct(x)
	case netdesc.Softmax:
		y = softmax(x, l.inShape)
	case netdesc.BatchNorm:
		y = l.batchNorm(x)
	case netdesc.Dropout:
		// inference: identity
		y = append([]float32(nil), x...)
	default:
		return paramexport.Array{}, errors.Errorf("unsupported layer type %q", l.desc.Type)
	}
	return paramexport.NewArray(l.desc.Top, l.outShape, y)
}

// convolution lowers each group of input channels to a column matrix, then
// multiplies it by the matching group of filters.
func (l *layer) convolution(x []float32) []float32 {
	p := l.desc.Convolution
	nb, c, h, w := l.inShape[0], l.inShape[1], l.inShape[2], l.inShape[3]
	o, ho, wo := l.outShape[1], l.outShape[2], l.outShape[3]
	k := p.KernelSize
	cg, og := c/p.Group, o/p.Group
	rows, cols := cg*k*k, ho*wo

	weight := l.params[0].Data()
	var bias []float32
	if len(l.params) > 1 {
		bias = l.params[1].Data()
	}

	filters := make([]*mat.Dense, p.Group)
	for g := range filters {
		filters[g] = mat.NewDense(og, rows, toFloat64(weight[g*og*rows:(g+1)*og*rows]))
	}
	col := mat.NewDense(rows, cols, nil)
	res := mat.NewDense(og, cols, nil)
	colData := col.RawMatrix().Data

	y := make([]float32, nb*o*cols)
	for n := 0; n < nb; n++ {
		for g := 0; g < p.Group; g++ {
			for ci := 0; ci < cg; ci++ {
				plane := x[((n*c)+g*cg+ci)*h*w:][:h*w]
				for ky := 0; ky < k; ky++ {
					for kx := 0; kx < k; kx++ {
						row := colData[((ci*k+ky)*k+kx)*cols:][:cols]
						for oy := 0; oy < ho; oy++ {
							iy := oy*p.Stride - p.Pad + ky
							for ox := 0; ox < wo; ox++ {
								ix := ox*p.Stride - p.Pad + kx
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									row[oy*wo+ox] = 0
								} else {
									row[oy*wo+ox] = float64(plane[iy*w+ix])
								}
							}
						}
					}
				}
			}
			res.Mul(filters[g], col)
			for oi := 0; oi < og; oi++ {
				oc := g*og + oi
				var b float64
				if bias != nil {
					b = float64(bias[oc])
				}
				dst := y[(n*o+oc)*cols:][:cols]
				for i := range dst {
					dst[i] = float32(res.At(oi, i) + b)
				}
			}
		}
	}
	return y
}

func (l *layer) pooling(x []float32) []float32 {
	p := l.desc.Pooling
	nb, c, h, w := l.inShape[0], l.inShape[1], l.inShape[2], l.inShape[3]
	ho, wo := l.outShape[2], l.outShape[3]
	k, s, pad := p.KernelSize, p.Stride, p.Pad

	y := make([]float32, nb*c*ho*wo)
	for nc := 0; nc < nb*c; nc++ {
		plane := x[nc*h*w:][:h*w]
		dst := y[nc*ho*wo:][:ho*wo]
		for oy := 0; oy < ho; oy++ {
			for ox := 0; ox < wo; ox++ {
				y0, x0 := oy*s-pad, ox*s-pad
				// the averaging divisor counts padding, but not what lies past it
				y1, x1 := min(y0+k, h+pad), min(x0+k, w+pad)
				area := (y1 - y0) * (x1 - x0)
				y0, x0 = max(y0, 0), max(x0, 0)
				y1, x1 = min(y1, h), min(x1, w)

				switch p.Pool {
				case netdesc.Max:
					m := float32(math.Inf(-1))
					for iy := y0; iy < y1; iy++ {
						for ix := x0; ix < x1; ix++ {
							m = max(m, plane[iy*w+ix])
						}
					}
					dst[oy*wo+ox] = m
				case netdesc.Average:
					var sum float32
					for iy := y0; iy < y1; iy++ {
						for ix := x0; ix < x1; ix++ {
							sum += plane[iy*w+ix]
						}
					}
					dst[oy*wo+ox] = sum / float32(area)
				}
			}
		}
	}
	return y
}

func relu(x []float32) []float32 {
	y := make([]float32, len(x))
	for i, v := range x {
		y[i] = max(v, 0)
	}
	return y
}

// lrn normalizes each value over a window of neighboring channels.
func (l *layer) lrn(x []float32) []float32 {
	p := l.desc.LRN
	nb, c, hw := l.inShape[0], l.inShape[1], l.inShape[2]*l.inShape[3]
	half := (p.LocalSize - 1) / 2
	alpha := p.Alpha / float64(p.LocalSize)

	y := make([]float32, len(x))
	for n := 0; n < nb; n++ {
		for ch := 0; ch < c; ch++ {
			lo, hi := max(ch-half, 0), min(ch+half+1, c)
			for i := 0; i < hw; i++ {
				var sq float64
				for cc := lo; cc < hi; cc++ {
					v := float64(x[(n*c+cc)*hw+i])
					sq += v * v
				}
				idx := (n*c+ch)*hw + i
				y[idx] = float32(float64(x[idx]) * math.Pow(p.K+alpha*sq, -p.Beta))
			}
		}
	}
	return y
}

func (l *layer) innerProduct(x []float32) []float32 {
	nb := l.inShape[0]
	k := innerSize(l.inShape)
	o := l.outShape[1]

	in := mat.NewDense(nb, k, toFloat64(x))
	weight := mat.NewDense(o, k, toFloat64(l.params[0].Data()))
	var res mat.Dense
	res.Mul(in, weight.T())

	var bias []float32
	if len(l.params) > 1 {
		bias = l.params[1].Data()
	}
	y := make([]float32, nb*o)
	for n := 0; n < nb; n++ {
		for j := 0; j < o; j++ {
			v := res.At(n, j)
			if bias != nil {
				v += float64(bias[j])
			}
			y[n*o+j] = float32(v)
		}
	}
	return y
}

// softmax normalizes over the channel axis, independently for every item
// and spatial position.
func softmax(x []float32, shape []int) []float32 {
	nb, c := shape[0], shape[1]
	inner := 1
	for _, v := range shape[2:] {
		inner *= v
	}
	y := make([]float32, len(x))
	for n := 0; n < nb; n++ {
		for i := 0; i < inner; i++ {
			at := func(ch int) int { return (n*c+ch)*inner + i }
			m := math.Inf(-1)
			for ch := 0; ch < c; ch++ {
				m = math.Max(m, float64(x[at(ch)]))
			}
			var sum float64
			for ch := 0; ch < c; ch++ {
				sum += math.Exp(float64(x[at(ch)]) - m)
			}
			for ch := 0; ch < c; ch++ {
				y[at(ch)] = float32(math.Exp(float64(x[at(ch)])-m) / sum)
			}
		}
	}
	return y
}

// batchNorm applies the stored statistics, both divided by the stored
// scale factor (zero meaning no statistics).
func (l *layer) batchNorm(x []float32) []float32 {
	eps := l.desc.BatchNorm.Eps
	mean, variance := l.params[0].Data(), l.params[1].Data()
	var scale float64
	if sf := l.params[2].Data()[0]; sf != 0 {
		scale = 1 / float64(sf)
	}
	nb, c := l.inShape[0], l.inShape[1]
	inner := innerSize(l.inShape) / c

	y := make([]float32, len(x))
	for n := 0; n < nb; n++ {
		for ch := 0; ch < c; ch++ {
			mu := float64(mean[ch]) * scale
			std := math.Sqrt(float64(variance[ch])*scale + eps)
			base := (n*c + ch) * inner
			for i := base; i < base+inner; i++ {
				y[i] = float32((float64(x[i]) - mu) / std)
			}
		}
	}
	return y
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}
