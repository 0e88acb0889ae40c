package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Head is the trainable part of the classifier:
//
//	global-avg-pool → dropout → dense(hidden, relu) → dropout → dense(1, sigmoid)
//
// Pooling happens before the head sees its input, so W1 maps pooled backbone
// channels to the hidden layer.
type Head struct {
	w1 *mat.Dense    // in × hidden
	b1 *mat.VecDense // hidden
	w2 *mat.VecDense // hidden
	b2 float64
}

// newHead initializes weights with Glorot-uniform and zero biases.
func newHead(in, hidden int, rng *rand.Rand) *Head {
	w1 := mat.NewDense(in, hidden, nil)
	glorot(w1.RawMatrix().Data, in, hidden, rng)

	w2 := mat.NewVecDense(hidden, nil)
	glorot(w2.RawVector().Data, hidden, 1, rng)

	return &Head{
		w1: w1,
		b1: mat.NewVecDense(hidden, nil),
		w2: w2,
	}
}

func glorot(dst []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range dst {
		dst[i] = (rng.Float64()*2 - 1) * limit
	}
}

// InputDim is the number of pooled features the head accepts.
func (h *Head) InputDim() int {
	r, _ := h.w1.Dims()
	return r
}

// Hidden is the width of the hidden layer.
func (h *Head) Hidden() int {
	_, c := h.w1.Dims()
	return c
}

func (h *Head) clone() *Head {
	return &Head{
		w1: mat.DenseCopyOf(h.w1),
		b1: mat.VecDenseCopyOf(h.b1),
		w2: mat.VecDenseCopyOf(h.w2),
		b2: h.b2,
	}
}

// logit runs the inference forward pass; dropout is inactive.
func (h *Head) logit(features []float64) float64 {
	var a mat.VecDense
	a.MulVec(h.w1.T(), mat.NewVecDense(len(features), features))
	a.AddVec(&a, h.b1)

	raw := a.RawVector().Data
	for i, v := range raw {
		raw[i] = relu(v)
	}
	return mat.Dot(&a, h.w2) + h.b2
}

// Probability returns the sigmoid output for one pooled feature vector.
func (h *Head) Probability(features []float64) float64 {
	return sigmoid(h.logit(features))
}

type gradients struct {
	w1 *mat.Dense
	b1 *mat.VecDense
	w2 *mat.VecDense
	b2 float64
}

// forwardBackward computes the mean binary cross-entropy of a batch and its
// gradients. drop1 and drop2 are the dropout rates; rng drives the masks and
// may be nil when both rates are zero. x is not modified.
func (h *Head) forwardBackward(x *mat.Dense, y []float64, drop1, drop2 float64, rng *rand.Rand) (float64, []float64, gradients) {
	n, in := x.Dims()
	hidden := h.Hidden()

	xd := mat.DenseCopyOf(x)
	if drop1 > 0 {
		applyDropout(xd.RawMatrix().Data, drop1, rng)
	}

	var a mat.Dense
	a.Mul(xd, h.w1)
	aRaw := a.RawMatrix()
	b1 := h.b1.RawVector().Data
	for i := 0; i < n; i++ {
		row := aRaw.Data[i*aRaw.Stride : i*aRaw.Stride+hidden]
		for j := range row {
			row[j] += b1[j]
		}
	}

	// act = relu(a) * mask2; scale keeps the per-unit dropout factor for backprop.
	act := mat.NewDense(n, hidden, nil)
	actRaw := act.RawMatrix().Data
	scale := make([]float64, n*hidden)
	keep := 1.0
	if drop2 > 0 {
		keep = 1 / (1 - drop2)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < hidden; j++ {
			k := i*hidden + j
			s := 1.0
			if drop2 > 0 {
				if rng.Float64() < drop2 {
					s = 0
				} else {
					s = keep
				}
			}
			v := relu(aRaw.Data[i*aRaw.Stride+j])
			if v == 0 {
				s = 0
			}
			scale[k] = s
			actRaw[k] = v * s
		}
	}

	var z mat.VecDense
	z.MulVec(act, h.w2)

	probs := make([]float64, n)
	dz := mat.NewVecDense(n, nil)
	var loss, db2 float64
	for i := 0; i < n; i++ {
		zi := z.AtVec(i) + h.b2
		probs[i] = sigmoid(zi)
		loss += bceWithLogits(zi, y[i])
		d := (probs[i] - y[i]) / float64(n)
		dz.SetVec(i, d)
		db2 += d
	}
	loss /= float64(n)

	var gw2 mat.VecDense
	gw2.MulVec(act.T(), dz)

	w2 := h.w2.RawVector().Data
	da := mat.NewDense(n, hidden, nil)
	daRaw := da.RawMatrix().Data
	for i := 0; i < n; i++ {
		d := dz.AtVec(i)
		for j := 0; j < hidden; j++ {
			k := i*hidden + j
			daRaw[k] = d * w2[j] * scale[k]
		}
	}

	gw1 := mat.NewDense(in, hidden, nil)
	gw1.Mul(xd.T(), da)

	gb1 := mat.NewVecDense(hidden, nil)
	gb1Raw := gb1.RawVector().Data
	for i := 0; i < n; i++ {
		for j := 0; j < hidden; j++ {
			gb1Raw[j] += daRaw[i*hidden+j]
		}
	}

	return loss, probs, gradients{w1: gw1, b1: gb1, w2: &gw2, b2: db2}
}

// relu clamps negatives to zero and lets NaN through so divergence surfaces
// in the loss instead of being masked.
func relu(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// finite reports whether every parameter is a finite number.
func (h *Head) finite() bool {
	for _, data := range [][]float64{h.w1.RawMatrix().Data, h.b1.RawVector().Data, h.w2.RawVector().Data, {h.b2}} {
		for _, v := range data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// applyDropout zeroes each element with probability rate and rescales the rest.
func applyDropout(data []float64, rate float64, rng *rand.Rand) {
	keep := 1 / (1 - rate)
	for i := range data {
		if rng.Float64() < rate {
			data[i] = 0
		} else {
			data[i] *= keep
		}
	}
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// bceWithLogits is the binary cross-entropy of sigmoid(z) against y, computed
// without forming the probability.
func bceWithLogits(z, y float64) float64 {
	return math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
}

// adam holds optimizer state for a Head.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int

	mW1, vW1 []float64
	mB1, vB1 []float64
	mW2, vW2 []float64
	mB2, vB2 float64
}

func newAdam(h *Head, lr, beta1, beta2, eps float64) *adam {
	nw1 := len(h.w1.RawMatrix().Data)
	hidden := h.Hidden()
	return &adam{
		lr: lr, beta1: beta1, beta2: beta2, eps: eps,
		mW1: make([]float64, nw1), vW1: make([]float64, nw1),
		mB1: make([]float64, hidden), vB1: make([]float64, hidden),
		mW2: make([]float64, hidden), vW2: make([]float64, hidden),
	}
}

func (o *adam) step(h *Head, g gradients) {
	o.t++
	lrT := o.lr * math.Sqrt(1-math.Pow(o.beta2, float64(o.t))) / (1 - math.Pow(o.beta1, float64(o.t)))

	o.update(h.w1.RawMatrix().Data, g.w1.RawMatrix().Data, o.mW1, o.vW1, lrT)
	o.update(h.b1.RawVector().Data, g.b1.RawVector().Data, o.mB1, o.vB1, lrT)
	o.update(h.w2.RawVector().Data, g.w2.RawVector().Data, o.mW2, o.vW2, lrT)

	o.mB2 = o.beta1*o.mB2 + (1-o.beta1)*g.b2
	o.vB2 = o.beta2*o.vB2 + (1-o.beta2)*g.b2*g.b2
	h.b2 -= lrT * o.mB2 / (math.Sqrt(o.vB2) + o.eps)
}

func (o *adam) update(param, grad, m, v []float64, lrT float64) {
	for i, gi := range grad {
		m[i] = o.beta1*m[i] + (1-o.beta1)*gi
		v[i] = o.beta2*v[i] + (1-o.beta2)*gi*gi
		param[i] -= lrT * m[i] / (math.Sqrt(v[i]) + o.eps)
	}
}
