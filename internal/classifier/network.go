// Package classifier implements the convolutional character classifier used by the CAPTCHA solver.
//
// Architecture (input 1x20x20):
//
//	conv 5x5 1->32 (same) + ReLU + maxpool 2   -> 32x10x10
//	conv 3x3 32->64 (same) + ReLU + maxpool 2  -> 64x5x5
//	dense 1600->512 + ReLU + dropout 0.5
//	dense 512->classes
//
// All parameters live in one flat vector so the optimizer, gradient reduction and persistence work on
// plain slices.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Mode selects whether dropout is applied at inference.
type Mode int

const (
	// Deterministic disables dropout; repeated predictions on the same input agree.
	Deterministic Mode = iota
	// Sampling keeps dropout active so repeated predictions can disagree.
	Sampling
)

func (m Mode) String() string {
	if m == Sampling {
		return "sampling"
	}
	return "deterministic"
}

const (
	// InputSize is the edge length of an input glyph.
	InputSize = 20
	// DropoutRate is the drop probability of the hidden layer.
	DropoutRate = 0.5

	conv1Out   = 32
	conv1K     = 5
	conv2Out   = 64
	conv2K     = 3
	hiddenSize = 512

	inputLen = InputSize * InputSize
	pool1Dim = InputSize / 2
	pool2Dim = pool1Dim / 2
	flatLen  = conv2Out * pool2Dim * pool2Dim
)

// ErrShapeMismatch is returned when an input or a parameter vector has the wrong size.
var ErrShapeMismatch = errors.New("shape mismatch")

type span struct{ off, n int }

func (s span) of(v []float64) []float64 { return v[s.off : s.off+s.n] }

type layout struct {
	conv1W, conv1B span
	conv2W, conv2B span
	fc1W, fc1B     span
	fc2W, fc2B     span
	total          int
}

func newLayout(classes int) layout {
	var l layout
	next := func(n int) span {
		s := span{off: l.total, n: n}
		l.total += n
		return s
	}
	l.conv1W = next(conv1Out * 1 * conv1K * conv1K)
	l.conv1B = next(conv1Out)
	l.conv2W = next(conv2Out * conv1Out * conv2K * conv2K)
	l.conv2B = next(conv2Out)
	l.fc1W = next(hiddenSize * flatLen)
	l.fc1B = next(hiddenSize)
	l.fc2W = next(classes * hiddenSize)
	l.fc2B = next(classes)
	return l
}

// Network is the character classifier. It is safe for concurrent prediction.
type Network struct {
	classes int
	params  []float64
	l       layout

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// New creates a freshly initialised network with an output layer of classes units.
func New(classes int, seed int64) (*Network, error) {
	if classes < 1 {
		return nil, fmt.Errorf("classifier needs at least one class, got %d", classes)
	}
	n := &Network{
		classes: classes,
		l:       newLayout(classes),
		rng:     rand.New(rand.NewSource(seed)),
	}
	n.params = make([]float64, n.l.total)
	n.initialise(rand.New(rand.NewSource(seed)))
	return n, nil
}

// initialise draws weights and biases from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func (n *Network) initialise(rng *rand.Rand) {
	uniform := func(s span, fanIn int) {
		bound := 1 / math.Sqrt(float64(fanIn))
		for i := range s.of(n.params) {
			n.params[s.off+i] = (rng.Float64()*2 - 1) * bound
		}
	}
	uniform(n.l.conv1W, conv1K*conv1K)
	uniform(n.l.conv1B, conv1K*conv1K)
	uniform(n.l.conv2W, conv1Out*conv2K*conv2K)
	uniform(n.l.conv2B, conv1Out*conv2K*conv2K)
	uniform(n.l.fc1W, flatLen)
	uniform(n.l.fc1B, flatLen)
	uniform(n.l.fc2W, hiddenSize)
	uniform(n.l.fc2B, hiddenSize)
}

// Classes returns the size of the output layer.
func (n *Network) Classes() int {
	return n.classes
}

// ParamCount returns the number of trainable parameters.
func (n *Network) ParamCount() int {
	return len(n.params)
}

// Logits runs a forward pass and returns the raw class scores.
func (n *Network) Logits(x []float64, mode Mode) ([]float64, error) {
	if len(x) != inputLen {
		return nil, fmt.Errorf("%w: input has %d values, want %d", ErrShapeMismatch, len(x), inputLen)
	}
	var rng *rand.Rand
	if mode == Sampling {
		rng = n.lockedRand()
		defer n.mu.Unlock()
	}
	act := newActivations(n.classes)
	n.forward(x, act, rng)
	out := make([]float64, n.classes)
	copy(out, act.logits)
	return out, nil
}

// Predict returns the arg-max class id for x.
func (n *Network) Predict(x []float64, mode Mode) (int, error) {
	logits, err := n.Logits(x, mode)
	if err != nil {
		return 0, err
	}
	return floats.MaxIdx(logits), nil
}

// PredictBatch predicts every input independently, in order.
func (n *Network) PredictBatch(xs [][]float64, mode Mode) ([]int, error) {
	ids := make([]int, 0, len(xs))
	for _, x := range xs {
		id, err := n.Predict(x, mode)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (n *Network) lockedRand() *rand.Rand {
	n.mu.Lock()
	return n.rng
}

// activations caches one sample's forward pass for backpropagation.
type activations struct {
	input  []float64
	z1     []float64
	p1     []float64
	i1     []int
	z2     []float64
	p2     []float64
	i2     []int
	h      []float64
	keep   []float64
	a      []float64
	logits []float64
}

func newActivations(classes int) *activations {
	return &activations{
		z1:     make([]float64, conv1Out*inputLen),
		p1:     make([]float64, conv1Out*pool1Dim*pool1Dim),
		i1:     make([]int, conv1Out*pool1Dim*pool1Dim),
		z2:     make([]float64, conv2Out*pool1Dim*pool1Dim),
		p2:     make([]float64, flatLen),
		i2:     make([]int, flatLen),
		h:      make([]float64, hiddenSize),
		keep:   make([]float64, hiddenSize),
		a:      make([]float64, hiddenSize),
		logits: make([]float64, classes),
	}
}

// forward fills act. A nil rng disables dropout.
func (n *Network) forward(x []float64, act *activations, rng *rand.Rand) {
	p := n.params
	act.input = x

	convForward(x, 1, InputSize, InputSize, n.l.conv1W.of(p), n.l.conv1B.of(p), conv1Out, conv1K, act.z1)
	poolForward(act.z1, conv1Out, InputSize, InputSize, act.p1, act.i1)

	convForward(act.p1, conv1Out, pool1Dim, pool1Dim, n.l.conv2W.of(p), n.l.conv2B.of(p), conv2Out, conv2K, act.z2)
	poolForward(act.z2, conv2Out, pool1Dim, pool1Dim, act.p2, act.i2)

	denseForward(act.p2, n.l.fc1W.of(p), n.l.fc1B.of(p), act.h)
	scale := 1 / (1 - DropoutRate)
	for j, v := range act.h {
		keep := 1.0
		if rng != nil {
			if rng.Float64() < DropoutRate {
				keep = 0
			} else {
				keep = scale
			}
		}
		act.keep[j] = keep
		act.a[j] = math.Max(v, 0) * keep
	}

	denseForward(act.a, n.l.fc2W.of(p), n.l.fc2B.of(p), act.logits)
}

// backward accumulates the parameter gradients of one sample into grads.
func (n *Network) backward(act *activations, dLogits []float64, grads []float64) {
	p := n.params
	l := n.l

	da := make([]float64, hiddenSize)
	denseBackward(act.a, l.fc2W.of(p), dLogits, l.fc2W.of(grads), l.fc2B.of(grads), da)

	dh := make([]float64, hiddenSize)
	for j := range dh {
		if act.h[j] > 0 {
			dh[j] = da[j] * act.keep[j]
		}
	}

	dp2 := make([]float64, flatLen)
	denseBackward(act.p2, l.fc1W.of(p), dh, l.fc1W.of(grads), l.fc1B.of(grads), dp2)

	dz2 := make([]float64, len(act.z2))
	poolBackward(act.p2, act.i2, dp2, dz2)

	dp1 := make([]float64, len(act.p1))
	convBackward(act.p1, conv1Out, pool1Dim, pool1Dim, l.conv2W.of(p), conv2Out, conv2K, dz2,
		l.conv2W.of(grads), l.conv2B.of(grads), dp1)

	dz1 := make([]float64, len(act.z1))
	poolBackward(act.p1, act.i1, dp1, dz1)

	convBackward(act.input, 1, InputSize, InputSize, l.conv1W.of(p), conv1Out, conv1K, dz1,
		l.conv1W.of(grads), l.conv1B.of(grads), nil)
}

// softmaxCrossEntropy returns the loss for target and writes d(loss)/d(logits) into grad.
func softmaxCrossEntropy(logits []float64, target int, grad []float64) float64 {
	maxLogit := floats.Max(logits)
	var sum float64
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		grad[i] = e
		sum += e
	}
	floats.Scale(1/sum, grad)
	loss := -math.Log(math.Max(grad[target], 1e-12))
	grad[target] -= 1
	return loss
}
