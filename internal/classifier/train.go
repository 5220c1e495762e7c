package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Sample is one labelled glyph tensor.
type Sample struct {
	X []float64
	Y int
}

// TrainConfig controls a training run.
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         int64
	// Workers is the number of goroutines sharing each mini-batch.
	Workers int
	// OnEpoch, when set, is called after every epoch with the mean training loss.
	OnEpoch func(epoch int, loss float64)
}

// DefaultTrainConfig returns Adam at 1e-3, batches of 32 and 30 epochs.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       30,
		BatchSize:    32,
		LearningRate: 1e-3,
		Seed:         42,
		Workers:      runtime.NumCPU(),
	}
}

type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(size int, lr float64) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, size),
		v:     make([]float64, size),
	}
}

func (a *adam) step(params, grads []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		params[i] -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + a.eps)
	}
}

type workerState struct {
	grads   []float64
	dLogits []float64
	act     *activations
	rng     *rand.Rand
	loss    float64
}

// Train fits the network to samples with shuffled mini-batches and dropout, returning the mean loss of
// each epoch. Every sample label must be a valid class id.
func (n *Network) Train(ctx context.Context, samples []Sample, cfg TrainConfig) ([]float64, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no training samples")
	}
	if cfg.BatchSize < 1 || cfg.Epochs < 1 || cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid training config: epochs=%d batch=%d lr=%g", cfg.Epochs, cfg.BatchSize, cfg.LearningRate)
	}
	for i, s := range samples {
		if len(s.X) != inputLen {
			return nil, fmt.Errorf("%w: sample %d has %d values", ErrShapeMismatch, i, len(s.X))
		}
		if s.Y < 0 || s.Y >= n.classes {
			return nil, fmt.Errorf("sample %d has label %d outside [0,%d)", i, s.Y, n.classes)
		}
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, cfg.BatchSize)

	states := make([]*workerState, workers)
	for i := range states {
		states[i] = &workerState{
			grads:   make([]float64, len(n.params)),
			dLogits: make([]float64, n.classes),
			act:     newActivations(n.classes),
			rng:     rand.New(rand.NewSource(cfg.Seed + int64(i) + 1)),
		}
	}
	opt := newAdam(len(n.params), cfg.LearningRate)
	total := make([]float64, len(n.params))
	order := rand.New(rand.NewSource(cfg.Seed)).Perm(len(samples))
	shuffle := rand.New(rand.NewSource(cfg.Seed))

	losses := make([]float64, 0, cfg.Epochs)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		shuffle.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		for start := 0; start < len(order); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return losses, err
			}
			batch := order[start:min(start+cfg.BatchSize, len(order))]

			g, _ := errgroup.WithContext(ctx)
			for w := range states {
				ws := states[w]
				offset := w
				g.Go(func() error {
					clear(ws.grads)
					ws.loss = 0
					for i := offset; i < len(batch); i += len(states) {
						s := samples[batch[i]]
						n.forward(s.X, ws.act, ws.rng)
						ws.loss += softmaxCrossEntropy(ws.act.logits, s.Y, ws.dLogits)
						n.backward(ws.act, ws.dLogits, ws.grads)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return losses, err
			}

			clear(total)
			for _, ws := range states {
				for i, v := range ws.grads {
					total[i] += v
				}
				epochLoss += ws.loss
			}
			scale := 1 / float64(len(batch))
			for i := range total {
				total[i] *= scale
			}
			opt.step(n.params, total)
		}

		mean := epochLoss / float64(len(samples))
		losses = append(losses, mean)
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(epoch, mean)
		}
	}
	return losses, nil
}

// Evaluate returns the deterministic accuracy on samples, in [0,1].
func (n *Network) Evaluate(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	act := newActivations(n.classes)
	correct := 0
	for _, s := range samples {
		n.forward(s.X, act, nil)
		if floats.MaxIdx(act.logits) == s.Y {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}
