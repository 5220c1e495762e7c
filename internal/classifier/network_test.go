package classifier

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomInput(seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, InputSize*InputSize)
	for i := range x {
		x[i] = rng.Float64()
	}
	return x
}

func TestNew_RejectsEmptyOutput(t *testing.T) {
	_, err := New(0, 1)
	assert.Error(t, err)
}

func TestNew_ParamCount(t *testing.T) {
	n, err := New(10, 1)
	require.NoError(t, err)
	want := 800 + 32 + 18432 + 64 + 819200 + 512 + 10*512 + 10
	assert.Equal(t, want, n.ParamCount())
	assert.Equal(t, 10, n.Classes())
}

func TestLogits_ShapeMismatch(t *testing.T) {
	n, err := New(3, 1)
	require.NoError(t, err)
	_, err = n.Logits(make([]float64, 10), Deterministic)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPredict_DeterministicIsRepeatable(t *testing.T) {
	n, err := New(5, 7)
	require.NoError(t, err)
	x := randomInput(3)

	first, err := n.Logits(x, Deterministic)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := n.Logits(x, Deterministic)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPredict_SamplingVaries(t *testing.T) {
	n, err := New(5, 7)
	require.NoError(t, err)
	x := randomInput(3)

	a, err := n.Logits(x, Sampling)
	require.NoError(t, err)
	b, err := n.Logits(x, Sampling)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPredictBatch(t *testing.T) {
	n, err := New(4, 2)
	require.NoError(t, err)
	xs := [][]float64{randomInput(1), randomInput(2)}

	ids, err := n.PredictBatch(xs, Deterministic)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	for i, x := range xs {
		id, err := n.Predict(x, Deterministic)
		require.NoError(t, err)
		assert.Equal(t, id, ids[i])
		assert.True(t, id >= 0 && id < 4)
	}
}

func TestBackward_MatchesFiniteDifferences(t *testing.T) {
	n, err := New(3, 11)
	require.NoError(t, err)
	x := randomInput(5)
	target := 1

	loss := func() float64 {
		act := newActivations(n.classes)
		n.forward(x, act, nil)
		return softmaxCrossEntropy(act.logits, target, make([]float64, n.classes))
	}

	act := newActivations(n.classes)
	n.forward(x, act, nil)
	dLogits := make([]float64, n.classes)
	softmaxCrossEntropy(act.logits, target, dLogits)
	grads := make([]float64, len(n.params))
	n.backward(act, dLogits, grads)

	l := n.l
	indices := []int{
		l.conv1W.off + 7,
		l.conv1B.off + 3,
		l.conv2W.off + 100,
		l.conv2B.off + 10,
		l.fc1W.off + 1600*4 + 17,
		l.fc1B.off + 9,
		l.fc2W.off + 5,
		l.fc2B.off + 2,
	}
	const eps = 1e-6
	for _, i := range indices {
		orig := n.params[i]
		n.params[i] = orig + eps
		up := loss()
		n.params[i] = orig - eps
		down := loss()
		n.params[i] = orig

		numeric := (up - down) / (2 * eps)
		assert.InDelta(t, numeric, grads[i], 1e-5+1e-3*math.Abs(numeric), "param %d", i)
	}
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	grad := make([]float64, 3)
	loss := softmaxCrossEntropy([]float64{0, 0, 0}, 2, grad)
	assert.InDelta(t, math.Log(3), loss, 1e-12)
	assert.InDelta(t, 1.0/3, grad[0], 1e-12)
	assert.InDelta(t, 1.0/3-1, grad[2], 1e-12)
}

// barGlyph draws a vertical (class 0), horizontal (class 1) or diagonal (class 2) stroke.
func barGlyph(class int, offset int, rng *rand.Rand) []float64 {
	x := make([]float64, InputSize*InputSize)
	for i := range x {
		x[i] = rng.Float64() * 0.1
	}
	for k := 2; k < InputSize-2; k++ {
		switch class {
		case 0:
			x[k*InputSize+offset] = 1
			x[k*InputSize+offset+1] = 1
		case 1:
			x[offset*InputSize+k] = 1
			x[(offset+1)*InputSize+k] = 1
		default:
			x[k*InputSize+k] = 1
			x[k*InputSize+k-1] = 1
		}
	}
	return x
}

func TestTrain_LearnsSeparablePatterns(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	var samples []Sample
	for class := 0; class < 3; class++ {
		for i := 0; i < 8; i++ {
			samples = append(samples, Sample{X: barGlyph(class, 5+i, rng), Y: class})
		}
	}

	n, err := New(3, 42)
	require.NoError(t, err)

	var epochs []int
	cfg := DefaultTrainConfig()
	cfg.Epochs = 8
	cfg.BatchSize = 4
	cfg.Workers = 2
	cfg.OnEpoch = func(epoch int, _ float64) { epochs = append(epochs, epoch) }

	losses, err := n.Train(context.Background(), samples, cfg)
	require.NoError(t, err)
	require.Len(t, losses, 8)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, epochs)
	assert.Less(t, losses[len(losses)-1], losses[0])
	assert.GreaterOrEqual(t, n.Evaluate(samples), 0.9)
}

func TestTrain_RejectsBadInput(t *testing.T) {
	n, err := New(2, 1)
	require.NoError(t, err)
	cfg := DefaultTrainConfig()

	_, err = n.Train(context.Background(), nil, cfg)
	assert.Error(t, err)

	_, err = n.Train(context.Background(), []Sample{{X: randomInput(1), Y: 5}}, cfg)
	assert.Error(t, err)

	_, err = n.Train(context.Background(), []Sample{{X: []float64{1}, Y: 0}}, cfg)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTrain_StopsOnCancel(t *testing.T) {
	n, err := New(2, 1)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = n.Train(ctx, []Sample{{X: randomInput(1), Y: 0}}, DefaultTrainConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	n, err := New(4, 3)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), ModelFile)
	require.NoError(t, n.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Classes())

	x := randomInput(8)
	want, err := n.Logits(x, Deterministic)
	require.NoError(t, err)
	got, err := loaded.Logits(x, Deterministic)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.gob"))
	assert.Error(t, err)
}
