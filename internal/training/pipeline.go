// Package training fits a fresh classifier on the labelled corpus and installs the new model artifact pair.
package training

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/classifier"
	"github.com/jonathan/customs-lookup/internal/codec"
	"github.com/jonathan/customs-lookup/internal/solver"
	"github.com/jonathan/customs-lookup/internal/types"
)

// Config controls a training run.
type Config struct {
	CorpusDir string
	ModelDir  string
	// HoldoutFraction of every class is kept out of training to measure accuracy.
	HoldoutFraction float64
	Train           classifier.TrainConfig
}

// DefaultConfig trains on ./captcha_result and writes into the working directory.
func DefaultConfig() Config {
	return Config{
		CorpusDir:       "captcha_result",
		ModelDir:        ".",
		HoldoutFraction: 0.2,
		Train:           classifier.DefaultTrainConfig(),
	}
}

// Report summarises a finished run.
type Report struct {
	Corpus      CorpusStats
	Glyphs      int
	Classes     []string
	NewSymbols  []string
	TrainSize   int
	HoldoutSize int
	Losses      []float64
	// Accuracy on the holdout set, in [0,1]. Zero when nothing was held out.
	Accuracy float64
}

// Run loads the corpus, extends the previous codec, trains and persists the (weights, codec) pair.
// Nothing is written unless training completes.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) (Report, error) {
	var rep Report

	glyphs, stats, err := LoadCorpus(cfg.CorpusDir, types.CaptchaLength)
	rep.Corpus = stats
	if err != nil {
		return rep, err
	}
	logger.Info("corpus loaded",
		zap.String("dir", cfg.CorpusDir),
		zap.Int("images", stats.Images),
		zap.Int("used", stats.Used),
		zap.Int("skipped", len(stats.Skipped)),
		zap.Int("glyphs", len(glyphs)))
	if len(glyphs) == 0 {
		return rep, &Error{Message: "no usable images in " + cfg.CorpusDir}
	}
	rep.Glyphs = len(glyphs)

	labels := make([]string, len(glyphs))
	for i, g := range glyphs {
		labels[i] = g.Label
	}
	previous, err := loadPreviousCodec(cfg.ModelDir)
	if err != nil {
		return rep, err
	}
	c := previous.Extend(labels)
	rep.Classes = c.Classes()
	for _, l := range rep.Classes {
		if previous == nil || previous.Encode(l) == codec.Unknown {
			rep.NewSymbols = append(rep.NewSymbols, l)
		}
	}

	ids := make([]int, len(glyphs))
	for i, l := range labels {
		ids[i] = c.Encode(l)
	}
	trainIdx, holdoutIdx := StratifiedSplit(ids, cfg.HoldoutFraction, cfg.Train.Seed)
	pick := func(idx []int) []classifier.Sample {
		out := make([]classifier.Sample, len(idx))
		for i, j := range idx {
			out[i] = classifier.Sample{X: glyphs[j].X, Y: ids[j]}
		}
		return out
	}
	trainSet, holdoutSet := pick(trainIdx), pick(holdoutIdx)
	rep.TrainSize, rep.HoldoutSize = len(trainSet), len(holdoutSet)

	net, err := classifier.New(c.Len(), cfg.Train.Seed)
	if err != nil {
		return rep, &Error{Message: "failed to build classifier", Cause: err}
	}
	tc := cfg.Train
	onEpoch := tc.OnEpoch
	tc.OnEpoch = func(epoch int, loss float64) {
		logger.Info("epoch finished", zap.Int("epoch", epoch), zap.Int("epochs", tc.Epochs), zap.Float64("loss", loss))
		if onEpoch != nil {
			onEpoch(epoch, loss)
		}
	}
	logger.Info("training",
		zap.Int("classes", c.Len()),
		zap.Int("train", rep.TrainSize),
		zap.Int("holdout", rep.HoldoutSize),
		zap.Strings("new_symbols", rep.NewSymbols))
	rep.Losses, err = net.Train(ctx, trainSet, tc)
	if err != nil {
		return rep, &Error{Message: "training did not finish", Cause: err}
	}

	if len(holdoutSet) > 0 {
		rep.Accuracy = net.Evaluate(holdoutSet)
	}
	logger.Info("holdout evaluated", zap.Float64("accuracy", rep.Accuracy))

	if err := install(cfg.ModelDir, net, c); err != nil {
		return rep, err
	}
	logger.Info("model saved", zap.String("dir", cfg.ModelDir))
	return rep, nil
}

func loadPreviousCodec(dir string) (*codec.Codec, error) {
	_, path := solver.ModelPaths(dir)
	c, err := codec.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Message: "previous label codec is unreadable", Cause: err}
	}
	return c, nil
}

// install writes both artifacts into a staging directory and then renames them into place.
func install(dir string, net *classifier.Network, c *codec.Codec) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Message: "failed to create model directory", Cause: err}
	}
	staging, err := os.MkdirTemp(dir, ".model-staging-")
	if err != nil {
		return &Error{Message: "failed to create staging directory", Cause: err}
	}
	defer os.RemoveAll(staging)

	stagedWeights, stagedCodec := solver.ModelPaths(staging)
	if err := net.Save(stagedWeights); err != nil {
		return &Error{Message: "failed to save weights", Cause: err}
	}
	if err := c.Save(stagedCodec); err != nil {
		return &Error{Message: "failed to save codec", Cause: err}
	}

	weights, codecPath := solver.ModelPaths(dir)
	if err := os.Rename(stagedWeights, weights); err != nil {
		return &Error{Message: "failed to install weights", Cause: err}
	}
	if err := os.Rename(stagedCodec, codecPath); err != nil {
		return &Error{Message: "failed to install codec", Cause: err}
	}
	return nil
}
