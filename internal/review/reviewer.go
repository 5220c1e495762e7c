// Package review promotes archived CAPTCHA failures into the training corpus by consensus of repeated
// stochastic solves, then retrains once.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/classifier"
	"github.com/jonathan/customs-lookup/internal/solver"
	"github.com/jonathan/customs-lookup/internal/types"
)

// Solver reads a CAPTCHA bitmap.
type Solver interface {
	Ready() bool
	Solve(data []byte, mode classifier.Mode) (string, error)
}

// Store is the failure archive and training corpus.
type Store interface {
	List() ([]types.ArchiveImage, error)
	ReadFailure(name string) ([]byte, error)
	MoveToCorpus(name, label string) (string, error)
}

// Trainer refits the model from the corpus. It blocks until training ends.
type Trainer interface {
	Train(ctx context.Context) error
}

// Config controls voting.
type Config struct {
	Samples   int
	Threshold int
	Length    int
	// VotePause is the suspension between samples that lets observers receive each prediction.
	VotePause time.Duration
}

// DefaultConfig samples 5 times and accepts on 4 agreeing votes.
func DefaultConfig() Config {
	return Config{
		Samples:   5,
		Threshold: 4,
		Length:    types.CaptchaLength,
		VotePause: 200 * time.Millisecond,
	}
}

// Summary reports what one session did.
type Summary struct {
	SessionID string
	Reviewed  int
	Accepted  int
	Rejected  int
	Trained   bool
}

// Reviewer runs review sessions. Sessions must not overlap; callers serialise them.
type Reviewer struct {
	store   Store
	solver  Solver
	trainer Trainer
	cfg     Config
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New returns a Reviewer. Zero config fields take DefaultConfig values.
func New(store Store, s Solver, trainer Trainer, cfg Config, logger *zap.Logger) *Reviewer {
	d := DefaultConfig()
	if cfg.Samples < 1 {
		cfg.Samples = d.Samples
	}
	if cfg.Threshold < 1 {
		cfg.Threshold = d.Threshold
	}
	if cfg.Length < 1 {
		cfg.Length = d.Length
	}
	return &Reviewer{store: store, solver: s, trainer: trainer, cfg: cfg, logger: logger, sleep: pause}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Tally returns the plurality label among predictions of the expected length in characters and its vote count.
// ok is true when the count reaches threshold. Ties go to the lexically smallest label.
func Tally(predictions []string, length, threshold int) (label string, votes int, ok bool) {
	counts := make(map[string]int)
	for _, p := range predictions {
		if utf8.RuneCountInString(p) == length {
			counts[p]++
		}
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if counts[l] > votes {
			label, votes = l, counts[l]
		}
	}
	return label, votes, votes > 0 && votes >= threshold
}

// ReviewAll reviews every archived image in name order, publishing events as it goes, and trains once if any
// image was accepted, including when ctx is cancelled part way. all_done is always the last event of a session
// that was not cancelled.
func (r *Reviewer) ReviewAll(ctx context.Context, publish func(Event)) (Summary, error) {
	sum := Summary{SessionID: uuid.NewString()}
	log := r.logger.With(zap.String("session_id", sum.SessionID))
	emit := func(ev Event) {
		ev.SessionID = sum.SessionID
		publish(ev)
	}
	fail := func(err error) (Summary, error) {
		emit(Event{Type: EventError, Message: err.Error()})
		emit(Event{Type: EventAllDone})
		return sum, err
	}

	images, err := r.store.List()
	if err != nil {
		log.Error("failed to list archive", zap.Error(err))
		return fail(err)
	}
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Name
	}
	emit(Event{Type: EventImageList, Images: names})
	log.Info("review session starting", zap.Int("images", len(names)))

	if len(names) == 0 {
		emit(Event{Type: EventAllDone})
		return sum, nil
	}
	if !r.solver.Ready() {
		log.Error("solver disabled, nothing can be reviewed")
		return fail(solver.ErrSolverDisabled)
	}

	var cancelled error
	for _, name := range names {
		if cancelled = ctx.Err(); cancelled != nil {
			break
		}
		accepted, err := r.reviewImage(ctx, name, emit, log)
		if err != nil {
			if cancelled = ctx.Err(); cancelled != nil {
				break
			}
			log.Warn("image review failed", zap.String("image", name), zap.Error(err))
			emit(Event{Type: EventError, Image: name, Message: err.Error()})
			continue
		}
		sum.Reviewed++
		if accepted {
			sum.Accepted++
		} else {
			sum.Rejected++
		}
	}

	// Training is not cancellable once an image has moved into the corpus.
	if sum.Accepted > 0 {
		emit(Event{Type: EventTrainingStarted})
		log.Info("retraining", zap.Int("accepted", sum.Accepted))
		if err := r.trainer.Train(context.WithoutCancel(ctx)); err != nil {
			log.Error("training failed", zap.Error(err))
			emit(Event{Type: EventError, Message: fmt.Sprintf("training failed: %v", err)})
		} else {
			sum.Trained = true
			emit(Event{Type: EventTrainingFinished})
		}
	}
	if cancelled != nil {
		log.Info("review session cancelled",
			zap.Int("reviewed", sum.Reviewed), zap.Int("accepted", sum.Accepted), zap.Bool("trained", sum.Trained))
		return sum, cancelled
	}

	emit(Event{Type: EventAllDone})
	log.Info("review session finished",
		zap.Int("reviewed", sum.Reviewed), zap.Int("accepted", sum.Accepted), zap.Bool("trained", sum.Trained))
	return sum, nil
}

// reviewImage samples the solver, votes and moves the image on acceptance.
func (r *Reviewer) reviewImage(ctx context.Context, name string, emit func(Event), log *zap.Logger) (bool, error) {
	data, err := r.store.ReadFailure(name)
	if err != nil {
		return false, err
	}

	predictions := make([]string, 0, r.cfg.Samples)
	for i := 1; i <= r.cfg.Samples; i++ {
		p, err := r.solver.Solve(data, classifier.Sampling)
		if err != nil && !errors.Is(err, solver.ErrUnsolvable) {
			return false, err
		}
		predictions = append(predictions, p)
		emit(Event{Type: EventPrediction, Image: name, Attempt: i, Prediction: p})
		if err := r.sleep(ctx, r.cfg.VotePause); err != nil {
			return false, err
		}
	}

	label, votes, ok := Tally(predictions, r.cfg.Length, r.cfg.Threshold)
	if !ok {
		log.Info("no consensus", zap.String("image", name), zap.Strings("predictions", predictions))
		emit(Event{Type: EventConsensusFailed, Image: name, Votes: votes})
		return false, nil
	}

	newName, err := r.store.MoveToCorpus(name, label)
	if err != nil {
		return false, err
	}
	log.Info("consensus reached", zap.String("image", name), zap.String("label", label), zap.Int("votes", votes))
	emit(Event{Type: EventConsensusFound, Image: name, Label: label, Votes: votes, NewName: newName})
	return true, nil
}
