// Package lookup runs the per-declaration challenge/response loop against the portal page.
package lookup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/archive"
	"github.com/jonathan/customs-lookup/internal/classifier"
	"github.com/jonathan/customs-lookup/internal/portal"
	"github.com/jonathan/customs-lookup/internal/types"
)

// Solver reads a CAPTCHA bitmap.
type Solver interface {
	Ready() bool
	Solve(data []byte, mode classifier.Mode) (string, error)
}

// Archiver keeps the bitmaps of rejected or unanswered attempts for later review.
type Archiver interface {
	SaveFailure(declaration, predicted string, data []byte, timedOut bool) (archive.Failure, error)
}

// Config holds the portal coordinates, form identities and timing of a batch.
type Config struct {
	URL          string
	BusinessID   string
	PersonalID   string
	Selectors    portal.Selectors
	MaxAttempts  int
	ResultWait   time.Duration
	AttemptPause time.Duration
	ReloadPause  time.Duration
	EventBuffer  int
}

// DefaultConfig returns the live portal settings.
func DefaultConfig() Config {
	return Config{
		URL:          portal.DefaultURL,
		Selectors:    portal.DefaultSelectors(),
		MaxAttempts:  5,
		ResultWait:   10 * time.Second,
		AttemptPause: time.Second,
		ReloadPause:  2 * time.Second,
		EventBuffer:  64,
	}
}

// Worker processes one batch of declarations sequentially on one page.
type Worker struct {
	page    portal.Page
	solver  Solver
	archive Archiver
	cfg     Config
	logger  *zap.Logger

	// sleep pauses between steps; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorker wires a worker. archiver may be nil, in which case failed bitmaps are dropped.
func NewWorker(page portal.Page, solver Solver, archiver Archiver, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	return &Worker{
		page:    page,
		solver:  solver,
		archive: archiver,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

// Start runs the batch on a new goroutine. The returned channel delivers events in order and is closed
// after the last one. stop may be nil.
func (w *Worker) Start(ctx context.Context, tasks []types.DeclarationTask, stop *atomic.Bool) <-chan types.LookupEvent {
	events := make(chan types.LookupEvent, w.cfg.EventBuffer)
	go func() {
		defer close(events)
		w.Run(ctx, tasks, stop, func(ev types.LookupEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return events
}

// batch is the state of one Run call.
type batch struct {
	*Worker
	id    string
	stop  *atomic.Bool
	emit  func(types.LookupEvent) bool
	alive bool
}

func (b *batch) send(ev types.LookupEvent) bool {
	if !b.alive {
		return false
	}
	if !b.emit(ev) {
		b.alive = false
	}
	return b.alive
}

func (b *batch) stopped() bool {
	return b.stop != nil && b.stop.Load()
}

func (b *batch) sendStopped() {
	b.send(types.LookupEvent{Kind: types.EventStopped, Message: "stop requested"})
}

// Run processes tasks in order, handing every event to emit. It returns when the batch ends or emit
// returns false.
func (w *Worker) Run(ctx context.Context, tasks []types.DeclarationTask, stop *atomic.Bool, emit func(types.LookupEvent) bool) {
	b := &batch{Worker: w, id: uuid.NewString(), stop: stop, emit: emit, alive: true}
	log := w.logger.With(zap.String("batch_id", b.id))
	log.Info("lookup batch starting", zap.Int("declarations", len(tasks)))

	if b.stopped() {
		b.sendStopped()
		return
	}
	if !w.solver.Ready() {
		b.send(types.LookupEvent{Kind: types.EventFatalError, Message: "captcha solver is unavailable; train a model first"})
		log.Error("solver disabled, aborting batch")
		return
	}
	if err := w.page.Navigate(ctx, w.cfg.URL); err != nil {
		b.send(types.LookupEvent{Kind: types.EventFatalError, Message: fmt.Sprintf("failed to open portal: %v", err)})
		log.Error("initial navigation failed", zap.Error(err))
		return
	}

	total := len(tasks)
	for i, task := range tasks {
		if b.stopped() {
			b.sendStopped()
			return
		}
		if ctx.Err() != nil {
			return
		}
		percent := i * 100 / total
		if !b.send(types.LookupEvent{
			Kind:        types.EventProgress,
			Declaration: task.Number,
			Message:     fmt.Sprintf("processing declaration %d/%d", i+1, total),
			Value:       percent,
		}) {
			return
		}

		result, err := b.declaration(ctx, task, percent, log)
		if result == outcomeAbort {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("declaration failed, reloading portal", zap.String("declaration", task.Number), zap.Error(err))
			b.send(types.LookupEvent{Kind: types.EventError, Declaration: task.Number, Message: fmt.Sprintf("system error: %v", err)})
			if rerr := w.page.Navigate(ctx, w.cfg.URL); rerr != nil {
				b.send(types.LookupEvent{Kind: types.EventFatalError, Message: fmt.Sprintf("browser session lost: %v", rerr)})
				log.Error("reload failed, aborting batch", zap.Error(rerr))
				return
			}
			if w.sleep(ctx, w.cfg.ReloadPause) != nil {
				return
			}
		}
		if !b.alive {
			return
		}
	}

	b.send(types.LookupEvent{Kind: types.EventDone, Message: "lookup finished", Value: 100})
	log.Info("lookup batch finished")
}
