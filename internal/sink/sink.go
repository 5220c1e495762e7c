// Package sink consumes a lookup event stream and writes each result to one or more result stores.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/types"
)

// Store persists the fields of one successful lookup.
type Store interface {
	SaveResult(ctx context.Context, task types.DeclarationTask, fields map[string]string) error
}

// Multi writes to every store in order and joins their errors.
type Multi []Store

func (m Multi) SaveResult(ctx context.Context, task types.DeclarationTask, fields map[string]string) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveResult(ctx, task, fields); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RetryingStore retries a failed write a fixed number of times with a constant delay.
type RetryingStore struct {
	Store   Store
	Retries uint64
	Delay   time.Duration
	Logger  *zap.Logger
}

// NewRetryingStore makes three tries, five seconds apart.
func NewRetryingStore(store Store, logger *zap.Logger) *RetryingStore {
	return &RetryingStore{Store: store, Retries: 2, Delay: 5 * time.Second, Logger: logger}
}

func (r *RetryingStore) SaveResult(ctx context.Context, task types.DeclarationTask, fields map[string]string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Delay), r.Retries), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return r.Store.SaveResult(ctx, task, fields)
	}, policy, func(err error, wait time.Duration) {
		r.Logger.Warn("result write failed, retrying",
			zap.String("declaration", task.Number),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}

// Stats summarises one drained batch. Failures counts failure events, including those raised for unsaved results.
type Stats struct {
	Results       int
	Written       int
	WriteFailures int
	Failures      int
	Last          types.LookupEvent
}

// Drain reads events until the channel closes. Every event, including a FINAL_ERROR raised for a result that
// could not be written, is passed to observe. store may be nil.
func Drain(ctx context.Context, events <-chan types.LookupEvent, tasks []types.DeclarationTask, store Store, observe func(types.LookupEvent), logger *zap.Logger) Stats {
	byNumber := make(map[string]types.DeclarationTask, len(tasks))
	for _, t := range tasks {
		byNumber[t.Number] = t
	}
	if observe == nil {
		observe = func(types.LookupEvent) {}
	}

	var st Stats
	for ev := range events {
		st.Last = ev
		observe(ev)
		switch {
		case ev.Kind == types.EventResult:
			st.Results++
			if store == nil {
				continue
			}
			task, ok := byNumber[ev.Declaration]
			if !ok {
				task = types.DeclarationTask{Number: ev.Declaration}
			}
			if err := store.SaveResult(ctx, task, ev.Data); err != nil {
				st.WriteFailures++
				st.Failures++
				logger.Error("result not saved", zap.String("declaration", ev.Declaration), zap.Error(err))
				observe(types.LookupEvent{
					Kind:        types.EventFinalError,
					Declaration: ev.Declaration,
					Message:     fmt.Sprintf("result could not be saved: %v", err),
				})
				continue
			}
			st.Written++
		case ev.Kind.IsFailure():
			st.Failures++
		}
	}
	return st
}
