package lookup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/classifier"
	"github.com/jonathan/customs-lookup/internal/portal"
	"github.com/jonathan/customs-lookup/internal/types"
)

// state is a node of the per-declaration attempt machine.
type state string

const (
	stateIdle             state = "Idle"
	stateFormFilled       state = "FormFilled"
	stateCaptchaSubmitted state = "CaptchaSubmitted"
	stateSucceeded        state = "Succeeded"
	stateCaptchaRejected  state = "CaptchaRejected"
	stateTimeout          state = "Timeout"
	stateStaleResult      state = "StaleResult"
	stateUnsolved         state = "Unsolved"
	stateEmptyResult      state = "EmptyResult"
	stateSystemError      state = "SystemError"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeAbort ends the whole batch: stop requested or the consumer went away.
	outcomeAbort
)

// declaration drives one task through up to MaxAttempts challenges. A non-nil error is a system error
// the caller recovers from by reloading the page.
func (b *batch) declaration(ctx context.Context, task types.DeclarationTask, percent int, log *zap.Logger) (outcome, error) {
	log = log.With(zap.String("declaration", task.Number))
	log.Debug("transition", zap.String("state", string(stateIdle)))

	if err := b.fillForm(ctx, task.Number); err != nil {
		return outcomeFailure, err
	}
	log.Debug("transition", zap.String("state", string(stateFormFilled)))

	limit := b.cfg.MaxAttempts
	for attempt := 1; attempt <= limit; attempt++ {
		if b.stopped() {
			b.sendStopped()
			return outcomeAbort, nil
		}
		if attempt > 1 {
			b.send(types.LookupEvent{
				Kind:        types.EventProgress,
				Declaration: task.Number,
				Message:     fmt.Sprintf("captcha attempt %d/%d", attempt, limit),
				Value:       percent,
				Attempt:     attempt,
			})
		}
		if err := b.sleep(ctx, b.cfg.AttemptPause); err != nil {
			return outcomeFailure, err
		}

		st, err := b.attempt(ctx, task, attempt)
		log.Debug("transition", zap.Int("attempt", attempt), zap.String("state", string(st)))
		if err != nil {
			return outcomeFailure, err
		}
		if !b.alive {
			return outcomeAbort, nil
		}
		switch st {
		case stateSucceeded:
			return outcomeSuccess, nil
		case stateEmptyResult:
			b.send(types.LookupEvent{
				Kind:        types.EventFinalError,
				Declaration: task.Number,
				Message:     "portal returned an empty result table",
				Attempt:     attempt,
			})
			return outcomeFailure, nil
		}
	}

	b.send(types.LookupEvent{
		Kind:        types.EventFinalError,
		Declaration: task.Number,
		Message:     fmt.Sprintf("no result after %d attempts", limit),
		Attempt:     limit,
	})
	log.Warn("attempts exhausted", zap.Int("attempts", limit))
	return outcomeFailure, nil
}

func (b *batch) fillForm(ctx context.Context, number string) error {
	sel := b.cfg.Selectors
	fields := []struct{ id, value string }{
		{sel.DeclarationField, number},
		{sel.BusinessField, b.cfg.BusinessID},
		{sel.PersonalField, b.cfg.PersonalID},
	}
	for _, f := range fields {
		if err := b.page.Clear(ctx, f.id); err != nil {
			return err
		}
	}
	for _, f := range fields {
		if err := b.page.WriteField(ctx, f.id, f.value); err != nil {
			return err
		}
	}
	return nil
}

// attempt runs one challenge/response round and reports the state it ended in.
func (b *batch) attempt(ctx context.Context, task types.DeclarationTask, attempt int) (state, error) {
	sel := b.cfg.Selectors

	src, err := b.page.ReadAttribute(ctx, sel.CaptchaImage, "src")
	if err != nil {
		return stateSystemError, err
	}
	image, err := portal.DecodeCaptchaSource(src)
	if err != nil {
		return stateSystemError, err
	}

	label, err := b.solver.Solve(image, classifier.Deterministic)
	if err != nil {
		b.attemptError(task, attempt, fmt.Sprintf("could not solve captcha: %v", err))
		return b.refresh(ctx, stateUnsolved)
	}

	if err := b.page.SetValue(ctx, sel.CaptchaField, label); err != nil {
		return stateSystemError, err
	}
	previous, err := b.page.IdentityOf(ctx, sel.ResultTable)
	if err != nil {
		return stateSystemError, err
	}
	if err := b.page.Click(ctx, sel.SubmitButton); err != nil {
		return stateSystemError, err
	}
	b.logger.Debug("transition", zap.String("declaration", task.Number), zap.String("state", string(stateCaptchaSubmitted)))

	conditions := []portal.Condition{portal.CSS(sel.ResultTable), portal.XPath(sel.WrongCodeXPath)}
	if _, err := b.page.WaitForAnyOf(ctx, conditions, b.cfg.ResultWait); err != nil {
		if !errors.Is(err, portal.ErrWaitTimeout) {
			return stateSystemError, err
		}
		b.attemptError(task, attempt, "portal did not respond after submit")
		b.keep(task, label, image, true)
		return b.refresh(ctx, stateTimeout)
	}

	current, err := b.page.IdentityOf(ctx, sel.ResultTable)
	if err != nil {
		return stateSystemError, err
	}
	switch {
	case current == "":
		b.attemptError(task, attempt, fmt.Sprintf("captcha %q rejected", label))
		b.keep(task, label, image, false)
		return b.refresh(ctx, stateCaptchaRejected)
	case current == previous:
		b.attemptError(task, attempt, "portal did not render a new result")
		return b.refresh(ctx, stateStaleResult)
	}

	html, err := b.page.OuterHTML(ctx, sel.ResultTable)
	if err != nil {
		return stateSystemError, err
	}
	fields, err := portal.ParseResultTable(html)
	if err != nil {
		return stateSystemError, err
	}
	if len(fields) == 0 {
		b.attemptError(task, attempt, "result table has no data")
		return stateEmptyResult, nil
	}

	b.send(types.LookupEvent{
		Kind:        types.EventResult,
		Declaration: task.Number,
		Message:     "result received",
		Attempt:     attempt,
		Data:        fields,
	})
	return stateSucceeded, nil
}

func (b *batch) attemptError(task types.DeclarationTask, attempt int, msg string) {
	b.send(types.LookupEvent{
		Kind:        types.EventError,
		Declaration: task.Number,
		Message:     fmt.Sprintf("attempt %d: %s", attempt, msg),
		Attempt:     attempt,
	})
}

// keep archives the challenge of a failed submission. Archive trouble never fails the attempt.
func (b *batch) keep(task types.DeclarationTask, label string, image []byte, timedOut bool) {
	if b.archive == nil {
		return
	}
	f, err := b.archive.SaveFailure(task.Number, label, image, timedOut)
	if err != nil {
		b.logger.Warn("failed to archive captcha", zap.String("declaration", task.Number), zap.Error(err))
		return
	}
	b.logger.Debug("captcha archived", zap.String("file", f.Name))
}

// refresh asks the page for a new challenge and reports st as the attempt's end state.
func (b *batch) refresh(ctx context.Context, st state) (state, error) {
	if err := b.page.Click(ctx, b.cfg.Selectors.RefreshButton); err != nil {
		return stateSystemError, err
	}
	return st, nil
}
