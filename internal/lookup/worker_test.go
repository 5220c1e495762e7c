package lookup

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/customs-lookup/internal/solver"
	"github.com/jonathan/customs-lookup/internal/types"
)

func (h *harness) run(t *testing.T, stop *atomic.Bool, numbers ...string) []types.LookupEvent {
	t.Helper()
	var events []types.LookupEvent
	h.worker.Run(context.Background(), tasks(numbers...), stop, func(ev types.LookupEvent) bool {
		events = append(events, ev)
		return true
	})
	return events
}

func TestRun_SucceedsOnSecondAttempt(t *testing.T) {
	h := newHarness(newFakePage(wrongCode, success))

	events := h.run(t, nil, "12345678901234")

	assert.Equal(t, []types.EventKind{
		types.EventProgress,
		types.EventError,
		types.EventProgress,
		types.EventResult,
		types.EventDone,
	}, kinds(events))

	result := events[3]
	assert.Equal(t, "12345678901234", result.Declaration)
	assert.Equal(t, 2, result.Attempt)
	assert.Equal(t, map[string]string{"Tên luồng": "Xanh", "Mã hải quan": "02CI"}, result.Data)
	assert.Equal(t, 2, events[2].Attempt)

	require.Len(t, h.archive.saved, 1)
	assert.Equal(t, "ab12c", h.archive.saved[0].Predicted)
	assert.False(t, h.archive.saved[0].TimedOut)
	assert.Equal(t, 1, h.page.refreshes)
	assert.Equal(t, 2, h.page.submits)
}

func TestRun_FillsForm(t *testing.T) {
	h := newHarness(newFakePage(success))
	h.run(t, nil, "305")

	assert.Equal(t, "305", h.page.values["soTK"])
	assert.Equal(t, "3700482964", h.page.values["maDN"])
	assert.Equal(t, "079172041842", h.page.values["soCMT"])
	assert.Equal(t, "ab12c", h.page.values["check-input"])
}

func TestRun_RetryBound(t *testing.T) {
	h := newHarness(newFakePage(wrongCode))

	events := h.run(t, nil, "111", "222")

	assert.Equal(t, 10, h.page.submits)
	assert.Equal(t, 2, countKind(events, types.EventFinalError))
	assert.Equal(t, 10, countKind(events, types.EventError))
	assert.Equal(t, 0, countKind(events, types.EventResult))
	assert.Equal(t, types.EventDone, events[len(events)-1].Kind)
	assert.Len(t, h.archive.saved, 10)

	// the first declaration's FINAL_ERROR comes before the second declaration starts
	var order []string
	for _, ev := range events {
		if ev.Kind == types.EventFinalError || (ev.Kind == types.EventProgress && ev.Attempt == 0) {
			order = append(order, string(ev.Kind)+":"+ev.Declaration)
		}
	}
	assert.Equal(t, []string{"PROGRESS:111", "FINAL_ERROR:111", "PROGRESS:222", "FINAL_ERROR:222"}, order)
}

func TestRun_StaleResultIsRetried(t *testing.T) {
	page := newFakePage(stale, success)
	page.initialTable = "table-from-earlier"
	h := newHarness(page)

	events := h.run(t, nil, "333")

	assert.Equal(t, []types.EventKind{
		types.EventProgress,
		types.EventError,
		types.EventProgress,
		types.EventResult,
		types.EventDone,
	}, kinds(events))
	assert.Contains(t, events[1].Message, "new result")
	assert.Empty(t, h.archive.saved)
	assert.Equal(t, 1, page.refreshes)
}

func TestRun_TimeoutArchivesAndRefreshes(t *testing.T) {
	h := newHarness(newFakePage(noResponse, success))

	events := h.run(t, nil, "444")

	assert.Equal(t, 1, countKind(events, types.EventResult))
	require.Len(t, h.archive.saved, 1)
	assert.True(t, h.archive.saved[0].TimedOut)
	assert.Equal(t, 1, h.page.refreshes)
}

func TestRun_EmptyTableEndsDeclaration(t *testing.T) {
	h := newHarness(newFakePage(emptyTable))

	events := h.run(t, nil, "555")

	assert.Equal(t, []types.EventKind{
		types.EventProgress,
		types.EventError,
		types.EventFinalError,
		types.EventDone,
	}, kinds(events))
	assert.Equal(t, 1, h.page.submits)
}

func TestRun_SolverMissConsumesAttempt(t *testing.T) {
	h := newHarness(newFakePage(success))
	h.solver.err = solver.ErrUnsolvable

	events := h.run(t, nil, "666")

	assert.Equal(t, 5, h.solver.calls)
	assert.Equal(t, 0, h.page.submits)
	assert.Equal(t, 5, h.page.refreshes)
	assert.Equal(t, 5, countKind(events, types.EventError))
	assert.Equal(t, 1, countKind(events, types.EventFinalError))
	assert.Empty(t, h.archive.saved)
}

func TestRun_StopBeforeStart(t *testing.T) {
	h := newHarness(newFakePage(success))
	var stop atomic.Bool
	stop.Store(true)

	events := h.run(t, &stop, "777", "888")

	assert.Equal(t, []types.EventKind{types.EventStopped}, kinds(events))
	assert.Equal(t, 0, h.page.navigations)
}

func TestRun_StopBetweenDeclarations(t *testing.T) {
	h := newHarness(newFakePage(success))
	var stop atomic.Bool
	var events []types.LookupEvent
	h.worker.Run(context.Background(), tasks("1", "2"), &stop, func(ev types.LookupEvent) bool {
		events = append(events, ev)
		if ev.Kind == types.EventResult {
			stop.Store(true)
		}
		return true
	})

	assert.Equal(t, []types.EventKind{
		types.EventProgress,
		types.EventResult,
		types.EventStopped,
	}, kinds(events))
}

func TestRun_StopBetweenAttempts(t *testing.T) {
	h := newHarness(newFakePage(wrongCode))
	var stop atomic.Bool
	var events []types.LookupEvent
	h.worker.Run(context.Background(), tasks("1"), &stop, func(ev types.LookupEvent) bool {
		events = append(events, ev)
		if ev.Kind == types.EventError {
			stop.Store(true)
		}
		return true
	})

	assert.Equal(t, []types.EventKind{types.EventProgress, types.EventError, types.EventStopped}, kinds(events))
	assert.Equal(t, 1, h.page.submits)
}

func TestRun_DisabledSolverIsFatal(t *testing.T) {
	h := newHarness(newFakePage(success))
	h.solver.ready = false

	events := h.run(t, nil, "1")

	assert.Equal(t, []types.EventKind{types.EventFatalError}, kinds(events))
	assert.Equal(t, 0, h.page.navigations)
}

func TestRun_SystemErrorReloadsAndContinues(t *testing.T) {
	page := newFakePage(success)
	page.failWriteFor = map[string]error{"1": errTransport}
	h := newHarness(page)

	events := h.run(t, nil, "1", "2")

	assert.Equal(t, []types.EventKind{
		types.EventProgress,
		types.EventError,
		types.EventProgress,
		types.EventResult,
		types.EventDone,
	}, kinds(events))
	assert.Equal(t, "1", events[1].Declaration)
	assert.Equal(t, "2", events[3].Declaration)
	assert.Equal(t, 2, page.navigations)
	assert.Contains(t, h.pauses, DefaultConfig().ReloadPause)
}

func TestRun_ReloadFailureIsFatal(t *testing.T) {
	page := newFakePage(success)
	page.failWriteFor = map[string]error{"1": errTransport}
	page.failNavigate = map[int]error{2: errTransport}
	h := newHarness(page)

	events := h.run(t, nil, "1", "2")

	assert.Equal(t, []types.EventKind{
		types.EventProgress,
		types.EventError,
		types.EventFatalError,
	}, kinds(events))
}

func TestRun_InitialNavigationFailureIsFatal(t *testing.T) {
	page := newFakePage(success)
	page.failNavigate = map[int]error{1: errTransport}
	h := newHarness(page)

	events := h.run(t, nil, "1")
	assert.Equal(t, []types.EventKind{types.EventFatalError}, kinds(events))
}

func TestRun_ProgressPercent(t *testing.T) {
	h := newHarness(newFakePage(success))
	events := h.run(t, nil, "1", "2", "3", "4")

	var values []int
	for _, ev := range events {
		if ev.Kind == types.EventProgress {
			values = append(values, ev.Value)
		}
	}
	assert.Equal(t, []int{0, 25, 50, 75}, values)
	assert.Equal(t, 100, events[len(events)-1].Value)
}

func TestStart_DeliversInOrderAndCloses(t *testing.T) {
	h := newHarness(newFakePage(wrongCode, success))

	var got []types.EventKind
	for ev := range h.worker.Start(context.Background(), tasks("12345678901234"), nil) {
		got = append(got, ev.Kind)
	}
	assert.Equal(t, []types.EventKind{
		types.EventProgress,
		types.EventError,
		types.EventProgress,
		types.EventResult,
		types.EventDone,
	}, got)
}

func TestRun_ConsumerGoneEndsBatch(t *testing.T) {
	h := newHarness(newFakePage(success))
	calls := 0
	h.worker.Run(context.Background(), tasks("1", "2"), nil, func(types.LookupEvent) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, h.page.submits)
}
