package lookup

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/archive"
	"github.com/jonathan/customs-lookup/internal/classifier"
	"github.com/jonathan/customs-lookup/internal/portal"
	"github.com/jonathan/customs-lookup/internal/types"
)

type submitOutcome int

const (
	wrongCode submitOutcome = iota
	success
	stale
	noResponse
	emptyTable
)

const resultHTML = `<table class="tbl-TTTK"><tr><td>Tên luồng</td><td>Xanh</td></tr><tr><td>Mã hải quan</td><td>02CI</td></tr></table>`

var errTransport = errors.New("transport closed")

// fakePage plays the portal: each submit consumes the next scripted outcome, repeating the last one.
type fakePage struct {
	mu sync.Mutex

	outcomes     []submitOutcome
	initialTable string
	failWriteFor map[string]error // declaration number -> error when it is first typed
	failNavigate map[int]error    // navigation call number -> error

	table       string
	tokens      int
	last        submitOutcome
	values      map[string]string
	submits     int
	refreshes   int
	navigations int
	captchaSrc  string
}

func newFakePage(outcomes ...submitOutcome) *fakePage {
	return &fakePage{
		outcomes:   outcomes,
		values:     map[string]string{},
		captchaSrc: portal.CaptchaSourcePrefix + base64.StdEncoding.EncodeToString([]byte("captcha-bytes")),
	}
}

func (p *fakePage) Navigate(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations++
	if err := p.failNavigate[p.navigations]; err != nil {
		return err
	}
	p.table = p.initialTable
	return nil
}

func (p *fakePage) Clear(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[id] = ""
	return nil
}

func (p *fakePage) WriteField(_ context.Context, id, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[id] += value
	if id == "soTK" {
		if err := p.failWriteFor[value]; err != nil {
			delete(p.failWriteFor, value)
			return err
		}
	}
	return nil
}

func (p *fakePage) SetValue(_ context.Context, id, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[id] = value
	return nil
}

func (p *fakePage) ReadField(_ context.Context, id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[id], nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := portal.DefaultSelectors()
	switch selector {
	case sel.RefreshButton:
		p.refreshes++
	case sel.SubmitButton:
		p.submits++
		p.last = p.outcomes[len(p.outcomes)-1]
		if p.submits <= len(p.outcomes) {
			p.last = p.outcomes[p.submits-1]
		}
		switch p.last {
		case success, emptyTable:
			p.tokens++
			p.table = fmt.Sprintf("table-%d", p.tokens)
		case wrongCode:
			p.table = ""
		}
	default:
		return fmt.Errorf("unexpected click on %s", selector)
	}
	return nil
}

func (p *fakePage) ReadAttribute(_ context.Context, selector, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captchaSrc, nil
}

func (p *fakePage) WaitForAnyOf(_ context.Context, conditions []portal.Condition, _ time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.last {
	case noResponse:
		return -1, portal.ErrWaitTimeout
	case wrongCode:
		return 1, nil
	default:
		return 0, nil
	}
}

func (p *fakePage) IdentityOf(_ context.Context, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table, nil
}

func (p *fakePage) OuterHTML(_ context.Context, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == emptyTable {
		return `<table class="tbl-TTTK"></table>`, nil
	}
	return resultHTML, nil
}

type fakeSolver struct {
	ready bool
	err   error
	calls int
}

func (s *fakeSolver) Ready() bool { return s.ready }

func (s *fakeSolver) Solve(data []byte, mode classifier.Mode) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if string(data) != "captcha-bytes" || mode != classifier.Deterministic {
		return "", errors.New("unexpected solve input")
	}
	return "ab12c", nil
}

type fakeArchive struct {
	saved []archive.Failure
}

func (a *fakeArchive) SaveFailure(declaration, predicted string, _ []byte, timedOut bool) (archive.Failure, error) {
	f := archive.Failure{
		Name:        archive.FailureName(declaration, predicted, time.Unix(1, 0), timedOut),
		Declaration: declaration,
		Predicted:   predicted,
		TimedOut:    timedOut,
	}
	a.saved = append(a.saved, f)
	return f, nil
}

type harness struct {
	page    *fakePage
	solver  *fakeSolver
	archive *fakeArchive
	worker  *Worker
	pauses  []time.Duration
}

func newHarness(page *fakePage) *harness {
	h := &harness{page: page, solver: &fakeSolver{ready: true}, archive: &fakeArchive{}}
	cfg := DefaultConfig()
	cfg.BusinessID = "3700482964"
	cfg.PersonalID = "079172041842"
	h.worker = NewWorker(page, h.solver, h.archive, cfg, zap.NewNop())
	h.worker.sleep = func(_ context.Context, d time.Duration) error {
		h.pauses = append(h.pauses, d)
		return nil
	}
	return h
}

func tasks(numbers ...string) []types.DeclarationTask {
	out := make([]types.DeclarationTask, len(numbers))
	for i, n := range numbers {
		out[i] = types.DeclarationTask{Number: n, Row: i + 2}
	}
	return out
}

func kinds(events []types.LookupEvent) []types.EventKind {
	out := make([]types.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func countKind(events []types.LookupEvent, k types.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}
