package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserOptions configures the headless Chrome session.
type BrowserOptions struct {
	Headless bool
	// ElementTimeout bounds how long a field or button lookup waits for the element to appear.
	ElementTimeout time.Duration
	// PollInterval is the re-check cadence of WaitForAnyOf.
	PollInterval time.Duration
	UserAgent    string
}

// DefaultBrowserOptions waits 15s for elements and polls every 250ms.
func DefaultBrowserOptions() BrowserOptions {
	return BrowserOptions{
		Headless:       true,
		ElementTimeout: 15 * time.Second,
		PollInterval:   250 * time.Millisecond,
	}
}

// Browser is a Page backed by one Chrome tab. It is owned by a single worker and must not be shared.
type Browser struct {
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	opts        BrowserOptions
	logger      *zap.Logger
}

// NewBrowser launches Chrome and opens a tab. Requires Chrome/Chromium to be installed on the system.
func NewBrowser(opts BrowserOptions, logger *zap.Logger) (*Browser, error) {
	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = DefaultBrowserOptions().ElementTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultBrowserOptions().PollInterval
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	// Starts the browser process.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info("browser started", zap.Bool("headless", opts.Headless))

	return &Browser{
		ctx:         tabCtx,
		cancelAlloc: cancelAlloc,
		cancelTab:   cancelTab,
		opts:        opts,
		logger:      logger,
	}, nil
}

// Close shuts the tab and the browser process down.
func (b *Browser) Close() {
	b.cancelTab()
	b.cancelAlloc()
	b.logger.Info("browser closed")
}

// run executes actions on the tab, aborting when ctx ends or timeout elapses.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.logger.Debug("navigating", zap.String("url", url))
	if err := b.run(ctx, 2*b.opts.ElementTimeout, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (b *Browser) Clear(ctx context.Context, id string) error {
	if err := b.run(ctx, b.opts.ElementTimeout, chromedp.Clear(id, chromedp.ByID)); err != nil {
		return fmt.Errorf("clear #%s: %w", id, err)
	}
	return nil
}

func (b *Browser) WriteField(ctx context.Context, id, value string) error {
	if err := b.run(ctx, b.opts.ElementTimeout, chromedp.SendKeys(id, value, chromedp.ByID)); err != nil {
		return fmt.Errorf("write #%s: %w", id, err)
	}
	return nil
}

func (b *Browser) SetValue(ctx context.Context, id, value string) error {
	if err := b.run(ctx, b.opts.ElementTimeout, chromedp.SetValue(id, value, chromedp.ByID)); err != nil {
		return fmt.Errorf("set #%s: %w", id, err)
	}
	return nil
}

func (b *Browser) ReadField(ctx context.Context, id string) (string, error) {
	var v string
	if err := b.run(ctx, b.opts.ElementTimeout, chromedp.Value(id, &v, chromedp.ByID)); err != nil {
		return "", fmt.Errorf("read #%s: %w", id, err)
	}
	return v, nil
}

func (b *Browser) Click(ctx context.Context, selector string) error {
	if err := b.run(ctx, b.opts.ElementTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (b *Browser) ReadAttribute(ctx context.Context, selector, name string) (string, error) {
	var (
		v  string
		ok bool
	)
	action := chromedp.AttributeValue(selector, name, &v, &ok, chromedp.ByQuery, chromedp.NodeVisible)
	if err := b.run(ctx, b.opts.ElementTimeout, action); err != nil {
		return "", fmt.Errorf("read %s[%s]: %w", selector, name, err)
	}
	if !ok {
		return "", fmt.Errorf("read %s[%s]: attribute not set", selector, name)
	}
	return v, nil
}

// waitScript evaluates to the index of the first condition that matches, or -1.
func waitScript(conditions []Condition) (string, error) {
	encoded, err := json.Marshal(conditions)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const conds = %s;
	for (let i = 0; i < conds.length; i++) {
		const c = conds[i];
		const hit = c.xpath
			? document.evaluate(c.sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
			: document.querySelector(c.sel);
		if (hit) return i;
	}
	return -1;
})()`, encoded), nil
}

func (b *Browser) WaitForAnyOf(ctx context.Context, conditions []Condition, timeout time.Duration) (int, error) {
	script, err := waitScript(conditions)
	if err != nil {
		return -1, err
	}
	deadline := time.Now().Add(timeout)
	for {
		var idx int
		if err := b.run(ctx, b.opts.ElementTimeout, chromedp.Evaluate(script, &idx)); err != nil {
			return -1, fmt.Errorf("wait for %v: %w", conditions, err)
		}
		if idx >= 0 {
			return idx, nil
		}
		if time.Now().After(deadline) {
			return -1, ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(b.opts.PollInterval):
		}
	}
}

// identityScript stamps the matched element with a random token the first time it is seen. A re-rendered
// element is a new node without the stamp, so its token differs.
func identityScript(selector string) string {
	sel, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return "";
	if (!el.dataset.lookupIdentity) {
		el.dataset.lookupIdentity = Date.now().toString(36) + Math.random().toString(36).slice(2);
	}
	return el.dataset.lookupIdentity;
})()`, sel)
}

func (b *Browser) IdentityOf(ctx context.Context, selector string) (string, error) {
	var token string
	if err := b.run(ctx, b.opts.ElementTimeout, chromedp.Evaluate(identityScript(selector), &token)); err != nil {
		return "", fmt.Errorf("identity of %s: %w", selector, err)
	}
	return token, nil
}

func (b *Browser) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := b.run(ctx, b.opts.ElementTimeout, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html of %s: %w", selector, err)
	}
	return html, nil
}

var _ Page = (*Browser)(nil)
