// Package control drives the watched browser tab: playback commands,
// playback-rate updates from the cadence estimator, and screenshots.
package control

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// Controller owns a browser allocator and at most one watched tab.
type Controller struct {
	allocator context.Context
	cancel    context.CancelFunc
	logger    *log.Logger

	mu        sync.Mutex
	tab       context.Context
	cancelTab context.CancelFunc
}

// New starts a browser allocator. The browser itself launches lazily with
// the first tab.
func New(logger *log.Logger, headless bool) (*Controller, error) {
	if logger == nil {
		logger = log.Default()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("mute-audio", false),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Controller{
		allocator: allocCtx,
		cancel:    cancel,
		logger:    logger,
	}, nil
}

// Close tears down the tab and the allocator.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancelTab != nil {
		c.cancelTab()
		c.tab = nil
		c.cancelTab = nil
	}
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Open navigates the watched tab to target, creating the tab on first use.
func (c *Controller) Open(ctx context.Context, target string) error {
	c.mu.Lock()
	if c.tab == nil {
		c.tab, c.cancelTab = chromedp.NewContext(c.allocator)
	}
	tab := c.tab
	c.mu.Unlock()

	c.logger.Printf("CTRL open %s", target)
	return c.run(ctx, tab,
		emulation.SetDeviceMetricsOverride(1280, 720, 1, false),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Do evaluates the named playback command in the watched tab.
func (c *Controller) Do(ctx context.Context, action string) error {
	cmd, ok := Lookup(action)
	if !ok {
		return fmt.Errorf("control: unknown action %q", action)
	}
	tab, err := c.currentTab()
	if err != nil {
		return err
	}
	c.logger.Printf("CTRL %s: %s", cmd.Action, cmd.Log)
	return c.run(ctx, tab, chromedp.Evaluate(cmd.Script, nil))
}

// SetRate sets the video playback rate, clamped to the player's range.
func (c *Controller) SetRate(ctx context.Context, rate float64) error {
	if rate < minPlaybackRate {
		rate = minPlaybackRate
	}
	if rate > maxPlaybackRate {
		rate = maxPlaybackRate
	}
	tab, err := c.currentTab()
	if err != nil {
		return err
	}
	c.logger.Printf("CTRL set_rate %.2f", rate)
	script := fmt.Sprintf(`(() => { const v = document.querySelector('video'); if (v) v.playbackRate = %.4f; })()`, rate)
	return c.run(ctx, tab, chromedp.Evaluate(script, nil))
}

func (c *Controller) currentTab() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tab == nil {
		return nil, fmt.Errorf("control: no tab open")
	}
	return c.tab, nil
}

// run binds a tab action to the caller's context for cancellation.
func (c *Controller) run(ctx context.Context, tab context.Context, actions ...chromedp.Action) error {
	runCtx := tab
	if ctx != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(tab)
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-runCtx.Done():
			}
		}()
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}
