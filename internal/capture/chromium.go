// Package capture renders portal pages in headless Chromium for the cases
// where replaying the postback over plain HTTP is not accepted.
package capture

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"

	appLog "roomcheck/internal/log"
)

const (
	DefaultTimeoutSec = 30

	buildingSelect  = "#slct_arg_bldg_cd"
	reservationGrid = "#dataGrid"
)

// Options configures a Browser.
type Options struct {
	// URL is the reservation status page.
	URL string

	// Timeout bounds one page load including the postback. If zero,
	// DefaultTimeoutSec is used.
	Timeout time.Duration

	// InsecureSkipVerify makes Chromium accept the portal's broken
	// certificate chain.
	InsecureSkipVerify bool

	// ExecPath overrides the Chromium binary chromedp looks up.
	ExecPath string
}

// Browser fetches portal pages through chromedp. It satisfies
// feed.PageSource.
type Browser struct {
	opts Options
}

func NewBrowser(opts Options) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return &Browser{opts: opts}
}

// BuildingPage loads the page and returns its HTML once the building select
// is present.
func (b *Browser) BuildingPage(ctx context.Context) ([]byte, error) {
	var html string
	err := b.run(ctx,
		chromedp.Navigate(b.opts.URL),
		chromedp.WaitReady(buildingSelect, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

// ReservationPage selects code in the building select, lets the page post
// back, and returns the HTML of the reloaded page.
func (b *Browser) ReservationPage(ctx context.Context, code string) ([]byte, error) {
	var html string
	// The marker global disappears when the postback replaces the document.
	selectAndPost := fmt.Sprintf(`(() => {
		window.__roomcheckStale = true;
		const sel = document.querySelector(%q);
		sel.value = %s;
		sel.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, buildingSelect, strconv.Quote(code))

	var ok, reloaded bool
	err := b.run(ctx,
		chromedp.Navigate(b.opts.URL),
		chromedp.WaitReady(buildingSelect, chromedp.ByQuery),
		chromedp.Evaluate(selectAndPost, &ok),
		chromedp.Poll(`!window.__roomcheckStale && document.readyState === "complete"`, &reloaded),
		chromedp.WaitReady(reservationGrid, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

func (b *Browser) run(parentCtx context.Context, actions ...chromedp.Action) error {
	if b.opts.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if b.opts.InsecureSkipVerify {
		allocOpts = append(allocOpts, chromedp.IgnoreCertErrors)
	}
	if b.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Debug("capture: page rendered", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
