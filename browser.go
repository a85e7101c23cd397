package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// BrowserCapturer takes a full-page screenshot of the dev server when the
// harness log carried none.
type BrowserCapturer struct {
	config BrowserConfig
}

// CaptureResult is a captured page.
type CaptureResult struct {
	Image         []byte
	ConsoleErrors []string
}

// NewBrowserCapturer creates a capturer for cfg.
func NewBrowserCapturer(cfg BrowserConfig) *BrowserCapturer {
	return &BrowserCapturer{config: cfg}
}

// Enabled reports whether fallback screenshots are configured.
func (bc *BrowserCapturer) Enabled() bool {
	return bc != nil && bc.config.FallbackScreenshot
}

// allocatorOptions builds the Chrome flags for the configured mode.
func (bc *BrowserCapturer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
	}
	if bc.config.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if bc.config.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(bc.config.ExecutablePath))
	}
	return opts
}

// Capture navigates to url and returns a JPEG of the full page.
func (bc *BrowserCapturer) Capture(ctx context.Context, url string) (*CaptureResult, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, bc.allocatorOptions()...)
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	timeout := time.Duration(bc.config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, runCancel := context.WithTimeout(browserCtx, timeout)
	defer runCancel()

	result := &CaptureResult{}
	var mu sync.Mutex
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if ev, ok := ev.(*runtime.EventExceptionThrown); ok {
			mu.Lock()
			result.ConsoleErrors = append(result.ConsoleErrors, ev.ExceptionDetails.Text)
			mu.Unlock()
		}
	})

	var buf []byte
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1*time.Second), // let async content settle
		chromedp.FullScreenshot(&buf, 90),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture %s: %w", url, err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty screenshot of %s", url)
	}

	mu.Lock()
	defer mu.Unlock()
	result.Image = buf
	return result, nil
}
