package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
)

// browserSession owns one chromedp browser: allocator, browser context and
// their cancel functions. Rebuilt wholesale on Reinitialize; the portals drop
// sessions often enough that repairing one is not worth it.
type browserSession struct {
	mu              sync.Mutex
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	cfg             common.FetcherConfig
	logger          arbor.ILogger
}

func newBrowserSession(cfg common.FetcherConfig, logger arbor.ILogger) *browserSession {
	return &browserSession{cfg: cfg, logger: logger}
}

// start creates the allocator and browser context and verifies the browser
// responds. Must be called with mu held or before the session is shared.
func (s *browserSession) start(ctx context.Context) error {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(s.cfg.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, s.cfg.PageLoadTimeout)
	defer testCancel()
	// The NIC front ends serve localized error pages to headless clients
	// without an Accept-Language header
	err := chromedp.Run(testCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "en-IN,en;q=0.9",
		}),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser startup test: %w", err)
	}

	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocatorCancel = allocatorCancel

	s.logger.Debug().Bool("headless", s.cfg.Headless).Msg("Browser session started")
	return nil
}

// reinitialize tears the session down and builds a fresh one
func (s *browserSession) reinitialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	return s.start(ctx)
}

// fetchHTML navigates to a URL, waits for the page to settle and returns the
// rendered document HTML.
func (s *browserSession) fetchHTML(ctx context.Context, pageURL string) (string, error) {
	s.mu.Lock()
	if s.browserCtx == nil {
		if err := s.start(ctx); err != nil {
			s.mu.Unlock()
			return "", err
		}
	}
	browserCtx := s.browserCtx
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(browserCtx, s.cfg.PageLoadTimeout)
	defer cancel()

	// Propagate caller cancellation into the chromedp run
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stopWatch:
		}
	}()
	defer close(stopWatch)

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(s.cfg.StabilizeTimeout),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	return html, nil
}

func (s *browserSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// teardownLocked cancels the contexts and waits briefly for the browser to
// exit. Callers hold mu.
func (s *browserSession) teardownLocked() {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocatorCancel != nil {
		s.allocatorCancel()
		s.allocatorCancel = nil
	}
	if s.browserCtx != nil {
		s.browserCtx = nil
		// chromedp tears the process down asynchronously
		time.Sleep(100 * time.Millisecond)
	}
}
