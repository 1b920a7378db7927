package browser

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/Keyring-Network/newslens/internal/extract"
	"github.com/Keyring-Network/newslens/internal/tabs"
)

const (
	DefaultStartURL = "about:blank"
	// DefaultTimeout is the per-operation Playwright timeout in milliseconds.
	DefaultTimeout = 30000
)

type Options struct {
	Headless bool
	StartURL string
	Timeout  float64
}

// Browser drives a Chromium instance and exposes its pages as tabs. It is
// both the tab querier and the page reader of the orchestrator.
type Browser struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	tabs    *tabSet
	timeout float64
	closed  bool
}

var (
	_ tabs.TabQuerier    = (*Browser)(nil)
	_ extract.PageReader = (*Browser)(nil)
)

// Launch installs the Playwright driver if needed, starts Chromium and opens
// a first tab on opts.StartURL.
func Launch(opts Options) (*Browser, error) {
	if opts.StartURL == "" {
		opts.StartURL = DefaultStartURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browserContext, err := browser.NewContext()
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	b := &Browser{
		pw:      pw,
		browser: browser,
		context: browserContext,
		tabs:    newTabSet(),
		timeout: opts.Timeout,
	}
	browserContext.OnPage(b.track)

	if _, err := b.OpenTab(context.Background(), opts.StartURL); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// track registers pages the user opens, including popups and new windows.
func (b *Browser) track(page playwright.Page) {
	page.SetDefaultTimeout(b.timeout)
	b.tabs.add(page)
	page.OnClose(func(closed playwright.Page) {
		b.tabs.remove(closed)
	})
}

// OpenTab opens url in a new tab, focuses it and returns its id.
func (b *Browser) OpenTab(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	page, err := b.context.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(b.timeout)
	id := b.tabs.add(page)
	if url != "" && url != DefaultStartURL {
		waitUntil := playwright.WaitUntilState("domcontentloaded")
		if _, err := page.Goto(url, playwright.PageGotoOptions{WaitUntil: &waitUntil}); err != nil {
			return id, fmt.Errorf("failed to navigate to %s: %w", url, err)
		}
	}
	return id, nil
}

// Focus brings tab id to the front and makes it the active tab.
func (b *Browser) Focus(id string) error {
	page, ok := b.tabs.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	if pwPage, ok := page.(playwright.Page); ok {
		if err := pwPage.BringToFront(); err != nil {
			return fmt.Errorf("failed to focus tab %s: %w", id, err)
		}
	}
	return b.tabs.setFocus(id)
}

func (b *Browser) ActiveTab(ctx context.Context) (tabs.Tab, error) {
	return b.tabs.ActiveTab(ctx)
}

func (b *Browser) ExtractPageText(ctx context.Context, tabID string) (extract.Page, error) {
	return b.tabs.ExtractPageText(ctx, tabID)
}

// TabCount reports the number of open tabs.
func (b *Browser) TabCount() int {
	return b.tabs.len()
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	_ = b.context.Close()
	_ = b.browser.Close()
	return b.pw.Stop()
}
