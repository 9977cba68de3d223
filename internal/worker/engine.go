// Package worker implements the per-instance worker process: one Playwright
// browser exposed as an MCP server over Streamable-HTTP and SSE on a private
// loopback port.
package worker

import (
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 720
	defaultTimeoutMs      = 30000
)

// EngineOptions configures the browser engine.
type EngineOptions struct {
	Headless bool
}

// Engine owns the worker's single browser instance: one Playwright driver,
// one Chromium browser, one context, one page. Tool calls are serialized
// against the page with a mutex.
type Engine struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

// NewEngine starts Playwright and launches the browser. Called once per
// worker lifetime; every MCP tool call operates against this instance.
//
// onLost fires if the browser disconnects underneath us; the worker exits at
// that point rather than serving a dead browser.
func NewEngine(opts EngineOptions, onLost func()) (*Engine, error) {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	if onLost != nil {
		browser.OnDisconnected(func(playwright.Browser) {
			onLost()
		})
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  defaultViewportWidth,
			Height: defaultViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(defaultTimeoutMs)

	return &Engine{
		pw:      pw,
		browser: browser,
		context: context,
		page:    page,
	}, nil
}

// Navigate loads a URL and returns the page title.
func (e *Engine) Navigate(url, waitUntil string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gotoOpts := playwright.PageGotoOptions{}
	if waitUntil != "" {
		state := playwright.WaitUntilState(waitUntil)
		gotoOpts.WaitUntil = &state
	}

	if _, err := e.page.Goto(url, gotoOpts); err != nil {
		return "", fmt.Errorf("navigation failed: %w", err)
	}

	title, err := e.page.Title()
	if err != nil {
		title = ""
	}
	return title, nil
}

// GoBack navigates to the previous page in history.
func (e *Engine) GoBack() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.page.GoBack(); err != nil {
		return "", fmt.Errorf("go back failed: %w", err)
	}
	return e.page.URL(), nil
}

// Click clicks the first element matching the selector.
func (e *Engine) Click(selector string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.page.Click(selector); err != nil {
		return fmt.Errorf("click %q failed: %w", selector, err)
	}
	return nil
}

// Fill sets the value of the first input matching the selector.
func (e *Engine) Fill(selector, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.page.Fill(selector, value); err != nil {
		return fmt.Errorf("fill %q failed: %w", selector, err)
	}
	return nil
}

// PressKey presses a key, either into a specific element or at page level.
func (e *Engine) PressKey(key, selector string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if selector != "" {
		if err := e.page.Press(selector, key); err != nil {
			return fmt.Errorf("press %q on %q failed: %w", key, selector, err)
		}
		return nil
	}
	if err := e.page.Keyboard().Press(key); err != nil {
		return fmt.Errorf("press %q failed: %w", key, err)
	}
	return nil
}

// Text returns the text content of the selector's first match, or of the
// whole page body when the selector is empty.
func (e *Engine) Text(selector string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if selector == "" {
		selector = "body"
	}

	element, err := e.page.QuerySelector(selector)
	if err != nil {
		return "", fmt.Errorf("query %q failed: %w", selector, err)
	}
	if element == nil {
		return "", fmt.Errorf("no element matches %q", selector)
	}

	text, err := element.TextContent()
	if err != nil {
		return "", fmt.Errorf("read text of %q failed: %w", selector, err)
	}
	return text, nil
}

// Evaluate runs a JavaScript expression on the page and returns its result.
func (e *Engine) Evaluate(expression string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.page.Evaluate(expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

// Screenshot captures the page as base64-encoded PNG.
func (e *Engine) Screenshot(fullPage bool) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := e.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
	})
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// WaitFor waits until the selector's first match reaches the given state.
func (e *Engine) WaitFor(selector, state string, timeoutMs float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	waitOpts := playwright.PageWaitForSelectorOptions{}
	if state != "" {
		selectorState := playwright.WaitForSelectorState(state)
		waitOpts.State = &selectorState
	}
	if timeoutMs > 0 {
		waitOpts.Timeout = playwright.Float(timeoutMs)
	}

	if _, err := e.page.WaitForSelector(selector, waitOpts); err != nil {
		return fmt.Errorf("wait for %q failed: %w", selector, err)
	}
	return nil
}

// URL returns the page's current URL.
func (e *Engine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.URL()
}

// Close tears down the page, context, browser and driver. Errors during
// teardown are ignored so cleanup always runs to completion.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.page != nil {
		_ = e.page.Close()
	}
	if e.context != nil {
		_ = e.context.Close()
	}
	if e.browser != nil {
		_ = e.browser.Close()
	}
	if e.pw != nil {
		_ = e.pw.Stop()
	}
}
