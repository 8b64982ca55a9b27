package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 10 * time.Second
)

// WaitPolicy selects which load state a navigation waits for.
type WaitPolicy string

const (
	WaitLoad       WaitPolicy = "load"
	WaitDOMContent WaitPolicy = "domcontentloaded"
	WaitIdle       WaitPolicy = "networkidle"
)

// NavigateOptions tune a single navigation.
type NavigateOptions struct {
	WaitPolicy WaitPolicy
	Timeout    time.Duration
}

// ScreenshotOptions tune a capture.
type ScreenshotOptions struct {
	FullPage bool
}

// Point is a viewport coordinate pair.
type Point struct {
	X float64
	Y float64
}

// TabInfo describes one open tab.
type TabInfo struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Controller exposes the browser control surface consumed by the engine.
// Implementations own the single active tab handle; tab operations replace
// it in place, so callers never hold a page reference across them.
type Controller interface {
	Close(ctx context.Context) error

	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	GoBack(ctx context.Context) error

	Click(ctx context.Context, selector string, timeout time.Duration) error
	ClickAt(ctx context.Context, p Point) error
	Fill(ctx context.Context, selector, text string, timeout time.Duration) error
	Hover(ctx context.Context, selector string, timeout time.Duration) error
	SelectOption(ctx context.Context, selector, value string, timeout time.Duration) error
	Press(ctx context.Context, key string, modifiers []string) error

	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	InnerText(ctx context.Context, selector string) (string, error)

	ScrollBy(ctx context.Context, dx, dy int) error
	ScrollIntoView(ctx context.Context, selector string) error

	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	WaitForAttached(ctx context.Context, selector string, timeout time.Duration) error
	WaitForNavigation(ctx context.Context, timeout time.Duration) error
	WaitForIdle(ctx context.Context, timeout time.Duration) error
	WaitForFunction(ctx context.Context, predicate string, timeout time.Duration) error
	WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error
	WaitForText(ctx context.Context, text string, timeout time.Duration) error

	URL(ctx context.Context) string
	Title(ctx context.Context) (string, error)

	NewTab(ctx context.Context, url string) error
	CloseTab(ctx context.Context) error
	SwitchTab(ctx context.Context, id int) error
	DuplicateTab(ctx context.Context) error
	Tabs(ctx context.Context) ([]TabInfo, error)

	SaveStorageState(ctx context.Context, path string) error
}

// Launcher owns the playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

// LaunchOptions tune the browser process.
type LaunchOptions struct {
	Headless bool
}

func NewLauncher(ctx context.Context, opts LaunchOptions) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := opts.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: headless}, nil
}

// NewController opens a fresh browser context with one page. storagePath,
// when it names an existing file, seeds cookies and local storage.
func (l *Launcher) NewController(ctx context.Context, storagePath string) (Controller, error) {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if strings.TrimSpace(storagePath) != "" {
		if _, err := os.Stat(storagePath); err == nil {
			opts.StorageStatePath = playwright.String(storagePath)
		}
	}
	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &controller{context: bctx, page: page}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type controller struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (c *controller) Close(ctx context.Context) error {
	_ = ctx
	if c.page != nil {
		_ = c.page.Close()
	}
	if c.context != nil {
		return c.context.Close()
	}
	return nil
}

func (c *controller) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	state := playwright.WaitUntilStateLoad
	switch opts.WaitPolicy {
	case WaitDOMContent:
		state = playwright.WaitUntilStateDomcontentloaded
	case WaitIdle:
		state = playwright.WaitUntilStateNetworkidle
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: state,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return wrap(err)
}

func (c *controller) GoBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.GoBack()
	return wrap(err)
}

func (c *controller) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	}); err != nil {
		return wrap(err)
	}
	// Best effort; click may still land without it.
	_ = first.ScrollIntoViewIfNeeded()
	return wrap(first.Click())
}

func (c *controller) ClickAt(ctx context.Context, p Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Mouse().Click(p.X, p.Y))
}

func (c *controller) Fill(ctx context.Context, selector, text string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	}); err != nil {
		return wrap(err)
	}
	return wrap(first.Fill(text))
}

func (c *controller) Hover(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	}); err != nil {
		return wrap(err)
	}
	return wrap(first.Hover())
}

func (c *controller) SelectOption(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	}); err != nil {
		return wrap(err)
	}
	_, err := first.SelectOption(playwright.SelectOptionValues{
		ValuesOrLabels: &[]string{value},
	})
	return wrap(err)
}

func (c *controller) Press(ctx context.Context, key string, modifiers []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	combo := key
	if len(modifiers) > 0 {
		combo = strings.Join(append(append([]string{}, modifiers...), key), "+")
	}
	return wrap(c.page.Keyboard().Press(combo))
}

func (c *controller) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var val any
	var err error
	switch len(args) {
	case 0:
		val, err = c.page.Evaluate(script)
	case 1:
		val, err = c.page.Evaluate(script, args[0])
	default:
		val, err = c.page.Evaluate(script, args)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return val, nil
}

func (c *controller) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := c.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
	})
	if err != nil {
		return nil, wrap(err)
	}
	return data, nil
}

func (c *controller) InnerText(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(selector) == "" {
		selector = "body"
	}
	val, err := c.page.InnerText(selector)
	if err != nil {
		return "", wrap(err)
	}
	return val, nil
}

func (c *controller) ScrollBy(ctx context.Context, dx, dy int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Evaluate(`(d) => window.scrollBy(d[0], d[1])`, []int{dx, dy})
	return wrap(err)
}

func (c *controller) ScrollIntoView(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Locator(selector).First().ScrollIntoViewIfNeeded())
}

func (c *controller) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (c *controller) WaitForAttached(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (c *controller) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (c *controller) WaitForIdle(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (c *controller) WaitForFunction(ctx context.Context, predicate string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.WaitForFunction(predicate, nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	return wrap(err)
}

func (c *controller) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (c *controller) WaitForText(ctx context.Context, text string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.GetByText(text, playwright.PageGetByTextOptions{
		Exact: playwright.Bool(false),
	})
	return wrap(loc.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (c *controller) URL(ctx context.Context) string {
	_ = ctx
	return c.page.URL()
}

func (c *controller) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := c.page.Title()
	return title, wrap(err)
}

func (c *controller) NewTab(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page, err := c.context.NewPage()
	if err != nil {
		return wrap(err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	if strings.TrimSpace(url) != "" {
		if _, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
		}); err != nil {
			_ = page.Close()
			return wrap(err)
		}
	}
	c.page = page
	return nil
}

func (c *controller) CloseTab(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pages := c.context.Pages()
	if len(pages) <= 1 {
		return fmt.Errorf("cannot close the last tab")
	}
	if err := c.page.Close(); err != nil {
		return wrap(err)
	}
	remaining := c.context.Pages()
	c.page = remaining[len(remaining)-1]
	return wrap(c.page.BringToFront())
}

func (c *controller) SwitchTab(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pages := c.context.Pages()
	if id < 0 || id >= len(pages) {
		return fmt.Errorf("tab %d out of range (open tabs: %d)", id, len(pages))
	}
	c.page = pages[id]
	return wrap(c.page.BringToFront())
}

func (c *controller) DuplicateTab(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.NewTab(ctx, c.page.URL())
}

func (c *controller) Tabs(ctx context.Context) ([]TabInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages := c.context.Pages()
	tabs := make([]TabInfo, 0, len(pages))
	for i, p := range pages {
		title, _ := p.Title()
		tabs = append(tabs, TabInfo{
			ID:     i,
			URL:    p.URL(),
			Title:  title,
			Active: p == c.page,
		})
	}
	return tabs, nil
}

func (c *controller) SaveStorageState(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := c.context.StorageState()
	if err != nil {
		return wrap(err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func ms(d time.Duration) float64 {
	if d <= 0 {
		d = defaultActionTimeout
	}
	return float64(d.Milliseconds())
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
