package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

var headlessArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-features=TranslateUI",
	"--disable-web-security",
	"--disable-features=VizDisplayCompositor",
	"--disable-extensions",
}

var visibleArgs = []string{
	"--disable-web-security",
	"--disable-extensions",
}

var blockedResourceTypes = map[string]bool{
	"image":      true,
	"stylesheet": true,
	"font":       true,
	"media":      true,
}

// PlaywrightLauncher starts Chromium through playwright-go.
type PlaywrightLauncher struct {
	log logrus.FieldLogger
}

func NewPlaywrightLauncher(log logrus.FieldLogger) *PlaywrightLauncher {
	return &PlaywrightLauncher{log: log}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	args := headlessArgs
	if !opts.Headless {
		args = visibleArgs
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: 1920, Height: 1080},
		UserAgent:         playwright.String(opts.UserAgent),
		BypassCSP:         playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	l.log.WithField("headless", opts.Headless).Info("Browser launched")

	return &playwrightBrowser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		log:     l.log,
	}, nil
}

type playwrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    LaunchOptions
	log     logrus.FieldLogger
}

func (b *playwrightBrowser) NewTab() (Tab, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	page.SetDefaultNavigationTimeout(millis(b.opts.PageLoadTimeout))
	page.SetDefaultTimeout(millis(b.opts.ElementTimeout))

	if b.opts.BlockResources {
		err := page.Route("**/*", func(route playwright.Route) {
			if blockedResourceTypes[route.Request().ResourceType()] {
				route.Abort()
				return
			}
			route.Continue()
		})
		if err != nil {
			b.log.WithError(err).Warn("Failed to install resource blocking")
		}
	}

	return &playwrightTab{page: page, pageLoadTimeout: b.opts.PageLoadTimeout}, nil
}

func (b *playwrightBrowser) Close() error {
	var errs []error
	if err := b.context.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.pw.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type playwrightTab struct {
	page            playwright.Page
	pageLoadTimeout time.Duration
}

func (t *playwrightTab) URL() string {
	return t.page.URL()
}

func (t *playwrightTab) Goto(url string) error {
	_, err := t.page.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(millis(t.pageLoadTimeout)),
	})
	return err
}

func (t *playwrightTab) WaitForNetworkIdle() error {
	return t.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(millis(t.pageLoadTimeout)),
	})
}

func (t *playwrightTab) Pause(d time.Duration) {
	if d > 0 {
		t.page.WaitForTimeout(millis(d))
	}
}

func (t *playwrightTab) BodyText() (string, error) {
	return t.page.Locator("body").First().InnerText()
}

func (t *playwrightTab) WaitFor(selector string, timeout time.Duration) error {
	return t.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(millis(timeout)),
	})
}

func (t *playwrightTab) Click(selector string) error {
	return t.page.Locator(selector).First().Click()
}

func (t *playwrightTab) Controls(selector string) ([]Control, error) {
	loc := t.page.Locator(selector)
	n, err := loc.Count()
	if err != nil {
		return nil, err
	}

	controls := make([]Control, 0, n)
	for i := 0; i < n; i++ {
		el := loc.Nth(i)
		visible, _ := el.IsVisible()
		c := Control{Selector: selector, Index: i, Visible: visible}
		if visible {
			c.Enabled, _ = el.IsEnabled()
			c.Text = controlText(el)
		}
		controls = append(controls, c)
	}
	return controls, nil
}

// controlText prefers rendered text and falls back to the value attribute of
// input buttons.
func controlText(el playwright.Locator) string {
	if text, err := el.InnerText(); err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	if value, err := el.GetAttribute("value"); err == nil {
		return strings.TrimSpace(value)
	}
	return ""
}

func (t *playwrightTab) ClickControl(c Control) error {
	el := t.page.Locator(c.Selector).Nth(c.Index)
	if err := el.ScrollIntoViewIfNeeded(); err != nil {
		return err
	}
	t.page.WaitForTimeout(200)
	return el.Click()
}

func (t *playwrightTab) Search(selector, text string, keyDelay time.Duration) error {
	input := t.page.Locator(selector).First()
	if err := input.Click(); err != nil {
		return fmt.Errorf("focus search input: %w", err)
	}
	if err := input.Fill(""); err != nil {
		return fmt.Errorf("clear search input: %w", err)
	}
	if err := input.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(millis(keyDelay)),
	}); err != nil {
		return fmt.Errorf("type search term: %w", err)
	}
	return input.Press("Enter")
}

func (t *playwrightTab) OuterHTML(selector string) (string, error) {
	v, err := t.page.Locator(selector).First().Evaluate("el => el.outerHTML", nil)
	if err != nil {
		return "", err
	}
	html, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected outerHTML result %T", v)
	}
	return html, nil
}

func (t *playwrightTab) Close() error {
	return t.page.Close()
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}
