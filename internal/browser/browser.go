// Package browser wraps Playwright behind the narrow contract the run loop
// consumes: navigate, observe the page, resolve a one-line action
// description into executable candidates, and perform one.
package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 10 * time.Second
	headlessEnv          = "AGENT_HEADLESS"
	bodyTextLimit        = 4000
)

// Candidate is an opaque executable handle for one concrete way of
// performing a described action. The concrete shape belongs to this
// package; callers only describe and perform.
type Candidate interface {
	Describe() string
	Perform(ctx context.Context) error
}

// Driver is the subset of the controller the run loop depends on.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	Observe(ctx context.Context, action string) ([]Candidate, error)
}

// Controller exposes the full browser surface, including the observation
// calls the snapshot collector uses.
type Controller interface {
	Driver
	Title(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	ObserveLabels(ctx context.Context, query string) ([]string, error)
	Page() playwright.Page
	Close(ctx context.Context) error
}

// Launcher owns the playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := parseBoolEnv(headlessEnv, true)
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

// NewController opens a fresh browser context and page. The session is
// exclusively owned by one run for its duration.
func (l *Launcher) NewController(ctx context.Context) (Controller, error) {
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultActionTimeout.Milliseconds()))
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

func (c *controller) Page() playwright.Page { return c.page }

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

func (c *controller) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (c *controller) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	return wrap(err)
}

func (c *controller) Back(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.GoBack()
	return wrap(err)
}

func (c *controller) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.page.URL(), nil
}

func (c *controller) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := c.page.Title()
	return title, wrap(err)
}

func (c *controller) BodyText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := c.page.InnerText("body")
	if err != nil {
		return "", wrap(err)
	}
	if len(text) > bodyTextLimit {
		text = text[:bodyTextLimit]
	}
	return strings.TrimSpace(text), nil
}

const defaultLabelQuery = "a,button,input,select,textarea,[role='button'],[role='link'],[role='menuitem'],[role='option'],[role='tab']"

// ObserveLabels returns visible interactive-element text labels. The query
// overrides the default interactive-element selector when non-empty.
func (c *controller) ObserveLabels(ctx context.Context, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		query = defaultLabelQuery
	}
	script := `(sel) => {
		const out = [];
		const seen = new Set();
		for (const el of document.querySelectorAll(sel)) {
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 && rect.height === 0) continue;
			let label = (el.innerText || el.value || el.getAttribute("aria-label") || el.getAttribute("placeholder") || "").trim();
			label = label.split("\n")[0].slice(0, 80);
			if (!label || seen.has(label)) continue;
			seen.add(label);
			out.push(label);
			if (out.length >= 60) break;
		}
		return out;
	}`
	val, err := c.page.Evaluate(script, query)
	if err != nil {
		return nil, wrap(err)
	}
	return toStrings(val), nil
}

func toStrings(val interface{}) []string {
	arr, ok := val.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
