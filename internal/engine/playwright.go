package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

var (
	// Playwright driver instance (singleton, installed on first launch).
	pwOnce     sync.Once
	pwInstance *playwright.Playwright
	pwErr      error
)

func getPlaywright() (*playwright.Playwright, error) {
	pwOnce.Do(func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			pwErr = fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}

		pw, err := playwright.Run()
		if err != nil {
			pwErr = fmt.Errorf("failed to start playwright: %w", err)
			return
		}
		pwInstance = pw
	})

	return pwInstance, pwErr
}

// PlaywrightEngine launches Chromium through the Playwright driver.
type PlaywrightEngine struct{}

// NewPlaywright returns the Playwright-backed engine.
func NewPlaywright() *PlaywrightEngine {
	return &PlaywrightEngine{}
}

func (e *PlaywrightEngine) Name() string { return "playwright" }

func (e *PlaywrightEngine) Launch(ctx context.Context, cfg Config) (Browser, error) {
	pw, err := getPlaywright()
	if err != nil {
		return nil, err
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	return &pwBrowser{browser: browser, cfg: cfg}, nil
}

type pwBrowser struct {
	browser playwright.Browser
	cfg     Config
}

func (b *pwBrowser) NewPage(ctx context.Context) (Page, error) {
	opts := playwright.BrowserNewContextOptions{}
	if b.cfg.ViewportWidth > 0 && b.cfg.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{
			Width:  b.cfg.ViewportWidth,
			Height: b.cfg.ViewportHeight,
		}
	}

	browserCtx, err := b.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	p := &pwPage{
		page:       page,
		defTimeout: b.cfg.DefaultTimeout,
		tracker:    newRequestTracker(),
	}
	p.attachListeners()
	return p, nil
}

func (b *pwBrowser) Close(ctx context.Context) error {
	if err := b.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type pwPage struct {
	page       playwright.Page
	defTimeout time.Duration

	mu   sync.Mutex
	sink EventSink

	// Playwright exposes no request id, so one is minted per request and
	// keyed by the request object for response correlation.
	tracker *requestTracker
}

// requestTracker holds minted ids for in-flight requests. Every request
// terminates as a response, a failure, or a finish; ending the entry on
// all three keeps the map bounded by requests actually in flight.
type requestTracker struct {
	mu  sync.Mutex
	ids map[any]string
}

func newRequestTracker() *requestTracker {
	return &requestTracker{ids: make(map[any]string)}
}

func (t *requestTracker) begin(req any) string {
	id := uuid.New().String()
	t.mu.Lock()
	t.ids[req] = id
	t.mu.Unlock()
	return id
}

// end removes the entry and reports whether it was still tracked. A
// second end for the same request is a no-op.
func (t *requestTracker) end(req any) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[req]
	if ok {
		delete(t.ids, req)
	}
	return id, ok
}

func (t *requestTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

func (p *pwPage) attachListeners() {
	p.page.OnConsole(func(msg playwright.ConsoleMessage) {
		p.emitConsole(ConsoleEvent{
			Type: msg.Type(),
			Text: msg.Text(),
			Time: time.Now(),
		})
	})

	p.page.OnRequest(func(req playwright.Request) {
		id := p.tracker.begin(req)

		p.emitRequest(RequestEvent{
			ID:     id,
			Method: req.Method(),
			URL:    req.URL(),
			Time:   time.Now(),
		})
	})

	p.page.OnResponse(func(resp playwright.Response) {
		id, ok := p.tracker.end(resp.Request())
		if !ok {
			return
		}

		p.emitResponse(ResponseEvent{
			RequestID: id,
			Status:    resp.Status(),
			Time:      time.Now(),
		})
	})

	// Aborted and failed requests never get a response; drop their
	// entries here. Finished requests were already ended by OnResponse.
	p.page.OnRequestFailed(func(req playwright.Request) {
		p.tracker.end(req)
	})
	p.page.OnRequestFinished(func(req playwright.Request) {
		p.tracker.end(req)
	})
}

func (p *pwPage) Subscribe(sink EventSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

func (p *pwPage) Unsubscribe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
}

func (p *pwPage) emitConsole(ev ConsoleEvent) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.OnConsole(ev)
	}
}

func (p *pwPage) emitRequest(ev RequestEvent) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.OnRequest(ev)
	}
}

func (p *pwPage) emitResponse(ev ResponseEvent) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.OnResponse(ev)
	}
}

func (p *pwPage) timeoutMillis(timeout time.Duration) *float64 {
	if timeout == 0 {
		timeout = p.defTimeout
	}
	if timeout == 0 {
		return nil
	}
	return playwright.Float(float64(timeout.Milliseconds()))
}

func (p *pwPage) Navigate(ctx context.Context, url, waitUntil string, timeout time.Duration) error {
	state := playwright.WaitUntilStateLoad
	switch waitUntil {
	case "domcontentloaded":
		state = playwright.WaitUntilStateDomcontentloaded
	case "networkidle":
		state = playwright.WaitUntilStateNetworkidle
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: state,
		Timeout:   p.timeoutMillis(timeout),
	})
	if err != nil {
		return classifyPW(err, "navigation failed")
	}
	return nil
}

func (p *pwPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	err := p.page.Locator(selector).Click(playwright.LocatorClickOptions{
		Timeout: p.timeoutMillis(timeout),
	})
	if err != nil {
		return classifyPW(err, "click failed")
	}
	return nil
}

func (p *pwPage) Type(ctx context.Context, selector, text string, timeout time.Duration) error {
	err := p.page.Locator(selector).Type(text, playwright.LocatorTypeOptions{
		Timeout: p.timeoutMillis(timeout),
	})
	if err != nil {
		return classifyPW(err, "type failed")
	}
	return nil
}

func (p *pwPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	err := p.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{
		Timeout: p.timeoutMillis(timeout),
	})
	if err != nil {
		return classifyPW(err, "fill failed")
	}
	return nil
}

func (p *pwPage) SetChecked(ctx context.Context, selector string, checked bool, timeout time.Duration) error {
	err := p.page.Locator(selector).SetChecked(checked, playwright.LocatorSetCheckedOptions{
		Timeout: p.timeoutMillis(timeout),
	})
	if err != nil {
		return classifyPW(err, "set checked failed")
	}
	return nil
}

func (p *pwPage) SelectOption(ctx context.Context, selector, value string, timeout time.Duration) error {
	values := []string{value}
	_, err := p.page.Locator(selector).SelectOption(playwright.SelectOptionValues{
		Values: &values,
	}, playwright.LocatorSelectOptionOptions{
		Timeout: p.timeoutMillis(timeout),
	})
	if err != nil {
		return classifyPW(err, "select failed")
	}
	return nil
}

func (p *pwPage) Evaluate(ctx context.Context, script string) (any, error) {
	result, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScript, err.Error())
	}
	return result, nil
}

func (p *pwPage) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	waitState := playwright.WaitForSelectorStateVisible
	switch state {
	case "hidden":
		waitState = playwright.WaitForSelectorStateHidden
	case "attached":
		waitState = playwright.WaitForSelectorStateAttached
	case "detached":
		waitState = playwright.WaitForSelectorStateDetached
	}

	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   waitState,
		Timeout: p.timeoutMillis(timeout),
	})
	if err != nil {
		return classifyPW(err, "wait failed")
	}
	return nil
}

func (p *pwPage) ElementState(ctx context.Context, selector, check string) (bool, error) {
	locator := p.page.Locator(selector)

	count, err := locator.Count()
	if err != nil {
		return false, classifyPW(err, "locator query failed")
	}
	if count == 0 {
		return false, fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}

	first := locator.First()
	switch check {
	case "visible":
		return first.IsVisible()
	case "enabled":
		return first.IsEnabled()
	case "disabled":
		return first.IsDisabled()
	case "checked":
		return first.IsChecked()
	case "editable":
		return first.IsEditable()
	default:
		return false, fmt.Errorf("unknown check: %s", check)
	}
}

func (p *pwPage) Screenshot(ctx context.Context, fullPage bool, selector string) ([]byte, error) {
	if selector != "" {
		data, err := p.page.Locator(selector).Screenshot()
		if err != nil {
			return nil, classifyPW(err, "screenshot failed")
		}
		return data, nil
	}

	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
	})
	if err != nil {
		return nil, classifyPW(err, "screenshot failed")
	}
	return data, nil
}

func (p *pwPage) Content(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		content, err := p.page.Content()
		if err != nil {
			return "", classifyPW(err, "content failed")
		}
		return content, nil
	}

	locator := p.page.Locator(selector)
	count, err := locator.Count()
	if err != nil {
		return "", classifyPW(err, "locator query failed")
	}
	if count == 0 {
		return "", fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}

	html, err := locator.First().Evaluate("el => el.outerHTML", nil)
	if err != nil {
		return "", classifyPW(err, "content failed")
	}
	s, ok := html.(string)
	if !ok {
		return "", fmt.Errorf("unexpected outerHTML result type %T", html)
	}
	return s, nil
}

func (p *pwPage) Cookies(ctx context.Context) ([]Cookie, error) {
	pwCookies, err := p.page.Context().Cookies()
	if err != nil {
		return nil, classifyPW(err, "get cookies failed")
	}

	cookies := make([]Cookie, len(pwCookies))
	for i, c := range pwCookies {
		sameSite := ""
		if c.SameSite != nil {
			sameSite = string(*c.SameSite)
		}
		cookies[i] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
			SameSite: sameSite,
		}
	}
	return cookies, nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

// classifyPW wraps a Playwright error with the matching sentinel so
// higher layers can map it onto the tool error taxonomy.
func classifyPW(err error, op string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Timeout") || strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %s: %s", ErrTimeout, op, msg)
	case strings.Contains(msg, "strict mode violation"),
		strings.Contains(msg, "failed to find element"),
		strings.Contains(msg, "element is not attached"):
		return fmt.Errorf("%w: %s: %s", ErrSelectorNotFound, op, msg)
	default:
		return fmt.Errorf("%s: %s", op, msg)
	}
}
