package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// CDPEngine drives Chrome directly over the DevTools Protocol.
type CDPEngine struct{}

// NewCDP returns the chromedp-backed engine.
func NewCDP() *CDPEngine {
	return &CDPEngine{}
}

func (e *CDPEngine) Name() string { return "cdp" }

func (e *CDPEngine) Launch(ctx context.Context, cfg Config) (Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	// Start the browser process now so launch failures surface here, not
	// on the first page operation. The context stays alive: pages are
	// opened as tabs of this browser, not as fresh processes.
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	return &cdpBrowser{
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		cfg: cfg,
	}, nil
}

type cdpBrowser struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	cfg        Config
}

func (b *cdpBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	p := &cdpPage{
		ctx:        tabCtx,
		cancel:     tabCancel,
		defTimeout: b.cfg.DefaultTimeout,
	}

	chromedp.ListenTarget(tabCtx, p.handleEvent)

	if err := chromedp.Run(tabCtx, network.Enable(), runtime.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	return p, nil
}

func (b *cdpBrowser) Close(ctx context.Context) error {
	b.cancel()
	return nil
}

type cdpPage struct {
	ctx        context.Context
	cancel     context.CancelFunc
	defTimeout time.Duration

	mu         sync.Mutex
	sink       EventSink
	currentURL string
}

func (p *cdpPage) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		p.emit(func(s EventSink) {
			s.OnConsole(ConsoleEvent{
				Type: string(ev.Type),
				Text: stringifyConsoleArgs(ev.Args),
				Time: time.Now(),
			})
		})
	case *network.EventRequestWillBeSent:
		p.emit(func(s EventSink) {
			s.OnRequest(RequestEvent{
				ID:     string(ev.RequestID),
				Method: ev.Request.Method,
				URL:    ev.Request.URL,
				Time:   time.Now(),
			})
		})
	case *network.EventResponseReceived:
		p.emit(func(s EventSink) {
			s.OnResponse(ResponseEvent{
				RequestID: string(ev.RequestID),
				Status:    int(ev.Response.Status),
				Time:      time.Now(),
			})
		})
	case *page.EventFrameNavigated:
		if ev.Frame != nil && ev.Frame.ParentID == "" {
			p.mu.Lock()
			p.currentURL = ev.Frame.URL
			p.mu.Unlock()
		}
	}
}

func (p *cdpPage) emit(fn func(EventSink)) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		fn(sink)
	}
}

func (p *cdpPage) Subscribe(sink EventSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

func (p *cdpPage) Unsubscribe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
}

// run executes actions against the tab under a per-operation deadline.
func (p *cdpPage) run(timeout time.Duration, actions ...chromedp.Action) error {
	if timeout == 0 {
		timeout = p.defTimeout
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	err := chromedp.Run(ctx, actions...)
	if err != nil {
		return classifyCDP(err)
	}
	return nil
}

func (p *cdpPage) Navigate(ctx context.Context, url, waitUntil string, timeout time.Duration) error {
	actions := []chromedp.Action{chromedp.Navigate(url)}
	switch waitUntil {
	case "domcontentloaded":
		actions = append(actions, chromedp.WaitReady("body"))
	case "networkidle":
		// CDP has no first-class networkidle; body-ready plus a settle
		// pause approximates it for verification workloads.
		actions = append(actions, chromedp.WaitReady("body"), chromedp.Sleep(500*time.Millisecond))
	default:
		actions = append(actions, chromedp.WaitReady("body"))
	}

	if err := p.run(timeout, actions...); err != nil {
		return err
	}

	p.mu.Lock()
	p.currentURL = url
	p.mu.Unlock()
	return nil
}

func (p *cdpPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(timeout,
		chromedp.WaitVisible(selector),
		chromedp.Click(selector),
	)
}

func (p *cdpPage) Type(ctx context.Context, selector, text string, timeout time.Duration) error {
	return p.run(timeout,
		chromedp.WaitVisible(selector),
		chromedp.SendKeys(selector, text),
	)
}

func (p *cdpPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	return p.run(timeout,
		chromedp.WaitVisible(selector),
		chromedp.Clear(selector),
		chromedp.SendKeys(selector, value),
	)
}

func (p *cdpPage) SetChecked(ctx context.Context, selector string, checked bool, timeout time.Duration) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		if (el.checked !== %t) { el.click(); }
		return el.checked === %t;
	})()`, selector, checked, checked)

	var ok bool
	if err := p.run(timeout, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	return nil
}

func (p *cdpPage) SelectOption(ctx context.Context, selector, value string, timeout time.Duration) error {
	// SetValue writes the property only; listeners on the select (and
	// any dependent fields) still need the input/change events a user
	// interaction would fire.
	notify := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (el) {
			el.dispatchEvent(new Event("input", { bubbles: true }));
			el.dispatchEvent(new Event("change", { bubbles: true }));
		}
	})()`, selector)

	return p.run(timeout,
		chromedp.WaitReady(selector),
		chromedp.SetValue(selector, value),
		chromedp.Evaluate(notify, nil),
	)
}

func (p *cdpPage) Evaluate(ctx context.Context, script string) (any, error) {
	timeout := p.defTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	var result any
	err := chromedp.Run(runCtx, chromedp.Evaluate(script, &result))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: evaluate: %s", ErrTimeout, err.Error())
		}
		return nil, fmt.Errorf("%w: %s", ErrScript, err.Error())
	}
	return result, nil
}

func (p *cdpPage) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	var action chromedp.Action
	switch state {
	case "hidden":
		action = chromedp.WaitNotVisible(selector)
	case "attached":
		action = chromedp.WaitReady(selector)
	case "detached":
		action = chromedp.WaitNotPresent(selector)
	default:
		action = chromedp.WaitVisible(selector)
	}
	return p.run(timeout, action)
}

func (p *cdpPage) ElementState(ctx context.Context, selector, check string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return { exists: false, value: false };
		switch (%q) {
		case "visible": {
			const r = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			return { exists: true, value: r.width > 0 && r.height > 0 && style.visibility !== "hidden" && style.display !== "none" };
		}
		case "enabled":
			return { exists: true, value: !el.disabled };
		case "disabled":
			return { exists: true, value: !!el.disabled };
		case "checked":
			return { exists: true, value: !!el.checked };
		case "editable":
			return { exists: true, value: el.isContentEditable || (!el.disabled && !el.readOnly && ("value" in el)) };
		default:
			return { exists: true, value: false };
		}
	})()`, selector, check)

	var result struct {
		Exists bool `json:"exists"`
		Value  bool `json:"value"`
	}
	if err := p.run(0, chromedp.Evaluate(script, &result)); err != nil {
		return false, err
	}
	if !result.Exists {
		return false, fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	return result.Value, nil
}

func (p *cdpPage) Screenshot(ctx context.Context, fullPage bool, selector string) ([]byte, error) {
	var buf []byte
	var err error
	switch {
	case selector != "":
		err = p.run(0, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible))
	case fullPage:
		err = p.run(0, chromedp.FullScreenshot(&buf, 90))
	default:
		err = p.run(0, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *cdpPage) Content(ctx context.Context, selector string) (string, error) {
	var html string
	err := p.run(0, chromedp.ActionFunc(func(ctx context.Context) error {
		if selector == "" {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			var inner error
			html, inner = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return inner
		}

		var nodes []*cdp.Node
		if err := chromedp.Nodes(selector, &nodes, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return err
		}
		if len(nodes) == 0 {
			return fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
		}
		var inner error
		html, inner = dom.GetOuterHTML().WithNodeID(nodes[0].NodeID).Do(ctx)
		return inner
	}))
	if err != nil {
		return "", err
	}
	return html, nil
}

func (p *cdpPage) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := p.run(0, chromedp.ActionFunc(func(ctx context.Context) error {
		cdpCookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = make([]Cookie, len(cdpCookies))
		for i, c := range cdpCookies {
			cookies[i] = Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: string(c.SameSite),
			}
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

func (p *cdpPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentURL
}

func classifyCDP(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err.Error())
	}
	if errors.Is(err, ErrSelectorNotFound) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "could not find node") || strings.Contains(msg, "no nodes") {
		return fmt.Errorf("%w: %s", ErrSelectorNotFound, msg)
	}
	return err
}

// stringifyConsoleArgs renders console call arguments the way the
// devtools console would, space-separated.
func stringifyConsoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case arg.Value != nil:
			var v any
			if err := json.Unmarshal(arg.Value, &v); err == nil {
				if s, ok := v.(string); ok {
					parts = append(parts, s)
					continue
				}
				parts = append(parts, fmt.Sprintf("%v", v))
				continue
			}
			parts = append(parts, string(arg.Value))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, string(arg.Type))
		}
	}
	return strings.Join(parts, " ")
}
