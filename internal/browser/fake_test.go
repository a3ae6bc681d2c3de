package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/probekit/webprobe/internal/engine"
)

// fakeEngine drives the session without a real browser process.
type fakeEngine struct {
	launchErr  error
	newPageErr error
	lastCfg    engine.Config
	browser    *fakeBrowser
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Launch(ctx context.Context, cfg engine.Config) (engine.Browser, error) {
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	e.lastCfg = cfg
	e.browser = &fakeBrowser{newPageErr: e.newPageErr, page: newFakePage()}
	return e.browser, nil
}

type fakeBrowser struct {
	newPageErr error
	page       *fakePage
	closed     int
	closeErr   error
}

func (b *fakeBrowser) NewPage(ctx context.Context) (engine.Page, error) {
	if b.newPageErr != nil {
		return nil, b.newPageErr
	}
	return b.page, nil
}

func (b *fakeBrowser) Close(ctx context.Context) error {
	b.closed++
	return b.closeErr
}

type fakePage struct {
	sink engine.EventSink
	url  string

	clicked  []string
	typed    map[string]string
	filled   map[string]string
	checked  map[string]bool
	selected map[string]string

	navigateErr error
	clickErr    error
	fillErr     map[string]error
	waitErr     error

	evalFn  func(script string) (any, error)
	stateFn func(selector, check string) (bool, error)

	screenshot  []byte
	content     string
	contentSel  string
	cookies     []engine.Cookie
}

func newFakePage() *fakePage {
	return &fakePage{
		typed:    map[string]string{},
		filled:   map[string]string{},
		checked:  map[string]bool{},
		selected: map[string]string{},
		fillErr:  map[string]error{},
	}
}

func (p *fakePage) Subscribe(sink engine.EventSink) { p.sink = sink }
func (p *fakePage) Unsubscribe()                    { p.sink = nil }

func (p *fakePage) Navigate(ctx context.Context, url, waitUntil string, timeout time.Duration) error {
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.url = url
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if p.clickErr != nil {
		return p.clickErr
	}
	p.clicked = append(p.clicked, selector)
	return nil
}

func (p *fakePage) Type(ctx context.Context, selector, text string, timeout time.Duration) error {
	p.typed[selector] = text
	return nil
}

func (p *fakePage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := p.fillErr[selector]; err != nil {
		return err
	}
	p.filled[selector] = value
	return nil
}

func (p *fakePage) SetChecked(ctx context.Context, selector string, checked bool, timeout time.Duration) error {
	if err := p.fillErr[selector]; err != nil {
		return err
	}
	p.checked[selector] = checked
	return nil
}

func (p *fakePage) SelectOption(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := p.fillErr[selector]; err != nil {
		return err
	}
	p.selected[selector] = value
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string) (any, error) {
	if p.evalFn != nil {
		return p.evalFn(script)
	}
	return nil, nil
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	return p.waitErr
}

func (p *fakePage) ElementState(ctx context.Context, selector, check string) (bool, error) {
	if p.stateFn != nil {
		return p.stateFn(selector, check)
	}
	return false, fmt.Errorf("%w: %s", engine.ErrSelectorNotFound, selector)
}

func (p *fakePage) Screenshot(ctx context.Context, fullPage bool, selector string) ([]byte, error) {
	return p.screenshot, nil
}

func (p *fakePage) Content(ctx context.Context, selector string) (string, error) {
	p.contentSel = selector
	return p.content, nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	return p.cookies, nil
}

func (p *fakePage) URL() string { return p.url }
