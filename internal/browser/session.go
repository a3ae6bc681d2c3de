// Package browser owns the single automated browser session: its
// lifecycle state machine, the event recorder, and every operation the
// tool surface dispatches. It is the only stateful part of the server;
// the engine package underneath is a pass-through to the automation
// engine.
package browser

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/probekit/webprobe/internal/engine"
)

// Status is the session lifecycle state. Closing a launched session
// returns it to Uninitialized so it can be launched again.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusLaunched      Status = "launched"
)

// Session is the single source of truth for whether a browser and page
// exist. At most one of each is alive at a time; the mutex serializes
// tool invocations end to end since the engine handles are not safe for
// concurrent use.
type Session struct {
	mu  sync.Mutex
	log *slog.Logger

	eng      engine.Engine
	defaults engine.Config
	logCap   int

	status   Status
	browser  engine.Browser
	page     engine.Page
	recorder *Recorder
}

// LaunchOptions override the configured launch defaults per call.
type LaunchOptions struct {
	Headless       *bool
	ViewportWidth  int
	ViewportHeight int
}

// NewSession builds an unlaunched session on the given engine.
func NewSession(eng engine.Engine, defaults engine.Config, logCap int) *Session {
	return &Session{
		log:      slog.Default().With("component", "session"),
		eng:      eng,
		defaults: defaults,
		logCap:   logCap,
		status:   StatusUninitialized,
	}
}

// Status reports the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Launch starts the browser and opens its page. It fails with
// AlreadyLaunchedError if a session is live; callers must close first.
func (s *Session) Launch(ctx context.Context, opts LaunchOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusLaunched {
		return NewError(KindAlreadyLaunched, "browser already launched; call close_browser first")
	}

	cfg := s.defaults
	if opts.Headless != nil {
		cfg.Headless = *opts.Headless
	}
	if opts.ViewportWidth > 0 {
		cfg.ViewportWidth = opts.ViewportWidth
	}
	if opts.ViewportHeight > 0 {
		cfg.ViewportHeight = opts.ViewportHeight
	}

	browser, err := s.eng.Launch(ctx, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "Executable doesn't exist") {
			return NewError(KindEngine, "browser binaries not installed: %s", err.Error())
		}
		return Classify(err)
	}

	page, err := browser.NewPage(ctx)
	if err != nil {
		_ = browser.Close(ctx)
		return Classify(err)
	}

	s.recorder = NewRecorder(s.logCap)
	page.Subscribe(s.recorder)

	s.browser = browser
	s.page = page
	s.status = StatusLaunched

	s.log.Info("browser launched", "engine", s.eng.Name(), "headless", cfg.Headless)
	return nil
}

// Close tears the session down. It is idempotent: closing an unlaunched
// session is a no-op. Accumulated logs are cleared.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusLaunched {
		return nil
	}

	s.page.Unsubscribe()
	if err := s.browser.Close(ctx); err != nil {
		// Best effort: a crashed browser process still leaves the
		// session relaunchable.
		s.log.Warn("browser close failed", "error", err)
	}

	s.recorder.Clear()
	s.recorder = nil
	s.page = nil
	s.browser = nil
	s.status = StatusUninitialized

	s.log.Info("browser closed")
	return nil
}

// requireLaunched guards interaction operations. Caller must hold s.mu.
func (s *Session) requireLaunched() error {
	if s.status != StatusLaunched {
		return ErrNotLaunched()
	}
	return nil
}

// Navigate loads a URL and waits per policy. Returns the page URL after
// the navigation settles.
func (s *Session) Navigate(ctx context.Context, url, waitUntil string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return "", err
	}

	if err := s.page.Navigate(ctx, url, waitUntil, timeout); err != nil {
		return "", Classify(err)
	}
	return s.page.URL(), nil
}

// Click clicks the first element matching the selector.
func (s *Session) Click(ctx context.Context, selector string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return err
	}

	if err := s.page.Click(ctx, selector, timeout); err != nil {
		return Classify(err)
	}
	return nil
}

// Type types text into the element matching the selector.
func (s *Session) Type(ctx context.Context, selector, text string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return err
	}

	if err := s.page.Type(ctx, selector, text, timeout); err != nil {
		return Classify(err)
	}
	return nil
}

// FormField is one fill_form entry. FieldType selects the fill strategy:
// text (default), checkbox, or select.
type FormField struct {
	Selector  string `json:"selector"`
	Value     string `json:"value"`
	FieldType string `json:"field_type,omitempty"`
}

// FillForm applies fields in the caller-given order and stops at the
// first failure without rolling back earlier fields; later fields may
// depend on earlier ones. Returns how many fields were applied.
func (s *Session) FillForm(ctx context.Context, fields []FormField, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return 0, err
	}

	for i, field := range fields {
		if field.Selector == "" {
			return i, NewError(KindInvalidArgument, "field %d: selector is required", i)
		}

		var err error
		switch field.FieldType {
		case "", "text":
			err = s.page.Fill(ctx, field.Selector, field.Value, timeout)
		case "checkbox":
			checked, parseErr := strconv.ParseBool(field.Value)
			if parseErr != nil {
				return i, NewError(KindInvalidArgument,
					"field %d (%s): checkbox value must be a boolean, got %q", i, field.Selector, field.Value)
			}
			err = s.page.SetChecked(ctx, field.Selector, checked, timeout)
		case "select":
			err = s.page.SelectOption(ctx, field.Selector, field.Value, timeout)
		default:
			return i, NewError(KindInvalidArgument,
				"field %d (%s): unknown field_type %q", i, field.Selector, field.FieldType)
		}

		if err != nil {
			classified := Classify(err)
			return i, NewError(classified.Kind,
				"field %d (%s) failed, %d earlier field(s) already applied: %s",
				i, field.Selector, i, classified.Message)
		}
	}

	return len(fields), nil
}

// Evaluate executes caller-supplied JavaScript in the page context and
// returns its value.
func (s *Session) Evaluate(ctx context.Context, script string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return nil, err
	}

	result, err := s.page.Evaluate(ctx, script)
	if err != nil {
		return nil, Classify(err)
	}
	return result, nil
}

// ConsoleLogs returns buffered console records, optionally filtered by
// level.
func (s *Session) ConsoleLogs(level string) ([]ConsoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return nil, err
	}
	return s.recorder.Console(level), nil
}

// NetworkRequests returns buffered network records, optionally filtered
// by method and URL substring.
func (s *Session) NetworkRequests(method, urlSubstring string) ([]NetworkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return nil, err
	}
	return s.recorder.Network(method, urlSubstring), nil
}

// PageMetrics queries performance timing from the page as a flat map.
func (s *Session) PageMetrics(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return nil, err
	}

	const script = `(() => {
		const out = {};
		if (performance.timing && performance.timing.toJSON) {
			const t = performance.timing.toJSON();
			for (const k of Object.keys(t)) out[k] = t[k];
		}
		const nav = performance.getEntriesByType("navigation")[0];
		if (nav) {
			out.domContentLoadedMs = nav.domContentLoadedEventEnd - nav.startTime;
			out.loadMs = nav.loadEventEnd - nav.startTime;
			out.responseMs = nav.responseEnd - nav.requestStart;
			out.transferSize = nav.transferSize;
		}
		return out;
	})()`

	result, err := s.page.Evaluate(ctx, script)
	if err != nil {
		return nil, Classify(err)
	}

	metrics, ok := result.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return metrics, nil
}

// Screenshot captures the page (or one element) as PNG bytes.
func (s *Session) Screenshot(ctx context.Context, fullPage bool, selector string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return nil, err
	}

	data, err := s.page.Screenshot(ctx, fullPage, selector)
	if err != nil {
		return nil, Classify(err)
	}
	return data, nil
}

// WaitForSelector blocks until the selector reaches the requested state
// or the timeout elapses. A timeout leaves the session launched and
// usable.
func (s *Session) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return err
	}

	if err := s.page.WaitForSelector(ctx, selector, state, timeout); err != nil {
		return Classify(err)
	}
	return nil
}

// CheckElementState evaluates boolean checks against one element and
// returns a per-check mapping.
func (s *Session) CheckElementState(ctx context.Context, selector string, checks []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return nil, err
	}

	results := make(map[string]bool, len(checks))
	for _, check := range checks {
		value, err := s.page.ElementState(ctx, selector, check)
		if err != nil {
			return nil, Classify(err)
		}
		results[check] = value
	}
	return results, nil
}

// LocalStorage reads localStorage; with a key, only the matching entry
// is returned (empty map when absent).
func (s *Session) LocalStorage(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return nil, err
	}

	result, err := s.page.Evaluate(ctx, localStorageScript(key))
	if err != nil {
		return nil, Classify(err)
	}

	values := make(map[string]string)
	if m, ok := result.(map[string]any); ok {
		for k, v := range m {
			if str, ok := v.(string); ok {
				values[k] = str
			}
		}
	}
	return values, nil
}

// Cookies returns cookies for the current context, optionally filtered
// to one name.
func (s *Session) Cookies(ctx context.Context, name string) ([]engine.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return nil, err
	}

	cookies, err := s.page.Cookies(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	if name == "" {
		return cookies, nil
	}

	filtered := make([]engine.Cookie, 0, 1)
	for _, c := range cookies {
		if c.Name == name {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// PageContent returns serialized HTML, optionally scoped to a selector.
func (s *Session) PageContent(ctx context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunched(); err != nil {
		return "", err
	}

	content, err := s.page.Content(ctx, selector)
	if err != nil {
		return "", Classify(err)
	}
	return content, nil
}

func localStorageScript(key string) string {
	if key != "" {
		return `(() => {
			const value = window.localStorage.getItem(` + strconv.Quote(key) + `);
			return value === null ? {} : { ` + strconv.Quote(key) + `: value };
		})()`
	}
	return `(() => {
		const store = window.localStorage;
		const result = {};
		for (let i = 0; i < store.length; i++) {
			const k = store.key(i);
			if (k) {
				const v = store.getItem(k);
				if (v !== null) {
					result[k] = v;
				}
			}
		}
		return result;
	})()`
}
