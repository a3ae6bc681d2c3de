package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/probekit/webprobe/internal/browser"
)

var (
	waitUntilValues = []string{"load", "domcontentloaded", "networkidle"}
	waitStateValues = []string{"visible", "hidden", "attached", "detached"}
	logLevelValues  = []string{"log", "warn", "error", "info"}
	elementChecks   = []string{"visible", "enabled", "disabled", "checked", "editable"}
)

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "launch_browser",
		Description: "Launch a new browser instance. Fails if a browser is already running; call close_browser first.",
	}, handler(s, "launch_browser", s.launchBrowser))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "close_browser",
		Description: "Close the browser and discard accumulated console and network logs. Idempotent.",
	}, handler(s, "close_browser", s.closeBrowser))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "navigate_to",
		Description: "Navigate to a URL and wait for the page to settle.",
	}, handler(s, "navigate_to", s.navigateTo))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "click_element",
		Description: "Click on the element matching a CSS selector.",
	}, handler(s, "click_element", s.clickElement))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "type_text",
		Description: "Type text into the input field matching a CSS selector.",
	}, handler(s, "type_text", s.typeText))

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "fill_form",
		Description: "Fill multiple form fields in order. Stops at the first failing field and reports it; " +
			"earlier fields stay applied. field_type selects the strategy: text (default), checkbox, or select.",
	}, handler(s, "fill_form", s.fillForm))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "evaluate_javascript",
		Description: "Execute JavaScript in the page context and return its value.",
	}, handler(s, "evaluate_javascript", s.evaluateJavascript))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_console_logs",
		Description: "Get buffered browser console logs in emission order, optionally filtered by level.",
	}, handler(s, "get_console_logs", s.getConsoleLogs))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_network_requests",
		Description: "Get buffered network requests, optionally filtered by method and/or URL substring.",
	}, handler(s, "get_network_requests", s.getNetworkRequests))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_page_metrics",
		Description: "Get performance timing metrics from the current page.",
	}, handler(s, "get_page_metrics", s.getPageMetrics))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "take_screenshot",
		Description: "Take a PNG screenshot of the current page, optionally full-page or scoped to a selector.",
	}, handler(s, "take_screenshot", s.takeScreenshot))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "wait_for_selector",
		Description: "Wait until a selector reaches the requested state (visible, hidden, attached, detached) or the timeout elapses.",
	}, handler(s, "wait_for_selector", s.waitForSelector))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "check_element_state",
		Description: "Evaluate boolean checks (visible, enabled, disabled, checked, editable) against one element.",
	}, handler(s, "check_element_state", s.checkElementState))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_local_storage",
		Description: "Read localStorage from the current page; with a key, only the matching entry is returned.",
	}, handler(s, "get_local_storage", s.getLocalStorage))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_cookies",
		Description: "Read cookies for the current browser context; with a name, only the matching cookie is returned.",
	}, handler(s, "get_cookies", s.getCookies))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_page_content",
		Description: "Get the serialized HTML of the page, optionally scoped to a selector.",
	}, handler(s, "get_page_content", s.getPageContent))
}

// LaunchBrowserInput is the launch_browser argument schema.
type LaunchBrowserInput struct {
	Headless       *bool `json:"headless,omitempty" jsonschema:"Run in headless mode. Defaults to the configured value."`
	ViewportWidth  int   `json:"viewport_width,omitempty" jsonschema:"Viewport width in pixels."`
	ViewportHeight int   `json:"viewport_height,omitempty" jsonschema:"Viewport height in pixels."`
}

func (s *Server) launchBrowser(ctx context.Context, in LaunchBrowserInput) (*mcp.CallToolResult, error) {
	err := s.session.Launch(ctx, browser.LaunchOptions{
		Headless:       in.Headless,
		ViewportWidth:  in.ViewportWidth,
		ViewportHeight: in.ViewportHeight,
	})
	if err != nil {
		return nil, err
	}
	return textResult("Browser launched successfully"), nil
}

// CloseBrowserInput is the close_browser argument schema.
type CloseBrowserInput struct{}

func (s *Server) closeBrowser(ctx context.Context, _ CloseBrowserInput) (*mcp.CallToolResult, error) {
	if err := s.session.Close(ctx); err != nil {
		return nil, err
	}
	return textResult("Browser closed"), nil
}

// NavigateToInput is the navigate_to argument schema.
type NavigateToInput struct {
	URL       string `json:"url" jsonschema:"required,URL to navigate to."`
	WaitUntil string `json:"wait_until,omitempty" jsonschema:"Wait policy: load (default), domcontentloaded, or networkidle."`
	Timeout   int    `json:"timeout,omitempty" jsonschema:"Navigation timeout in milliseconds."`
}

func (s *Server) navigateTo(ctx context.Context, in NavigateToInput) (*mcp.CallToolResult, error) {
	if in.URL == "" {
		return nil, browser.NewError(browser.KindInvalidArgument, "url is required")
	}
	if in.WaitUntil != "" && !slices.Contains(waitUntilValues, in.WaitUntil) {
		return nil, browser.NewError(browser.KindInvalidArgument,
			"invalid wait_until %q, must be: %s", in.WaitUntil, strings.Join(waitUntilValues, ", "))
	}

	timeout, err := timeoutArg(in.Timeout)
	if err != nil {
		return nil, err
	}

	finalURL, err := s.session.Navigate(ctx, in.URL, in.WaitUntil, timeout)
	if err != nil {
		return nil, err
	}
	return textResult("Navigated to %s", finalURL), nil
}

// ClickElementInput is the click_element argument schema.
type ClickElementInput struct {
	Selector string `json:"selector" jsonschema:"required,CSS selector of the element to click."`
	Timeout  int    `json:"timeout,omitempty" jsonschema:"Action timeout in milliseconds."`
}

func (s *Server) clickElement(ctx context.Context, in ClickElementInput) (*mcp.CallToolResult, error) {
	if in.Selector == "" {
		return nil, browser.NewError(browser.KindInvalidArgument, "selector is required")
	}

	timeout, err := timeoutArg(in.Timeout)
	if err != nil {
		return nil, err
	}

	if err := s.session.Click(ctx, in.Selector, timeout); err != nil {
		return nil, err
	}
	return textResult("Clicked element: %s", in.Selector), nil
}

// TypeTextInput is the type_text argument schema.
type TypeTextInput struct {
	Selector string `json:"selector" jsonschema:"required,CSS selector of the input field."`
	Text     string `json:"text" jsonschema:"required,Text to type."`
	Timeout  int    `json:"timeout,omitempty" jsonschema:"Action timeout in milliseconds."`
}

func (s *Server) typeText(ctx context.Context, in TypeTextInput) (*mcp.CallToolResult, error) {
	if in.Selector == "" {
		return nil, browser.NewError(browser.KindInvalidArgument, "selector is required")
	}
	timeout, err := timeoutArg(in.Timeout)
	if err != nil {
		return nil, err
	}

	// Empty text is legal: it still focuses the field and types nothing.
	if err := s.session.Type(ctx, in.Selector, in.Text, timeout); err != nil {
		return nil, err
	}
	return textResult("Typed text into: %s", in.Selector), nil
}

// FillFormInput is the fill_form argument schema.
type FillFormInput struct {
	Fields  []browser.FormField `json:"fields" jsonschema:"required,Fields to fill, applied in order."`
	Timeout int                 `json:"timeout,omitempty" jsonschema:"Per-field timeout in milliseconds."`
}

func (s *Server) fillForm(ctx context.Context, in FillFormInput) (*mcp.CallToolResult, error) {
	if len(in.Fields) == 0 {
		return nil, browser.NewError(browser.KindInvalidArgument, "fields is required and must not be empty")
	}

	timeout, err := timeoutArg(in.Timeout)
	if err != nil {
		return nil, err
	}

	applied, err := s.session.FillForm(ctx, in.Fields, timeout)
	if err != nil {
		return nil, err
	}
	return textResult("Applied %d form field(s)", applied), nil
}

// EvaluateJavascriptInput is the evaluate_javascript argument schema.
type EvaluateJavascriptInput struct {
	Script string `json:"script" jsonschema:"required,JavaScript to execute in the page context."`
}

func (s *Server) evaluateJavascript(ctx context.Context, in EvaluateJavascriptInput) (*mcp.CallToolResult, error) {
	if in.Script == "" {
		return nil, browser.NewError(browser.KindInvalidArgument, "script is required")
	}

	result, err := s.session.Evaluate(ctx, in.Script)
	if err != nil {
		return nil, err
	}

	switch v := result.(type) {
	case nil:
		return textResult("undefined"), nil
	case string:
		return textResult("%s", v), nil
	default:
		rendered, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return textResult("%v", result), nil
		}
		return textResult("%s", rendered), nil
	}
}

// GetConsoleLogsInput is the get_console_logs argument schema.
type GetConsoleLogsInput struct {
	Level string `json:"level,omitempty" jsonschema:"Only return records of this level: log, warn, error, or info."`
}

func (s *Server) getConsoleLogs(ctx context.Context, in GetConsoleLogsInput) (*mcp.CallToolResult, error) {
	if in.Level != "" && !slices.Contains(logLevelValues, in.Level) {
		return nil, browser.NewError(browser.KindInvalidArgument,
			"invalid level %q, must be: %s", in.Level, strings.Join(logLevelValues, ", "))
	}

	records, err := s.session.ConsoleLogs(in.Level)
	if err != nil {
		return nil, err
	}
	return jsonResult(records)
}

// GetNetworkRequestsInput is the get_network_requests argument schema.
type GetNetworkRequestsInput struct {
	Method     string `json:"method,omitempty" jsonschema:"Only return requests with this HTTP method (exact, case-insensitive)."`
	URLPattern string `json:"url_pattern,omitempty" jsonschema:"Only return requests whose URL contains this substring."`
}

func (s *Server) getNetworkRequests(ctx context.Context, in GetNetworkRequestsInput) (*mcp.CallToolResult, error) {
	records, err := s.session.NetworkRequests(in.Method, in.URLPattern)
	if err != nil {
		return nil, err
	}
	return jsonResult(records)
}

// GetPageMetricsInput is the get_page_metrics argument schema.
type GetPageMetricsInput struct{}

func (s *Server) getPageMetrics(ctx context.Context, _ GetPageMetricsInput) (*mcp.CallToolResult, error) {
	metrics, err := s.session.PageMetrics(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(metrics)
}

// TakeScreenshotInput is the take_screenshot argument schema.
type TakeScreenshotInput struct {
	FullPage bool   `json:"full_page,omitempty" jsonschema:"Capture the full scrollable page."`
	Selector string `json:"selector,omitempty" jsonschema:"Capture only the element matching this CSS selector."`
}

func (s *Server) takeScreenshot(ctx context.Context, in TakeScreenshotInput) (*mcp.CallToolResult, error) {
	data, err := s.session.Screenshot(ctx, in.FullPage, in.Selector)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.ImageContent{Data: data, MIMEType: "image/png"}},
	}, nil
}

// WaitForSelectorInput is the wait_for_selector argument schema.
type WaitForSelectorInput struct {
	Selector string `json:"selector" jsonschema:"required,CSS selector to wait for."`
	State    string `json:"state,omitempty" jsonschema:"Target state: visible (default), hidden, attached, or detached."`
	Timeout  int    `json:"timeout,omitempty" jsonschema:"Wait timeout in milliseconds."`
}

func (s *Server) waitForSelector(ctx context.Context, in WaitForSelectorInput) (*mcp.CallToolResult, error) {
	if in.Selector == "" {
		return nil, browser.NewError(browser.KindInvalidArgument, "selector is required")
	}
	if in.State != "" && !slices.Contains(waitStateValues, in.State) {
		return nil, browser.NewError(browser.KindInvalidArgument,
			"invalid state %q, must be: %s", in.State, strings.Join(waitStateValues, ", "))
	}

	timeout, err := timeoutArg(in.Timeout)
	if err != nil {
		return nil, err
	}

	state := in.State
	if state == "" {
		state = "visible"
	}

	if err := s.session.WaitForSelector(ctx, in.Selector, state, timeout); err != nil {
		return nil, err
	}
	return textResult("Element '%s' is %s", in.Selector, state), nil
}

// CheckElementStateInput is the check_element_state argument schema.
type CheckElementStateInput struct {
	Selector string   `json:"selector" jsonschema:"required,CSS selector of the element to check."`
	Checks   []string `json:"checks,omitempty" jsonschema:"Checks to evaluate: visible, enabled, disabled, checked, editable. Defaults to all."`
}

func (s *Server) checkElementState(ctx context.Context, in CheckElementStateInput) (*mcp.CallToolResult, error) {
	if in.Selector == "" {
		return nil, browser.NewError(browser.KindInvalidArgument, "selector is required")
	}

	checks := in.Checks
	if len(checks) == 0 {
		checks = elementChecks
	}
	for _, check := range checks {
		if !slices.Contains(elementChecks, check) {
			return nil, browser.NewError(browser.KindInvalidArgument,
				"invalid check %q, must be: %s", check, strings.Join(elementChecks, ", "))
		}
	}

	results, err := s.session.CheckElementState(ctx, in.Selector, checks)
	if err != nil {
		return nil, err
	}
	return jsonResult(results)
}

// GetLocalStorageInput is the get_local_storage argument schema.
type GetLocalStorageInput struct {
	Key string `json:"key,omitempty" jsonschema:"Only return the entry with this key."`
}

func (s *Server) getLocalStorage(ctx context.Context, in GetLocalStorageInput) (*mcp.CallToolResult, error) {
	values, err := s.session.LocalStorage(ctx, in.Key)
	if err != nil {
		return nil, err
	}
	return jsonResult(values)
}

// GetCookiesInput is the get_cookies argument schema.
type GetCookiesInput struct {
	Name string `json:"name,omitempty" jsonschema:"Only return the cookie with this name."`
}

func (s *Server) getCookies(ctx context.Context, in GetCookiesInput) (*mcp.CallToolResult, error) {
	cookies, err := s.session.Cookies(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	return jsonResult(cookies)
}

// GetPageContentInput is the get_page_content argument schema.
type GetPageContentInput struct {
	Selector string `json:"selector,omitempty" jsonschema:"Only return the outer HTML of the element matching this CSS selector."`
}

func (s *Server) getPageContent(ctx context.Context, in GetPageContentInput) (*mcp.CallToolResult, error) {
	content, err := s.session.PageContent(ctx, in.Selector)
	if err != nil {
		return nil, err
	}
	return textResult("%s", content), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	rendered, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render result: %w", err)
	}
	return textResult("%s", rendered), nil
}

// timeoutArg converts a millisecond timeout argument; zero means "use
// the configured default" and negatives are rejected before they reach
// an engine.
func timeoutArg(ms int) (time.Duration, error) {
	if ms < 0 {
		return 0, browser.NewError(browser.KindInvalidArgument, "timeout must be non-negative, got %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
