package mcp

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probekit/webprobe/internal/browser"
	"github.com/probekit/webprobe/internal/engine"
)

func newTestServer() *Server {
	session := browser.NewSession(&engine.PlaywrightEngine{}, engine.Config{}, 0)
	return NewServer(session)
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

// call runs a tool function through the dispatch wrapper the way the
// transport would.
func call[In any](t *testing.T, s *Server, name string, fn func(context.Context, In) (*mcp.CallToolResult, error), in In) *mcp.CallToolResult {
	t.Helper()
	res, _, err := handler(s, name, fn)(context.Background(), nil, in)
	require.NoError(t, err, "no failure may escape to the transport")
	require.NotNil(t, res)
	return res
}

func TestDispatchShapesClassifiedErrors(t *testing.T) {
	s := newTestServer()

	res := call(t, s, "click_element", s.clickElement, ClickElementInput{Selector: "#btn"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "NotLaunchedError:")
}

func TestDispatchRecoversPanics(t *testing.T) {
	s := newTestServer()

	boom := func(context.Context, CloseBrowserInput) (*mcp.CallToolResult, error) {
		panic("unexpected nil")
	}
	res := call(t, s, "close_browser", boom, CloseBrowserInput{})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "EngineError:")
	assert.Contains(t, resultText(t, res), "unexpected nil")
}

func TestArgumentValidationPrecedesSession(t *testing.T) {
	// Every case runs against an unlaunched session: an invalid argument
	// must be reported as such, never as NotLaunchedError.
	s := newTestServer()

	cases := []struct {
		name string
		run  func() *mcp.CallToolResult
	}{
		{"navigate missing url", func() *mcp.CallToolResult {
			return call(t, s, "navigate_to", s.navigateTo, NavigateToInput{})
		}},
		{"navigate bad wait_until", func() *mcp.CallToolResult {
			return call(t, s, "navigate_to", s.navigateTo, NavigateToInput{URL: "https://example.com", WaitUntil: "eventually"})
		}},
		{"click missing selector", func() *mcp.CallToolResult {
			return call(t, s, "click_element", s.clickElement, ClickElementInput{})
		}},
		{"type missing selector", func() *mcp.CallToolResult {
			return call(t, s, "type_text", s.typeText, TypeTextInput{Text: "hi"})
		}},
		{"navigate negative timeout", func() *mcp.CallToolResult {
			return call(t, s, "navigate_to", s.navigateTo, NavigateToInput{URL: "https://example.com", Timeout: -1})
		}},
		{"click negative timeout", func() *mcp.CallToolResult {
			return call(t, s, "click_element", s.clickElement, ClickElementInput{Selector: "#btn", Timeout: -500})
		}},
		{"wait negative timeout", func() *mcp.CallToolResult {
			return call(t, s, "wait_for_selector", s.waitForSelector, WaitForSelectorInput{Selector: "#x", Timeout: -1})
		}},
		{"fill_form negative timeout", func() *mcp.CallToolResult {
			return call(t, s, "fill_form", s.fillForm, FillFormInput{
				Fields:  []browser.FormField{{Selector: "#a", Value: "1"}},
				Timeout: -1,
			})
		}},
		{"fill_form empty fields", func() *mcp.CallToolResult {
			return call(t, s, "fill_form", s.fillForm, FillFormInput{})
		}},
		{"evaluate missing script", func() *mcp.CallToolResult {
			return call(t, s, "evaluate_javascript", s.evaluateJavascript, EvaluateJavascriptInput{})
		}},
		{"console bad level", func() *mcp.CallToolResult {
			return call(t, s, "get_console_logs", s.getConsoleLogs, GetConsoleLogsInput{Level: "verbose"})
		}},
		{"wait bad state", func() *mcp.CallToolResult {
			return call(t, s, "wait_for_selector", s.waitForSelector, WaitForSelectorInput{Selector: "#x", State: "gone"})
		}},
		{"check bad check", func() *mcp.CallToolResult {
			return call(t, s, "check_element_state", s.checkElementState, CheckElementStateInput{Selector: "#x", Checks: []string{"glowing"}})
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := tc.run()
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), "InvalidArgumentError:")
		})
	}
}

func TestTypeTextAcceptsEmptyString(t *testing.T) {
	// Typing an empty string is a legal engine call; it must clear
	// validation and reach the session, which reports the unlaunched
	// state rather than a bad argument.
	s := newTestServer()

	res := call(t, s, "type_text", s.typeText, TypeTextInput{Selector: "#q", Text: ""})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "NotLaunchedError:")
}

func TestCloseBrowserIdempotentThroughDispatch(t *testing.T) {
	s := newTestServer()

	res := call(t, s, "close_browser", s.closeBrowser, CloseBrowserInput{})
	assert.False(t, res.IsError)
	assert.Equal(t, "Browser closed", resultText(t, res))
}

func TestConsoleAndNetworkRequireLaunch(t *testing.T) {
	s := newTestServer()

	res := call(t, s, "get_console_logs", s.getConsoleLogs, GetConsoleLogsInput{})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "NotLaunchedError:")

	res = call(t, s, "get_network_requests", s.getNetworkRequests, GetNetworkRequestsInput{Method: "GET"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "NotLaunchedError:")
}
