package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytesExpandsEnv(t *testing.T) {
	t.Setenv("WEBPROBE_ENGINE", "cdp")

	c, err := LoadFromBytes([]byte("engine: ${WEBPROBE_ENGINE}\nheadless: false\n"))
	require.NoError(t, err)
	assert.Equal(t, "cdp", c.Engine)
	assert.False(t, c.Headless)
}

func TestLoadFromBytesRejectsGarbage(t *testing.T) {
	_, err := LoadFromBytes([]byte("engine: [unclosed"))
	require.Error(t, err)
}

func TestResolveAppliesDefaults(t *testing.T) {
	r, err := Config{}.Resolve()
	require.NoError(t, err)

	assert.Equal(t, EnginePlaywright, r.Engine)
	assert.Equal(t, DefaultViewportWidth, r.ViewportWidth)
	assert.Equal(t, DefaultViewportHeight, r.ViewportHeight)
	assert.Equal(t, 30*time.Second, r.DefaultTimeout)
	assert.Equal(t, DefaultLogCap, r.LogCap)
}

func TestResolveKeepsExplicitValues(t *testing.T) {
	r, err := Config{
		Engine:           EngineCDP,
		ViewportWidth:    1920,
		ViewportHeight:   1080,
		DefaultTimeoutMS: 5000,
		LogCap:           50,
		HTTPAddr:         ":9280",
	}.Resolve()
	require.NoError(t, err)

	assert.Equal(t, EngineCDP, r.Engine)
	assert.Equal(t, 1920, r.ViewportWidth)
	assert.Equal(t, 1080, r.ViewportHeight)
	assert.Equal(t, 5*time.Second, r.DefaultTimeout)
	assert.Equal(t, 50, r.LogCap)
	assert.Equal(t, ":9280", r.HTTPAddr)
}

func TestResolveRejectsUnknownEngine(t *testing.T) {
	_, err := Config{Engine: "selenium"}.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine")
}
