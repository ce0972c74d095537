package view

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBanner(t *testing.T) {
	expires := time.Date(2026, 10, 20, 8, 30, 0, 0, time.UTC)
	out, err := RenderBanner(BannerData{Domain: "example.com", Address: "10.0.0.5", ExpiresAt: expires})
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, "https://example.com")
	assert.Contains(t, html, "10.0.0.5")
	assert.Contains(t, html, "2026-10-20T08:30:00Z")
	assert.NotContains(t, html, "</head>")
}

func TestRenderBanner_EscapesFields(t *testing.T) {
	out, err := RenderBanner(BannerData{Domain: `x"><script>alert(1)</script>`, Address: "<b>", ExpiresAt: time.Now()})
	require.NoError(t, err)

	html := string(out)
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.False(t, strings.Contains(html, "<b>"))
}
