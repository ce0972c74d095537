package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sifan077/TempLink/config"
	"github.com/sifan077/TempLink/internal/app/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu       sync.Mutex
	contents []string
}

func (c *capture) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		c.mu.Lock()
		c.contents = append(c.contents, payload.Content)
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.contents...)
}

func TestNotifier_DeliversPerCategory(t *testing.T) {
	created, expired := &capture{}, &capture{}
	createdSrv := created.server(t, http.StatusNoContent)
	expiredSrv := expired.server(t, http.StatusNoContent)

	n := New(config.NotifyConfig{
		Enabled:           true,
		CreationWebhook:   createdSrv.URL,
		ExpirationWebhook: expiredSrv.URL,
		Timeout:           time.Second,
	}, nil)

	n.Notify(service.CategoryCreation, "new link")
	n.Notify(service.CategoryExpiration, "gone")
	n.Close()

	assert.Equal(t, []string{"new link"}, created.all())
	assert.Equal(t, []string{"gone"}, expired.all())
}

func TestNotifier_MissingTargetIsNoop(t *testing.T) {
	created := &capture{}
	srv := created.server(t, http.StatusOK)

	n := New(config.NotifyConfig{UseWebhook: "Yes", CreationWebhook: srv.URL}, nil)
	n.Notify(service.CategoryExpiration, "nobody listens")
	n.Notify(service.CategoryCreation, "hello")
	n.Close()

	assert.Equal(t, []string{"hello"}, created.all())
}

func TestNotifier_Disabled(t *testing.T) {
	created := &capture{}
	srv := created.server(t, http.StatusOK)

	n := New(config.NotifyConfig{UseWebhook: "No", CreationWebhook: srv.URL}, nil)
	n.Notify(service.CategoryCreation, "hello")
	n.Close()

	assert.Empty(t, created.all())
}

func TestNotifier_FailureIsSwallowed(t *testing.T) {
	created := &capture{}
	srv := created.server(t, http.StatusInternalServerError)

	n := New(config.NotifyConfig{Enabled: true, CreationWebhook: srv.URL}, nil)
	n.Notify(service.CategoryCreation, "hello")
	n.Close()

	assert.Len(t, created.all(), 1)
}

func TestNotifier_NotifyAfterClose(t *testing.T) {
	created := &capture{}
	srv := created.server(t, http.StatusOK)

	n := New(config.NotifyConfig{Enabled: true, CreationWebhook: srv.URL}, nil)
	n.Close()
	n.Notify(service.CategoryCreation, "late")

	assert.Empty(t, created.all())
}

func TestSplitContent(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitContent("short", 10))

	chunks := splitContent("aaaa\nbbbb\ncccc\n", 10)
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc\n"}, chunks)

	long := strings.Repeat("x", 25)
	chunks = splitContent(long, 10)
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)
}

func TestSplitContent_KeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("é", 7) // 14 bytes, no newline

	chunks := splitContent(long, 5)
	require.NotEmpty(t, chunks)
	assert.Equal(t, long, strings.Join(chunks, ""))
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk), "chunk %q splits a rune", chunk)
		assert.LessOrEqual(t, len(chunk), 5)
	}
}
