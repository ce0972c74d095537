package turnstile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sifan077/TempLink/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func siteverify(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifier_Success(t *testing.T) {
	srv := siteverify(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "shh", r.PostForm.Get("secret"))
		assert.Equal(t, "tok", r.PostForm.Get("response"))
		assert.Equal(t, "198.51.100.1", r.PostForm.Get("remoteip"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	v := NewVerifier(config.CaptchaConfig{Secret: "shh", VerifyURL: srv.URL, Timeout: time.Second})
	ok, err := v.Verify(context.Background(), "tok", "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifier_Rejected(t *testing.T) {
	srv := siteverify(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	})

	v := NewVerifier(config.CaptchaConfig{Secret: "shh", VerifyURL: srv.URL})
	ok, err := v.Verify(context.Background(), "tok", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifier_ProviderError(t *testing.T) {
	srv := siteverify(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	v := NewVerifier(config.CaptchaConfig{Secret: "shh", VerifyURL: srv.URL})
	ok, err := v.Verify(context.Background(), "tok", "")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestVerifier_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := siteverify(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	v := NewVerifier(config.CaptchaConfig{Secret: "shh", VerifyURL: srv.URL, Timeout: 50 * time.Millisecond})
	ok, err := v.Verify(context.Background(), "tok", "")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestVerifier_MissingSecret(t *testing.T) {
	v := NewVerifier(config.CaptchaConfig{})
	ok, err := v.Verify(context.Background(), "tok", "")
	assert.ErrorIs(t, err, ErrMissingSecret)
	assert.False(t, ok)
}
