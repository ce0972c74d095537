package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/TempLink/config"
	"github.com/sifan077/TempLink/internal/app/repository"
	"github.com/sifan077/TempLink/internal/app/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	links, err := repository.NewFileLinkRepository(t.TempDir(), repository.WithBcryptCost(4))
	require.NoError(t, err)

	cfg := &config.Config{
		Server:   config.ServerConfig{ClientIPHeader: "Cf-Connecting-Ip"},
		Disguise: config.DisguiseConfig{Domain: "proxy.example.net", IdentifierLength: 7},
		Forward:  config.ForwardConfig{Timeout: time.Second},
	}

	return New(Dependencies{
		Config: cfg,
		Links:  links,
		LinkService: service.NewLinkService(service.LinkServiceDeps{
			Links:          links,
			Gate:           service.NewAdmissionGate(nil, time.Second),
			DisguiseDomain: cfg.Disguise.Domain,
		}),
		Forwarder: service.NewForwarder(service.ForwarderConfig{
			Timeout:        time.Second,
			DisguiseDomain: cfg.Disguise.Domain,
		}, nil),
	})
}

func TestServer_Routes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		host   string
		path   string
		status int
	}{
		{name: "health", method: fiber.MethodGet, host: "localhost", path: "/health", status: fiber.StatusOK},
		{name: "cors preflight", method: fiber.MethodOptions, host: "localhost", path: "/api/links", status: fiber.StatusNoContent},
		{name: "unknown path", method: fiber.MethodGet, host: "localhost", path: "/nothing", status: fiber.StatusForbidden},
		{name: "unknown identifier", method: fiber.MethodGet, host: "abcdefg.proxy.example.net", path: "/", status: fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Host = tt.host

			resp, err := srv.App().Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServer_CreateWithoutVerifierFailsClosed(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(fiber.MethodPost, "/api/links",
		strings.NewReader(`{"domain":"example.com","ip":"203.0.113.7","protocol":"https","turnstileToken":"t"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
