package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sifan077/TempLink/internal/app/model"
	"github.com/sifan077/TempLink/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) repository.LinkRepository {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(t.TempDir())
	t.Setenv("DOMAIN", "proxy.example.net")
	t.Setenv("STORAGE_DIR", dir)
	t.Setenv("LOG_LEVEL", "error")

	links, err := repository.NewFileLinkRepository(dir, repository.WithBcryptCost(4))
	require.NoError(t, err)
	return links
}

func seedLink(t *testing.T, links repository.LinkRepository, id string, createdAt time.Time) {
	t.Helper()
	link := model.NewLink(id, model.Link{
		Domain:   "intranet.example.com",
		Address:  "10.0.0.5",
		Protocol: model.ProtocolHTTPS,
	}, createdAt)
	require.NoError(t, links.Create(context.Background(), &link))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLinksList(t *testing.T) {
	links := setupRegistry(t)
	seedLink(t, links, "abc1234", time.Now())

	out, err := run(t, "links", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "abc1234.proxy.example.net")
	assert.Contains(t, out, "https://10.0.0.5")
}

func TestSweep_RetiresExpired(t *testing.T) {
	links := setupRegistry(t)
	seedLink(t, links, "old0001", time.Now().Add(-25*time.Hour))
	seedLink(t, links, "new0001", time.Now())

	out, err := run(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "Scanned 2, retired 1, failed 0")

	exists, err := links.Exists(context.Background(), "old0001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLinksRevoke(t *testing.T) {
	links := setupRegistry(t)
	seedLink(t, links, "rev0001", time.Now())

	out, err := run(t, "links", "revoke", "rev0001")
	require.NoError(t, err)
	assert.Contains(t, out, "Revoked rev0001")

	_, err = run(t, "links", "revoke", "rev0001")
	assert.ErrorContains(t, err, "no active link")
}

func TestLinksRoute_RequiresSecret(t *testing.T) {
	setupRegistry(t)

	_, err := run(t, "links", "route", "abc1234")
	assert.ErrorContains(t, err, "route_secret")
}
