package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LinkTTL is the fixed lifetime of every issued link.
const LinkTTL = 24 * time.Hour

const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
)

// Credentials protect a link with HTTP basic auth.
type Credentials struct {
	Username string
	Password string
}

// Link describes one issued disguise link and the origin it routes to.
type Link struct {
	Identifier       string       `toml:"identifier"`
	Domain           string       `toml:"domain"`
	Address          string       `toml:"address"`
	Protocol         string       `toml:"protocol"`
	Port             int          `toml:"port,omitempty"`
	DisableInjection bool         `toml:"disable_injection"`
	Protected        bool         `toml:"protected"`
	CreatedAt        time.Time    `toml:"created_at"`
	ExpiresAt        time.Time    `toml:"expires_at"`
	Credentials      *Credentials `toml:"-"`
}

// NewLink stamps the creation and expiration times of a link.
func NewLink(identifier string, draft Link, now time.Time) Link {
	draft.Identifier = identifier
	draft.CreatedAt = now.UTC()
	draft.ExpiresAt = draft.CreatedAt.Add(LinkTTL)
	draft.Protected = draft.Credentials != nil
	return draft
}

// Host returns the externally visible disguise hostname.
func (l Link) Host(disguiseDomain string) string {
	return l.Identifier + "." + disguiseDomain
}

// Expired reports whether the link is past its expiration at now.
func (l Link) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Route extracts the per-request routing context of the link.
func (l Link) Route() Route {
	return Route{
		Identifier:       l.Identifier,
		Domain:           l.Domain,
		Address:          l.Address,
		Protocol:         l.Protocol,
		Port:             l.Port,
		DisableInjection: l.DisableInjection,
		Protected:        l.Protected,
		ExpiresAt:        l.ExpiresAt,
	}
}

// Route is everything the forwarder needs to relay one request.
type Route struct {
	Identifier       string    `json:"id"`
	Domain           string    `json:"domain"`
	Address          string    `json:"address"`
	Protocol         string    `json:"protocol"`
	Port             int       `json:"port,omitempty"`
	DisableInjection bool      `json:"disable_injection,omitempty"`
	Protected        bool      `json:"protected,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// OriginURL builds the scheme://address[:port] prefix of the origin.
func (r Route) OriginURL() string {
	host := r.Address
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if r.Port > 0 {
		host = host + ":" + strconv.Itoa(r.Port)
	}
	return fmt.Sprintf("%s://%s", r.Protocol, host)
}
