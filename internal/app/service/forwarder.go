package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sifan077/TempLink/internal/app/model"
	"github.com/sifan077/TempLink/internal/http/view"
	metrics "github.com/sifan077/TempLink/internal/infra/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var (
	// ErrOriginUnreachable covers every failure to obtain a response from the origin.
	ErrOriginUnreachable = errors.New("origin unreachable")
	// ErrOriginTimeout is joined with ErrOriginUnreachable when the deadline passed.
	ErrOriginTimeout = errors.New("origin timed out")
)

const (
	// The inbound fasthttp context carries no client-disconnect signal, so
	// this timeout is what bounds an abandoned forward.
	DefaultForwardTimeout = 15 * time.Second
	defaultUserAgent      = "Mozilla/5.0 (compatible; TempLink)"
)

var forwardedHeaders = []string{
	fasthttp.HeaderAccept,
	fasthttp.HeaderAcceptLanguage,
	fasthttp.HeaderContentType,
	fasthttp.HeaderCookie,
	fasthttp.HeaderCacheControl,
	fasthttp.HeaderIfNoneMatch,
	fasthttp.HeaderIfModifiedSince,
	fasthttp.HeaderRange,
}

var closeHead = []byte("</head>")

// ForwarderConfig carries the forwarding policy.
type ForwarderConfig struct {
	Timeout time.Duration
	// InsecureSkipVerify disables certificate checks toward origins.
	InsecureSkipVerify bool
	MaxBodyBytes       int
	DisguiseDomain     string
	AbuseContact       string
}

// ForwardResult is the relayed origin response.
type ForwardResult struct {
	StatusCode      int
	ContentType     string
	ContentEncoding string
	Location        string
	SetCookies      []string
	Body            []byte
	Injected        bool
}

// Forwarder relays requests to the origin address of a route.
type Forwarder struct {
	client *fasthttp.Client
	cfg    ForwarderConfig
	logger *zap.Logger
}

// NewForwarder returns a forwarder with its own outbound connection pool.
func NewForwarder(cfg ForwarderConfig, logger *zap.Logger) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultForwardTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("origin TLS certificates are not verified", zap.String("policy", "forward.insecure_skip_verify"))
	}

	client := &fasthttp.Client{
		Name:                     defaultUserAgent,
		NoDefaultUserAgentHeader: true,
		DisablePathNormalizing:   true,
		ReadTimeout:              cfg.Timeout,
		WriteTimeout:             cfg.Timeout,
		MaxIdleConnDuration:      30 * time.Second,
		MaxResponseBodySize:      cfg.MaxBodyBytes,
		TLSConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // origins are addressed by IP
		},
	}
	return &Forwarder{client: client, cfg: cfg, logger: logger}
}

// Forward sends in to the origin of route and returns the relayed response.
// Failures are never retried.
func (f *Forwarder) Forward(ctx context.Context, route model.Route, in *fasthttp.Request, clientIP string) (*ForwardResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(route.OriginURL() + string(in.URI().RequestURI()))
	req.Header.SetMethodBytes(in.Header.Method())
	req.UseHostHeader = true
	req.Header.SetHost(route.Domain)

	for _, name := range forwardedHeaders {
		if v := in.Header.Peek(name); len(v) > 0 {
			req.Header.SetBytesV(name, v)
		}
	}
	req.Header.Set(fasthttp.HeaderXForwardedFor, forwardedFor(in, clientIP))
	if clientIP != "" {
		req.Header.Set("X-Real-IP", clientIP)
	}
	req.Header.Set(fasthttp.HeaderContentSecurityPolicy, "upgrade-insecure-requests")
	req.Header.SetUserAgent(f.userAgent(in, route))
	if body := in.Body(); len(body) > 0 {
		req.SetBodyRaw(body)
	}

	if err := f.client.DoDeadline(req, resp, f.deadline(ctx)); err != nil {
		return nil, f.classify(route, err)
	}

	result := &ForwardResult{
		StatusCode:      resp.StatusCode(),
		ContentType:     string(resp.Header.ContentType()),
		ContentEncoding: string(resp.Header.ContentEncoding()),
		Body:            append([]byte(nil), resp.Body()...),
	}
	if loc := resp.Header.Peek(fasthttp.HeaderLocation); len(loc) > 0 {
		result.Location = rewriteLocation(string(loc), route)
	}
	resp.Header.VisitAllCookie(func(_, value []byte) {
		result.SetCookies = append(result.SetCookies, string(value))
	})

	if f.shouldInject(route, result) {
		banner, err := view.RenderBanner(view.BannerData{
			Domain:    route.Domain,
			Address:   route.Address,
			ExpiresAt: route.ExpiresAt,
		})
		if err != nil {
			f.logger.Error("failed to render banner", zap.String("identifier", route.Identifier), zap.Error(err))
		} else {
			result.Body, result.Injected = InjectBanner(result.Body, banner)
		}
	}

	metrics.ForwardRequests.WithLabelValues("ok").Inc()
	return result, nil
}

// CanonicalDomain asks the origin of draft once whether it redirects the
// domain to its www. form and returns the form to store. Any failure keeps
// the requested domain.
func (f *Forwarder) CanonicalDomain(ctx context.Context, draft model.Link) string {
	domain := draft.Domain
	if strings.HasPrefix(domain, "www.") {
		return domain
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(draft.Route().OriginURL() + "/")
	req.UseHostHeader = true
	req.Header.SetHost(domain)
	req.Header.SetUserAgent(defaultUserAgent)
	resp.SkipBody = true

	if err := f.client.DoDeadline(req, resp, f.deadline(ctx)); err != nil {
		f.logger.Debug("www probe failed", zap.String("domain", domain), zap.Error(err))
		return domain
	}
	if !fasthttp.StatusCodeIsRedirect(resp.StatusCode()) {
		return domain
	}

	loc, err := url.Parse(string(resp.Header.Peek(fasthttp.HeaderLocation)))
	if err != nil {
		return domain
	}
	if www := "www." + domain; strings.EqualFold(loc.Hostname(), www) {
		return www
	}
	return domain
}

func (f *Forwarder) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(f.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func (f *Forwarder) classify(route model.Route, err error) error {
	f.logger.Warn("origin request failed",
		zap.String("identifier", route.Identifier),
		zap.String("origin", route.OriginURL()),
		zap.Error(err),
	)
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
		metrics.ForwardRequests.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: %w: %v", ErrOriginUnreachable, ErrOriginTimeout, err)
	}
	metrics.ForwardRequests.WithLabelValues("unreachable").Inc()
	return fmt.Errorf("%w: %v", ErrOriginUnreachable, err)
}

func (f *Forwarder) shouldInject(route model.Route, result *ForwardResult) bool {
	if route.DisableInjection || result.ContentEncoding != "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(result.ContentType)), "text/html")
}

func (f *Forwarder) userAgent(in *fasthttp.Request, route model.Route) string {
	ua := string(in.Header.UserAgent())
	if ua == "" {
		ua = defaultUserAgent
	}
	var b strings.Builder
	b.WriteString(ua)
	b.WriteString(" | proxied through temporary link ")
	b.WriteString(route.Identifier)
	if f.cfg.DisguiseDomain != "" {
		b.WriteString(".")
		b.WriteString(f.cfg.DisguiseDomain)
	}
	if ref := in.Header.Referer(); len(ref) > 0 {
		b.WriteString(" | referer ")
		b.Write(ref)
	}
	if f.cfg.AbuseContact != "" {
		b.WriteString(" | report abuse at ")
		b.WriteString(f.cfg.AbuseContact)
	}
	return b.String()
}

// InjectBanner inserts banner before the first </head>. Bodies without one
// are returned unchanged.
func InjectBanner(body, banner []byte) ([]byte, bool) {
	idx := bytes.Index(body, closeHead)
	if idx < 0 {
		return body, false
	}
	out := make([]byte, 0, len(body)+len(banner)+1)
	out = append(out, body[:idx]...)
	out = append(out, banner...)
	out = append(out, '\n')
	out = append(out, body[idx:]...)
	return out, true
}

func forwardedFor(in *fasthttp.Request, clientIP string) string {
	prior := strings.TrimSpace(string(in.Header.Peek(fasthttp.HeaderXForwardedFor)))
	switch {
	case prior == "":
		return clientIP
	case clientIP == "":
		return prior
	default:
		return prior + ", " + clientIP
	}
}

// rewriteLocation turns redirects back to the emulated domain into relative
// paths so the browser stays on the disguise host.
func rewriteLocation(location string, route model.Route) string {
	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() {
		return location
	}
	host := u.Hostname()
	if !strings.EqualFold(host, route.Domain) && host != route.Address {
		return location
	}
	rel := u.EscapedPath()
	if rel == "" {
		rel = "/"
	}
	if u.RawQuery != "" {
		rel += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		rel += "#" + u.EscapedFragment()
	}
	return rel
}
