package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/TempLink/internal/app/model"
	"github.com/sifan077/TempLink/internal/app/repository"
	"github.com/sifan077/TempLink/internal/app/service"
	"github.com/sifan077/TempLink/internal/http/util"
	metrics "github.com/sifan077/TempLink/internal/infra/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const basicRealm = `Basic realm="TempLink", charset="UTF-8"`

// ForwardDeps groups dependencies required by the forwarding handler.
type ForwardDeps struct {
	Logger         *zap.Logger
	Links          repository.LinkRepository
	Forwarder      *service.Forwarder
	Signer         *util.RouteSigner
	DisguiseDomain string
	ClientIPHeader string
	Now            func() time.Time
}

// ForwardHandler relays requests addressed to a disguise host to its origin.
type ForwardHandler struct {
	logger         *zap.Logger
	links          repository.LinkRepository
	forwarder      *service.Forwarder
	signer         *util.RouteSigner
	disguiseDomain string
	clientIPHeader string
	now            func() time.Time
}

// NewForwardHandler creates a forwarding handler with the provided dependencies.
func NewForwardHandler(deps ForwardDeps) *ForwardHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &ForwardHandler{
		logger:         logger,
		links:          deps.Links,
		forwarder:      deps.Forwarder,
		signer:         deps.Signer,
		disguiseDomain: strings.ToLower(deps.DisguiseDomain),
		clientIPHeader: deps.ClientIPHeader,
		now:            now,
	}
}

// Register installs the handler ahead of every route so disguise hosts
// never reach the API.
func (h *ForwardHandler) Register(router fiber.Router) {
	router.Use(h.Forward)
}

// Forward serves any request carrying a routing context and passes the rest on.
func (h *ForwardHandler) Forward(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	route, status := h.resolve(ctx, c)
	switch status {
	case 0:
		return c.Next()
	case fiber.StatusOK:
	default:
		metrics.ForwardRequests.WithLabelValues(forwardOutcome(status)).Inc()
		return c.Status(status).SendString(statusText(status))
	}

	if route.Protected && !h.authorized(ctx, c, route.Identifier) {
		metrics.ForwardRequests.WithLabelValues("unauthorized").Inc()
		c.Set(fiber.HeaderWWWAuthenticate, basicRealm)
		return c.Status(fiber.StatusUnauthorized).SendString(statusText(fiber.StatusUnauthorized))
	}

	res, err := h.forwarder.Forward(ctx, route, c.Request(), util.ClientIP(c, h.clientIPHeader))
	if err != nil {
		status := fiber.StatusBadGateway
		if errors.Is(err, service.ErrOriginTimeout) {
			status = fiber.StatusGatewayTimeout
		}
		return c.Status(status).SendString(statusText(status))
	}

	c.Status(res.StatusCode)
	if res.ContentType != "" {
		c.Set(fiber.HeaderContentType, res.ContentType)
	}
	if res.ContentEncoding != "" {
		c.Set(fiber.HeaderContentEncoding, res.ContentEncoding)
	}
	if res.Location != "" {
		c.Set(fiber.HeaderLocation, res.Location)
	}
	for _, cookie := range res.SetCookies {
		c.Response().Header.Add(fiber.HeaderSetCookie, cookie)
	}
	return c.Send(res.Body)
}

// resolve returns the route of the request and 200, a terminal status, or 0
// when the request is not addressed to a disguise link.
func (h *ForwardHandler) resolve(ctx context.Context, c *fiber.Ctx) (model.Route, int) {
	if token := c.Get(util.RouteHeader); token != "" {
		return h.resolveToken(token)
	}

	id, ok := h.identifierFromHost(c.Hostname())
	if !ok {
		return model.Route{}, 0
	}

	link, err := h.links.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrLinkNotFound) {
			h.logger.Error("failed to load link", zap.String("identifier", id), zap.Error(err))
			return model.Route{}, fiber.StatusInternalServerError
		}
		return model.Route{}, fiber.StatusForbidden
	}
	if link.Expired(h.now()) {
		return model.Route{}, fiber.StatusGone
	}
	return link.Route(), fiber.StatusOK
}

func (h *ForwardHandler) resolveToken(token string) (model.Route, int) {
	if h.signer == nil {
		return model.Route{}, fiber.StatusForbidden
	}
	route, err := h.signer.Verify(token)
	switch {
	case err == nil:
		return route, fiber.StatusOK
	case errors.Is(err, util.ErrExpiredToken):
		return model.Route{}, fiber.StatusGone
	default:
		h.logger.Warn("rejected route token", zap.Error(err))
		return model.Route{}, fiber.StatusForbidden
	}
}

// identifierFromHost extracts <id> from <id>.<disguise domain>.
func (h *ForwardHandler) identifierFromHost(host string) (string, bool) {
	if h.disguiseDomain == "" {
		return "", false
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		host = hostOnly
	}
	id, found := strings.CutSuffix(host, "."+h.disguiseDomain)
	if !found || id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

func (h *ForwardHandler) authorized(ctx context.Context, c *fiber.Ctx, identifier string) bool {
	user, password, ok := basicAuth(c.Request())
	if !ok {
		return false
	}
	valid, err := h.links.Authenticate(ctx, identifier, user, password)
	if err != nil {
		h.logger.Error("failed to check credentials", zap.String("identifier", identifier), zap.Error(err))
		return false
	}
	return valid
}

func basicAuth(req *fasthttp.Request) (string, string, bool) {
	auth := string(req.Header.Peek(fasthttp.HeaderAuthorization))
	scheme, encoded, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(decoded), ":")
}

func forwardOutcome(status int) string {
	switch status {
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusGone:
		return "expired"
	default:
		return "error"
	}
}

func statusText(status int) string {
	return fasthttp.StatusMessage(status)
}
