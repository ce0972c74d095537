package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/TempLink/internal/app/model"
	"github.com/sifan077/TempLink/internal/app/service"
	"github.com/sifan077/TempLink/internal/http/middleware"
	"github.com/sifan077/TempLink/internal/http/util"
	metrics "github.com/sifan077/TempLink/internal/infra/prometheus"
	"go.uber.org/zap"
)

// LinkDeps groups dependencies required by the creation handlers.
type LinkDeps struct {
	Logger         *zap.Logger
	LinkService    service.LinkService
	DisguiseDomain string
	ClientIPHeader string
	// RateLimit guards the creation endpoints when set.
	RateLimit fiber.Handler
}

// LinkHandler implements the link creation endpoints.
type LinkHandler struct {
	logger         *zap.Logger
	linkService    service.LinkService
	disguiseDomain string
	clientIPHeader string
	rateLimit      fiber.Handler
}

// NewLinkHandler creates a link handler with the provided dependencies.
func NewLinkHandler(deps LinkDeps) *LinkHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkHandler{
		logger:         logger,
		linkService:    deps.LinkService,
		disguiseDomain: deps.DisguiseDomain,
		clientIPHeader: deps.ClientIPHeader,
		rateLimit:      deps.RateLimit,
	}
}

// Register wires creation routes, legacy paths included, onto the router.
func (h *LinkHandler) Register(router fiber.Router) {
	chain := func(final fiber.Handler) []fiber.Handler {
		handlers := []fiber.Handler{middleware.CORS()}
		if h.rateLimit != nil {
			handlers = append(handlers, h.rateLimit)
		}
		return append(handlers, final)
	}

	for _, path := range []string{"/bypassdns/createlink", "/api/links"} {
		router.Options(path, middleware.CORS())
		router.Post(path, chain(h.CreateLink)...)
	}
	for _, path := range []string{"/bypassdns/createbatchlink", "/api/links/batch"} {
		router.Options(path, middleware.CORS())
		router.Post(path, chain(h.CreateBatch)...)
	}
}

// CreateLinkResponse is the result of one creation. Link is null on failure.
type CreateLinkResponse struct {
	Created   int        `json:"created"`
	Link      *string    `json:"link"`
	Msg       string     `json:"msg"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// BatchEntryResponse echoes one batch entry next to its result. Passwords are never echoed.
type BatchEntryResponse struct {
	CreateLinkResponse
	Domain   string `json:"domain"`
	IP       string `json:"ip"`
	Protocol string `json:"protocol"`
	Port     *int   `json:"port"`
	Username string `json:"username,omitempty"`
}

// CreateLink handles POST /bypassdns/createlink and POST /api/links
func (h *LinkHandler) CreateLink(c *fiber.Ctx) error {
	link, err := h.linkService.CreateLink(h.ctx(c), c.Body(), util.ClientIP(c, h.clientIPHeader))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(h.success(*link))
}

// CreateBatch handles POST /bypassdns/createbatchlink and POST /api/links/batch
func (h *LinkHandler) CreateBatch(c *fiber.Ctx) error {
	links, err := h.linkService.CreateBatch(h.ctx(c), c.Body(), util.ClientIP(c, h.clientIPHeader))
	if err != nil {
		return h.fail(c, err)
	}

	response := make([]BatchEntryResponse, len(links))
	for i, link := range links {
		entry := BatchEntryResponse{
			CreateLinkResponse: h.success(link),
			Domain:             link.Domain,
			IP:                 link.Address,
			Protocol:           link.Protocol,
		}
		if link.Port > 0 {
			port := link.Port
			entry.Port = &port
		}
		if link.Credentials != nil {
			entry.Username = link.Credentials.Username
		}
		response[i] = entry
	}
	return c.JSON(response)
}

func (h *LinkHandler) success(link model.Link) CreateLinkResponse {
	host := link.Host(h.disguiseDomain)
	expires := link.ExpiresAt
	return CreateLinkResponse{
		Created:   1,
		Link:      &host,
		Msg:       "Success",
		ExpiresAt: &expires,
	}
}

func (h *LinkHandler) fail(c *fiber.Ctx, err error) error {
	var admission *service.AdmissionError
	if errors.As(err, &admission) {
		metrics.AdmissionRejections.WithLabelValues(string(admission.Kind)).Inc()
		h.logger.Info("creation rejected",
			zap.String("reason", string(admission.Kind)),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadRequest).JSON(CreateLinkResponse{Msg: admission.Message})
	}

	h.logger.Error("failed to create link", zap.Error(err))
	msg := "Internal error"
	if errors.Is(err, service.ErrAllocationExhausted) {
		msg = "Could not allocate a link, try again later"
	}
	return c.Status(fiber.StatusInternalServerError).JSON(CreateLinkResponse{Msg: msg})
}

func (h *LinkHandler) ctx(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
