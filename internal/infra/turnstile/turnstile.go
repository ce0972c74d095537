package turnstile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/TempLink/config"
)

// DefaultVerifyURL is Cloudflare's siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrMissingSecret makes every verification fail while no secret is configured.
var ErrMissingSecret = errors.New("turnstile: secret key is not configured")

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verifier checks Turnstile tokens with the siteverify API.
type Verifier struct {
	secret    string
	verifyURL string
	timeout   time.Duration
}

// NewVerifier returns a verifier for the captcha section of the config.
func NewVerifier(cfg config.CaptchaConfig) *Verifier {
	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{secret: cfg.Secret, verifyURL: verifyURL, timeout: timeout}
}

// Verify reports whether the provider accepted token for clientIP.
func (v *Verifier) Verify(ctx context.Context, token, clientIP string) (bool, error) {
	if v.secret == "" {
		return false, ErrMissingSecret
	}

	timeout := v.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return false, context.DeadlineExceeded
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("secret", v.secret)
	args.Set("response", token)
	if clientIP != "" {
		args.Set("remoteip", clientIP)
	}

	var resp siteverifyResponse
	code, _, errs := fiber.Post(v.verifyURL).Form(args).Timeout(timeout).Struct(&resp)
	if len(errs) > 0 {
		return false, fmt.Errorf("turnstile: siteverify: %w", errors.Join(errs...))
	}
	if code != http.StatusOK {
		return false, fmt.Errorf("turnstile: siteverify returned status %d", code)
	}
	return resp.Success, nil
}
