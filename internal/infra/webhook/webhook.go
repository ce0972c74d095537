package webhook

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/TempLink/config"
	"github.com/sifan077/TempLink/internal/app/service"
	metrics "github.com/sifan077/TempLink/internal/infra/prometheus"
	"go.uber.org/zap"
)

// maxContentLength is Discord's limit for the content field.
const maxContentLength = 2000

// Notifier posts messages to Discord-compatible webhooks, one URL per category.
type Notifier struct {
	targets map[service.NotifyCategory]string
	timeout time.Duration
	logger  *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New returns a notifier for cfg. When notifications are disabled every
// category has no target and Notify does nothing.
func New(cfg config.NotifyConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	targets := map[service.NotifyCategory]string{}
	if cfg.Active() {
		if url := strings.TrimSpace(cfg.CreationWebhook); url != "" {
			targets[service.CategoryCreation] = url
		}
		if url := strings.TrimSpace(cfg.ExpirationWebhook); url != "" {
			targets[service.CategoryExpiration] = url
		}
	}

	return &Notifier{targets: targets, timeout: timeout, logger: logger}
}

// Notify delivers message in the background. Failures are logged only.
func (n *Notifier) Notify(category service.NotifyCategory, message string) {
	url, ok := n.targets[category]
	if !ok || message == "" {
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		for _, chunk := range splitContent(message, maxContentLength) {
			if err := n.post(url, chunk); err != nil {
				metrics.NotificationFailures.WithLabelValues(string(category)).Inc()
				n.logger.Warn("webhook delivery failed",
					zap.String("category", string(category)),
					zap.Error(err),
				)
				return
			}
		}
	}()
}

// Close stops accepting messages and waits for in-flight deliveries.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) post(url, content string) error {
	code, body, errs := fiber.Post(url).
		JSON(fiber.Map{"content": content}).
		Timeout(n.timeout).
		Bytes()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", code, truncate(string(body), 200))
	}
	return nil
}

// splitContent breaks message on line boundaries into chunks of at most
// limit bytes. A single longer line is cut.
func splitContent(message string, limit int) []string {
	if len(message) <= limit {
		return []string{message}
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(message, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			cut := runeBoundary(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if current.Len()+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// runeBoundary returns the largest index <= limit that does not split a rune.
func runeBoundary(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
