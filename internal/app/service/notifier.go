package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sifan077/TempLink/internal/app/model"
)

// NotifyCategory selects the webhook a message is delivered to.
type NotifyCategory string

const (
	CategoryCreation   NotifyCategory = "creation"
	CategoryExpiration NotifyCategory = "expiration"
)

// Notifier delivers operator messages. Delivery is fire-and-forget.
type Notifier interface {
	Notify(category NotifyCategory, message string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(NotifyCategory, string) {}

const messageTimeLayout = "2006-01-02 15:04:05 MST"

func creationMessage(link model.Link, disguiseDomain, clientIP string) string {
	var b strings.Builder
	b.WriteString("-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=\n")
	b.WriteString("New link created!\n")
	fmt.Fprintf(&b, "Creator: **%s**\n", clientIP)
	fmt.Fprintf(&b, "Time: **%s**\n", link.CreatedAt.Format(messageTimeLayout))
	fmt.Fprintf(&b, "Domain: **%s**\n", link.Domain)
	fmt.Fprintf(&b, "IP: **%s**\n", link.Address)
	fmt.Fprintf(&b, "Temp link: **https://%s**\n", link.Host(disguiseDomain))
	fmt.Fprintf(&b, "Protocol: **%s**\n", link.Protocol)
	fmt.Fprintf(&b, "Port: **%s**\n", portLabel(link.Port))
	fmt.Fprintf(&b, "Html injection: **%t**\n", !link.DisableInjection)
	fmt.Fprintf(&b, "Protected: **%t**\n", link.Protected)
	b.WriteString("-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=-=")
	return b.String()
}

func batchCreationMessage(links []model.Link, disguiseDomain, clientIP string) string {
	var b strings.Builder
	b.WriteString("Batch creation detected!\n")
	fmt.Fprintf(&b, "Creator: **%s** (%d links)\n", clientIP, len(links))
	for _, link := range links {
		b.WriteString(creationMessage(link, disguiseDomain, clientIP))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func expirationMessage(links []model.Link, disguiseDomain string) string {
	lines := make([]string, 0, len(links))
	for _, link := range links {
		lines = append(lines, fmt.Sprintf("Expired: **%s** (expired at **%s**)",
			link.Host(disguiseDomain), link.ExpiresAt.Format(messageTimeLayout)))
	}
	return strings.Join(lines, "\n")
}

func portLabel(port int) string {
	if port <= 0 {
		return "default"
	}
	return strconv.Itoa(port)
}

func newLinkEvent(kind string, link model.Link, clientIP string, now time.Time) model.LinkEvent {
	return model.LinkEvent{
		Kind:       kind,
		Identifier: link.Identifier,
		Domain:     link.Domain,
		Address:    link.Address,
		Protocol:   link.Protocol,
		Port:       link.Port,
		Protected:  link.Protected,
		ClientIP:   clientIP,
		ExpiresAt:  link.ExpiresAt,
		Timestamp:  now.UTC(),
	}
}
