package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sifan077/TempLink/internal/app/model"
)

// AdmissionKind names the reason a creation request was refused.
type AdmissionKind string

const (
	KindMalformedRequest         AdmissionKind = "malformed_request"
	KindMissingVerificationToken AdmissionKind = "missing_verification_token"
	KindVerificationFailed       AdmissionKind = "verification_failed"
	KindInvalidOriginAddress     AdmissionKind = "invalid_origin_address"
	KindInvalidDomainName        AdmissionKind = "invalid_domain_name"
)

const (
	DefaultVerifyTimeout = 10 * time.Second
	maxDomainLength      = 253
)

// AdmissionError is returned for every request refused by the gate.
type AdmissionError struct {
	Kind    AdmissionKind
	Message string
	Err     error
}

func (e *AdmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

func reject(kind AdmissionKind, message string, err error) *AdmissionError {
	return &AdmissionError{Kind: kind, Message: message, Err: err}
}

// Verifier checks a human-verification token with the provider.
type Verifier interface {
	Verify(ctx context.Context, token, clientIP string) (bool, error)
}

// Port accepts a number, a numeric string, null or "none".
type Port int

func (p *Port) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*p = 0
		return nil
	}

	var n int
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "none") {
			*p = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("port %q is not a number", s)
		}
		n = v
	} else if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("port must be an integer")
	}

	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	*p = Port(n)
	return nil
}

// LinkRequest is one requested link as it arrives on the wire.
type LinkRequest struct {
	Domain               string `json:"domain"`
	IP                   string `json:"ip"`
	Protocol             string `json:"protocol"`
	Port                 Port   `json:"port"`
	Username             string `json:"username"`
	Password             string `json:"password"`
	DisableHTMLInjection bool   `json:"disableHtmlJsInjection"`
}

type verification struct {
	TurnstileToken    string `json:"turnstileToken"`
	VerificationToken string `json:"verificationToken"`
}

func (v verification) token() string {
	if t := strings.TrimSpace(v.TurnstileToken); t != "" {
		return t
	}
	return strings.TrimSpace(v.VerificationToken)
}

type singlePayload struct {
	verification
	LinkRequest
}

type batchPayload struct {
	verification
	Entries []LinkRequest `json:"entries"`
}

// AdmissionGate decides whether creation requests may produce links.
type AdmissionGate struct {
	verifier      Verifier
	validate      *validator.Validate
	verifyTimeout time.Duration
}

// NewAdmissionGate returns a gate that verifies every request with verifier.
func NewAdmissionGate(verifier Verifier, verifyTimeout time.Duration) *AdmissionGate {
	if verifyTimeout <= 0 {
		verifyTimeout = DefaultVerifyTimeout
	}
	return &AdmissionGate{
		verifier:      verifier,
		validate:      validator.New(),
		verifyTimeout: verifyTimeout,
	}
}

// AdmitSingle checks a single creation body and returns its link draft.
func (g *AdmissionGate) AdmitSingle(ctx context.Context, body []byte, clientIP string) (model.Link, error) {
	var payload singlePayload
	if err := decodeObject(body, &payload); err != nil {
		return model.Link{}, err
	}
	drafts, err := g.admit(ctx, payload.verification, []LinkRequest{payload.LinkRequest}, clientIP)
	if err != nil {
		return model.Link{}, err
	}
	return drafts[0], nil
}

// AdmitBatch checks a batch body. The first failing entry rejects the whole batch.
func (g *AdmissionGate) AdmitBatch(ctx context.Context, body []byte, clientIP string) ([]model.Link, error) {
	var payload batchPayload
	if err := decodeObject(body, &payload); err != nil {
		return nil, err
	}
	if len(payload.Entries) == 0 {
		return nil, reject(KindMalformedRequest, "Batch contains no entries", nil)
	}
	return g.admit(ctx, payload.verification, payload.Entries, clientIP)
}

func (g *AdmissionGate) admit(ctx context.Context, v verification, entries []LinkRequest, clientIP string) ([]model.Link, error) {
	drafts := make([]model.Link, 0, len(entries))
	for i, entry := range entries {
		draft, err := g.shape(entry)
		if err != nil {
			return nil, withEntry(err, i, len(entries))
		}
		drafts = append(drafts, draft)
	}

	token := v.token()
	if token == "" {
		return nil, reject(KindMissingVerificationToken, "Missing verification token", nil)
	}
	if err := g.verify(ctx, token, clientIP); err != nil {
		return nil, err
	}

	for i := range drafts {
		if err := g.checkAddress(drafts[i].Address); err != nil {
			return nil, withEntry(err, i, len(drafts))
		}
		if err := g.checkDomain(drafts[i].Domain); err != nil {
			return nil, withEntry(err, i, len(drafts))
		}
	}
	return drafts, nil
}

func (g *AdmissionGate) verify(ctx context.Context, token, clientIP string) error {
	if g.verifier == nil {
		return reject(KindVerificationFailed, "Verification failed", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.verifyTimeout)
	defer cancel()

	ok, err := g.verifier.Verify(ctx, token, clientIP)
	if err != nil {
		return reject(KindVerificationFailed, "Verification failed", err)
	}
	if !ok {
		return reject(KindVerificationFailed, "Verification failed", nil)
	}
	return nil
}

// shape normalises field types without judging address or domain.
func (g *AdmissionGate) shape(entry LinkRequest) (model.Link, error) {
	protocol := strings.ToLower(strings.TrimSpace(entry.Protocol))
	if protocol == "" {
		protocol = model.ProtocolHTTPS
	}
	if err := g.validate.Var(protocol, "oneof=http https"); err != nil {
		return model.Link{}, reject(KindMalformedRequest, "Protocol must be http or https", nil)
	}

	draft := model.Link{
		Domain:           strings.ToLower(strings.TrimSuffix(strings.TrimSpace(entry.Domain), ".")),
		Address:          strings.TrimSpace(entry.IP),
		Protocol:         protocol,
		Port:             int(entry.Port),
		DisableInjection: entry.DisableHTMLInjection,
	}

	username := strings.TrimSpace(entry.Username)
	if username != "" || entry.Password != "" {
		if username == "" || entry.Password == "" {
			return model.Link{}, reject(KindMalformedRequest, "Username and password must be given together", nil)
		}
		if strings.ContainsAny(username, ":\r\n") {
			return model.Link{}, reject(KindMalformedRequest, "Username must not contain ':'", nil)
		}
		draft.Credentials = &model.Credentials{Username: username, Password: entry.Password}
	}
	return draft, nil
}

func (g *AdmissionGate) checkAddress(address string) error {
	if g.validate.Var(address, "required,ipv4") == nil {
		return nil
	}
	if addr, err := netip.ParseAddr(address); err == nil && isPrivateAddr(addr) {
		return nil
	}
	return reject(KindInvalidOriginAddress, "Invalid IP address", nil)
}

func (g *AdmissionGate) checkDomain(domain string) error {
	invalid := reject(KindInvalidDomainName, "Invalid domain name", nil)
	if len(domain) == 0 || len(domain) > maxDomainLength {
		return invalid
	}
	if err := g.validate.Var(domain, "fqdn"); err != nil {
		return invalid
	}
	if tld := domain[strings.LastIndexByte(domain, '.')+1:]; len(tld) < 2 {
		return invalid
	}
	return nil
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

func decodeObject(body []byte, v any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return reject(KindMalformedRequest, "Request body must be a JSON object", nil)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return reject(KindMalformedRequest, "Malformed request", err)
	}
	return nil
}

func withEntry(err error, index, total int) error {
	if total <= 1 {
		return err
	}
	if ae, ok := err.(*AdmissionError); ok {
		ae.Message = fmt.Sprintf("Entry %d: %s", index+1, ae.Message)
	}
	return err
}
