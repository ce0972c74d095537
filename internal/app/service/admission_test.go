package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sifan077/TempLink/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func admissionKind(t *testing.T, err error) AdmissionKind {
	t.Helper()
	var ae *AdmissionError
	require.True(t, errors.As(err, &ae), "expected *AdmissionError, got %v", err)
	return ae.Kind
}

func TestAdmissionGate_AdmitSingle(t *testing.T) {
	var gotToken, gotIP string
	gate := NewAdmissionGate(&stubVerifier{
		verifyFn: func(ctx context.Context, token, clientIP string) (bool, error) {
			gotToken, gotIP = token, clientIP
			return true, nil
		},
	}, time.Second)

	body := `{"turnstileToken":"tok","domain":"Example.COM.","ip":"203.0.113.7","protocol":"HTTP","port":"8080","username":"alice","password":"pw","disableHtmlJsInjection":true}`
	draft, err := gate.AdmitSingle(context.Background(), []byte(body), "198.51.100.1")
	require.NoError(t, err)

	assert.Equal(t, "tok", gotToken)
	assert.Equal(t, "198.51.100.1", gotIP)
	assert.Equal(t, "example.com", draft.Domain)
	assert.Equal(t, "203.0.113.7", draft.Address)
	assert.Equal(t, model.ProtocolHTTP, draft.Protocol)
	assert.Equal(t, 8080, draft.Port)
	assert.True(t, draft.DisableInjection)
	require.NotNil(t, draft.Credentials)
	assert.Equal(t, "alice", draft.Credentials.Username)
}

func TestAdmissionGate_PortForms(t *testing.T) {
	gate := NewAdmissionGate(&stubVerifier{}, time.Second)

	cases := map[string]int{
		`null`:    0,
		`"none"`:  0,
		`"None"`:  0,
		`443`:     443,
		`"65535"`: 65535,
	}
	for raw, want := range cases {
		body := `{"verificationToken":"t","domain":"example.com","ip":"10.0.0.1","protocol":"https","port":` + raw + `}`
		draft, err := gate.AdmitSingle(context.Background(), []byte(body), "")
		require.NoError(t, err, raw)
		assert.Equal(t, want, draft.Port, raw)
	}

	for _, raw := range []string{`0`, `70000`, `"abc"`, `1.5`, `true`} {
		body := `{"turnstileToken":"t","domain":"example.com","ip":"10.0.0.1","protocol":"https","port":` + raw + `}`
		_, err := gate.AdmitSingle(context.Background(), []byte(body), "")
		assert.Equal(t, KindMalformedRequest, admissionKind(t, err), raw)
	}
}

func TestAdmissionGate_Order(t *testing.T) {
	var verified int
	gate := NewAdmissionGate(&stubVerifier{
		verifyFn: func(ctx context.Context, token, clientIP string) (bool, error) {
			verified++
			return token == "good", nil
		},
	}, time.Second)

	cases := []struct {
		name string
		body string
		want AdmissionKind
	}{
		{"not json", `domain=example.com`, KindMalformedRequest},
		{"array", `[1,2]`, KindMalformedRequest},
		{"bad protocol beats missing token", `{"domain":"example.com","ip":"10.0.0.1","protocol":"ftp"}`, KindMalformedRequest},
		{"colon in username", `{"turnstileToken":"good","domain":"example.com","ip":"10.0.0.1","username":"a:b","password":"x"}`, KindMalformedRequest},
		{"missing token", `{"domain":"example.com","ip":"10.0.0.1","protocol":"https"}`, KindMissingVerificationToken},
		{"rejected token beats bad ip", `{"turnstileToken":"bad","domain":"example.com","ip":"nope","protocol":"https"}`, KindVerificationFailed},
		{"bad ip beats bad domain", `{"turnstileToken":"good","domain":"-","ip":"nope","protocol":"https"}`, KindInvalidOriginAddress},
		{"public ipv6", `{"turnstileToken":"good","domain":"example.com","ip":"2001:db8::1","protocol":"https"}`, KindInvalidOriginAddress},
		{"bad domain", `{"turnstileToken":"good","domain":"not a domain","ip":"10.0.0.1","protocol":"https"}`, KindInvalidDomainName},
		{"single letter tld", `{"turnstileToken":"good","domain":"example.c","ip":"10.0.0.1","protocol":"https"}`, KindInvalidDomainName},
		{"too long", `{"turnstileToken":"good","domain":"` + strings.Repeat("a.", 130) + `com","ip":"10.0.0.1","protocol":"https"}`, KindInvalidDomainName},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := gate.AdmitSingle(context.Background(), []byte(tc.body), "1.2.3.4")
			assert.Equal(t, tc.want, admissionKind(t, err))
		})
	}
	assert.Equal(t, 6, verified)
}

func TestAdmissionGate_PrivateAddresses(t *testing.T) {
	gate := NewAdmissionGate(&stubVerifier{}, time.Second)
	for _, ip := range []string{"192.168.1.10", "fd00::1", "::1", "fe80::1", "127.0.0.1"} {
		body := `{"turnstileToken":"t","domain":"example.com","ip":"` + ip + `","protocol":"https"}`
		_, err := gate.AdmitSingle(context.Background(), []byte(body), "")
		assert.NoError(t, err, ip)
	}
}

func TestAdmissionGate_VerificationFailsClosed(t *testing.T) {
	t.Run("verifier error", func(t *testing.T) {
		gate := NewAdmissionGate(&stubVerifier{
			verifyFn: func(ctx context.Context, token, clientIP string) (bool, error) {
				return true, errors.New("provider down")
			},
		}, time.Second)
		_, err := gate.AdmitSingle(context.Background(), []byte(`{"turnstileToken":"t","domain":"example.com","ip":"10.0.0.1"}`), "")
		assert.Equal(t, KindVerificationFailed, admissionKind(t, err))
	})

	t.Run("timeout", func(t *testing.T) {
		gate := NewAdmissionGate(&stubVerifier{
			verifyFn: func(ctx context.Context, token, clientIP string) (bool, error) {
				<-ctx.Done()
				return false, ctx.Err()
			},
		}, 20*time.Millisecond)
		_, err := gate.AdmitSingle(context.Background(), []byte(`{"turnstileToken":"t","domain":"example.com","ip":"10.0.0.1"}`), "")
		assert.Equal(t, KindVerificationFailed, admissionKind(t, err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("no verifier", func(t *testing.T) {
		gate := NewAdmissionGate(nil, time.Second)
		_, err := gate.AdmitSingle(context.Background(), []byte(`{"turnstileToken":"t","domain":"example.com","ip":"10.0.0.1"}`), "")
		assert.Equal(t, KindVerificationFailed, admissionKind(t, err))
	})
}

func TestAdmissionGate_AdmitBatch(t *testing.T) {
	gate := NewAdmissionGate(&stubVerifier{}, time.Second)

	body := `{"turnstileToken":"t","entries":[
		{"domain":"a.example.com","ip":"10.0.0.1","protocol":"https","port":null},
		{"domain":"b.example.com","ip":"10.0.0.2","protocol":"http","port":8080}
	]}`
	drafts, err := gate.AdmitBatch(context.Background(), []byte(body), "")
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "b.example.com", drafts[1].Domain)
	assert.Equal(t, 8080, drafts[1].Port)
}

func TestAdmissionGate_AdmitBatchFirstFailureAborts(t *testing.T) {
	gate := NewAdmissionGate(&stubVerifier{}, time.Second)

	body := `{"turnstileToken":"t","entries":[
		{"domain":"a.example.com","ip":"10.0.0.1","protocol":"https"},
		{"domain":"b.example.com","ip":"8.8.8.8.8","protocol":"https"},
		{"domain":"bad domain","ip":"10.0.0.3","protocol":"https"}
	]}`
	drafts, err := gate.AdmitBatch(context.Background(), []byte(body), "")
	assert.Nil(t, drafts)
	assert.Equal(t, KindInvalidOriginAddress, admissionKind(t, err))
	assert.Contains(t, err.Error(), "Entry 2")
}

func TestAdmissionGate_AdmitBatchEmpty(t *testing.T) {
	gate := NewAdmissionGate(&stubVerifier{}, time.Second)
	_, err := gate.AdmitBatch(context.Background(), []byte(`{"turnstileToken":"t","entries":[]}`), "")
	assert.Equal(t, KindMalformedRequest, admissionKind(t, err))
}
