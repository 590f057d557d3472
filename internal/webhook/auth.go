package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
)

// Authenticator verifies the credentials of an ingress request.
type Authenticator interface {
	Scheme() string
	Verify(headers http.Header, body []byte) error
}

// DefaultSignatureHeader carries HMAC signatures.
const DefaultSignatureHeader = "X-Signature"

const signaturePrefix = "sha256="

// HMACAuth checks a hex HMAC-SHA256 of the raw body, optionally prefixed "sha256=".
type HMACAuth struct {
	Secret []byte
	Header string
}

// Scheme returns "hmac".
func (a *HMACAuth) Scheme() string { return "hmac" }

// Verify compares the signature header against the body's HMAC in constant time.
func (a *HMACAuth) Verify(headers http.Header, body []byte) error {
	header := a.Header
	if header == "" {
		header = DefaultSignatureHeader
	}
	signature := strings.TrimSpace(headers.Get(header))
	if signature == "" {
		return &models.AuthError{Scheme: a.Scheme(), Reason: "missing " + header + " header"}
	}
	signature = strings.TrimPrefix(signature, signaturePrefix)

	given, err := hex.DecodeString(signature)
	if err != nil {
		return &models.AuthError{Scheme: a.Scheme(), Reason: "malformed signature"}
	}

	mac := hmac.New(sha256.New, a.Secret)
	mac.Write(body)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return &models.AuthError{Scheme: a.Scheme(), Reason: "signature mismatch"}
	}
	return nil
}

// Sign returns the "sha256=" prefixed signature for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// BearerAuth checks "Authorization: Bearer <token>" against a shared token.
type BearerAuth struct {
	Token string
}

// Scheme returns "bearer".
func (a *BearerAuth) Scheme() string { return "bearer" }

// Verify compares the bearer token in constant time.
func (a *BearerAuth) Verify(headers http.Header, _ []byte) error {
	token, ok := strings.CutPrefix(headers.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return &models.AuthError{Scheme: a.Scheme(), Reason: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
		return &models.AuthError{Scheme: a.Scheme(), Reason: "invalid token"}
	}
	return nil
}
