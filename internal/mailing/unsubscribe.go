package mailing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/ignite/drip-engine/internal/domain"
)

// ErrInvalidToken is returned for malformed or forged unsubscribe tokens.
var ErrInvalidToken = errors.New("invalid unsubscribe token")

// UnsubscribeSigner issues and verifies one-click unsubscribe tokens of the
// form base64url(email) "." base64url(HMAC-SHA256(secret, email)).
type UnsubscribeSigner struct {
	secret []byte
	appURL string
}

// NewUnsubscribeSigner creates a signer whose links point at appURL.
func NewUnsubscribeSigner(secret, appURL string) *UnsubscribeSigner {
	return &UnsubscribeSigner{secret: []byte(secret), appURL: strings.TrimRight(appURL, "/")}
}

func (s *UnsubscribeSigner) mac(email string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(email))
	return h.Sum(nil)
}

// Token returns the signed token for a normalized address.
func (s *UnsubscribeSigner) Token(email string) string {
	email = domain.NormalizeEmail(email)
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." +
		base64.RawURLEncoding.EncodeToString(s.mac(email))
}

// URL returns the public unsubscribe link for an address.
func (s *UnsubscribeSigner) URL(email string) string {
	return s.appURL + "/unsubscribe/" + s.Token(email)
}

// Verify checks a token and returns the address it was issued for.
func (s *UnsubscribeSigner) Verify(token string) (string, error) {
	encEmail, encSig, ok := strings.Cut(token, ".")
	if !ok || encEmail == "" || encSig == "" {
		return "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encEmail)
	if err != nil {
		return "", ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil {
		return "", ErrInvalidToken
	}
	email := string(raw)
	if !hmac.Equal(sig, s.mac(email)) {
		return "", ErrInvalidToken
	}
	return email, nil
}
