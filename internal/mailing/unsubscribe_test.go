package mailing

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsubscribeSigner_RoundTrip(t *testing.T) {
	s := NewUnsubscribeSigner("secret", "https://app.example.com/")

	token := s.Token(" Reader@Example.com ")
	email, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", email)

	assert.Equal(t, "https://app.example.com/unsubscribe/"+token, s.URL("reader@example.com"))
	assert.NotContains(t, token, "=", "tokens are unpadded base64url")
}

func TestUnsubscribeSigner_RejectsForgery(t *testing.T) {
	s := NewUnsubscribeSigner("secret", "https://app.example.com")
	other := NewUnsubscribeSigner("other-secret", "https://app.example.com")
	good := s.Token("a@example.com")
	_, sig, _ := strings.Cut(good, ".")

	tests := map[string]string{
		"empty":         "",
		"no separator":  "abc",
		"bad base64":    "***.***",
		"wrong secret":  other.Token("a@example.com"),
		"swapped email": base64.RawURLEncoding.EncodeToString([]byte("b@example.com")) + "." + sig,
		"missing sig":   strings.Split(good, ".")[0] + ".",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
