package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	t.Run("should round trip the subject", func(t *testing.T) {
		s := NewService("secret", time.Hour)

		token, err := s.Issue("alice")
		require.NoError(t, err)

		claims, err := s.VerifyToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Identity())
	})

	t.Run("should reject tokens signed with another secret", func(t *testing.T) {
		token, _ := NewService("other", time.Hour).Issue("alice")

		_, err := NewService("secret", time.Hour).VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject expired tokens", func(t *testing.T) {
		s := NewService("secret", time.Minute)
		token, _ := s.Issue("alice")

		s.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, err := s.VerifyToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("should reject unsigned tokens", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice", Issuer: issuer})
		unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = NewService("secret", time.Hour).VerifyToken(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should require a subject", func(t *testing.T) {
		_, err := NewService("secret", time.Hour).Issue("")
		assert.ErrorIs(t, err, ErrNoSubject)
	})
}
