package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Production(t *testing.T) {
	r := NewResolver(true, "configured-token")

	t.Run("request token required", func(t *testing.T) {
		_, err := r.Resolve("")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("short token rejected", func(t *testing.T) {
		_, err := r.Resolve("short")
		assert.ErrorIs(t, err, ErrTokenTooShort)
	})

	t.Run("configured token is ignored", func(t *testing.T) {
		token, err := r.Resolve("request-token-123")
		require.NoError(t, err)
		assert.Equal(t, "request-token-123", token)
	})
}

func TestResolver_Local(t *testing.T) {
	t.Run("configured token preferred", func(t *testing.T) {
		r := NewResolver(false, "configured-token")
		token, err := r.Resolve("request-token-123")
		require.NoError(t, err)
		assert.Equal(t, "configured-token", token)
	})

	t.Run("request token fallback", func(t *testing.T) {
		r := NewResolver(false, "")
		token, err := r.Resolve("request-token-123")
		require.NoError(t, err)
		assert.Equal(t, "request-token-123", token)
	})

	t.Run("neither present", func(t *testing.T) {
		r := NewResolver(false, "")
		_, err := r.Resolve("")
		assert.ErrorIs(t, err, ErrMissingToken)
	})
}
