package credential

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	require.Len(t, salt, SaltLength)

	digest := Hash("hunter2", salt)
	assert.True(t, Verify("hunter2", salt, digest))
	assert.False(t, Verify("hunter3", salt, digest))
	assert.False(t, Verify("hunter2", "another-salt-016", digest))
	assert.Equal(t, digest, Hash("hunter2", salt), "hash must be deterministic")
}

func TestNewToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		require.NoError(t, err)
		require.Len(t, tok, TokenLength)
		for _, r := range tok {
			assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
		}
		assert.False(t, seen[tok], "duplicate token %q", tok)
		seen[tok] = true
	}
}
