package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAccountPasswordRoundTrip(t *testing.T) {
	digest, err := HashPassword("render-4k-video")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$2a$"))

	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.Equal(t, passwordCost, cost)

	assert.NoError(t, VerifyPassword(digest, "render-4k-video"))
	assert.ErrorIs(t, VerifyPassword(digest, "render-8k-video"), ErrPasswordMismatch)
}

func TestPasswordRejectsBlankInput(t *testing.T) {
	for _, password := range []string{"", "   ", "\t\n"} {
		_, err := HashPassword(password)
		assert.ErrorIs(t, err, ErrEmptyPassword)
	}

	assert.ErrorIs(t, VerifyPassword("", "anything"), ErrNoPasswordHash)
	assert.Error(t, VerifyPassword("not-a-bcrypt-digest", "anything"))
}
