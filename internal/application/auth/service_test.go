package auth

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestService_Authenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	svc := NewService(map[string]string{"alice": string(hash)}, zerolog.Nop())
	require.True(t, svc.Enabled())

	reviewer, err := svc.Authenticate("alice:s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", reviewer)

	reviewer, err = svc.Authenticate("alice:s3cret")
	require.NoError(t, err, "cached verification")
	assert.Equal(t, "alice", reviewer)

	_, err = svc.Authenticate("alice:wrong")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = svc.Authenticate("bob:s3cret")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = svc.Authenticate("no-separator")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = svc.Authenticate("  ")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestHashKey(t *testing.T) {
	hash, err := HashKey("k")
	require.NoError(t, err)
	svc := NewService(map[string]string{"ops": hash}, zerolog.Nop())
	reviewer, err := svc.Authenticate("ops:k")
	require.NoError(t, err)
	assert.Equal(t, "ops", reviewer)

	assert.False(t, NewService(nil, zerolog.Nop()).Enabled())
}
