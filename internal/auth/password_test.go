package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(4)
}

func TestHash(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("my-secret-password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"), "not a bcrypt hash: %q", hash)

	again, err := ps.Hash("my-secret-password")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salt must be random")
}

func TestHash_Length(t *testing.T) {
	ps := newTestPasswordService()

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"too short", "short", ErrPasswordTooShort},
		{"minimum", strings.Repeat("a", MinPasswordLength), nil},
		{"maximum", strings.Repeat("a", MaxPasswordLength), nil},
		{"over bcrypt limit", strings.Repeat("a", MaxPasswordLength+1), ErrPasswordTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ps.Hash(tt.password)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerify(t *testing.T) {
	ps := newTestPasswordService()
	hash, err := ps.Hash("correct-horse-battery-staple")
	require.NoError(t, err)

	assert.NoError(t, ps.Verify(hash, "correct-horse-battery-staple"))
	assert.ErrorIs(t, ps.Verify(hash, "Correct-horse-battery-staple"), ErrPasswordMismatch)
	assert.ErrorIs(t, ps.Verify(hash, ""), ErrPasswordMismatch)

	err = ps.Verify("not-a-bcrypt-hash", "whatever")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordMismatch)
}
