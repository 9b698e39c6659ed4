package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAPIKeyVerifier(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	v, err := NewAPIKeyVerifier([]string{"ci:" + string(hash)})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Len())

	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{name: "valid key", key: "ci:s3cret", want: "ci"},
		{name: "wrong secret", key: "ci:nope", wantErr: true},
		{name: "unknown name", key: "other:s3cret", wantErr: true},
		{name: "missing separator", key: "s3cret", wantErr: true},
		{name: "empty secret", key: "ci:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			name, err := v.Verify(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAPIKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
		})
	}
}

func TestNewAPIKeyVerifierRejectsBadEntries(t *testing.T) {
	t.Parallel()

	_, err := NewAPIKeyVerifier([]string{"no-separator"})
	assert.Error(t, err)

	_, err = NewAPIKeyVerifier([]string{"a:x", "a:y"})
	assert.Error(t, err)
}

func TestHashAPIKey(t *testing.T) {
	t.Parallel()

	hash, err := HashAPIKey("s3cret")
	require.NoError(t, err)

	v, err := NewAPIKeyVerifier([]string{"ops:" + hash})
	require.NoError(t, err)
	name, err := v.Verify("ops:s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ops", name)

	_, err = HashAPIKey("")
	assert.Error(t, err)
}
