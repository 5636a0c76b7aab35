package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_GeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".orbitdock", "token")

	token, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, token, again)
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate("secret-token", "secret-token"))
	assert.False(t, Validate("secret-token", "wrong-token"))
	assert.False(t, Validate("secret-token", "secret-toke"))
}

func TestBearerFromHeader(t *testing.T) {
	assert.Equal(t, "abc123", BearerFromHeader("Bearer abc123"))
	assert.Equal(t, "", BearerFromHeader("Basic abc123"))
	assert.Equal(t, "", BearerFromHeader(""))
}
