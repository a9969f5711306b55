package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	zkr "github.com/zalando/go-keyring"
)

func TestTokenRoundTrip(t *testing.T) {
	zkr.MockInit()

	_, err := Token()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SetToken("tok-123"))
	tok, err := Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)

	require.NoError(t, DeleteToken())
	require.NoError(t, DeleteToken())
	_, err = Token()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetTokenRejectsEmpty(t *testing.T) {
	zkr.MockInit()
	assert.Error(t, SetToken(""))
}

func TestAvailableHonoursOptOut(t *testing.T) {
	t.Setenv("MUATOOL_KEYRING_DISABLED", "1")
	assert.False(t, Available())
}
