package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-room/crypto/ecdhp256"
)

func TestFingerprint(t *testing.T) {
	pair, err := ecdhp256.New()
	require.NoError(t, err)
	other, err := ecdhp256.New()
	require.NoError(t, err)

	a, err := Fingerprint(pair.Pub, []byte("alice"))
	require.NoError(t, err)
	b, err := Fingerprint(pair.Pub, []byte("alice"))
	require.NoError(t, err)
	c, err := Fingerprint(other.Pub, []byte("alice"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, d := range a {
		assert.True(t, d >= 0 && d <= 9)
	}

	formatted := Format(a)
	assert.Len(t, formatted, 35)
	assert.Equal(t, byte(' '), formatted[5])
}
