package ecdhp256

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWKRoundTrip(t *testing.T) {
	pair, err := New()
	require.NoError(t, err)

	pubJWK := pair.PublicJWK()
	assert.Equal(t, "EC", pubJWK.Kty)
	assert.Equal(t, "P-256", pubJWK.Crv)
	assert.Empty(t, pubJWK.D)

	pub, err := pubJWK.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(pair.Pub))

	restored, err := pair.PrivateJWK().Pair()
	require.NoError(t, err)
	assert.True(t, restored.Priv.Equal(pair.Priv))

	_, err = pubJWK.Pair()
	assert.ErrorIs(t, err, ErrMissingPrivate)
}

func TestJWKWireFormat(t *testing.T) {
	pair, err := New()
	require.NoError(t, err)

	data, err := json.Marshal(pair.PublicJWK())
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 4)
	assert.Len(t, fields["x"], 43)
	assert.Len(t, fields["y"], 43)
}

func TestJWKInvalid(t *testing.T) {
	pair, err := New()
	require.NoError(t, err)
	other, err := New()
	require.NoError(t, err)

	mismatched := pair.PublicJWK()
	mismatched.D = other.PrivateJWK().D

	testCases := []struct {
		name string
		jwk  JWK
	}{
		{name: "wrong curve", jwk: JWK{Kty: "EC", Crv: "P-384", X: pair.PublicJWK().X, Y: pair.PublicJWK().Y}},
		{name: "bad base64", jwk: JWK{Kty: "EC", Crv: "P-256", X: "!!", Y: pair.PublicJWK().Y}},
		{name: "point off curve", jwk: JWK{Kty: "EC", Crv: "P-256", X: pair.PublicJWK().X, Y: pair.PublicJWK().X}},
		{name: "mismatched private key", jwk: mismatched},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.jwk.D != "" {
				_, err := tc.jwk.Pair()
				assert.ErrorIs(t, err, ErrInvalidJWK)
				return
			}
			_, err := tc.jwk.PublicKey()
			assert.ErrorIs(t, err, ErrInvalidJWK)
		})
	}
}

func TestGetSharedSecret(t *testing.T) {
	alice, err := New()
	require.NoError(t, err)
	bob, err := New()
	require.NoError(t, err)

	ab, err := GetSharedSecret(alice.Priv, bob.Pub)
	require.NoError(t, err)
	ba, err := GetSharedSecret(bob.Priv, alice.Pub)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)

	_, err = GetSharedSecret(nil, bob.Pub)
	assert.ErrorIs(t, err, ErrInvalid)
}
