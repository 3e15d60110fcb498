package ecdhp256

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	coordinateSize = 32
	KeyType        = "EC"
	CurveName      = "P-256"
)

var (
	ErrInvalidJWK     = errors.New("invalid JWK")
	ErrMissingPrivate = errors.New("JWK has no private component")

	Curve = ecdh.P256()
)

// JWK is the JSON Web Key form of a P-256 key as exchanged with the key directory.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	D   string `json:"d,omitempty"`
}

type (
	PrivateKey = *ecdh.PrivateKey
	PublicKey  = *ecdh.PublicKey
	Pair       struct {
		Priv PrivateKey
		Pub  PublicKey
	}
)

func New() (*Pair, error) {
	priv, err := Curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Pair{Priv: priv, Pub: priv.PublicKey()}, nil
}

// PublicJWK returns the public half only.
func (p *Pair) PublicJWK() JWK {
	return PublicKeyToJWK(p.Pub)
}

// PrivateJWK returns the full key including d.
func (p *Pair) PrivateJWK() JWK {
	jwk := PublicKeyToJWK(p.Pub)
	jwk.D = base64.RawURLEncoding.EncodeToString(p.Priv.Bytes())
	return jwk
}

func PublicKeyToJWK(pub PublicKey) JWK {
	// uncompressed point: 0x04 || x || y
	raw := pub.Bytes()
	return JWK{
		Kty: KeyType,
		Crv: CurveName,
		X:   base64.RawURLEncoding.EncodeToString(raw[1 : 1+coordinateSize]),
		Y:   base64.RawURLEncoding.EncodeToString(raw[1+coordinateSize:]),
	}
}

// PublicKey parses the x and y coordinates; d is ignored.
func (j JWK) PublicKey() (PublicKey, error) {
	if j.Kty != KeyType || j.Crv != CurveName {
		return nil, fmt.Errorf("%w: unsupported key type %s/%s", ErrInvalidJWK, j.Kty, j.Crv)
	}
	x, err := decodeCoordinate(j.X)
	if err != nil {
		return nil, fmt.Errorf("%w: x: %v", ErrInvalidJWK, err)
	}
	y, err := decodeCoordinate(j.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: y: %v", ErrInvalidJWK, err)
	}

	raw := make([]byte, 0, 1+2*coordinateSize)
	raw = append(raw, 0x04)
	raw = append(raw, x...)
	raw = append(raw, y...)
	pub, err := Curve.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	return pub, nil
}

// Pair parses a private JWK and checks that d matches the published point.
func (j JWK) Pair() (*Pair, error) {
	if j.D == "" {
		return nil, ErrMissingPrivate
	}
	pub, err := j.PublicKey()
	if err != nil {
		return nil, err
	}
	d, err := decodeCoordinate(j.D)
	if err != nil {
		return nil, fmt.Errorf("%w: d: %v", ErrInvalidJWK, err)
	}
	priv, err := Curve.NewPrivateKey(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	if !bytes.Equal(priv.PublicKey().Bytes(), pub.Bytes()) {
		return nil, fmt.Errorf("%w: private key does not match public point", ErrInvalidJWK)
	}
	return &Pair{Priv: priv, Pub: pub}, nil
}

func decodeCoordinate(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != coordinateSize {
		return nil, fmt.Errorf("expected %d bytes, got %d", coordinateSize, len(b))
	}
	return b, nil
}
