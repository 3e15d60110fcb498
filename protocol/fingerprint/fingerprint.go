package fingerprint

import (
	"crypto/sha512"
	"encoding/binary"
	"strings"

	"secure-room/crypto/ecdhp256"
)

const iterations = 5200

// Fingerprint impl mimics the safety numbers Signal shows for an identity key
func Fingerprint(pubKey ecdhp256.PublicKey, userIdentifier []byte) (*[30]int, error) {
	raw := pubKey.Bytes()
	digest := make([]byte, 0, len(raw)+len(userIdentifier))
	digest = append(digest, raw...)
	digest = append(digest, userIdentifier...)

	hash := sha512.New()
	for i := 0; i < iterations; i++ {
		_, err := hash.Write(digest)
		if err != nil {
			return nil, err
		}
		digest = hash.Sum(nil)
		hash.Reset()
	}

	var result [30]byte
	copy(result[:], digest[:30])

	var finalResult [30]int
	for i := 0; i < 6; i++ {
		chunk := result[i*5 : (i+1)*5]
		num := binary.BigEndian.Uint64(append([]byte{0, 0, 0}, chunk...)) % 100000
		for j := 4; j >= 0; j-- {
			finalResult[i*5+j] = int(num % 10)
			num /= 10
		}
	}

	return &finalResult, nil
}

// Format groups the digits into six blocks of five.
func Format(digits *[30]int) string {
	var sb strings.Builder
	for i, d := range digits {
		if i > 0 && i%5 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(byte('0' + d))
	}
	return sb.String()
}
