package crypto

import (
	"crypto/rand"
	"math/big"
)

// CodeLength is the number of digits in a capsule unlock code.
const CodeLength = 6

// GenerateCode returns a cryptographically random numeric unlock code of
// CodeLength digits. Used when a sealer does not pick a code themselves.
func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = '0' + byte(n.Int64())
	}
	return string(code), nil
}
