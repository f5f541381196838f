package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var (
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrDecryptionFailed    = errors.New("message decryption failed")
)

const (
	cipherSaltLength = 16
	cipherKeyLength  = 32
)

// deriveKey stretches a short unlock code into an AES-256 key. A 6-digit
// code has only 10^6 possible values, so the slow KDF is what stands between
// the stored ciphertext and an offline brute force.
func deriveKey(code string, salt []byte) []byte {
	params := DefaultHashParams()
	return argon2.IDKey([]byte(code), salt, params.Iterations, params.Memory, params.Parallelism, cipherKeyLength)
}

// EncryptMessage seals plaintext with AES-256-GCM under a key derived from
// the unlock code. The output is base64(salt || nonce || sealed) and is safe
// to store as opaque text.
func EncryptMessage(plaintext, code string) (string, error) {
	salt := make([]byte, cipherSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(code, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	buf := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecryptMessage reverses EncryptMessage. It fails with ErrDecryptionFailed
// when the code is wrong or the ciphertext has been tampered with.
func DecryptMessage(encoded, code string) (string, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	if len(buf) < cipherSaltLength {
		return "", ErrMalformedCiphertext
	}

	salt := buf[:cipherSaltLength]

	block, err := aes.NewCipher(deriveKey(code, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	rest := buf[cipherSaltLength:]
	if len(rest) < gcm.NonceSize() {
		return "", ErrMalformedCiphertext
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}
