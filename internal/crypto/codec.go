// Package crypto provides the symmetric codec protecting Meta tokens at rest.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const ivSize = 16

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// DecryptionError reports a malformed or tampered ciphertext. Callers must
// treat it as "credential unusable", never as a process-level failure. The
// message carries no key material, IV, or ciphertext.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "token decryption failed: " + e.Reason
}

// Codec encrypts and decrypts secret strings with AES-256-CBC, producing the
// portable "hex(iv):hex(ciphertext)" format. The key is derived once at
// construction and cached for the life of the process; it is pure,
// deterministic, and must never be logged or serialized.
type Codec struct {
	key []byte
}

// NewCodec derives a 32-byte key from the operator-supplied key material.
// A 64-character hexadecimal string decodes directly to the raw key; any
// other string is hashed with SHA-256, so arbitrary passphrases work too.
func NewCodec(keyMaterial string) *Codec {
	if hexKeyPattern.MatchString(keyMaterial) {
		key, err := hex.DecodeString(keyMaterial)
		if err == nil {
			return &Codec{key: key}
		}
	}
	sum := sha256.Sum256([]byte(keyMaterial))
	return &Codec{key: sum[:]}
}

// Encrypt encrypts plaintext under a fresh random 16-byte IV and returns
// "hex(iv):hex(ciphertext)". Two calls with the same plaintext yield
// different outputs.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: init cipher: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("crypto: generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Any malformed input (missing separator, invalid
// hex, bad block alignment, invalid padding) yields a *DecryptionError.
// The stored ciphertext is never mutated.
func (c *Codec) Decrypt(token string) (string, error) {
	ivHex, ctHex, found := strings.Cut(token, ":")
	if !found {
		return "", &DecryptionError{Reason: "missing separator"}
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		return "", &DecryptionError{Reason: "invalid iv"}
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid ciphertext encoding"}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &DecryptionError{Reason: "ciphertext not block aligned"}
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", &DecryptionError{Reason: "cipher init failed"}
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid padding"}
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("crypto: invalid padded length %d", len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("crypto: invalid padding byte")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("crypto: inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
