// Package crypto защищает секреты в конфигурации: ключи бирж хранятся
// зашифрованными (AES-256-GCM), токен HTTP API - в виде bcrypt-хеша.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// SealedPrefix отмечает зашифрованное значение в конфигурации
const SealedPrefix = "enc:"

const keySize = 32

var (
	ErrInvalidKey        = errors.New("encryption key must be 32 bytes (64 hex or 44 base64 chars)")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed: wrong key or corrupted value")
	ErrKeyRequired       = errors.New("value is sealed but no encryption key configured")
)

// ParseKey разбирает ключ из конфигурации: hex или base64 от 32 байт
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == keySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == keySize {
		return b, nil
	}
	return nil, ErrInvalidKey
}

// GenerateKey возвращает новый ключ в hex (для .env)
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Seal шифрует plaintext и возвращает значение вида "enc:<base64>"
func Seal(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	// nonce идёт префиксом к шифротексту
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает значение, полученное от Seal
func Open(value string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce, data := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsSealed сообщает, зашифровано ли значение
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Reveal возвращает открытое значение: незашифрованное как есть,
// зашифрованное - через Open. key может быть nil, если шифрованных значений нет.
func Reveal(value string, key []byte) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if key == nil {
		return "", ErrKeyRequired
	}
	return Open(value, key)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
