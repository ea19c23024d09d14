package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ограничен 72 байтами
const maxTokenLength = 72

var (
	ErrEmptyToken   = errors.New("token cannot be empty")
	ErrTokenTooLong = errors.New("token exceeds 72 bytes")
)

// HashToken хеширует токен доступа к API для хранения в конфигурации
func HashToken(token string) (string, error) {
	return HashTokenWithCost(token, bcrypt.DefaultCost)
}

// HashTokenWithCost - HashToken с заданной стоимостью (тесты используют MinCost)
func HashTokenWithCost(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > maxTokenLength {
		return "", ErrTokenTooLong
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken сравнивает токен с хешем за постоянное время
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// ValidHash проверяет, что строка - bcrypt-хеш
func ValidHash(hash string) bool {
	_, err := bcrypt.Cost([]byte(hash))
	return err == nil
}
