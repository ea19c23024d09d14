package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// RateLimiter - token bucket для ограничения частоты публичных запросов к биржам.
//
// Ведро пополняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос забирает один токен.
//
//	limiter := NewRateLimiter(10, 20)
//	if err := limiter.Wait(ctx); err != nil { ... }
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт limiter; rate <= 0 -> 10 req/sec, burst <= 0 -> 2*rate
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill вызывается под mu
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без ожидания; false если ведро пустое
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens возвращает текущее количество токенов (для метрик и отладки)
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate возвращает скорость пополнения (токенов/сек)
func (rl *RateLimiter) Rate() float64 {
	return rl.rate
}

// ============================================================
// ExchangeLimiter - отдельное ведро на каждую биржу
// ============================================================

// DefaultExchangeRates - публичные лимиты бирж (req/sec), с запасом
var DefaultExchangeRates = map[string]float64{
	"bybit":       10,
	"okx":         10,
	"gate":        10,
	"bingx":       8,
	"hyperliquid": 5,
}

// ExchangeLimiter выдаёт токены по имени биржи.
//
// Ведро для биржи создаётся лениво при первом обращении: скорость берётся из
// DefaultExchangeRates либо fallback-значения.
type ExchangeLimiter struct {
	limiters map[string]*RateLimiter
	fallback float64
	mu       sync.Mutex
}

// NewExchangeLimiter создаёт limiter; fallback - скорость для бирж без записи в DefaultExchangeRates
func NewExchangeLimiter(fallback float64) *ExchangeLimiter {
	return &ExchangeLimiter{
		limiters: make(map[string]*RateLimiter),
		fallback: fallback,
	}
}

// Set задаёт скорость для конкретной биржи
func (el *ExchangeLimiter) Set(exchange string, rate float64) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.limiters[strings.ToLower(exchange)] = NewRateLimiter(rate, 0)
}

// Get возвращает ведро биржи, создавая его при необходимости
func (el *ExchangeLimiter) Get(exchange string) *RateLimiter {
	key := strings.ToLower(exchange)

	el.mu.Lock()
	defer el.mu.Unlock()

	if l, ok := el.limiters[key]; ok {
		return l
	}
	rate, ok := DefaultExchangeRates[key]
	if !ok {
		rate = el.fallback
	}
	l := NewRateLimiter(rate, 0)
	el.limiters[key] = l
	return l
}

// Wait ожидает токен для биржи
func (el *ExchangeLimiter) Wait(ctx context.Context, exchange string) error {
	return el.Get(exchange).Wait(ctx)
}
