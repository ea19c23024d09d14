// Package exchange предоставляет унифицированный доступ к биржам бессрочных фьючерсов:
// рыночные данные для агрегатора фандинга и торговый шлюз для торгового цикла.
package exchange

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig содержит настройки пула соединений для REST API бирж
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration // установка TCP соединения
	ResponseTimeout     time.Duration // ожидание заголовков ответа
	TotalTimeout        time.Duration // общий таймаут запроса
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию.
//
// MaxConnsPerHost рассчитан на пул воркеров агрегатора фандинга:
// до 10 параллельных запросов к одной бирже.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ResponseTimeout:     10 * time.Second,
		TotalTimeout:        20 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		MaxConnsPerHost:     32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - http.Client с пулом keep-alive соединений, общий для всех бирж
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

var (
	globalClient     *HTTPClient
	globalClientOnce sync.Once
)

// GetGlobalHTTPClient возвращает общий клиент (создаётся один раз)
func GetGlobalHTTPClient() *HTTPClient {
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalClient
}

// NewHTTPClient создаёт клиент с заданной конфигурацией
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: config.ResponseTimeout,
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport, Timeout: config.TotalTimeout},
		config: config,
	}
}

// GetClient возвращает базовый http.Client
func (hc *HTTPClient) GetClient() *http.Client {
	return hc.client
}

// Close закрывает idle соединения
func (hc *HTTPClient) Close() {
	if transport, ok := hc.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// CloseGlobalClient закрывает общий клиент при graceful shutdown
func CloseGlobalClient() {
	if globalClient != nil {
		globalClient.Close()
	}
}
