package server

import (
	"net"
	"net/http"
	"time"

	"github.com/catchy-build/catchy/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// DefaultRemoteTimeout 在配置缺失时使用。fetch 与 put 共用同一个超时。
const DefaultRemoteTimeout = 30 * time.Second

// NewRemoteClient 返回 HTTP 缓存后端使用的 http.Client。
func NewRemoteClient(cfg *config.Config) *http.Client {
	timeout := DefaultRemoteTimeout
	if cfg != nil && cfg.Global.RemoteTimeout.DurationValue() > 0 {
		timeout = cfg.Global.RemoteTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}
