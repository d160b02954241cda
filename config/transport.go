package config

import (
	"errors"
	"time"
)

// TransportConfig 传输层配置
//
// 配置 QUIC 安全传输适配器：
//   - 监听地址
//   - 握手与空闲超时
//   - 自签名证书的有效期窗口
type TransportConfig struct {
	// ListenAddr 监听地址
	// 格式 "host:port"，端口 0 表示随机分配
	ListenAddr string `json:"listen_addr"`

	// HandshakeTimeout 握手超时
	// 包含 TLS 握手与证书指纹校验
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// MaxIdleTimeout 连接空闲超时
	MaxIdleTimeout Duration `json:"max_idle_timeout"`

	// KeepAlivePeriod 保活探测间隔
	// 0 表示禁用保活
	KeepAlivePeriod Duration `json:"keep_alive_period"`

	// CertValidity 自签名证书的有效期
	// 证书由身份密钥确定性派生，重启后指纹不变
	CertValidity Duration `json:"cert_validity"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenAddr:       "0.0.0.0:0",                   // 默认随机端口
		HandshakeTimeout: Duration(10 * time.Second),    // 握手超时 10 秒
		MaxIdleTimeout:   Duration(60 * time.Second),    // 空闲超时 60 秒
		KeepAlivePeriod:  Duration(15 * time.Second),    // 每 15 秒保活
		CertValidity:     Duration(90 * 24 * time.Hour), // 证书有效期 90 天
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("transport: listen_addr cannot be empty")
	}
	if c.HandshakeTimeout.Duration() <= 0 {
		return errors.New("transport: handshake_timeout must be positive")
	}
	if c.MaxIdleTimeout.Duration() <= 0 {
		return errors.New("transport: max_idle_timeout must be positive")
	}
	if c.KeepAlivePeriod.Duration() < 0 {
		return errors.New("transport: keep_alive_period must not be negative")
	}
	// 保活间隔必须短于空闲超时，否则连接会被误判为空闲
	if c.KeepAlivePeriod.Duration() != 0 && c.KeepAlivePeriod.Duration() >= c.MaxIdleTimeout.Duration() {
		return errors.New("transport: keep_alive_period must be shorter than max_idle_timeout")
	}
	if c.CertValidity.Duration() <= 0 {
		return errors.New("transport: cert_validity must be positive")
	}
	return nil
}

// WithListenAddr 设置监听地址
func (c TransportConfig) WithListenAddr(addr string) TransportConfig {
	c.ListenAddr = addr
	return c
}
