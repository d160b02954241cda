package config

import (
	"errors"
	"time"
)

// 描述符协议上限
//
// 这些值是线协议的一部分，配置只能收紧，不能放宽。
const (
	// MaxDescriptorBytesBound 序列化描述符的大小上限（16 KiB）
	MaxDescriptorBytesBound = 16 * 1024

	// MaxDescriptorLifetimeBound 描述符生命周期上限（30 天）
	MaxDescriptorLifetimeBound = 30 * 24 * time.Hour

	// MaxPinsPerChannelBound 每通道并存证书指纹数量上限
	MaxPinsPerChannelBound = 2

	// MaxEndpointsBound 描述符中地址条目数量上限
	MaxEndpointsBound = 32
)

// DescriptorConfig 描述符配置
//
// 控制本节点描述符的构建、签名与发布：
//   - 生命周期与重发布节奏
//   - 大小上限与时钟偏移容忍
//   - 静态通告地址
type DescriptorConfig struct {
	// Lifetime 描述符生命周期
	// expires_at = issued_at + Lifetime，上限 30 天
	Lifetime Duration `json:"lifetime"`

	// MaxSize 序列化描述符的大小上限（字节）
	// 发布侧与验证侧同时执行，上限 16 KiB
	MaxSize int `json:"max_size"`

	// ClockSkew 验证描述符时间戳时容忍的时钟偏移
	ClockSkew Duration `json:"clock_skew"`

	// RepublishFraction 重发布时机占生命周期的比例
	// 经过 Lifetime * RepublishFraction 后自动重发布，取值 (0, 1)
	RepublishFraction float64 `json:"republish_fraction"`

	// PublishTimeout 单次目录发布操作的超时
	PublishTimeout Duration `json:"publish_timeout"`

	// Endpoints 静态通告地址列表
	// 格式 "host:port"，运行时可通过发布器追加动态地址
	Endpoints []string `json:"endpoints,omitempty"`
}

// DefaultDescriptorConfig 返回默认描述符配置
func DefaultDescriptorConfig() DescriptorConfig {
	return DescriptorConfig{
		Lifetime:          Duration(7 * 24 * time.Hour), // 默认生命周期 7 天
		MaxSize:           MaxDescriptorBytesBound,      // 使用协议上限 16 KiB
		ClockSkew:         Duration(5 * time.Minute),    // 时钟偏移容忍 ±5 分钟
		RepublishFraction: 0.5,                          // 过半生命周期即重发布
		PublishTimeout:    Duration(30 * time.Second),   // 目录发布超时 30 秒
	}
}

// Validate 验证描述符配置
func (c DescriptorConfig) Validate() error {
	if c.Lifetime.Duration() <= 0 {
		return errors.New("descriptor: lifetime must be positive")
	}
	if c.Lifetime.Duration() > MaxDescriptorLifetimeBound {
		return errors.New("descriptor: lifetime exceeds protocol bound of 30 days")
	}
	if c.MaxSize <= 0 {
		return errors.New("descriptor: max_size must be positive")
	}
	if c.MaxSize > MaxDescriptorBytesBound {
		return errors.New("descriptor: max_size exceeds protocol bound of 16 KiB")
	}
	if c.ClockSkew.Duration() <= 0 {
		return errors.New("descriptor: clock_skew must be positive")
	}
	if c.RepublishFraction <= 0 || c.RepublishFraction >= 1 {
		return errors.New("descriptor: republish_fraction must be within (0, 1)")
	}
	if c.PublishTimeout.Duration() <= 0 {
		return errors.New("descriptor: publish_timeout must be positive")
	}
	if len(c.Endpoints) > MaxEndpointsBound {
		return errors.New("descriptor: too many endpoints")
	}
	return nil
}

// WithLifetime 设置描述符生命周期
func (c DescriptorConfig) WithLifetime(d time.Duration) DescriptorConfig {
	c.Lifetime = Duration(d)
	return c
}

// WithEndpoints 设置静态通告地址
func (c DescriptorConfig) WithEndpoints(endpoints ...string) DescriptorConfig {
	c.Endpoints = endpoints
	return c
}
