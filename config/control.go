package config

import (
	"errors"
	"time"
)

// MaxEnvelopeBytesBound 控制信封的大小上限（64 KiB）
//
// 该值是线协议的一部分，配置只能收紧，不能放宽。
const MaxEnvelopeBytesBound = 64 * 1024

// ControlConfig 控制平面配置
//
// 控制信封的认证与描述符解析：
//   - 信封大小与时间戳容忍窗口
//   - 描述符获取超时与缓存
type ControlConfig struct {
	// MaxEnvelopeSize 序列化信封的大小上限（字节）
	// 在任何解码之前对原始帧执行，上限 64 KiB
	MaxEnvelopeSize int `json:"max_envelope_size"`

	// EnvelopeSkew 验证信封时间戳时容忍的时钟偏移
	// 比描述符窗口更紧：控制消息应即时送达
	EnvelopeSkew Duration `json:"envelope_skew"`

	// ResolveTimeout 单次描述符目录获取的超时
	// 超时按描述符不可用处理，不会无限等待
	ResolveTimeout Duration `json:"resolve_timeout"`

	// CacheTTL 描述符缓存条目的存活时间
	CacheTTL Duration `json:"cache_ttl"`

	// CacheSize 描述符缓存条目数量上限
	CacheSize int `json:"cache_size"`
}

// DefaultControlConfig 返回默认控制平面配置
func DefaultControlConfig() ControlConfig {
	return ControlConfig{
		MaxEnvelopeSize: MaxEnvelopeBytesBound,      // 使用协议上限 64 KiB
		EnvelopeSkew:    Duration(2 * time.Minute),  // 信封时间戳容忍 ±2 分钟
		ResolveTimeout:  Duration(10 * time.Second), // 描述符获取超时 10 秒
		CacheTTL:        Duration(10 * time.Minute), // 描述符缓存 10 分钟
		CacheSize:       1024,                       // 最多缓存 1024 个节点的描述符
	}
}

// Validate 验证控制平面配置
func (c ControlConfig) Validate() error {
	if c.MaxEnvelopeSize <= 0 {
		return errors.New("control: max_envelope_size must be positive")
	}
	if c.MaxEnvelopeSize > MaxEnvelopeBytesBound {
		return errors.New("control: max_envelope_size exceeds protocol bound of 64 KiB")
	}
	if c.EnvelopeSkew.Duration() <= 0 {
		return errors.New("control: envelope_skew must be positive")
	}
	if c.ResolveTimeout.Duration() <= 0 {
		return errors.New("control: resolve_timeout must be positive")
	}
	if c.CacheTTL.Duration() <= 0 {
		return errors.New("control: cache_ttl must be positive")
	}
	if c.CacheSize <= 0 {
		return errors.New("control: cache_size must be positive")
	}
	return nil
}

// WithEnvelopeSkew 设置信封时间戳容忍窗口
func (c ControlConfig) WithEnvelopeSkew(d time.Duration) ControlConfig {
	c.EnvelopeSkew = Duration(d)
	return c
}

// WithResolveTimeout 设置描述符获取超时
func (c ControlConfig) WithResolveTimeout(d time.Duration) ControlConfig {
	c.ResolveTimeout = Duration(d)
	return c
}
