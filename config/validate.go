package config

import (
	"errors"
	"fmt"
)

// ValidateAll 验证整个配置的有效性
//
// 这是 Config.Validate() 的别名，提供更明确的语义。
// 它会递归验证所有子配置。
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// MustValidate 验证配置，如果失败则 panic
//
// 仅用于初始化阶段或测试代码。
// 生产代码应使用 Validate() 并处理错误。
func MustValidate(c *Config) {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}
}

// ValidateAndFix 验证配置并尝试自动修复常见问题
//
// 该函数会：
//  1. 对于可修复的问题，自动应用修复
//  2. 验证修复后的配置
//  3. 返回修复后的配置或错误
//
// 可修复的问题示例：
//   - 去重保留时长短于信封容忍窗口 -> 抬升到窗口的两倍
//   - 限速值为零或负 -> 使用默认值
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	// 防护：去重保留必须覆盖信封窗口
	if c.Guard.ReplayRetention.Duration() < c.Control.EnvelopeSkew.Duration() {
		c.Guard.ReplayRetention = Duration(2 * c.Control.EnvelopeSkew.Duration())
	}

	// 防护：非法限速值回退默认
	defaults := DefaultGuardConfig()
	if c.Guard.PreAuthRatePerMin <= 0 {
		c.Guard.PreAuthRatePerMin = defaults.PreAuthRatePerMin
	}
	if c.Guard.PostAuthRatePerMin <= 0 {
		c.Guard.PostAuthRatePerMin = defaults.PostAuthRatePerMin
	}

	// 描述符：超出协议上限的配置收紧到上限
	if c.Descriptor.MaxSize > MaxDescriptorBytesBound {
		c.Descriptor.MaxSize = MaxDescriptorBytesBound
	}
	if c.Control.MaxEnvelopeSize > MaxEnvelopeBytesBound {
		c.Control.MaxEnvelopeSize = MaxEnvelopeBytesBound
	}

	// 验证修复后的配置
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed after fixes: %w", err)
	}

	return c, nil
}
