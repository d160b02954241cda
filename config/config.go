// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Identity.KeyDir = "/var/lib/meshtrust/keys"
//	cfg.Descriptor = cfg.Descriptor.WithEndpoints("198.51.100.7:4001")
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Config 是 MeshTrust 的完整配置结构
//
// 该结构体嵌入了所有组件的子配置，提供统一的配置接口。
// 配置按照功能模块组织：
//   - Identity: 身份与签名密钥管理
//   - Descriptor: 描述符构建与发布
//   - Guard: 重放防护与速率限制
//   - Control: 控制平面认证与描述符解析
//   - Storage: 持久化存储
//   - Transport: QUIC 安全传输
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Descriptor 描述符配置
	Descriptor DescriptorConfig `json:"descriptor"`

	// Guard 防护配置
	Guard GuardConfig `json:"guard"`

	// Control 控制平面配置
	Control ControlConfig `json:"control"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于大多数场景。
// 可以通过修改字段或使用 WithXxx 方法来定制配置。
func NewConfig() *Config {
	return &Config{
		Identity:   DefaultIdentityConfig(),
		Descriptor: DefaultDescriptorConfig(),
		Guard:      DefaultGuardConfig(),
		Control:    DefaultControlConfig(),
		Storage:    DefaultStorageConfig(),
		Transport:  DefaultTransportConfig(),
	}
}

// Validate 验证配置的有效性
//
// 检查所有子配置是否有效，随后执行跨模块一致性检查。
// 建议在使用配置前调用此方法。
func (c *Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Descriptor.Validate(); err != nil {
		return err
	}
	if err := c.Guard.Validate(); err != nil {
		return err
	}
	if err := c.Control.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	return c.validateCompatibility()
}

// validateCompatibility 验证配置之间的兼容性
func (c *Config) validateCompatibility() error {
	// 去重记录保留时长必须覆盖信封时间戳容忍窗口，
	// 否则攻击者可以在记录淘汰后、窗口关闭前重放消息
	if c.Guard.ReplayRetention.Duration() < c.Control.EnvelopeSkew.Duration() {
		return fmt.Errorf("guard: replay_retention (%s) must cover control envelope_skew (%s)",
			c.Guard.ReplayRetention, c.Control.EnvelopeSkew)
	}

	// 重发布必须发生在描述符过期之前留出发布超时的余量
	lifetime := c.Descriptor.Lifetime.Duration()
	republishAt := float64(lifetime) * c.Descriptor.RepublishFraction
	if float64(lifetime)-republishAt <= float64(c.Descriptor.PublishTimeout.Duration()) {
		return errors.New("descriptor: republish point leaves no margin before expiry")
	}

	return nil
}

// FromJSON 从 JSON 数据创建配置
//
// 未出现在 JSON 中的字段保留默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// ToJSON 序列化配置为 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
