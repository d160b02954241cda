package config

import (
	"errors"
	"time"
)

// MaxSigningKeysBound 描述符中并存签名密钥数量的协议上限
//
// 该值是线协议的一部分，配置只能收紧，不能放宽。
const MaxSigningKeysBound = 3

// IdentityConfig 身份配置
//
// 管理节点的身份密钥与信封签名密钥环：
//   - 身份密钥类型（Ed25519/Secp256k1）
//   - 密钥存储目录
//   - 签名密钥的有效期与轮换重叠窗口
type IdentityConfig struct {
	// KeyType 身份密钥类型
	// 可选值: "Ed25519", "Secp256k1"
	// 推荐使用 Ed25519（默认）
	KeyType string `json:"key_type"`

	// KeyDir 密钥目录路径
	// 存放身份私钥与签名密钥环文件。
	// 如果为空，将在内存中生成临时身份（仅用于测试）
	KeyDir string `json:"key_dir"`

	// Passphrase 密钥加密口令
	// 非空时身份私钥以加密信封格式落盘。
	// 口令只能通过代码注入，永不序列化。
	Passphrase string `json:"-"`

	// AutoGenerate 当密钥文件不存在时是否自动生成
	AutoGenerate bool `json:"auto_generate"`

	// MaxSigningKeys 描述符中并存签名密钥的数量上限
	// 不能超过协议上限 3
	MaxSigningKeys int `json:"max_signing_keys"`

	// SigningKeyValidity 新签名密钥的有效期
	SigningKeyValidity Duration `json:"signing_key_validity"`

	// RotationOverlap 轮换时新旧签名密钥的重叠窗口
	// 旧密钥在重叠窗口内仍然有效，保证对端平滑迁移
	RotationOverlap Duration `json:"rotation_overlap"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		KeyType:            "Ed25519",                     // 默认使用 Ed25519：安全性高、性能好、密钥短
		KeyDir:             "",                            // 默认空：内存临时身份，生产环境应设置持久化路径
		AutoGenerate:       true,                          // 默认启用：密钥文件不存在时自动生成
		MaxSigningKeys:     MaxSigningKeysBound,           // 使用协议上限
		SigningKeyValidity: Duration(30 * 24 * time.Hour), // 签名密钥有效期 30 天
		RotationOverlap:    Duration(48 * time.Hour),      // 轮换重叠窗口 48 小时
	}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	switch c.KeyType {
	case "Ed25519", "Secp256k1":
		// 有效类型
	default:
		return errors.New("identity: invalid key type: must be Ed25519 or Secp256k1")
	}

	if c.MaxSigningKeys < 1 {
		return errors.New("identity: max_signing_keys must be at least 1")
	}
	if c.MaxSigningKeys > MaxSigningKeysBound {
		return errors.New("identity: max_signing_keys exceeds protocol bound")
	}

	if c.SigningKeyValidity.Duration() <= 0 {
		return errors.New("identity: signing_key_validity must be positive")
	}
	if c.RotationOverlap.Duration() < 0 {
		return errors.New("identity: rotation_overlap must not be negative")
	}
	if c.RotationOverlap.Duration() >= c.SigningKeyValidity.Duration() {
		return errors.New("identity: rotation_overlap must be shorter than signing_key_validity")
	}

	return nil
}

// WithKeyType 设置密钥类型
func (c IdentityConfig) WithKeyType(keyType string) IdentityConfig {
	c.KeyType = keyType
	return c
}

// WithKeyDir 设置密钥目录路径
func (c IdentityConfig) WithKeyDir(dir string) IdentityConfig {
	c.KeyDir = dir
	return c
}

// WithPassphrase 设置密钥加密口令
func (c IdentityConfig) WithPassphrase(pass string) IdentityConfig {
	c.Passphrase = pass
	return c
}

// WithRotationOverlap 设置轮换重叠窗口
func (c IdentityConfig) WithRotationOverlap(overlap time.Duration) IdentityConfig {
	c.RotationOverlap = Duration(overlap)
	return c
}
