package identity

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrNilPrivateKey 私钥为空
	ErrNilPrivateKey = errors.New("identity: private key is nil")

	// ErrKeyNotFound 密钥文件不存在
	ErrKeyNotFound = errors.New("identity: key file not found")

	// ErrInvalidPEM PEM 数据无效或损坏
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrUnsupportedKeyType 不支持的密钥类型
	//
	// Ed25519 和 Secp256k1 之外的类型（包括 ECDSA）在生成阶段即被拒绝。
	ErrUnsupportedKeyType = errors.New("identity: unsupported key type")

	// ErrPassphraseRequired 密钥文件已加密但未提供口令
	ErrPassphraseRequired = errors.New("identity: key file is encrypted, passphrase required")

	// ErrWrongPassphrase 口令错误或加密信封已损坏
	ErrWrongPassphrase = errors.New("identity: cannot decrypt key: wrong passphrase or corrupted envelope")

	// ErrKeyringCorrupted 签名密钥环文件损坏
	ErrKeyringCorrupted = errors.New("identity: signing keyring file corrupted")

	// ErrNoActiveSigningKey 当前时刻没有有效的签名密钥
	ErrNoActiveSigningKey = errors.New("identity: no active signing key")

	// ErrAutoGenerateDisabled 密钥不存在且自动生成被禁用
	ErrAutoGenerateDisabled = errors.New("identity: key file not found and auto-generate is disabled")
)
