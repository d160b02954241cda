package descriptor

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrMalformed 描述符结构解码失败
	ErrMalformed = errors.New("descriptor: malformed")

	// ErrOversized 描述符超过大小上限（在任何解码之前检查）
	ErrOversized = errors.New("descriptor: oversized")

	// ErrNilIdentity 发布器缺少身份
	ErrNilIdentity = errors.New("descriptor: identity is nil")

	// ErrNilDirectory 发布器缺少目录
	ErrNilDirectory = errors.New("descriptor: directory is nil")

	// ErrNilKeyring 发布器缺少签名密钥环
	ErrNilKeyring = errors.New("descriptor: signing keyring is nil")

	// ErrBoundsExceeded 构建的描述符超出协议上限
	ErrBoundsExceeded = errors.New("descriptor: protocol bounds exceeded")
)
