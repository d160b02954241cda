package pinning

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrPinMismatch 出示的证书指纹与已固定的指纹不符
	ErrPinMismatch = errors.New("certificate fingerprint does not match pinned value")

	// ErrEmptyFingerprint 出示的指纹为空
	ErrEmptyFingerprint = errors.New("empty certificate fingerprint")

	// ErrNilDescriptor 描述符为空
	ErrNilDescriptor = errors.New("nil descriptor")
)
