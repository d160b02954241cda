package crypto

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

// 密钥相关错误
var (
	// ErrBadKeyType 不支持的密钥类型
	ErrBadKeyType = errors.New("invalid or unsupported key type")

	// ErrNilPrivateKey 私钥为空
	ErrNilPrivateKey = errors.New("nil private key")

	// ErrNilPublicKey 公钥为空
	ErrNilPublicKey = errors.New("nil public key")

	// ErrInvalidKeySize 密钥大小无效
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidPublicKey 公钥无效
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey 私钥无效
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

// 签名相关错误
var (
	// ErrNilSignature 签名为空
	ErrNilSignature = errors.New("nil signature")

	// ErrInvalidSignature 签名无效
	ErrInvalidSignature = errors.New("invalid signature")
)

// 序列化相关错误
var (
	// ErrMarshalFailed 序列化失败
	ErrMarshalFailed = errors.New("marshal failed")

	// ErrUnmarshalFailed 反序列化失败
	ErrUnmarshalFailed = errors.New("unmarshal failed")
)
