package types

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// ============================================================================
//                              Fingerprint - 证书指纹
// ============================================================================

// Fingerprint TLS 证书公钥指纹
//
// 计算方式：SHA256(SubjectPublicKeyInfo DER)。
// 固定（Pinning）决策对指纹使用常量时间比较，防止时序攻击。
type Fingerprint [32]byte

// EmptyFingerprint 空指纹
var EmptyFingerprint Fingerprint

// ErrInvalidFingerprint 无效的指纹错误
var ErrInvalidFingerprint = errors.New("invalid fingerprint: must be 32 bytes")

// String 返回指纹的十六进制字符串表示
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ShortString 返回指纹的短字符串表示
//
// 日志中永不输出完整指纹以外的密钥材料；
// 短前缀用于人工关联事件。
func (f Fingerprint) ShortString() string {
	return hex.EncodeToString(f[:4])
}

// Bytes 返回指纹的字节切片
func (f Fingerprint) Bytes() []byte {
	return f[:]
}

// Equal 使用常量时间比较两个指纹是否相等
func (f Fingerprint) Equal(other Fingerprint) bool {
	return subtle.ConstantTimeCompare(f[:], other[:]) == 1
}

// IsEmpty 检查指纹是否为空
func (f Fingerprint) IsEmpty() bool {
	return f == EmptyFingerprint
}

// FingerprintFromBytes 从字节切片创建指纹
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	if len(b) != 32 {
		return EmptyFingerprint, ErrInvalidFingerprint
	}
	var f Fingerprint
	copy(f[:], b)
	return f, nil
}

// ParseFingerprint 从十六进制字符串解析指纹
func ParseFingerprint(s string) (Fingerprint, error) {
	if len(s) != 64 {
		return EmptyFingerprint, ErrInvalidFingerprint
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return EmptyFingerprint, ErrInvalidFingerprint
	}
	return FingerprintFromBytes(b)
}
