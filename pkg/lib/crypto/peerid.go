package crypto

import (
	"encoding/hex"

	sha256 "github.com/minio/sha256-simd"

	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
//                              节点 ID 派生
// ============================================================================
//
// PeerID = SHA256(MarshalPublicKey(身份公钥))
//
// 密钥先按线格式序列化再取摘要，保证不同实现对同一公钥
// 派生出相同的节点 ID。

// KeyIDLen 签名密钥 ID 的十六进制字符数（摘要前 8 字节）
const KeyIDLen = 16

// PeerIDFromPublicKey 从身份公钥派生节点 ID
func PeerIDFromPublicKey(pub PublicKey) (types.PeerID, error) {
	data, err := MarshalPublicKey(pub)
	if err != nil {
		return types.EmptyPeerID, err
	}
	return types.PeerID(sha256.Sum256(data)), nil
}

// PeerIDFromPrivateKey 从身份私钥派生节点 ID
func PeerIDFromPrivateKey(priv PrivateKey) (types.PeerID, error) {
	if priv == nil {
		return types.EmptyPeerID, ErrNilPrivateKey
	}
	return PeerIDFromPublicKey(priv.GetPublic())
}

// VerifyPeerID 验证公钥是否与声称的节点 ID 匹配
func VerifyPeerID(id types.PeerID, pub PublicKey) (bool, error) {
	derived, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return false, err
	}
	return derived.Equal(id), nil
}

// KeyIDFromPublicKey 从签名公钥派生短密钥 ID
//
// 取公钥序列化摘要的前 8 字节十六进制编码（16 个字符）。
// 密钥 ID 仅作为验签时的提示，不构成信任决策。
func KeyIDFromPublicKey(pub PublicKey) (string, error) {
	data, err := MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}
