package identity

import (
	"fmt"
	"io"

	sha256 "github.com/minio/sha256-simd"
	"golang.org/x/crypto/hkdf"

	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// Identity 实现
// ============================================================================

// deriveSalt HKDF 派生的域分隔盐，固定值，不可变更
var deriveSalt = []byte("meshtrust/identity/derive/v1")

// Identity 节点身份
//
// 封装身份密钥对与由公钥派生的节点 ID。私钥永不离开本结构：
// 外部只能通过 Sign 使用它签名，或通过 DeriveSecret 派生
// 与身份绑定的确定性子密钥（如通道证书种子）。
type Identity struct {
	privateKey crypto.PrivateKey
	publicKey  crypto.PublicKey
	peerID     types.PeerID
}

// NewIdentity 从私钥创建身份
//
// 参数:
//   - privateKey: 身份私钥
//
// 返回:
//   - *Identity: 身份实例
//   - error: 私钥为空或派生节点 ID 失败时返回错误
func NewIdentity(privateKey crypto.PrivateKey) (*Identity, error) {
	if privateKey == nil {
		return nil, ErrNilPrivateKey
	}

	publicKey := privateKey.GetPublic()
	if publicKey == nil {
		return nil, fmt.Errorf("derive public key: %w", ErrNilPrivateKey)
	}

	peerID, err := crypto.PeerIDFromPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("derive peer ID: %w", err)
	}

	return &Identity{
		privateKey: privateKey,
		publicKey:  publicKey,
		peerID:     peerID,
	}, nil
}

// Generate 生成指定类型的新身份
//
// 仅接受 Ed25519 与 Secp256k1，其余类型（包括 ECDSA）返回
// ErrUnsupportedKeyType。
func Generate(keyType crypto.KeyType) (*Identity, error) {
	switch keyType {
	case crypto.KeyTypeEd25519, crypto.KeyTypeSecp256k1:
		// 支持的类型
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, keyType)
	}

	privateKey, _, err := crypto.GenerateKeyPair(keyType)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return NewIdentity(privateKey)
}

// PeerID 返回节点 ID
func (id *Identity) PeerID() types.PeerID {
	return id.peerID
}

// PublicKey 返回身份公钥
func (id *Identity) PublicKey() crypto.PublicKey {
	return id.publicKey
}

// KeyType 返回身份密钥类型
func (id *Identity) KeyType() crypto.KeyType {
	return id.privateKey.Type()
}

// Sign 使用身份私钥对数据签名
func (id *Identity) Sign(data []byte) ([]byte, error) {
	return id.privateKey.Sign(data)
}

// Verify 使用身份公钥验证签名
func (id *Identity) Verify(data, sig []byte) (bool, error) {
	return id.publicKey.Verify(data, sig)
}

// DeriveSecret 派生与身份绑定的确定性子密钥
//
// 使用 HKDF-SHA256 从身份私钥派生 32 字节密钥，label 做域分隔。
// 同一身份同一 label 的结果恒定，不同 label 的结果互不相关。
// 用于按通道派生 TLS 证书种子等场景，避免私钥本体外泄。
//
// 参数:
//   - label: 派生域标签，如 "meshtrust/cert/control"
//
// 返回:
//   - []byte: 32 字节派生密钥
//   - error: 读取私钥原始字节失败时返回错误
func (id *Identity) DeriveSecret(label string) ([]byte, error) {
	ikm, err := id.privateKey.Raw()
	if err != nil {
		return nil, fmt.Errorf("read private key material: %w", err)
	}

	reader := hkdf.New(sha256.New, ikm, deriveSalt, []byte(label))
	secret := make([]byte, 32)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, fmt.Errorf("derive secret: %w", err)
	}
	return secret, nil
}

// String 返回身份的简短描述
func (id *Identity) String() string {
	return fmt.Sprintf("Identity(%s, %s)", id.peerID.ShortString(), id.KeyType())
}
