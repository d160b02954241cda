package identity

import (
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
)

// ============================================================================
// 加密信封
// ============================================================================
//
// 口令保护的私钥落盘格式:
//
//	[salt(16)][nonce(24)][ciphertext]
//
// 密钥派生使用 argon2id，加密使用 XChaCha20-Poly1305。
// 明文是私钥的线格式序列化（含类型前缀），解封后类型自描述。
// 参数是格式的一部分，变更即破坏既有密钥文件的兼容性。

// argon2id 派生参数
const (
	kdfSaltLen  = 16
	kdfTime     = 2
	kdfMemoryKB = 64 * 1024
	kdfThreads  = 1
)

// sealKey 用口令加密私钥
//
// 每次调用使用新的随机 salt 与 nonce，同一密钥两次加密的
// 输出不同。
func sealKey(key crypto.PrivateKey, passphrase string) ([]byte, error) {
	plaintext, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, err
	}

	salt, err := crypto.RandomBytes(kdfSaltLen)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	nonce, err := crypto.RandomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	derived := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	sealed := make([]byte, 0, kdfSaltLen+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	sealed = aead.Seal(sealed, nonce, plaintext, nil)
	return sealed, nil
}

// openKey 用口令解密私钥
//
// 认证失败无法区分口令错误与信封损坏，统一返回
// ErrWrongPassphrase。
func openKey(sealed []byte, passphrase string) (crypto.PrivateKey, error) {
	minLen := kdfSaltLen + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(sealed) < minLen {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", ErrInvalidPEM, len(sealed))
	}

	salt := sealed[:kdfSaltLen]
	nonce := sealed[kdfSaltLen : kdfSaltLen+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[kdfSaltLen+chacha20poly1305.NonceSizeX:]

	derived := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	key, err := crypto.UnmarshalPrivateKeyBytes(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return key, nil
}
