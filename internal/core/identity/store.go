package identity

import (
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
)

// ============================================================================
// 密钥文件持久化
// ============================================================================
//
// 身份私钥以 PEM 格式落盘，权限 0600。写入始终走临时文件 +
// fsync + 原子 rename，崩溃时磁盘上要么是旧文件要么是新文件，
// 永远不会出现半截密钥。
//
// 提供口令时私钥以加密信封格式存储，见 keystore.go。

// PEM 块类型
const (
	pemTypeEd25519Private   = "ED25519 PRIVATE KEY"
	pemTypeSecp256k1Private = "SECP256K1 PRIVATE KEY"
	pemTypeEncryptedPrivate = "MESHTRUST ENCRYPTED PRIVATE KEY"
)

// keyFilePerm 密钥文件权限，仅属主可读写
const keyFilePerm = 0600

// SavePrivateKeyPEM 将私钥以 PEM 格式原子写入文件
//
// passphrase 非空时私钥以加密信封格式存储。
//
// 参数:
//   - path: 目标文件路径
//   - key: 要保存的私钥
//   - passphrase: 加密口令，空串表示明文存储
//
// 返回:
//   - error: 序列化或写入失败时返回错误
func SavePrivateKeyPEM(path string, key crypto.PrivateKey, passphrase string) error {
	if key == nil {
		return ErrNilPrivateKey
	}

	var block *pem.Block
	if passphrase != "" {
		sealed, err := sealKey(key, passphrase)
		if err != nil {
			return fmt.Errorf("seal private key: %w", err)
		}
		block = &pem.Block{Type: pemTypeEncryptedPrivate, Bytes: sealed}
	} else {
		raw, err := key.Raw()
		if err != nil {
			return fmt.Errorf("serialize private key: %w", err)
		}

		switch key.Type() {
		case crypto.KeyTypeEd25519:
			block = &pem.Block{Type: pemTypeEd25519Private, Bytes: raw}
		case crypto.KeyTypeSecp256k1:
			block = &pem.Block{Type: pemTypeSecp256k1Private, Bytes: raw}
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedKeyType, key.Type())
		}
	}

	return atomicWriteFile(path, pem.EncodeToMemory(block), keyFilePerm)
}

// LoadPrivateKeyPEM 从 PEM 文件加载私钥
//
// 文件不存在返回 ErrKeyNotFound；内容无法解码返回 ErrInvalidPEM。
// 加密信封需要口令：未提供返回 ErrPassphraseRequired，口令错误
// 返回 ErrWrongPassphrase。调用方绝不能把这些错误当作"重新生成
// 身份"的信号，损坏的密钥材料必须显式上报。
//
// 参数:
//   - path: 密钥文件路径
//   - passphrase: 解密口令，明文文件忽略此参数
//
// 返回:
//   - crypto.PrivateKey: 加载的私钥
//   - error: 文件缺失、损坏或口令错误时返回错误
func LoadPrivateKeyPEM(path string, passphrase string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEM
	}

	switch block.Type {
	case pemTypeEd25519Private:
		key, err := crypto.UnmarshalEd25519PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return key, nil

	case pemTypeSecp256k1Private:
		key, err := crypto.UnmarshalSecp256k1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return key, nil

	case pemTypeEncryptedPrivate:
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		return openKey(block.Bytes, passphrase)

	default:
		return nil, fmt.Errorf("%w: PEM block type %q", ErrUnsupportedKeyType, block.Type)
	}
}

// atomicWriteFile 原子写入文件
//
// 先写入同目录临时文件并 fsync，再 rename 到目标路径。
// rename 在同一文件系统内是原子操作。
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	success = true
	return nil
}
