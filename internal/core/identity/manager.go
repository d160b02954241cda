package identity

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
)

// KeyDir 下的固定文件名
const (
	identityKeyFileName = "identity.pem"
	keyringFileName     = "signing_keys.json"
)

// keyTypeFromString 将配置中的密钥类型名映射为密钥类型
//
// ECDSA 在此处显式拒绝，而不是落入默认分支：它是线格式中的
// 保留值，拒绝时给出明确的错误信息。
func keyTypeFromString(name string) (crypto.KeyType, error) {
	switch name {
	case "Ed25519", "":
		return crypto.KeyTypeEd25519, nil
	case "Secp256k1":
		return crypto.KeyTypeSecp256k1, nil
	case "ECDSA":
		return crypto.KeyTypeUnspecified, fmt.Errorf("%w: ECDSA is reserved and not supported", ErrUnsupportedKeyType)
	default:
		return crypto.KeyTypeUnspecified, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, name)
	}
}

// Manager 身份管理器
//
// 按配置加载、生成、轮换身份密钥与签名密钥环。Manager 本身
// 无状态，所有持久状态都在 KeyDir 下的文件里。
type Manager struct {
	config config.IdentityConfig
	clk    clock.Clock
}

// NewManager 创建身份管理器
func NewManager(cfg config.IdentityConfig) *Manager {
	return newManagerWithClock(cfg, clock.New())
}

func newManagerWithClock(cfg config.IdentityConfig, clk clock.Clock) *Manager {
	return &Manager{config: cfg, clk: clk}
}

// KeyPath 返回身份私钥文件路径，KeyDir 未配置时返回空串
func (m *Manager) KeyPath() string {
	if m.config.KeyDir == "" {
		return ""
	}
	return filepath.Join(m.config.KeyDir, identityKeyFileName)
}

// KeyringPath 返回签名密钥环文件路径，KeyDir 未配置时返回空串
func (m *Manager) KeyringPath() string {
	if m.config.KeyDir == "" {
		return ""
	}
	return filepath.Join(m.config.KeyDir, keyringFileName)
}

// Create 按配置的密钥类型生成新身份（不落盘）
func (m *Manager) Create() (*Identity, error) {
	keyType, err := keyTypeFromString(m.config.KeyType)
	if err != nil {
		return nil, err
	}
	return Generate(keyType)
}

// Load 从 KeyDir 加载身份
//
// KeyDir 未配置或文件不存在返回 ErrKeyNotFound。
func (m *Manager) Load() (*Identity, error) {
	path := m.KeyPath()
	if path == "" {
		return nil, ErrKeyNotFound
	}

	key, err := LoadPrivateKeyPEM(path, m.config.Passphrase)
	if err != nil {
		return nil, err
	}
	return NewIdentity(key)
}

// Save 将身份私钥持久化到 KeyDir
func (m *Manager) Save(id *Identity) error {
	path := m.KeyPath()
	if path == "" {
		return fmt.Errorf("identity: key directory not configured")
	}
	return SavePrivateKeyPEM(path, id.privateKey, m.config.Passphrase)
}

// LoadOrCreate 加载既有身份，不存在时按配置生成
//
// 语义:
//   - KeyDir 为空: 生成内存临时身份（需启用 AutoGenerate）
//   - 文件存在: 加载。文件损坏或口令错误时原样返回错误，
//     绝不生成新身份顶替：那会悄悄改变节点 ID，使既有的
//     信任关系全部失效。这类错误对启动而言是致命的。
//   - 文件不存在: AutoGenerate 开启时生成并落盘，否则返回
//     ErrAutoGenerateDisabled
//
// 返回:
//   - *Identity: 加载或新建的身份
//   - error: 密钥材料损坏、口令错误或生成失败时返回错误
func (m *Manager) LoadOrCreate() (*Identity, error) {
	if m.config.KeyDir == "" {
		if !m.config.AutoGenerate {
			return nil, ErrAutoGenerateDisabled
		}
		return m.Create()
	}

	id, err := m.Load()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("load identity key: %w", err)
	}

	if !m.config.AutoGenerate {
		return nil, ErrAutoGenerateDisabled
	}

	id, err = m.Create()
	if err != nil {
		return nil, err
	}
	if err := m.Save(id); err != nil {
		return nil, fmt.Errorf("persist new identity: %w", err)
	}

	logger.Info("已生成新身份",
		"peer_id", id.PeerID().ShortString(),
		"key_type", id.KeyType().String())
	return id, nil
}

// LoadKeyring 加载或创建签名密钥环
//
// KeyDir 未配置时密钥环仅存在于内存。
func (m *Manager) LoadKeyring() (*Keyring, error) {
	path := ""
	if m.config.KeyDir != "" {
		path = m.KeyringPath()
	}
	return newKeyringWithClock(path, m.config, m.clk)
}

// Rotate 显式轮换身份
//
// 生成新身份密钥并覆盖持久化的私钥文件，返回携带新节点 ID
// 的身份。这是唯一合法的"换身份"途径，由操作者显式发起。
// 调用方负责随后重置签名密钥环（Keyring.Reset）并重新发布
// 描述符。
//
// 返回:
//   - *Identity: 新身份，节点 ID 与旧身份不同
//   - error: 生成或持久化失败时返回错误
func (m *Manager) Rotate() (*Identity, error) {
	id, err := m.Create()
	if err != nil {
		return nil, err
	}

	if m.config.KeyDir != "" {
		if err := m.Save(id); err != nil {
			return nil, fmt.Errorf("persist rotated identity: %w", err)
		}
	}

	logger.Info("身份已轮换，节点 ID 已变更",
		"peer_id", id.PeerID().ShortString(),
		"key_type", id.KeyType().String())
	return id, nil
}
