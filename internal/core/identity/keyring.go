package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
)

// ============================================================================
// 签名密钥环
// ============================================================================
//
// 身份密钥只签描述符，控制信封由独立的签名密钥签名。签名密钥
// 带有效期窗口，通过描述符发布给对端。轮换时新旧密钥在重叠
// 窗口内并存，对端凭旧描述符仍能验证在途消息。
//
// 密钥环持久化为 JSON 文件（0600，原子写入），并存密钥数量
// 受协议上限约束。

// keyringFileVersion 密钥环文件格式版本
const keyringFileVersion = 1

// SigningKey 控制信封签名密钥
//
// 实例一经创建不可变，轮换时用新实例整体替换。
type SigningKey struct {
	keyID      string
	privateKey crypto.PrivateKey
	validFrom  time.Time
	validTo    time.Time
}

// KeyID 返回签名密钥 ID（公钥摘要前 8 字节的十六进制）
func (k *SigningKey) KeyID() string {
	return k.keyID
}

// PublicKey 返回签名公钥
func (k *SigningKey) PublicKey() crypto.PublicKey {
	return k.privateKey.GetPublic()
}

// ValidFrom 返回有效期起点
func (k *SigningKey) ValidFrom() time.Time {
	return k.validFrom
}

// ValidTo 返回有效期终点
func (k *SigningKey) ValidTo() time.Time {
	return k.validTo
}

// ValidAt 报告密钥在指定时刻是否有效（闭区间）
func (k *SigningKey) ValidAt(t time.Time) bool {
	return !t.Before(k.validFrom) && !t.After(k.validTo)
}

// Sign 使用签名密钥对数据签名
func (k *SigningKey) Sign(data []byte) ([]byte, error) {
	return k.privateKey.Sign(data)
}

// Keyring 签名密钥环
//
// 线程安全。keys 按 validFrom 升序排列，最新密钥在末尾。
type Keyring struct {
	mu sync.RWMutex

	path     string // 空表示仅内存，不落盘
	keyType  crypto.KeyType
	maxKeys  int
	validity time.Duration
	overlap  time.Duration
	clk      clock.Clock

	keys []*SigningKey
}

// NewKeyring 创建或加载签名密钥环
//
// path 为空时密钥环仅存在于内存。文件存在但无法解析时返回
// ErrKeyringCorrupted，调用方必须视为致命错误，不得静默重建。
// 密钥环为空时自动生成第一把密钥。
//
// 参数:
//   - path: 密钥环文件路径，空串表示内存模式
//   - cfg: 身份配置（密钥类型、有效期、重叠窗口、数量上限）
//
// 返回:
//   - *Keyring: 密钥环实例
//   - error: 配置无效或文件损坏时返回错误
func NewKeyring(path string, cfg config.IdentityConfig) (*Keyring, error) {
	return newKeyringWithClock(path, cfg, clock.New())
}

func newKeyringWithClock(path string, cfg config.IdentityConfig, clk clock.Clock) (*Keyring, error) {
	keyType, err := keyTypeFromString(cfg.KeyType)
	if err != nil {
		return nil, err
	}

	maxKeys := cfg.MaxSigningKeys
	if maxKeys <= 0 || maxKeys > config.MaxSigningKeysBound {
		maxKeys = config.MaxSigningKeysBound
	}

	kr := &Keyring{
		path:     path,
		keyType:  keyType,
		maxKeys:  maxKeys,
		validity: cfg.SigningKeyValidity.Duration(),
		overlap:  cfg.RotationOverlap.Duration(),
		clk:      clk,
	}

	if path != "" {
		if err := kr.load(); err != nil {
			return nil, err
		}
	}

	if len(kr.keys) == 0 {
		if _, err := kr.Rotate(); err != nil {
			return nil, err
		}
	}

	return kr, nil
}

// Current 返回当前应该用于签名的密钥
//
// 取当前时刻有效的最新密钥。所有密钥都已过期时返回
// ErrNoActiveSigningKey，此时需要显式轮换。
func (kr *Keyring) Current() (*SigningKey, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	now := kr.clk.Now()
	for i := len(kr.keys) - 1; i >= 0; i-- {
		if kr.keys[i].ValidAt(now) {
			return kr.keys[i], nil
		}
	}
	return nil, ErrNoActiveSigningKey
}

// Active 返回所有尚未过期的密钥
//
// 结果按 validFrom 升序排列，用于填充描述符的签名密钥列表。
// 处于重叠窗口内的旧密钥同样包含在内。
func (kr *Keyring) Active() []*SigningKey {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	now := kr.clk.Now()
	active := make([]*SigningKey, 0, len(kr.keys))
	for _, k := range kr.keys {
		if k.validTo.After(now) {
			active = append(active, k)
		}
	}
	return active
}

// ByID 按密钥 ID 查找
func (kr *Keyring) ByID(keyID string) (*SigningKey, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	for _, k := range kr.keys {
		if k.keyID == keyID {
			return k, true
		}
	}
	return nil, false
}

// Len 返回密钥环中的密钥数量（含已过期未清理的）
func (kr *Keyring) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.keys)
}

// Rotate 轮换签名密钥
//
// 生成新密钥，有效期从当前时刻起算。既有密钥的有效期终点被
// 收缩到重叠窗口末端，窗口内新旧密钥并存。已过期的密钥被清
// 理，数量超过上限时淘汰最旧的密钥。落盘模式下轮换结果原子
// 持久化。
//
// 返回:
//   - *SigningKey: 新生成的签名密钥
//   - error: 生成或持久化失败时返回错误
func (kr *Keyring) Rotate() (*SigningKey, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	now := kr.clk.Now().UTC()

	privateKey, publicKey, err := crypto.GenerateKeyPair(kr.keyType)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	keyID, err := crypto.KeyIDFromPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("derive key ID: %w", err)
	}

	newKey := &SigningKey{
		keyID:      keyID,
		privateKey: privateKey,
		validFrom:  now,
		validTo:    now.Add(kr.validity),
	}

	// 收缩旧密钥窗口：实例不可变，整体替换
	overlapEnd := now.Add(kr.overlap)
	retained := make([]*SigningKey, 0, len(kr.keys)+1)
	for _, k := range kr.keys {
		if !k.validTo.After(now) {
			continue // 已过期
		}
		if k.validTo.After(overlapEnd) {
			k = &SigningKey{
				keyID:      k.keyID,
				privateKey: k.privateKey,
				validFrom:  k.validFrom,
				validTo:    overlapEnd,
			}
		}
		retained = append(retained, k)
	}
	retained = append(retained, newKey)

	// 超过上限时淘汰最旧的密钥
	for len(retained) > kr.maxKeys {
		retained = retained[1:]
	}
	kr.keys = retained

	if kr.path != "" {
		if err := kr.save(); err != nil {
			return nil, fmt.Errorf("persist keyring: %w", err)
		}
	}
	return newKey, nil
}

// Reset 清空密钥环并生成一把新密钥
//
// 身份轮换后调用：旧签名密钥绑定在旧身份的描述符上，对新
// 身份没有意义。
func (kr *Keyring) Reset() (*SigningKey, error) {
	kr.mu.Lock()
	kr.keys = nil
	kr.mu.Unlock()
	return kr.Rotate()
}

// ============================================================================
// 持久化
// ============================================================================

// keyringFile 密钥环文件格式
type keyringFile struct {
	Version int            `json:"version"`
	Keys    []keyringEntry `json:"keys"`
}

// keyringEntry 单把密钥的存储格式
//
// PrivateKey 是线格式序列化（含类型前缀），时间戳为 Unix 秒。
type keyringEntry struct {
	KeyID      string `json:"key_id"`
	PrivateKey []byte `json:"private_key"`
	ValidFrom  int64  `json:"valid_from"`
	ValidTo    int64  `json:"valid_to"`
}

// load 从文件加载密钥环，文件不存在时保持为空
func (kr *Keyring) load() error {
	data, err := os.ReadFile(kr.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read keyring file: %w", err)
	}

	var file keyringFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyringCorrupted, err)
	}
	if file.Version != keyringFileVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrKeyringCorrupted, file.Version)
	}

	keys := make([]*SigningKey, 0, len(file.Keys))
	for _, entry := range file.Keys {
		privateKey, err := crypto.UnmarshalPrivateKeyBytes(entry.PrivateKey)
		if err != nil {
			return fmt.Errorf("%w: key %s: %v", ErrKeyringCorrupted, entry.KeyID, err)
		}

		// 校验存储的 keyID 与密钥一致，不一致说明文件被篡改或损坏
		keyID, err := crypto.KeyIDFromPublicKey(privateKey.GetPublic())
		if err != nil {
			return fmt.Errorf("%w: key %s: %v", ErrKeyringCorrupted, entry.KeyID, err)
		}
		if keyID != entry.KeyID {
			return fmt.Errorf("%w: key ID mismatch: stored %s, derived %s",
				ErrKeyringCorrupted, entry.KeyID, keyID)
		}

		keys = append(keys, &SigningKey{
			keyID:      entry.KeyID,
			privateKey: privateKey,
			validFrom:  time.Unix(entry.ValidFrom, 0).UTC(),
			validTo:    time.Unix(entry.ValidTo, 0).UTC(),
		})
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].validFrom.Before(keys[j].validFrom)
	})
	kr.keys = keys
	return nil
}

// save 原子写入密钥环文件，调用方必须持有写锁
func (kr *Keyring) save() error {
	file := keyringFile{Version: keyringFileVersion}
	for _, k := range kr.keys {
		raw, err := crypto.MarshalPrivateKey(k.privateKey)
		if err != nil {
			return fmt.Errorf("serialize key %s: %w", k.keyID, err)
		}
		file.Keys = append(file.Keys, keyringEntry{
			KeyID:      k.keyID,
			PrivateKey: raw,
			ValidFrom:  k.validFrom.Unix(),
			ValidTo:    k.validTo.Unix(),
		})
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal keyring: %w", err)
	}
	return atomicWriteFile(kr.path, data, keyFilePerm)
}
