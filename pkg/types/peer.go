// Package types 定义 MeshTrust 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 meshtrust 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"encoding/hex"
	"errors"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点唯一标识符
//
// 由身份公钥派生：PeerID = SHA256(序列化公钥)。
//
// 外部表示格式：
//   - String(): 64 位小写十六进制（规范表示，固定长度）
//   - ShortString(): 前 8 个十六进制字符（日志简短标识）
type PeerID [32]byte

// EmptyPeerID 空节点标识
var EmptyPeerID PeerID

// PeerIDHexLen PeerID 十六进制表示的固定长度
const PeerIDHexLen = 64

// ErrInvalidPeerID 无效的 PeerID 错误
var ErrInvalidPeerID = errors.New("invalid peer ID: must be 64 hex characters")

// String 返回 PeerID 的十六进制字符串表示
//
// 这是 PeerID 的规范外部表示，用于：
//   - DHT 描述符键
//   - TLS 证书主体
//   - 配置与日志
func (id PeerID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return hex.EncodeToString(id[:])
}

// ShortString 返回 PeerID 的短字符串表示
//
// 格式：十六进制前 8 个字符，用于日志中的简短标识。
func (id PeerID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 PeerID 的字节切片
func (id PeerID) Bytes() []byte {
	return id[:]
}

// Equal 比较两个 PeerID 是否相等
func (id PeerID) Equal(other PeerID) bool {
	return id == other
}

// IsEmpty 检查 PeerID 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// MarshalText 实现 encoding.TextMarshaler 接口
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler 接口
func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PeerIDFromBytes 从字节切片创建 PeerID
func PeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != 32 {
		return EmptyPeerID, ErrInvalidPeerID
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

// ParsePeerID 从字符串解析 PeerID
//
// 仅支持 64 位小写/大写十六进制（用户输入和配置）。
//
// 示例：
//
//	id, err := ParsePeerID("9f86d081884c7d65...")
func ParsePeerID(s string) (PeerID, error) {
	if len(s) != PeerIDHexLen {
		return EmptyPeerID, ErrInvalidPeerID
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}

	var id PeerID
	copy(id[:], b)
	return id, nil
}
