package descriptor

import (
	"time"

	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// PeerDescriptor - 节点描述符
// ============================================================================

// SchemaVersion 当前描述符格式版本
const SchemaVersion uint16 = 1

// supportedSchemaVersions 验证侧接受的格式版本集合
var supportedSchemaVersions = map[uint16]bool{
	1: true,
}

// DirectoryKeyPrefix 描述符在目录中的键前缀
const DirectoryKeyPrefix = "/meshtrust/desc/v1/"

// DirectoryKey 返回节点描述符在目录中的键
func DirectoryKey(id types.PeerID) string {
	return DirectoryKeyPrefix + id.String()
}

// SigningKeyEntry 描述符中的控制信封签名密钥条目
type SigningKeyEntry struct {
	// PublicKey 签名公钥
	PublicKey crypto.PublicKey

	// KeyID 公钥摘要派生的密钥 ID，解码时计算，不上线
	KeyID string

	// ValidFrom 有效期起点
	ValidFrom time.Time

	// ValidTo 有效期终点
	ValidTo time.Time
}

// ValidAt 报告条目在指定时刻是否有效（闭区间）
func (e SigningKeyEntry) ValidAt(t time.Time) bool {
	return !t.Before(e.ValidFrom) && !t.After(e.ValidTo)
}

// PinEntry 描述符中的证书指纹条目
type PinEntry struct {
	// Fingerprint 证书 SPKI 的 SHA-256 指纹
	Fingerprint types.Fingerprint

	// ValidFrom 有效期起点
	ValidFrom time.Time

	// ValidTo 有效期终点
	ValidTo time.Time
}

// ValidAt 报告条目在指定时刻是否有效（闭区间）
func (e PinEntry) ValidAt(t time.Time) bool {
	return !t.Before(e.ValidFrom) && !t.After(e.ValidTo)
}

// PeerDescriptor 签名的节点描述符
//
// 把节点 ID 绑定到传输地址、证书指纹与信封签名密钥上，
// 是整个信任子系统流转的核心工件。同一身份每次重发布时
// sequence 严格递增，对端凭此拒绝回滚。
type PeerDescriptor struct {
	// SchemaVersion 格式版本
	SchemaVersion uint16

	// Flags 保留标志位，当前必须为 0
	Flags uint16

	// PeerID 节点 ID，必须等于身份公钥的哈希
	PeerID types.PeerID

	// IssuedAt 签发时刻
	IssuedAt time.Time

	// ExpiresAt 过期时刻
	ExpiresAt time.Time

	// Sequence 单调递增的发布序列号
	Sequence uint64

	// IdentityKey 身份公钥，签名用它验证
	IdentityKey crypto.PublicKey

	// Endpoints 传输层地址列表（host:port）
	Endpoints []string

	// SigningKeys 控制信封签名密钥列表（至多 3 把并存）
	SigningKeys []SigningKeyEntry

	// ControlPins 控制通道证书指纹（至多 2 条并存）
	ControlPins []PinEntry

	// DataPins 数据通道证书指纹（至多 2 条并存）
	DataPins []PinEntry

	// Signature 身份私钥对规范编码的签名
	Signature []byte

	// signable 解码时捕获的规范编码字节，验签时使用
	signable []byte
}

// SignableBytes 返回规范编码（被签名的字节）
//
// 解码得到的描述符返回线上的原始字节；本地构建的描述符
// 需要先经 EncodeCanonical。
func (d *PeerDescriptor) SignableBytes() ([]byte, error) {
	if d.signable != nil {
		return d.signable, nil
	}
	return EncodeCanonical(d)
}

// ActiveSigningKeys 返回指定时刻有效的签名密钥条目
func (d *PeerDescriptor) ActiveSigningKeys(at time.Time) []SigningKeyEntry {
	active := make([]SigningKeyEntry, 0, len(d.SigningKeys))
	for _, e := range d.SigningKeys {
		if e.ValidAt(at) {
			active = append(active, e)
		}
	}
	return active
}

// SigningKeyByID 按密钥 ID 查找指定时刻有效的签名公钥
//
// 密钥存在但窗口外时返回 (nil, false)：对验证方而言过期
// 密钥等同于不存在。
func (d *PeerDescriptor) SigningKeyByID(keyID string, at time.Time) (crypto.PublicKey, bool) {
	for _, e := range d.SigningKeys {
		if e.KeyID == keyID && e.ValidAt(at) {
			return e.PublicKey, true
		}
	}
	return nil, false
}

// PinsFor 返回指定通道的全部指纹条目
func (d *PeerDescriptor) PinsFor(ch types.Channel) []PinEntry {
	switch ch {
	case types.ChannelControl:
		return d.ControlPins
	case types.ChannelData:
		return d.DataPins
	default:
		return nil
	}
}

// ActivePinsFor 返回指定通道在指定时刻有效的指纹条目
func (d *PeerDescriptor) ActivePinsFor(ch types.Channel, at time.Time) []PinEntry {
	pins := d.PinsFor(ch)
	active := make([]PinEntry, 0, len(pins))
	for _, e := range pins {
		if e.ValidAt(at) {
			active = append(active, e)
		}
	}
	return active
}

// ExpiresIn 返回距离过期的时长，已过期时为负
func (d *PeerDescriptor) ExpiresIn(now time.Time) time.Duration {
	return d.ExpiresAt.Sub(now)
}
