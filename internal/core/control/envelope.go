package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// ControlEnvelope - 控制消息信封
// ============================================================================

// MessageType 控制消息类型
//
// 规范定义在 pkg/types，这里取别名供包内引用。
type MessageType = types.MessageType

// 封闭枚举的包内速记
const (
	MessagePing            = types.MessageTypePing
	MessageFindPeer        = types.MessageTypeFindPeer
	MessageSwarmOffer      = types.MessageTypeSwarmOffer
	MessageSwarmRequest    = types.MessageTypeSwarmRequest
	MessageChunkHave       = types.MessageTypeChunkHave
	MessageDirectoryQuery  = types.MessageTypeDirectoryQuery
	MessageDirectoryAnswer = types.MessageTypeDirectoryAnswer
	MessageGoAway          = types.MessageTypeGoAway
)

// maxMessageIDBytes 消息 ID 的字节上限
//
// 发送方铸造 UUIDv4 字符串（36 字节），接收方把它当作不透明
// 随机数，只约束长度。
const maxMessageIDBytes = 64

// Envelope 一条控制消息
//
// 签名覆盖 type ∥ timestamp ∥ message_id ∥ payload 的规范
// 编码。SignerKeyID 只是验签时缩小候选范围的提示，不参与
// 签名，也不构成信任判定。
type Envelope struct {
	// Type 消息类型
	Type MessageType

	// Timestamp 发送方时间戳，秒精度
	Timestamp time.Time

	// MessageID 每条消息唯一的随机数，去重键
	MessageID string

	// SignerKeyID 签名密钥标识提示
	SignerKeyID string

	// Payload 应用载荷，认证层不解释内容
	Payload []byte

	// Signature 对规范编码的签名
	Signature []byte

	// signable 解码时捕获的线上签名载体
	signable []byte
}

// SignableBytes 返回信封的规范签名载体
//
// 布局: [msg_type(1)][timestamp(8)][message_id_len(2)+bytes]
// [payload_len(4)+bytes]，整数大端。解码得到的信封返回线上的
// 原始字节，验签始终针对发送方实际签署的内容。
func (e *Envelope) SignableBytes() ([]byte, error) {
	if e.signable != nil {
		return e.signable, nil
	}
	if e.MessageID == "" {
		return nil, fmt.Errorf("%w: empty message id", ErrMalformed)
	}
	if len(e.MessageID) > maxMessageIDBytes {
		return nil, fmt.Errorf("%w: message id %d bytes exceeds %d",
			ErrMalformed, len(e.MessageID), maxMessageIDBytes)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(e.Type))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.Timestamp.Unix()))
	buf.Write(ts[:])

	var midLen [2]byte
	binary.BigEndian.PutUint16(midLen[:], uint16(len(e.MessageID)))
	buf.Write(midLen[:])
	buf.WriteString(e.MessageID)

	var payloadLen [4]byte
	binary.BigEndian.PutUint32(payloadLen[:], uint32(len(e.Payload)))
	buf.Write(payloadLen[:])
	buf.Write(e.Payload)

	return buf.Bytes(), nil
}
