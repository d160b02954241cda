package descriptor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// 规范编码
// ============================================================================
//
// 描述符的规范编码是跨实现字节一致的签名载体：固定字段顺序、
// 固定整数宽度（大端）、可变字段带长度前缀、没有可选字段歧义。
// 布局:
//
//	[magic "MD"(2)][schema_version(2)][flags(2)=0]
//	[peer_id_len(2)+bytes]
//	[issued_at(8)][expires_at(8)][sequence(8)]
//	[identity_key: type(1)+len(4)+raw]
//	[endpoint_count(2)] { [len(2)+utf8] }*
//	[signing_key_count(2)] { [key][valid_from(8)][valid_to(8)] }*
//	[control_pin_count(2)] { [fp(32)][valid_from(8)][valid_to(8)] }*
//	[data_pin_count(2)]    { [fp(32)][valid_from(8)][valid_to(8)] }*
//
// 线格式 = 规范编码 ∥ [sig_len(2)][signature]。
// 时间戳为 int64 Unix 秒。解码把所有输入当作敌意输入：任何
// 截断、越界或计数炸弹都以 ErrMalformed 拒绝，绝不 panic。

// descriptorMagic 描述符线格式魔数
var descriptorMagic = [2]byte{'M', 'D'}

// 各可变段落的最小条目字节数，解码分配前用于识别计数炸弹
const (
	minEndpointEntrySize   = 2  // len(2)
	minSigningKeyEntrySize = 21 // type(1)+len(4)+from(8)+to(8)，raw 可为空由密钥层拒绝
	minPinEntrySize        = 48 // fp(32)+from(8)+to(8)
)

// EncodeCanonical 生成描述符的规范编码（被签名的字节）
func EncodeCanonical(d *PeerDescriptor) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil descriptor", ErrMalformed)
	}
	if d.IdentityKey == nil {
		return nil, fmt.Errorf("%w: missing identity key", ErrMalformed)
	}
	if len(d.Endpoints) > 65535 || len(d.SigningKeys) > 65535 ||
		len(d.ControlPins) > 65535 || len(d.DataPins) > 65535 {
		return nil, fmt.Errorf("%w: entry count exceeds u16", ErrMalformed)
	}

	var buf bytes.Buffer
	buf.Write(descriptorMagic[:])
	writeU16(&buf, d.SchemaVersion)
	writeU16(&buf, d.Flags)

	writeU16(&buf, uint16(len(d.PeerID)))
	buf.Write(d.PeerID.Bytes())

	writeI64(&buf, d.IssuedAt.Unix())
	writeI64(&buf, d.ExpiresAt.Unix())
	writeU64(&buf, d.Sequence)

	identityKey, err := crypto.MarshalPublicKey(d.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: identity key: %v", ErrMalformed, err)
	}
	buf.Write(identityKey)

	writeU16(&buf, uint16(len(d.Endpoints)))
	for _, ep := range d.Endpoints {
		if len(ep) > 65535 {
			return nil, fmt.Errorf("%w: endpoint too long", ErrMalformed)
		}
		writeU16(&buf, uint16(len(ep)))
		buf.WriteString(ep)
	}

	writeU16(&buf, uint16(len(d.SigningKeys)))
	for _, e := range d.SigningKeys {
		keyBytes, err := crypto.MarshalPublicKey(e.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: signing key: %v", ErrMalformed, err)
		}
		buf.Write(keyBytes)
		writeI64(&buf, e.ValidFrom.Unix())
		writeI64(&buf, e.ValidTo.Unix())
	}

	for _, pins := range [][]PinEntry{d.ControlPins, d.DataPins} {
		writeU16(&buf, uint16(len(pins)))
		for _, p := range pins {
			buf.Write(p.Fingerprint.Bytes())
			writeI64(&buf, p.ValidFrom.Unix())
			writeI64(&buf, p.ValidTo.Unix())
		}
	}

	return buf.Bytes(), nil
}

// EncodeWire 生成描述符的线格式（规范编码 + 签名）
func EncodeWire(d *PeerDescriptor) ([]byte, error) {
	canonical, err := EncodeCanonical(d)
	if err != nil {
		return nil, err
	}
	if len(d.Signature) == 0 {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	if len(d.Signature) > 65535 {
		return nil, fmt.Errorf("%w: signature too long", ErrMalformed)
	}

	wire := make([]byte, 0, len(canonical)+2+len(d.Signature))
	wire = append(wire, canonical...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(d.Signature)))
	wire = append(wire, lenBuf[:]...)
	wire = append(wire, d.Signature...)
	return wire, nil
}

// DecodeWire 解码线格式描述符
//
// maxSize > 0 时先于任何解码执行大小检查，超限返回 ErrOversized。
// 其余任何结构问题返回 ErrMalformed。解码只做结构校验，语义
// 检查（时间窗口、序列号、签名）由 Validator 负责。
//
// 参数:
//   - data: 线格式字节
//   - maxSize: 大小上限（字节），<= 0 表示不限
//
// 返回:
//   - *PeerDescriptor: 解码出的描述符，SignableBytes 返回线上原文
//   - error: ErrOversized 或 ErrMalformed
func DecodeWire(data []byte, maxSize int) (*PeerDescriptor, error) {
	if maxSize > 0 && len(data) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrOversized, len(data), maxSize)
	}

	r := &byteReader{buf: data}
	d, err := decodeOne(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.remaining())
	}
	return d, nil
}

// SplitWire 把串接的多描述符查询结果切分为单条线格式记录
//
// 目录的聚合查询可能为同一个键返回多个候选记录（不同副本、
// 不同序列号）。线格式自定界，逐条解码即可确定边界。返回的
// 切片与输入共享底层数组。任何一条记录结构非法则整体拒绝。
//
// 参数:
//   - data: 一条或多条线格式记录的串接
//   - maxRecords: 记录条数上限，<= 0 表示不限
//
// 返回:
//   - [][]byte: 每条记录的原始字节
//   - error: ErrMalformed
func SplitWire(data []byte, maxRecords int) ([][]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty lookup result", ErrMalformed)
	}

	r := &byteReader{buf: data}
	var records [][]byte
	for r.remaining() > 0 {
		if maxRecords > 0 && len(records) >= maxRecords {
			return nil, fmt.Errorf("%w: more than %d records in lookup result", ErrMalformed, maxRecords)
		}
		start := r.off
		if _, err := decodeOne(r); err != nil {
			return nil, err
		}
		records = append(records, data[start:r.off])
	}
	return records, nil
}

// decodeOne 从读取器当前位置解码一条线格式描述符
func decodeOne(r *byteReader) (*PeerDescriptor, error) {
	start := r.off
	d := &PeerDescriptor{}

	magic := r.take(2)
	if r.err == nil && !bytes.Equal(magic, descriptorMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}

	d.SchemaVersion = r.u16()
	d.Flags = r.u16()
	if r.err == nil && d.Flags != 0 {
		return nil, fmt.Errorf("%w: nonzero flags 0x%04x", ErrMalformed, d.Flags)
	}

	peerIDLen := int(r.u16())
	if r.err == nil && peerIDLen != len(d.PeerID) {
		return nil, fmt.Errorf("%w: peer ID length %d", ErrMalformed, peerIDLen)
	}
	copy(d.PeerID[:], r.take(peerIDLen))

	d.IssuedAt = time.Unix(r.i64(), 0).UTC()
	d.ExpiresAt = time.Unix(r.i64(), 0).UTC()
	d.Sequence = r.u64()

	d.IdentityKey = r.publicKey()

	epCount := int(r.u16())
	if r.err == nil {
		if epCount*minEndpointEntrySize > r.remaining() {
			return nil, fmt.Errorf("%w: endpoint count %d exceeds buffer", ErrMalformed, epCount)
		}
		d.Endpoints = make([]string, 0, epCount)
		for i := 0; i < epCount && r.err == nil; i++ {
			n := int(r.u16())
			d.Endpoints = append(d.Endpoints, string(r.take(n)))
		}
	}

	skCount := int(r.u16())
	if r.err == nil {
		if skCount*minSigningKeyEntrySize > r.remaining() {
			return nil, fmt.Errorf("%w: signing key count %d exceeds buffer", ErrMalformed, skCount)
		}
		d.SigningKeys = make([]SigningKeyEntry, 0, skCount)
		for i := 0; i < skCount && r.err == nil; i++ {
			publicKey := r.publicKey()
			from, to := r.i64(), r.i64()
			if r.err != nil {
				break
			}
			keyID, err := crypto.KeyIDFromPublicKey(publicKey)
			if err != nil {
				r.err = err
				break
			}
			d.SigningKeys = append(d.SigningKeys, SigningKeyEntry{
				PublicKey: publicKey,
				KeyID:     keyID,
				ValidFrom: time.Unix(from, 0).UTC(),
				ValidTo:   time.Unix(to, 0).UTC(),
			})
		}
	}

	d.ControlPins = r.pins()
	d.DataPins = r.pins()

	canonicalEnd := r.off

	sigLen := int(r.u16())
	if r.err == nil && sigLen == 0 {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	sig := r.take(sigLen)

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, r.err)
	}

	d.Signature = append([]byte(nil), sig...)
	d.signable = append([]byte(nil), r.buf[start:canonicalEnd]...)
	return d, nil
}

// ============================================================================
// 读写原语
// ============================================================================

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	writeU64(buf, uint64(v))
}

// byteReader 带边界检查的顺序读取器
//
// 任何越界读取都置 err 并返回零值，后续读取全部短路。
// 调用方在解码结束后统一检查 err，中途不会 panic。
type byteReader struct {
	buf []byte
	off int
	err error
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("truncated at offset %d (need %d bytes, have %d)", r.off, n, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *byteReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *byteReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *byteReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *byteReader) i64() int64 {
	return int64(r.u64())
}

func (r *byteReader) remaining() int {
	return len(r.buf) - r.off
}

// publicKey 读取一个线格式公钥（type(1)+len(4)+raw）
func (r *byteReader) publicKey() crypto.PublicKey {
	start := r.off
	r.take(1)
	keyLen := r.u32()
	r.take(int(keyLen))
	if r.err != nil {
		return nil
	}

	publicKey, err := crypto.UnmarshalPublicKeyBytes(r.buf[start:r.off])
	if err != nil {
		r.err = fmt.Errorf("public key at offset %d: %v", start, err)
		return nil
	}
	return publicKey
}

// pins 读取一个指纹段落（count(2) + 条目）
func (r *byteReader) pins() []PinEntry {
	count := int(r.u16())
	if r.err != nil {
		return nil
	}
	if count*minPinEntrySize > r.remaining() {
		r.err = fmt.Errorf("pin count %d exceeds buffer", count)
		return nil
	}

	pins := make([]PinEntry, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		var fp types.Fingerprint
		copy(fp[:], r.take(len(fp)))
		from, to := r.i64(), r.i64()
		if r.err != nil {
			break
		}
		pins = append(pins, PinEntry{
			Fingerprint: fp,
			ValidFrom:   time.Unix(from, 0).UTC(),
			ValidTo:     time.Unix(to, 0).UTC(),
		})
	}
	return pins
}
