package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/multiformats/go-varint"
)

// ============================================================================
// 信封编解码与流分帧
// ============================================================================
//
// 线格式 = [magic "ME"(2)][version(1)] ∥ 签名载体 ∥
// [key_id_len(2)+bytes][sig_len(2)][signature]。
// 流分帧为 uvarint 长度前缀，64 KiB 上限在读取帧体之前执行。
// 解码把所有输入当作敌意输入：任何截断或越界都以 ErrMalformed
// 拒绝，绝不 panic。

// envelopeMagic 信封线格式魔数
var envelopeMagic = [2]byte{'M', 'E'}

// EnvelopeVersion 信封线格式版本
const EnvelopeVersion uint8 = 1

// maxKeyIDBytes 签名密钥标识提示的字节上限
const maxKeyIDBytes = 128

// EncodeEnvelope 生成信封的线格式
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	if len(e.Signature) == 0 {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	if len(e.Signature) > 65535 {
		return nil, fmt.Errorf("%w: signature too long", ErrMalformed)
	}
	if len(e.SignerKeyID) > maxKeyIDBytes {
		return nil, fmt.Errorf("%w: signer key id %d bytes exceeds %d",
			ErrMalformed, len(e.SignerKeyID), maxKeyIDBytes)
	}

	signable, err := e.SignableBytes()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(envelopeMagic[:])
	buf.WriteByte(EnvelopeVersion)
	buf.Write(signable)

	var keyIDLen [2]byte
	binary.BigEndian.PutUint16(keyIDLen[:], uint16(len(e.SignerKeyID)))
	buf.Write(keyIDLen[:])
	buf.WriteString(e.SignerKeyID)

	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(e.Signature)))
	buf.Write(sigLen[:])
	buf.Write(e.Signature)

	return buf.Bytes(), nil
}

// DecodeEnvelope 解码线格式信封
//
// maxSize > 0 时先于任何解码执行大小检查，超限返回 ErrOversized。
// 解码只做结构校验，时间戳、重放与签名由认证器负责。
//
// 返回:
//   - *Envelope: 解码出的信封，signable 保存线上原文
//   - error: ErrOversized 或 ErrMalformed
func DecodeEnvelope(data []byte, maxSize int) (*Envelope, error) {
	if maxSize > 0 && len(data) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrOversized, len(data), maxSize)
	}

	r := &envReader{buf: data}
	e := &Envelope{}

	magic := r.take(2)
	if r.err == nil && !bytes.Equal(magic, envelopeMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	version := r.take(1)
	if r.err == nil && version[0] != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, version[0])
	}

	signableStart := r.off

	typ := r.take(1)
	if r.err == nil {
		e.Type = MessageType(typ[0])
	}
	e.Timestamp = time.Unix(int64(r.u64()), 0).UTC()

	midLen := int(r.u16())
	if r.err == nil && (midLen == 0 || midLen > maxMessageIDBytes) {
		return nil, fmt.Errorf("%w: message id length %d", ErrMalformed, midLen)
	}
	e.MessageID = string(r.take(midLen))

	payloadLen := int(r.u32())
	payload := r.take(payloadLen)

	signableEnd := r.off

	keyIDLen := int(r.u16())
	if r.err == nil && keyIDLen > maxKeyIDBytes {
		return nil, fmt.Errorf("%w: signer key id length %d", ErrMalformed, keyIDLen)
	}
	e.SignerKeyID = string(r.take(keyIDLen))

	sigLen := int(r.u16())
	if r.err == nil && sigLen == 0 {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	sig := r.take(sigLen)

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, r.err)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.remaining())
	}

	e.Payload = append([]byte(nil), payload...)
	e.Signature = append([]byte(nil), sig...)
	e.signable = append([]byte(nil), data[signableStart:signableEnd]...)
	return e, nil
}

// WriteFrame 写出一个带 uvarint 长度前缀的帧
func WriteFrame(w io.Writer, frame []byte, maxSize int) error {
	if maxSize > 0 && len(frame) > maxSize {
		return fmt.Errorf("%w: frame %d bytes exceeds limit %d", ErrOversized, len(frame), maxSize)
	}
	if _, err := w.Write(varint.ToUvarint(uint64(len(frame)))); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// FrameReader 分帧读取所需的字节流
//
// bufio.Reader 满足该接口。
type FrameReader interface {
	io.Reader
	io.ByteReader
}

// ReadFrame 读取一个带 uvarint 长度前缀的帧
//
// 大小上限在读取帧体之前对长度前缀执行，超限的帧不会被
// 分配或读入。流在帧边界正常结束时返回 io.EOF。
func ReadFrame(r FrameReader, maxSize int) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: frame header: %v", ErrMalformed, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if maxSize > 0 && n > uint64(maxSize) {
		return nil, fmt.Errorf("%w: frame %d bytes exceeds limit %d", ErrOversized, n, maxSize)
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("%w: truncated frame: %v", ErrMalformed, err)
	}
	return frame, nil
}

// envReader 带边界检查的顺序读取器
//
// 任何越界读取都置 err 并返回零值，后续读取全部短路。
type envReader struct {
	buf []byte
	off int
	err error
}

func (r *envReader) take(n int) []byte {
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

func (r *envReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *envReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *envReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *envReader) remaining() int {
	return len(r.buf) - r.off
}
