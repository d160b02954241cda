package quictransport

import (
	"time"

	"github.com/quic-go/quic-go"

	"github.com/slskdn/go-meshtrust/pkg/interfaces"
)

// 确保实现了接口
var _ interfaces.Stream = (*Stream)(nil)

// Stream QUIC 流封装
type Stream struct {
	quicStream quic.Stream
}

// newStream 创建流封装
func newStream(qs quic.Stream) *Stream {
	return &Stream{quicStream: qs}
}

// Read 从流中读取数据
func (s *Stream) Read(p []byte) (int, error) {
	return s.quicStream.Read(p)
}

// Write 向流写入数据
func (s *Stream) Write(p []byte) (int, error) {
	return s.quicStream.Write(p)
}

// Close 关闭流的写端并取消读端
func (s *Stream) Close() error {
	err := s.quicStream.Close()
	s.quicStream.CancelRead(0)
	return err
}

// SetDeadline 同时设置读写截止时间
func (s *Stream) SetDeadline(t time.Time) error {
	return s.quicStream.SetDeadline(t)
}

// SetReadDeadline 设置读截止时间
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.quicStream.SetReadDeadline(t)
}

// SetWriteDeadline 设置写截止时间
func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.quicStream.SetWriteDeadline(t)
}
