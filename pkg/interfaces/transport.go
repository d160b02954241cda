// Package interfaces - Transport 安全传输接口
//
// 本文件定义安全传输层的抽象。实现必须在握手阶段完成
// 证书指纹校验，握手成功的连接才会交付给上层。
package interfaces

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/slskdn/go-meshtrust/pkg/types"
)

// Direction 连接方向
type Direction int

const (
	// DirUnknown 未知方向
	DirUnknown Direction = iota
	// DirInbound 入站连接（对方发起）
	DirInbound
	// DirOutbound 出站连接（本地发起）
	DirOutbound
)

// String 返回连接方向字符串
func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Transport 定义安全传输层接口
//
// Transport 抽象承载控制通道与数据通道的底层协议（默认 QUIC）。
// 握手阶段完成证书指纹固定校验，未通过校验的连接不会出现在
// Accept 或 Dial 的返回值中。
type Transport interface {
	// Listen 在指定地址监听指定通道
	Listen(laddr string, channel types.Channel) (Listener, error)

	// Dial 拨号连接到指定地址
	//
	// expected 为期望的远端节点 ID，实现必须校验对端证书
	// 声称的身份与 expected 一致，并通过固定校验。
	Dial(ctx context.Context, raddr string, channel types.Channel, expected types.PeerID) (Connection, error)

	// Close 关闭传输，释放全部监听器与连接
	Close() error
}

// Listener 定义监听器接口
type Listener interface {
	// Accept 接受新连接
	//
	// 返回的连接已完成握手与固定校验。
	Accept(ctx context.Context) (Connection, error)

	// Addr 返回监听地址
	Addr() net.Addr

	// Channel 返回监听的通道
	Channel() types.Channel

	// Close 关闭监听器
	Close() error
}

// Connection 定义连接接口
type Connection interface {
	// RemotePeerID 返回握手确认的远端节点 ID
	//
	// 该值来自传输层证书校验，是上层信任决策的唯一身份来源。
	RemotePeerID() types.PeerID

	// Channel 返回连接所属通道
	Channel() types.Channel

	// LocalAddr 返回本地地址
	LocalAddr() net.Addr

	// RemoteAddr 返回远端地址
	RemoteAddr() net.Addr

	// OpenStream 在此连接上创建新流
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream 接受对方创建的流
	AcceptStream(ctx context.Context) (Stream, error)

	// Close 关闭连接
	Close() error

	// IsClosed 检查连接是否已关闭
	IsClosed() bool
}

// Stream 定义双向字节流接口
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	// SetDeadline 同时设置读写截止时间
	SetDeadline(t time.Time) error

	// SetReadDeadline 设置读截止时间
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline 设置写截止时间
	SetWriteDeadline(t time.Time) error
}
