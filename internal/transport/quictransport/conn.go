package quictransport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/slskdn/go-meshtrust/internal/core/security/certs"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// 应用层关闭码
const (
	codeClosed      quic.ApplicationErrorCode = 0x0
	codeAuthFailure quic.ApplicationErrorCode = 0x1
)

// 确保实现了接口
var _ interfaces.Connection = (*Connection)(nil)

// Connection QUIC 连接
//
// remoteID 在构造时从握手后的对端证书解出，之后不变。
// 上层读到的身份与握手期通过固定校验的身份必然一致。
type Connection struct {
	mu sync.RWMutex

	quicConn  quic.Connection
	remoteID  types.PeerID
	channel   types.Channel
	direction interfaces.Direction
	opened    time.Time

	closed bool
}

// newConnection 包装握手完成的 QUIC 连接
//
// 从 TLS 连接状态的对端证书重新解出节点 ID。证书缺失或
// 不可解时关闭连接并返回错误，这类连接不交付上层。
func newConnection(qc quic.Connection, ch types.Channel, dir interfaces.Direction) (*Connection, error) {
	state := qc.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		qc.CloseWithError(codeAuthFailure, "no peer certificate")
		return nil, ErrNoPeerCertificate
	}

	remote, err := certs.ClaimedPeerID(state.PeerCertificates[0])
	if err != nil {
		qc.CloseWithError(codeAuthFailure, "unreadable peer claim")
		return nil, err
	}

	return &Connection{
		quicConn:  qc,
		remoteID:  remote,
		channel:   ch,
		direction: dir,
		opened:    time.Now(),
	}, nil
}

// RemotePeerID 返回握手确认的远端节点 ID
func (c *Connection) RemotePeerID() types.PeerID {
	return c.remoteID
}

// Channel 返回连接所属通道
func (c *Connection) Channel() types.Channel {
	return c.channel
}

// Direction 返回连接方向
func (c *Connection) Direction() interfaces.Direction {
	return c.direction
}

// LocalAddr 返回本地地址
func (c *Connection) LocalAddr() net.Addr {
	return c.quicConn.LocalAddr()
}

// RemoteAddr 返回远端地址
func (c *Connection) RemoteAddr() net.Addr {
	return c.quicConn.RemoteAddr()
}

// OpenStream 在此连接上创建新流
func (c *Connection) OpenStream(ctx context.Context) (interfaces.Stream, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrConnectionClosed
	}
	c.mu.RUnlock()

	// 锁外调用可能阻塞的 OpenStreamSync
	qs, err := c.quicConn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return newStream(qs), nil
}

// AcceptStream 接受对方创建的流
func (c *Connection) AcceptStream(ctx context.Context) (interfaces.Stream, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrConnectionClosed
	}
	c.mu.RUnlock()

	// 锁外调用可能阻塞的 AcceptStream
	qs, err := c.quicConn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return newStream(qs), nil
}

// Close 关闭连接
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// 锁外调用可能阻塞的 QUIC 关闭操作
	return c.quicConn.CloseWithError(codeClosed, "connection closed")
}

// IsClosed 检查连接是否已关闭
func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}
