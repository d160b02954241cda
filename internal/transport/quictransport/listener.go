package quictransport

import (
	"context"
	"net"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// 确保实现了接口
var _ interfaces.Listener = (*Listener)(nil)

// Listener QUIC 监听器
type Listener struct {
	mu sync.Mutex

	quicListener *quic.Listener
	channel      types.Channel
	addr         net.Addr

	closed bool
}

// newListener 包装 QUIC 监听器
func newListener(ql *quic.Listener, ch types.Channel, addr net.Addr) *Listener {
	return &Listener{
		quicListener: ql,
		channel:      ch,
		addr:         addr,
	}
}

// Accept 接受新连接
//
// 固定校验失败的握手由 quic-go 在内部拒绝，不会到达这里。
// 握手完成但证书身份不可解的连接被就地关闭并继续等待下一个，
// 调用方只会看到身份确认完毕的连接。
func (l *Listener) Accept(ctx context.Context) (interfaces.Connection, error) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, ErrListenerClosed
		}
		l.mu.Unlock()

		// 锁外调用可能阻塞的 Accept
		qc, err := l.quicListener.Accept(ctx)
		if err != nil {
			return nil, err
		}

		conn, err := newConnection(qc, l.channel, interfaces.DirInbound)
		if err != nil {
			logger.Debug("rejected inbound connection",
				"channel", l.channel.String(),
				"remote", qc.RemoteAddr().String(),
				"error", err)
			continue
		}
		return conn, nil
	}
}

// Addr 返回监听地址
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Channel 返回监听的通道
func (l *Listener) Channel() types.Channel {
	return l.channel
}

// Close 关闭监听器
//
// 只停止接受新连接，既有连接不受影响。
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	return l.quicListener.Close()
}
