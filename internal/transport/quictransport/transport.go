package quictransport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/pinning"
	"github.com/slskdn/go-meshtrust/internal/core/security/certs"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

var logger = log.Logger("transport/quic")

// 确保实现了接口
var _ interfaces.Transport = (*Transport)(nil)

// Transport QUIC 安全传输
//
// 每个通道持有独立的 UDP socket 与 quic.Transport，监听与拨号
// 共享同一端口：对端据此看到稳定的四元组，固定校验学到的指纹
// 不会因本端出站端口漂移而失配。
type Transport struct {
	mu sync.Mutex

	cfg     config.TransportConfig
	localID types.PeerID
	certs   *certs.Service
	pins    *pinning.Store

	channels map[types.Channel]*channelState
	closed   bool
}

// channelState 单通道的共享 socket 与监听状态
type channelState struct {
	udpConn *net.UDPConn
	qt      *quic.Transport
}

// New 创建 QUIC 传输
//
// 参数：
//   - cfg: 传输配置（握手超时、空闲超时、保活间隔）
//   - localID: 本地节点 ID
//   - certSvc: 通道证书服务，提供本端证书
//   - pins: 指纹固定存储，承担握手期的对端校验
func New(cfg config.TransportConfig, localID types.PeerID, certSvc *certs.Service, pins *pinning.Store) *Transport {
	return &Transport{
		cfg:      cfg,
		localID:  localID,
		certs:    certSvc,
		pins:     pins,
		channels: make(map[types.Channel]*channelState),
	}
}

// quicConfig 构造 quic-go 配置
func (t *Transport) quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: t.cfg.HandshakeTimeout.Duration(),
		MaxIdleTimeout:       t.cfg.MaxIdleTimeout.Duration(),
		KeepAlivePeriod:      t.cfg.KeepAlivePeriod.Duration(),
		MaxIncomingStreams:   256,
	}
}

// channelStateLocked 返回通道的共享 socket，必要时创建
//
// laddr 为空时绑定随机端口（拨号先于监听的场景）。
// 调用方必须持有 t.mu。
func (t *Transport) channelStateLocked(ch types.Channel, laddr string) (*channelState, error) {
	if st, ok := t.channels[ch]; ok {
		return st, nil
	}

	bind := &net.UDPAddr{}
	if laddr != "" {
		addr, err := net.ResolveUDPAddr("udp", laddr)
		if err != nil {
			return nil, fmt.Errorf("resolve listen address %q: %w", laddr, err)
		}
		bind = addr
	}

	conn, err := net.ListenUDP("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("bind udp for %s: %w", ch, err)
	}

	st := &channelState{
		udpConn: conn,
		qt:      &quic.Transport{Conn: conn},
	}
	t.channels[ch] = st
	return st, nil
}

// Listen 在指定地址监听指定通道
//
// 同一通道重复监听返回错误。若该通道已因拨号创建了共享
// socket，则复用既有端口并忽略 laddr。
func (t *Transport) Listen(laddr string, ch types.Channel) (interfaces.Listener, error) {
	if !ch.Valid() {
		return nil, ErrInvalidChannel
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}

	st, err := t.channelStateLocked(ch, laddr)
	if err != nil {
		return nil, err
	}

	tlsConf, err := t.serverTLSConfig(ch)
	if err != nil {
		return nil, err
	}

	ql, err := st.qt.Listen(tlsConf, t.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", ch, err)
	}

	logger.Info("listening",
		"channel", ch.String(),
		"addr", st.udpConn.LocalAddr().String())

	return newListener(ql, ch, st.udpConn.LocalAddr()), nil
}

// Dial 拨号连接到指定地址
//
// expected 不可为空：握手回调校验对端证书声称的身份等于
// expected 且指纹通过固定决策，失败的握手不产生连接。
func (t *Transport) Dial(ctx context.Context, raddr string, ch types.Channel, expected types.PeerID) (interfaces.Connection, error) {
	if !ch.Valid() {
		return nil, ErrInvalidChannel
	}
	if expected.IsEmpty() {
		return nil, ErrNoExpectedPeer
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	st, err := t.channelStateLocked(ch, "")
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	udpAddr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, fmt.Errorf("resolve dial address %q: %w", raddr, err)
	}

	tlsConf, err := t.clientTLSConfig(ch, expected)
	if err != nil {
		return nil, err
	}

	// 复用通道共享 socket 拨号，锁外执行阻塞的握手
	qc, err := st.qt.Dial(ctx, udpAddr, tlsConf, t.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s via %s: %w", raddr, ch, err)
	}

	conn, err := newConnection(qc, ch, interfaces.DirOutbound)
	if err != nil {
		return nil, err
	}

	// 回调已保证一致，这里只是防御传输层实现差异
	if conn.RemotePeerID() != expected {
		conn.Close()
		return nil, ErrPeerMismatch
	}

	logger.Debug("dialed peer",
		"peer", expected.ShortString(),
		"channel", ch.String(),
		"addr", raddr)
	return conn, nil
}

// Close 关闭传输，释放全部通道的 socket
//
// quic.Transport 关闭时会中止其上的全部连接与监听器。
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for ch, st := range t.channels {
		if err := st.qt.Close(); err != nil {
			logger.Warn("close quic transport", "channel", ch.String(), "error", err)
		}
		st.udpConn.Close()
	}
	t.channels = make(map[types.Channel]*channelState)

	return nil
}
