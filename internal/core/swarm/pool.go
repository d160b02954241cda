package swarm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/slskdn/go-meshtrust/internal/core/resolver"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

var logger = log.Logger("core/swarm")

// ============================================================================
// Pool - 控制通道连接池
// ============================================================================

// Pool 按节点 ID 复用控制通道连接
//
// 出站连接按需建立：先解析描述符取得端点列表，再逐个端点
// 拨号。传输层握手完成即身份确认，池里只存放身份核实过的
// 连接。
type Pool struct {
	mu sync.RWMutex

	transport interfaces.Transport
	resolver  *resolver.Resolver

	conns  map[types.PeerID]interfaces.Connection
	dials  singleflight.Group
	closed bool
}

// NewPool 创建连接池
func NewPool(transport interfaces.Transport, res *resolver.Resolver) *Pool {
	return &Pool{
		transport: transport,
		resolver:  res,
		conns:     make(map[types.PeerID]interfaces.Connection),
	}
}

// Get 返回到指定节点的存活连接，必要时拨号
//
// 同一节点的并发调用合并为单次拨号。单个端点的握手由传输层
// 的握手超时兜底，调用方的 ctx 只约束本次等待。
func (p *Pool) Get(ctx context.Context, peer types.PeerID) (interfaces.Connection, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	if conn, ok := p.conns[peer]; ok && !conn.IsClosed() {
		p.mu.RUnlock()
		return conn, nil
	}
	p.mu.RUnlock()

	ch := p.dials.DoChan(peer.String(), func() (interface{}, error) {
		return p.connect(context.WithoutCancel(ctx), peer)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(interfaces.Connection), nil
	}
}

// connect 解析描述符并逐端点拨号
func (p *Pool) connect(ctx context.Context, peer types.PeerID) (interfaces.Connection, error) {
	// 合并窗口内可能已有连接就位
	p.mu.RLock()
	if conn, ok := p.conns[peer]; ok && !conn.IsClosed() {
		p.mu.RUnlock()
		return conn, nil
	}
	p.mu.RUnlock()

	desc, err := p.resolver.Resolve(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", peer.ShortString(), err)
	}
	if len(desc.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoints, peer.ShortString())
	}

	var lastErr error
	for _, ep := range desc.Endpoints {
		conn, err := p.transport.Dial(ctx, ep, types.ChannelControl, peer)
		if err != nil {
			logger.Debug("endpoint dial failed",
				"peer", peer.ShortString(),
				"endpoint", ep,
				"error", err)
			lastErr = err
			continue
		}
		if stored := p.store(peer, conn); stored != conn {
			// 池已关闭或其他连接抢先就位
			conn.Close()
			if stored == nil {
				return nil, ErrPoolClosed
			}
			return stored, nil
		}
		logger.Debug("peer connected",
			"peer", peer.ShortString(),
			"endpoint", ep)
		return conn, nil
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, peer.ShortString(), lastErr)
}

// store 把连接写入池位
//
// 返回最终占据池位的连接；池已关闭时返回 nil。
func (p *Pool) store(peer types.PeerID, conn interfaces.Connection) interfaces.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if cur, ok := p.conns[peer]; ok && !cur.IsClosed() && cur != conn {
		return cur
	}
	p.conns[peer] = conn
	return conn
}

// Admit 登记一条入站连接
//
// 该节点已有存活连接时保留既有连接，入站连接仍可被监听循环
// 正常服务，只是不占池位。
func (p *Pool) Admit(conn interfaces.Connection) {
	peer := conn.RemotePeerID()
	if peer.IsEmpty() {
		return
	}
	if stored := p.store(peer, conn); stored == conn {
		logger.Debug("inbound connection admitted", "peer", peer.ShortString())
	}
}

// Peek 返回已在池中的存活连接，不触发拨号
func (p *Pool) Peek(peer types.PeerID) (interfaces.Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conn, ok := p.conns[peer]
	if !ok || conn.IsClosed() {
		return nil, false
	}
	return conn, true
}

// Drop 移除并关闭到指定节点的连接
func (p *Pool) Drop(peer types.PeerID) {
	p.mu.Lock()
	conn, ok := p.conns[peer]
	delete(p.conns, peer)
	p.mu.Unlock()

	if ok {
		conn.Close()
	}
}

// Sweep 剔除池中已死亡的连接，返回剔除数
func (p *Pool) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for peer, conn := range p.conns {
		if conn.IsClosed() {
			delete(p.conns, peer)
			removed++
		}
	}
	return removed
}

// Len 返回池中连接数
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.conns)
}

// Peers 返回池中所有节点 ID
func (p *Pool) Peers() []types.PeerID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	peers := make([]types.PeerID, 0, len(p.conns))
	for peer := range p.conns {
		peers = append(peers, peer)
	}
	return peers
}

// Close 关闭池与全部连接
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	p.conns = make(map[types.PeerID]interfaces.Connection)
	p.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
