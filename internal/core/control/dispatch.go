package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// Dispatcher - 控制消息分发器
// ============================================================================

// Handler 处理一条已通过认证的控制消息
//
// from 是经签名验证的发送方节点 ID，处理器可以直接信任。
type Handler func(ctx context.Context, from types.PeerID, env *Envelope) error

// Dispatcher 按消息类型把已认证的信封分发给注册的处理器
//
// 未注册或未知的类型在分发边界拒绝，不进入任何处理器。
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// NewDispatcher 创建分发器
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[MessageType]Handler),
	}
}

// Register 注册消息类型的处理器
//
// 类型必须属于封闭枚举，重复注册返回错误。
func (d *Dispatcher) Register(t MessageType, h Handler) error {
	if !t.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[t]; ok {
		return fmt.Errorf("handler already registered for %s", t)
	}
	d.handlers[t] = h
	return nil
}

// Deregister 注销消息类型的处理器
func (d *Dispatcher) Deregister(t MessageType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, t)
}

// Has 报告类型是否有注册的处理器
func (d *Dispatcher) Has(t MessageType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[t]
	return ok
}

// Dispatch 把信封交给对应的处理器
//
// 返回:
//   - error: 类型未知或未注册时为 ErrUnknownType，否则为处理器的返回值
func (d *Dispatcher) Dispatch(ctx context.Context, from types.PeerID, env *Envelope) error {
	if !env.Type.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}

	d.mu.RLock()
	h, ok := d.handlers[env.Type]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: no handler for %s", ErrUnknownType, env.Type)
	}
	return h(ctx, from, env)
}
