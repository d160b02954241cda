package swarm

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrPoolClosed 连接池已关闭
	ErrPoolClosed = errors.New("swarm: pool closed")

	// ErrNoEndpoints 描述符未携带任何端点
	ErrNoEndpoints = errors.New("swarm: descriptor carries no endpoints")

	// ErrDialFailed 所有端点均拨号失败
	ErrDialFailed = errors.New("swarm: all endpoints failed")
)
