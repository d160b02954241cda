package meshtrust

import "errors"

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 控制平面未启动
	ErrNotStarted = errors.New("meshtrust: plane not started")

	// ErrAlreadyStarted 控制平面已启动
	ErrAlreadyStarted = errors.New("meshtrust: plane already started")

	// ErrPlaneClosed 控制平面已关闭
	ErrPlaneClosed = errors.New("meshtrust: plane closed")

	// ErrPlaneStopped 已停止的控制平面不能原地重启
	// 存储引擎与传输在停止时释放，重新上线需用相同数据目录
	// 创建新的 Plane
	ErrPlaneStopped = errors.New("meshtrust: stopped plane cannot be restarted")

	// ErrPlaneRunning 操作要求控制平面处于停止状态
	ErrPlaneRunning = errors.New("meshtrust: plane is running")

	// ────────────────────────────────────────────────────────────────────────
	// 消息发送错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrEmptyPeerID 目标节点 ID 为空
	ErrEmptyPeerID = errors.New("meshtrust: empty peer id")
)
