// Package metrics 暴露控制平面的 Prometheus 指标。
//
// 决策计数通过观测回调采集：描述符校验（接受/按原因拒绝）、
// 消息准入（按类型接受/按阶段与原因拒绝）、指纹固定（按通道
// 与层级接受/按通道与原因拒绝）。实时读数通过 GaugeFunc 探针
// 采集：去重窗口与限速桶的跟踪规模、解析缓存条目数，以及
// 各持久化组件的降级标志。
//
// # 核心功能
//
//   - Collectors: 实现 descriptor/pinning/control 三个 Observer
//   - RegisterProbes: 接入组件的实时读数
//   - Handler: 暴露 /metrics 的 HTTP 处理器
//
// # 快速开始
//
//	c := metrics.New()
//	validator.SetObserver(c)
//	auth.SetObserver(c)
//
//	http.Handle("/metrics", c.Handler())
//
// # 架构定位
//
//	Tier: Core Layer (Level 5)
//	依赖: descriptor, pinning, control, replay, ratelimit, resolver, sequence
//	被依赖: 根门面
//
// # 线程安全
//
// Prometheus 计数器本身并发安全，观测回调可在任意 goroutine
// 调用。RegisterProbes 只应在装配期调用一次。
package metrics
