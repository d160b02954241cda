// Package replay 实现控制消息的重放防护。
//
// 每个对端节点维护一个时间窗口内的 message_id 去重集合。
// 窗口内重复出现的 ID 判定为重放并拒绝；超出保留期的记录
// 由后台清理移除，再次出现时视为新消息。
//
// # 核心功能
//
//   - Admit: 判定 (peer_id, message_id) 是否首次出现
//   - Sweep: 清理保留期外的记录与空窗口
//   - Forget: 移除指定节点的去重状态
//
// # 内存边界
//
// 内存占用受双重上限约束：
//
//   - 单节点窗口条目数上限（ReplayPerPeerCap），达到上限且
//     无过期条目可清理时失败关闭，拒绝新消息
//   - 全局跟踪节点数上限，超限按 LRU 驱逐最久未活动的窗口
//
// 驱逐或过期后的 ID 理论上可被重放，信封时间戳检查限定了
// 这一暴露窗口。
//
// # 快速开始
//
//	guard := replay.NewGuard(config.DefaultGuardConfig())
//
//	if !guard.Admit(peerID, envelope.MessageID) {
//		// 重放或窗口已满，拒绝消息
//	}
//
// # 架构定位
//
//	Tier: Core Layer (Level 1)
//	依赖: config, pkg/types
//	被依赖: control
//
// # 线程安全
//
// 所有公开方法并发安全。同一节点的判定串行化，保证相同
// message_id 的并发提交恰有一次通过。
package replay
