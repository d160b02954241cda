// Package ratelimit 实现控制消息的两级令牌桶限速。
//
// 两级限速相互独立、键空间不同：
//
//   - 识别前一级按来源网络地址计费，在节点身份尚未解析时
//     即生效，约束解析与验签未知流量的开销
//   - 识别后一级按节点 ID 计费，给予已认证节点更高的额度
//
// 每个键独立持有一个令牌桶。突发额度为每分钟限额，此后按
// 限额均速补充；超出额度的请求得到明确的限速拒绝，不会被
// 静默丢弃。
//
// # 核心功能
//
//   - AllowAddress: 识别前按来源地址判定
//   - AllowPeer: 识别后按节点 ID 判定
//   - Sweep: 回收空闲超时的限速桶
//
// # 快速开始
//
//	limiter := ratelimit.NewLimiter(config.DefaultGuardConfig())
//
//	if !limiter.AllowAddress(remoteAddr) {
//		// 来源地址超速，拒绝
//	}
//	if !limiter.AllowPeer(peerID) {
//		// 节点超速，拒绝
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
// 所有公开方法并发安全。桶表按键哈希分片，单个键的判定不
// 阻塞其他键。
package ratelimit
