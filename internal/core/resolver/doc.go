// Package resolver 实现远端节点描述符的解析与缓存。
//
// 解析器位于描述符目录之前，是控制平面获取远端信任材料
// （签名密钥、证书指纹、端点）的唯一入口。所有新记录经由
// 验证链接受：验证器拒绝的记录不进入缓存，目录故障不会
// 退化为无验证的信任。
//
// # 核心功能
//
//   - Resolve: 带缓存的描述符解析，同节点并发请求合并为
//     单次目录查询，查询带超时，失败关闭
//   - Observe: 摄入随传输握手或消息送达的描述符
//   - Peek: 只查缓存，不触发目录查询
//   - Sweep: 清理过期的缓存条目与持久化记录
//
// # 缓存生命周期
//
// 接受的描述符缓存至其自身过期时间，并以可配置的周期向
// 目录刷新。刷新拿到逐字节一致的记录时只更新时间，不重走
// 严格的序列号校验；拿到更高序列号的记录时替换缓存并转发
// 指纹声明。刷新失败时未过期的缓存副本继续可用，按退避
// 间隔重试，目录抖动不中断既有信任。
//
// 接受过的描述符同时持久化。重启后从存储恢复，节点无需
// 等待目录查询即可恢复既有节点的信任状态，也避免了序列号
// 防护与空缓存之间的自锁。
//
// # 聚合查询结果
//
// 目录的一次查询可能返回多条串接的候选记录（不同副本、
// 不同序列号）。解析器在解码前检查聚合大小上限，逐条验证
// 后接受序列号最高的可用记录。
//
// # 快速开始
//
//	r := resolver.NewResolver(cfg.Control, directory, validator, store)
//	r.SetPinSink(pinStore)
//
//	desc, err := r.Resolve(ctx, peerID)
//	if err != nil {
//		// ErrNotFound 或 ErrUnavailable，失败关闭
//	}
//
// # 架构定位
//
//	Tier: Core Layer (Level 3)
//	依赖: descriptor, pinning, storage/kv, pkg/interfaces
//	被依赖: control, transport
//
// # 线程安全
//
// 所有公开方法并发安全。缓存条目不可变，更新通过整体替换
// 完成；同一节点的目录查询由单航班合并。
package resolver
