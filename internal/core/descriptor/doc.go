// Package descriptor 实现节点描述符的构建、签名、发布与校验。
//
// 描述符是节点在网格中的自签名名片：声明身份公钥、当前有效的
// 控制面签名密钥、两类通道的证书指纹以及可达地址。远端节点
// 通过目录服务取得描述符，校验通过后才信任其中的密钥与指纹。
//
// # 核心功能
//
//   - 规范编码：跨实现字节一致的二进制编码，签名覆盖编码输出
//   - 校验链：大小、结构、时间窗、防回滚、身份绑定、签名六道检查
//   - 发布器：构建并签名本节点描述符，按生命周期比例自动重发布
//   - 序列号：单调递增并跨重启持久化，支撑远端的防回滚判定
//
// # 校验链
//
// Validate 按固定顺序执行检查，任何一道失败立即拒绝并给出
// 原因码：
//
//	大小上限      → oversized
//	解码/结构     → malformed
//	schema 版本   → malformed
//	时间窗（含偏移）→ expired_or_future
//	序列号回退    → rollback
//	身份键绑定    → invalid_signature
//	签名校验      → invalid_signature
//	条目数量上限  → malformed
//
// rollback 与 pin_mismatch 属于安全事件，以警告级别记录。
//
// # 快速开始
//
//	validator := descriptor.NewValidator(cfg.Descriptor, guard)
//	desc, reason, err := validator.Validate(raw)
//	if err != nil {
//	    // reason 给出拒绝原因码
//	}
//
//	pub, _ := descriptor.NewPublisher(cfg.Descriptor, id, keyring, directory, meta)
//	pub.Start(ctx)
//	defer pub.Stop()
//
// # 架构定位
//
//	Tier: Core Layer (Level 2)
//	依赖: identity, sequence, storage/kv, interfaces.Directory
//	被依赖: resolver, control, pinning
//
// # 线程安全
//
// Validator 与 Publisher 的所有方法可以并发调用。PeerDescriptor
// 解码后视为不可变值。
package descriptor
