// Package pinning 实现按 (PeerId, 通道) 的证书指纹固定。
//
// 节点把身份绑定到它在 TLS 握手中出示的证书上：证书公钥的
// SPKI SHA-256 指纹要么由已验证的描述符权威声明，要么按
// 首次使用（TOFU）学习。后续连接出示不同指纹即为违规。
//
// # 三层决策
//
//  1. 描述符指纹：权威。存在有效指纹时命中任意一枚即接受，
//     全部不符则拒绝并记录违规。权威指纹一经出现即永久取代
//     同通道的 TOFU 记录。
//  2. TOFU 指纹：非权威。与学习值不符即违规拒绝。
//  3. 首次使用：没有任何记录时学习出示的指纹并接受。
//
// 指纹比较使用常量时间比较。违规作为安全事件以警告级别
// 记录，日志只携带指纹短前缀，从不输出密钥材料。
//
// # 持久化
//
// 学习指纹（ln/）与违规记录（vio/）落盘，跨重启保留；描述符
// 指纹不落盘，由描述符缓存在运行期重新应用。存储故障时决策
// 继续基于内存状态进行，降级通过 Degraded 信号大声上报。
//
// # 快速开始
//
//	store := pinning.New(kv.New(eng, []byte("pin/")))
//	store.ApplyDescriptor(desc) // 描述符验证通过后
//
//	tier, err := store.Evaluate(peerID, types.ChannelControl, fp)
//	if err != nil {
//	    // ErrPinMismatch: 指纹违规，拒绝连接
//	}
//
// # 架构定位
//
//	Tier: Core Layer (Level 2)
//	依赖: descriptor, storage/kv
//	被依赖: transport（TLS 证书验证回调）
//
// # 线程安全
//
// Store 的所有方法可以并发调用，内部按节点 ID 分片加锁。
package pinning
