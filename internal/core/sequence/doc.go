// Package sequence 实现描述符序列号的防回滚记录。
//
// # 核心功能
//
//   - 记录每个远端节点已接受的最高描述符序列号
//   - 严格递增提交：旧序列号或重复序列号的提交被拒绝
//   - 内存缓存 + 存储持久化双层记录，存储故障时降级而不中断
//
// # 设计要点
//
// 内存缓存是运行期的事实来源：提交先落缓存再落盘，落盘失败
// 不影响本次提交的结果，但置降级标志并以错误级别记录。降级
// 期间运行期单调性仍然成立，只有跨重启的防回滚历史有丢失
// 风险。
//
// 提交按节点 ID 首字节分片串行化，同一节点的并发提交只有
// 序列号严格更大的那次成功。
//
// # 快速开始
//
//	guard := sequence.NewGuard(kv.New(eng, []byte("sq/")))
//
//	ok, err := guard.Commit(peerID, 42)
//	if err != nil {
//	    // 存储不可用且无缓存记录
//	}
//	if !ok {
//	    // 序列号未严格递增，视为回滚
//	}
//
// # 架构定位
//
//	Tier: Core Layer (Level 1)
//	依赖: storage/kv
//	被依赖: descriptor（验证流水线的防回滚检查）
//
// # 线程安全
//
// Guard 的所有方法可以并发调用。
package sequence
