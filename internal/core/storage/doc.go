// Package storage 提供统一的持久化存储服务
//
// Storage 模块基于 BadgerDB 实现，为 MeshTrust 提供统一的键值存储后端。
// 所有需要跨重启保留的信任状态（序列号、已学习指纹、违规记录）都经由本模块落盘。
//
// # 架构
//
// Storage 模块位于 Core Layer，为其他模块提供存储服务：
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                      使用方模块                              │
//	│      SequenceGuard | PinStore | DescriptorPublisher         │
//	└─────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────┐
//	│                     storage (本包)                          │
//	│  ┌─────────────────────────────────────────────────────┐   │
//	│  │                    KVStore                          │   │
//	│  │              带前缀隔离的 KV 抽象                    │   │
//	│  └─────────────────────────────────────────────────────┘   │
//	│                              │                              │
//	│  ┌─────────────────────────────────────────────────────┐   │
//	│  │                  engine/badger                      │   │
//	│  │                  BadgerDB 实现                       │   │
//	│  └─────────────────────────────────────────────────────┘   │
//	└─────────────────────────────────────────────────────────────┘
//
// # 键空间设计
//
// 各模块使用不同的键前缀实现数据隔离：
//
//	前缀     | 模块                 | 说明
//	---------|----------------------|------------------
//	sq/      | SequenceGuard        | 每节点最大已接受序列号
//	pin/     | PinStore             | TOFU 学习到的指纹钉扎
//	vio/     | PinStore             | 钉扎违规记录
//	meta/    | DescriptorPublisher  | 本地发布状态
//
// # 使用示例
//
// 使用 Fx 依赖注入（推荐）：
//
//	app := fx.New(
//	    storage.Module(),
//	    // ... 其他模块
//	)
//
// 手动创建：
//
//	eng, err := storage.New("/data/meshtrust.db")
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	// 创建带前缀的 KVStore
//	sequences := storage.NewKVStore(eng, []byte("sq/"))
//	pins := storage.NewKVStore(eng, []byte("pin/"))
//
// # 线程安全
//
// 所有公开的类型和方法都是线程安全的。
package storage
