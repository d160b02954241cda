// Package engine 定义存储引擎接口
//
// engine 提供存储引擎的抽象接口，允许使用不同的底层存储实现。
//
// # 接口
//
//   - InternalEngine: 存储引擎主接口
//   - Batch: 批量写入接口
//   - Iterator: 迭代器接口
//
// # 实现
//
//   - badger: BadgerDB 实现（默认，支持持久化与纯内存两种模式）
//
// # 使用示例
//
//	eng, err := badger.New(engine.DefaultConfig("/data/meshtrust.db"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
package engine
