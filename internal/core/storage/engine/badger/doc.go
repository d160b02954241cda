// Package badger 实现 BadgerDB 存储引擎
//
// badger 使用 BadgerDB 作为底层存储，提供高性能的键值存储。
//
// # 特性
//
//   - LSM-tree 存储引擎
//   - 批量写入
//   - 自动 GC
//   - 压缩支持
//   - 纯内存模式（短生命周期节点与测试）
//
// # 配置
//
//	cfg := engine.DefaultConfig("/path/to/data")
//	cfg.SyncWrites = true
//
// # 使用示例
//
//	eng, err := badger.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	err = eng.Put([]byte("key"), []byte("value"))
//	value, err := eng.Get([]byte("key"))
package badger
