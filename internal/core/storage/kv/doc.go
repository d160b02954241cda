// Package kv 提供带前缀隔离的键值存储接口
//
// kv 在 Engine 基础上提供更简单的键值操作接口，
// 并通过键前缀实现组件间的数据隔离。
//
// # 接口
//
//   - Store: 带前缀的 KV 存储
//   - Get/Put/Delete/Has
//   - GetJSON/PutJSON、GetUint64/PutUint64/IncrUint64
//   - PrefixScan/Keys/Count/DeletePrefix
//
// # 使用示例
//
//	store := kv.New(eng, []byte("sq/"))
//	store.PutUint64([]byte("peer1"), 42)
//	seq, err := store.GetUint64([]byte("peer1"))
package kv
