// Package interfaces - Engine 存储引擎接口
//
// 本文件定义 MeshTrust 存储引擎的公共接口。
// 允许用户提供自定义存储后端（可选）。
//
// # 设计原则
//
// 1. 最小化接口：仅暴露必要的基础操作
// 2. 可替换性：用户可以实现自定义存储后端
// 3. 无状态方法：所有方法都是幂等的
package interfaces

// Engine 存储引擎基础接口
//
// 提供键值存储的基本操作。MeshTrust 内部使用 BadgerDB 实现，
// 但用户可以提供自定义实现来替换默认存储后端。
//
// 线程安全：实现必须保证所有方法的线程安全性。
type Engine interface {
	// Get 获取指定键的值
	//
	// 返回:
	//   - []byte: 值的副本（调用者可以安全修改）
	//   - error: ErrNotFound 如果键不存在，其他错误表示存储故障
	Get(key []byte) ([]byte, error)

	// Put 设置键值对
	//
	// 如果键已存在，则覆盖旧值。
	Put(key, value []byte) error

	// Delete 删除指定键
	//
	// 如果键不存在，不返回错误（幂等操作）。
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// Close 关闭存储引擎
	//
	// 关闭后不能再进行任何操作。
	// 多次调用 Close 是安全的。
	Close() error
}
