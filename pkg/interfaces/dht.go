// Package interfaces - Directory 描述符目录接口
//
// 本文件定义描述符目录的抽象，对应网络中的 DHT 存储。
package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound 目录中不存在请求的记录
var ErrRecordNotFound = errors.New("directory: record not found")

// Directory 定义描述符目录接口
//
// Directory 抽象网格的分布式目录（通常由 DHT 承载），
// 用于发布和检索签名的节点描述符。实现不解释值的内容，
// 描述符的验证由上层完成。
//
// 线程安全：实现必须保证所有方法的线程安全性。
type Directory interface {
	// PutValue 发布键值对
	//
	// ttl 为记录的建议存活时间，到期后目录可以丢弃该记录。
	// ttl <= 0 表示使用目录自身的默认存活时间。
	PutValue(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetValue 检索键对应的值
	//
	// 返回:
	//   - []byte: 值的副本
	//   - error: ErrRecordNotFound 如果记录不存在，其他错误表示目录故障
	GetValue(ctx context.Context, key string) ([]byte, error)
}
