package config

import (
	"errors"
	"path/filepath"
	"time"
)

// StorageConfig 存储配置
//
// 配置 MeshTrust 的数据存储目录。序列号表、已学习指纹与违规记录
// 统一使用 BadgerDB 持久化，通过 Key 前缀隔离不同组件的数据。
//
// 数据目录结构：
//
//	${DataDir}/
//	├── meshtrust.db/       # BadgerDB 主数据库
//	│   ├── 000001.vlog     # Value Log
//	│   ├── 000001.sst      # SSTable
//	│   └── MANIFEST        # 数据库元信息
//	└── keys/               # 身份与签名密钥（不入库）
type StorageConfig struct {
	// DataDir 数据目录路径
	// 存放 BadgerDB 数据库和其他持久化数据
	// 默认值: "./data"
	DataDir string `json:"data_dir"`

	// InMemory 使用纯内存存储
	// 进程退出后数据丢失，仅用于测试
	InMemory bool `json:"in_memory"`

	// GCInterval 值日志垃圾回收间隔
	GCInterval Duration `json:"gc_interval"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:    "./data",
		InMemory:   false,
		GCInterval: Duration(10 * time.Minute),
	}
}

// Validate 验证存储配置的有效性
func (c *StorageConfig) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return errors.New("storage: data_dir cannot be empty")
	}
	if c.GCInterval.Duration() <= 0 {
		return errors.New("storage: gc_interval must be positive")
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c *StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "meshtrust.db")
}

// KeysPath 返回密钥目录路径
func (c *StorageConfig) KeysPath() string {
	return filepath.Join(c.DataDir, "keys")
}
