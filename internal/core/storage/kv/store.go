// Package kv 提供带前缀隔离的 KV 存储抽象层
//
// Store 在底层存储引擎之上提供命名空间隔离，
// 每个组件可以使用不同的前缀来隔离数据。
//
// # 键空间设计
//
// MeshTrust 使用以下前缀约定：
//   - sq/   - SequenceGuard 序列号记录
//   - pin/  - PinStore 学习到的指纹钉扎
//   - vio/  - PinStore 钉扎违规记录
//   - meta/ - 本地元数据（发布状态等）
//
// # 使用示例
//
//	eng, _ := badger.New(cfg)
//	sequences := kv.New(eng, []byte("sq/"))
//	pins := kv.New(eng, []byte("pin/"))
//
//	// 写入数据（自动添加前缀）
//	sequences.PutUint64([]byte(peerID.String()), seq) // 实际键: sq/<peer_id>
//	pins.PutJSON([]byte(pinKey), record)              // 实际键: pin/<pin_key>
package kv

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/slskdn/go-meshtrust/internal/core/storage/engine"
)

// Store 带前缀隔离的 KV 存储
//
// Store 封装底层存储引擎，为所有键自动添加前缀，
// 实现数据命名空间隔离。
type Store struct {
	engine engine.InternalEngine
	prefix []byte
	mu     sync.RWMutex
}

// New 创建新的 Store
//
// 参数:
//   - eng: 底层存储引擎
//   - prefix: 键前缀（所有操作会自动添加此前缀）
//
// 返回:
//   - *Store: 新创建的 Store
func New(eng engine.InternalEngine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: prefix,
	}
}

// prefixKey 为键添加前缀
func (s *Store) prefixKey(key []byte) []byte {
	if len(s.prefix) == 0 {
		return key
	}
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

// stripPrefix 从键中移除前缀
func (s *Store) stripPrefix(key []byte) []byte {
	if len(s.prefix) == 0 || len(key) < len(s.prefix) {
		return key
	}
	return key[len(s.prefix):]
}

// ============= 基础操作 =============

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// Has 检查键是否存在
func (s *Store) Has(key []byte) (bool, error) {
	return s.engine.Has(s.prefixKey(key))
}

// ============= 便捷方法 =============

// GetJSON 获取并反序列化 JSON 值
func (s *Store) GetJSON(key []byte, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON 序列化并存储 JSON 值
func (s *Store) PutJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// GetUint64 获取 uint64 值
func (s *Store) GetUint64(key []byte) (uint64, error) {
	data, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, engine.ErrCorrupted
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutUint64 存储 uint64 值
func (s *Store) PutUint64(key []byte, value uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	return s.Put(key, data)
}

// IncrUint64 原子递增 uint64 值
//
// 如果键不存在，初始化为 0 后再递增。
// 返回递增后的值。
func (s *Store) IncrUint64(key []byte, delta uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetUint64(key)
	if err != nil && !engine.IsNotFound(err) {
		return 0, err
	}

	newValue := current + delta
	if err := s.PutUint64(key, newValue); err != nil {
		return 0, err
	}

	return newValue, nil
}

// ============= 前缀迭代 =============

// PrefixScan 扫描指定前缀的所有键值对
//
// 回调函数返回 false 时停止扫描。
// 注意：返回的 key 已去除 Store 的前缀，但保留 subPrefix。
func (s *Store) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	fullPrefix := s.prefixKey(subPrefix)
	iter := s.engine.NewPrefixIterator(fullPrefix)
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := s.stripPrefix(iter.Key())
		value := iter.Value()

		if !fn(key, value) {
			break
		}
	}

	return iter.Error()
}

// Keys 返回指定前缀的所有键
func (s *Store) Keys(subPrefix []byte) ([][]byte, error) {
	var keys [][]byte

	err := s.PrefixScan(subPrefix, func(key, _ []byte) bool {
		keyCopy := make([]byte, len(key))
		copy(keyCopy, key)
		keys = append(keys, keyCopy)
		return true
	})

	return keys, err
}

// Count 统计指定前缀的键数量
func (s *Store) Count(subPrefix []byte) (int64, error) {
	var count int64

	err := s.PrefixScan(subPrefix, func(_, _ []byte) bool {
		count++
		return true
	})

	return count, err
}

// DeletePrefix 删除指定前缀的所有键
func (s *Store) DeletePrefix(subPrefix []byte) error {
	keys, err := s.Keys(subPrefix)
	if err != nil {
		return err
	}

	batch := s.engine.NewBatch()
	for _, key := range keys {
		batch.Delete(s.prefixKey(key))
	}

	return s.engine.Write(batch)
}

// ============= 批量操作 =============

// Batch 带前缀的批量操作
type Batch struct {
	store *Store
	batch engine.Batch
}

// NewBatch 创建新的批量操作
func (s *Store) NewBatch() *Batch {
	return &Batch{
		store: s,
		batch: s.engine.NewBatch(),
	}
}

// Put 添加写入操作
func (b *Batch) Put(key, value []byte) {
	b.batch.Put(b.store.prefixKey(key), value)
}

// Delete 添加删除操作
func (b *Batch) Delete(key []byte) {
	b.batch.Delete(b.store.prefixKey(key))
}

// PutJSON 添加 JSON 写入操作
func (b *Batch) PutJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Put(key, data)
	return nil
}

// Write 执行批量操作
func (b *Batch) Write() error {
	return b.batch.Write()
}

// Reset 重置批量操作
func (b *Batch) Reset() {
	b.batch.Reset()
}

// Size 返回操作数量
func (b *Batch) Size() int {
	return b.batch.Size()
}

// ============= 辅助方法 =============

// Prefix 返回当前 Store 的前缀
func (s *Store) Prefix() []byte {
	return s.prefix
}

// SubStore 创建子存储（在当前前缀基础上添加子前缀）
func (s *Store) SubStore(subPrefix []byte) *Store {
	newPrefix := make([]byte, len(s.prefix)+len(subPrefix))
	copy(newPrefix, s.prefix)
	copy(newPrefix[len(s.prefix):], subPrefix)

	return &Store{
		engine: s.engine,
		prefix: newPrefix,
	}
}

// Engine 返回底层存储引擎（仅供内部使用）
func (s *Store) Engine() engine.InternalEngine {
	return s.engine
}
