package meshtrust

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/pkg/interfaces"
)

// memoryDirectoryDefaultTTL 未指明 ttl 时记录的存活时间
const memoryDirectoryDefaultTTL = 24 * time.Hour

// MemoryDirectory 进程内描述符目录
//
// interfaces.Directory 的内存实现。网格部署中目录由 DHT 承载，
// 本实现用于单进程测试与未接入 DHT 的独立运行：多个 Plane 共享
// 同一个 MemoryDirectory 即可互相发现。
//
// 到期记录在读取时惰性剔除，不运行后台清理。
type MemoryDirectory struct {
	mu      sync.RWMutex
	entries map[string]memoryRecord
	clk     clock.Clock
}

type memoryRecord struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryDirectory 创建内存目录
func NewMemoryDirectory() *MemoryDirectory {
	return newMemoryDirectoryWithClock(clock.New())
}

func newMemoryDirectoryWithClock(clk clock.Clock) *MemoryDirectory {
	return &MemoryDirectory{
		entries: make(map[string]memoryRecord),
		clk:     clk,
	}
}

var _ interfaces.Directory = (*MemoryDirectory)(nil)

// PutValue 存储键值对
//
// ttl <= 0 时使用目录默认存活时间。
func (d *MemoryDirectory) PutValue(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = memoryDirectoryDefaultTTL
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = memoryRecord{
		value:     append([]byte(nil), value...),
		expiresAt: d.clk.Now().Add(ttl),
	}
	return nil
}

// GetValue 检索键对应的值
//
// 记录不存在或已到期时返回 interfaces.ErrRecordNotFound。
func (d *MemoryDirectory) GetValue(_ context.Context, key string) ([]byte, error) {
	d.mu.RLock()
	rec, ok := d.entries[key]
	d.mu.RUnlock()

	if ok && d.clk.Now().After(rec.expiresAt) {
		d.mu.Lock()
		// 重查：RLock 与 Lock 之间可能已被覆盖
		if cur, still := d.entries[key]; still && d.clk.Now().After(cur.expiresAt) {
			delete(d.entries, key)
		}
		d.mu.Unlock()
		ok = false
	}
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	return append([]byte(nil), rec.value...), nil
}

// Len 返回当前存储的记录数（含尚未剔除的到期记录）
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
