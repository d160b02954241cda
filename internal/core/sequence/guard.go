package sequence

import (
	"sync"
	"sync/atomic"

	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

var logger = log.Logger("core/sequence")

// ============================================================================
// SequenceGuard - 防回滚序列号记录
// ============================================================================

// shardCount 分片数量，按节点 ID 首字节取模
const shardCount = 32

type shard struct {
	mu   sync.Mutex
	seqs map[types.PeerID]uint64
}

// Guard 序列号防回滚守卫
//
// 为每个远端节点记录已接受的最高描述符序列号。内存缓存是
// 运行期的事实来源，存储层异步兜底：存储故障时运行期单调性
// 不受影响，但跨重启的防回滚保护降级，通过 Degraded 信号
// 大声上报。
//
// 并发提交按节点分片串行化，不同节点互不阻塞。
type Guard struct {
	store    *kv.Store // sq/ 前缀，nil 表示纯内存
	shards   [shardCount]shard
	degraded atomic.Bool
}

// NewGuard 创建序列号守卫
//
// store 为 nil 时记录只在内存中维护，重启即失去防回滚历史。
func NewGuard(store *kv.Store) *Guard {
	g := &Guard{store: store}
	for i := range g.shards {
		g.shards[i].seqs = make(map[types.PeerID]uint64)
	}
	return g
}

func (g *Guard) shardFor(id types.PeerID) *shard {
	return &g.shards[int(id[0])%shardCount]
}

// loadLocked 取节点的当前记录，调用方必须持有分片锁
func (g *Guard) loadLocked(s *shard, id types.PeerID) (uint64, bool, error) {
	if seq, ok := s.seqs[id]; ok {
		return seq, true, nil
	}
	if g.store == nil {
		return 0, false, nil
	}

	seq, err := g.store.GetUint64(id.Bytes())
	if err != nil {
		if storage.IsNotFound(err) {
			return 0, false, nil
		}
		g.markDegraded("读取序列号记录失败", id, err)
		return 0, false, err
	}

	s.seqs[id] = seq
	return seq, true, nil
}

// LastSeen 返回节点已接受的最高序列号
//
// 返回:
//   - uint64: 序列号
//   - bool: 是否存在记录
//   - error: 存储不可用且缓存无记录时返回错误
func (g *Guard) LastSeen(id types.PeerID) (uint64, bool, error) {
	s := g.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return g.loadLocked(s, id)
}

// Commit 提交序列号
//
// 仅当 seq 严格大于已记录值时提交并返回 true。提交先落缓存
// 再落盘：落盘失败不回滚提交（运行期保护仍然有效），但置
// 降级标志并以错误级别记录。
//
// 返回:
//   - bool: 是否提交成功（false 表示序列号未严格递增）
//   - error: 当前记录完全不可读时返回错误
func (g *Guard) Commit(id types.PeerID, seq uint64) (bool, error) {
	s := g.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, seen, err := g.loadLocked(s, id)
	if err != nil {
		return false, err
	}
	if seen && seq <= current {
		return false, nil
	}

	s.seqs[id] = seq

	if g.store != nil {
		if err := g.store.PutUint64(id.Bytes(), seq); err != nil {
			g.markDegraded("持久化序列号记录失败", id, err)
		} else {
			g.clearDegraded()
		}
	}
	return true, nil
}

// Forget 删除节点的序列号记录
//
// 仅供操作者工具使用：删除记录会使该节点的旧描述符重新可被
// 接受。
func (g *Guard) Forget(id types.PeerID) error {
	s := g.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seqs, id)
	if g.store == nil {
		return nil
	}
	return g.store.Delete(id.Bytes())
}

// Degraded 报告持久化是否处于降级状态
//
// 降级期间运行期单调性仍由内存缓存保证，但跨重启的防回滚
// 历史可能丢失。
func (g *Guard) Degraded() bool {
	return g.degraded.Load()
}

func (g *Guard) markDegraded(msg string, id types.PeerID, err error) {
	if !g.degraded.Swap(true) {
		logger.Error(msg+"，防回滚保护降级",
			"peer_id", id.ShortString(), "error", err)
		return
	}
	logger.Debug(msg, "peer_id", id.ShortString(), "error", err)
}

func (g *Guard) clearDegraded() {
	if g.degraded.Swap(false) {
		logger.Info("序列号存储恢复，防回滚保护恢复正常")
	}
}
