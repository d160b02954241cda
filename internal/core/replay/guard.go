package replay

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// ReplayGuard - 消息重放防护
// ============================================================================

// maxTrackedPeers 同时跟踪去重窗口的节点数量上限
//
// 超限时按 LRU 驱逐最久未活动的节点窗口。被驱逐节点的历史
// 消息在时间戳容忍窗口内理论上可被重放，信封时间戳检查
// （±2 分钟）限定了这一暴露面。
const maxTrackedPeers = 16384

// window 单个节点的消息 ID 去重窗口
type window struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// Guard 重放防护
//
// 按节点维护时间窗口内已见过的 message_id 集合。窗口内重复
// 的 ID 被拒绝；窗口外的条目在后台清理或再次出现时视为新
// 消息。内存以双重上限约束：单节点条目数上限与全局节点数
// LRU 上限。
type Guard struct {
	peers      *lru.Cache[types.PeerID, *window]
	retention  time.Duration
	perPeerCap int
	clk        clock.Clock
}

// NewGuard 创建重放防护
func NewGuard(cfg config.GuardConfig) *Guard {
	return newGuardWithClock(cfg, clock.New())
}

func newGuardWithClock(cfg config.GuardConfig, clk clock.Clock) *Guard {
	peers, _ := lru.New[types.PeerID, *window](maxTrackedPeers)
	return &Guard{
		peers:      peers,
		retention:  cfg.ReplayRetention.Duration(),
		perPeerCap: cfg.ReplayPerPeerCap,
		clk:        clk,
	}
}

// Admit 判定消息 ID 是否可接受
//
// 窗口内已出现过的 ID 返回 false（重放）；否则记录并返回
// true。单节点窗口达到条目上限且无过期条目可清理时失败
// 关闭，返回 false。
//
// 同一节点的并发判定串行化：相同 ID 恰有一次返回 true。
func (g *Guard) Admit(id types.PeerID, messageID string) bool {
	if messageID == "" {
		return false
	}

	now := g.clk.Now()
	w := g.windowFor(id)
	w.mu.Lock()
	defer w.mu.Unlock()

	if seenAt, ok := w.seen[messageID]; ok {
		if now.Sub(seenAt) < g.retention {
			return false
		}
		// 保留期外的旧记录：视为新消息
		w.seen[messageID] = now
		return true
	}

	if len(w.seen) >= g.perPeerCap {
		w.pruneLocked(now.Add(-g.retention))
		if len(w.seen) >= g.perPeerCap {
			logger.Warn("去重窗口已满，拒绝新消息",
				"peer_id", id.ShortString(), "entries", len(w.seen))
			return false
		}
	}

	w.seen[messageID] = now
	return true
}

// windowFor 取节点窗口，不存在时创建
func (g *Guard) windowFor(id types.PeerID) *window {
	if w, ok := g.peers.Get(id); ok {
		return w
	}
	w := &window{seen: make(map[string]time.Time)}
	if prev, ok, _ := g.peers.PeekOrAdd(id, w); ok {
		return prev
	}
	return w
}

// Sweep 清理保留期外的记录并移除空窗口
//
// 返回移除的条目数。由后台维护循环定期调用，与请求量无关。
func (g *Guard) Sweep() int {
	cutoff := g.clk.Now().Add(-g.retention)
	removed := 0

	for _, id := range g.peers.Keys() {
		w, ok := g.peers.Peek(id)
		if !ok {
			continue
		}
		w.mu.Lock()
		removed += w.pruneLocked(cutoff)
		empty := len(w.seen) == 0
		w.mu.Unlock()

		if empty {
			g.peers.Remove(id)
		}
	}

	if removed > 0 {
		logger.Debug("重放窗口清理完成", "removed", removed, "peers", g.peers.Len())
	}
	return removed
}

// TrackedPeers 返回当前跟踪的节点数量
func (g *Guard) TrackedPeers() int {
	return g.peers.Len()
}

// Forget 删除节点的去重窗口
func (g *Guard) Forget(id types.PeerID) {
	g.peers.Remove(id)
}

// pruneLocked 删除 cutoff 之前的记录，调用方必须持有窗口锁
func (w *window) pruneLocked(cutoff time.Time) int {
	removed := 0
	for id, seenAt := range w.seen {
		if !seenAt.After(cutoff) {
			delete(w.seen, id)
			removed++
		}
	}
	return removed
}
