package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// RateGuard - 两级令牌桶限速
// ============================================================================

// shardCount 桶表分片数量，降低锁竞争
const shardCount = 32

// bucket 单个键的令牌桶与活跃时间
type bucket struct {
	lim        *rate.Limiter
	lastAccess time.Time
}

// limiterShard 桶表分片
type limiterShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// keyedLimiter 按字符串键分桶的限速器
//
// 每个键独立持有一个令牌桶：突发额度为每分钟限额，此后按
// 限额均速补充。新键首次出现时惰性创建。
type keyedLimiter struct {
	shards [shardCount]limiterShard
	limit  rate.Limit
	burst  int
}

func newKeyedLimiter(perMinute int) *keyedLimiter {
	k := &keyedLimiter{
		limit: rate.Limit(float64(perMinute) / 60.0),
		burst: perMinute,
	}
	for i := range k.shards {
		k.shards[i].buckets = make(map[string]*bucket)
	}
	return k
}

// shardFor 按 FNV-1a 哈希选择分片
func (k *keyedLimiter) shardFor(key string) *limiterShard {
	const offset32, prime32 = 2166136261, 16777619
	h := uint32(offset32)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= prime32
	}
	return &k.shards[h%shardCount]
}

func (k *keyedLimiter) allow(key string, now time.Time) bool {
	s := k.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(k.limit, k.burst)}
		s.buckets[key] = b
	}
	b.lastAccess = now
	return b.lim.AllowN(now, 1)
}

func (k *keyedLimiter) forget(key string) {
	s := k.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
}

// sweep 回收 cutoff 之前未活跃的桶，返回回收数量
func (k *keyedLimiter) sweep(cutoff time.Time) int {
	removed := 0
	for i := range k.shards {
		s := &k.shards[i]
		s.mu.Lock()
		for key, b := range s.buckets {
			if !b.lastAccess.After(cutoff) {
				delete(s.buckets, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (k *keyedLimiter) size() int {
	n := 0
	for i := range k.shards {
		s := &k.shards[i]
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

// Limiter 两级限速
//
// 身份识别前按来源地址限速，约束解析未知流量的开销；身份
// 识别后按节点 ID 限速，给予已认证节点更高的额度。两级相互
// 独立，键空间互不影响。
type Limiter struct {
	preAuth     *keyedLimiter
	postAuth    *keyedLimiter
	idleTimeout time.Duration
	clk         clock.Clock
}

// NewLimiter 创建两级限速器
func NewLimiter(cfg config.GuardConfig) *Limiter {
	return newLimiterWithClock(cfg, clock.New())
}

func newLimiterWithClock(cfg config.GuardConfig, clk clock.Clock) *Limiter {
	return &Limiter{
		preAuth:     newKeyedLimiter(cfg.PreAuthRatePerMin),
		postAuth:    newKeyedLimiter(cfg.PostAuthRatePerMin),
		idleTimeout: cfg.RateIdleTimeout.Duration(),
		clk:         clk,
	}
}

// AllowAddress 身份识别前按来源地址判定
//
// 超出每分钟额度时返回 false。空地址无法计费，失败关闭。
func (l *Limiter) AllowAddress(addr string) bool {
	if addr == "" {
		return false
	}
	return l.preAuth.allow(addr, l.clk.Now())
}

// AllowPeer 身份识别后按节点 ID 判定
func (l *Limiter) AllowPeer(id types.PeerID) bool {
	return l.postAuth.allow(id.String(), l.clk.Now())
}

// ForgetPeer 删除节点的限速状态
func (l *Limiter) ForgetPeer(id types.PeerID) {
	l.postAuth.forget(id.String())
}

// Sweep 回收空闲超时的限速桶
//
// 返回回收的桶数量。由后台维护循环定期调用。被回收键再次
// 出现时获得全新的突发额度，空闲超时应显著长于限速窗口。
func (l *Limiter) Sweep() int {
	cutoff := l.clk.Now().Add(-l.idleTimeout)
	removed := l.preAuth.sweep(cutoff) + l.postAuth.sweep(cutoff)
	if removed > 0 {
		logger.Debug("限速桶回收完成",
			"removed", removed,
			"addresses", l.preAuth.size(),
			"peers", l.postAuth.size())
	}
	return removed
}

// TrackedAddresses 返回当前跟踪的来源地址数量
func (l *Limiter) TrackedAddresses() int {
	return l.preAuth.size()
}

// TrackedPeers 返回当前跟踪的节点数量
func (l *Limiter) TrackedPeers() int {
	return l.postAuth.size()
}
