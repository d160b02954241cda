package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// Resolver - 远端描述符解析
// ============================================================================

const (
	// maxLookupResultBytes 聚合查询结果的大小上限（256 KiB）
	// 在任何解码之前对目录返回值执行
	maxLookupResultBytes = 256 * 1024

	// maxLookupRecords 单次查询结果中的候选记录条数上限
	maxLookupRecords = 16

	// refreshRetryInterval 刷新失败后的最短重试间隔
	refreshRetryInterval = time.Minute

	// forcedRetryInterval 同一节点两次强制刷新的最短间隔
	// 强制刷新的触发方已通过传输层身份确认，预算可以宽于
	// 周期刷新，但仍须有界
	forcedRetryInterval = 10 * time.Second
)

// PinSink 接收已接受描述符的指纹声明
type PinSink interface {
	ApplyDescriptor(d *descriptor.PeerDescriptor) error
}

// cacheEntry 一个已接受描述符的缓存条目
//
// 条目不可变，更新通过整体替换完成。raw 保存接受时的线格式
// 原文，刷新时与查询结果逐字节比较以识别未变更的记录。
type cacheEntry struct {
	desc        *descriptor.PeerDescriptor
	raw         []byte
	fetchedAt   time.Time
	lastAttempt time.Time
	lastForced  time.Time
}

// descriptorRecord 持久化的描述符记录
type descriptorRecord struct {
	Wire      []byte `json:"wire"`
	FetchedAt int64  `json:"fetched_at"`
}

// Resolver 远端描述符解析器
//
// 在目录之前维护一层已验证描述符的缓存：命中且未到刷新周期
// 时直接返回；需要获取时对同一节点的并发请求合并为单次目录
// 查询，查询带超时，失败关闭。接受过的描述符持久化，重启后
// 节点无需等待目录即可恢复信任状态。
type Resolver struct {
	cfg       config.ControlConfig
	directory interfaces.Directory
	validator *descriptor.Validator
	store     *kv.Store
	cache     *lru.Cache[types.PeerID, *cacheEntry]
	group     singleflight.Group
	pins      PinSink
	clk       clock.Clock
	degraded  atomic.Bool
}

// NewResolver 创建描述符解析器
//
// 参数:
//   - cfg: 控制平面配置（获取超时、缓存存活时间与容量）
//   - directory: 描述符目录
//   - validator: 描述符验证器，所有新记录经由它接受
//   - store: 持久化存储，nil 表示纯内存模式
func NewResolver(cfg config.ControlConfig, directory interfaces.Directory,
	validator *descriptor.Validator, store *kv.Store) *Resolver {
	return newResolverWithClock(cfg, directory, validator, store, clock.New())
}

func newResolverWithClock(cfg config.ControlConfig, directory interfaces.Directory,
	validator *descriptor.Validator, store *kv.Store, clk clock.Clock) *Resolver {
	size := cfg.CacheSize
	if size <= 0 {
		size = config.DefaultControlConfig().CacheSize
	}
	cache, _ := lru.New[types.PeerID, *cacheEntry](size)
	return &Resolver{
		cfg:       cfg,
		directory: directory,
		validator: validator,
		store:     store,
		cache:     cache,
		clk:       clk,
	}
}

// SetPinSink 设置指纹接收器
//
// 每个被接受的描述符都会转发给接收器，使固定存储与缓存保持
// 同步。必须在解析器投入使用前调用。
func (r *Resolver) SetPinSink(sink PinSink) {
	r.pins = sink
}

// Resolve 解析节点的描述符
//
// 缓存命中且未到刷新周期时立即返回。需要查询目录时，同一
// 节点的并发调用合并为单次获取；获取带超时，超时或失败按
// 描述符不可用处理。缓存副本未过期时刷新失败不致命，继续
// 使用缓存副本并按退避间隔重试。
//
// 返回:
//   - *descriptor.PeerDescriptor: 当前有效的描述符
//   - error: ErrNotFound 或 ErrUnavailable
func (r *Resolver) Resolve(ctx context.Context, id types.PeerID) (*descriptor.PeerDescriptor, error) {
	now := r.clk.Now()
	if e, ok := r.lookup(id, now); ok && !r.refreshDue(e, now) {
		return e.desc, nil
	}

	ch := r.group.DoChan(id.String(), func() (interface{}, error) {
		return r.refresh(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*descriptor.PeerDescriptor), nil
	}
}

// Refresh 绕过缓存周期，立即尝试从目录获取更新的描述符
//
// 供上层在缓存副本疑似过时时调用，典型触发是信封携带了缓存
// 描述符中不存在的签名密钥提示（密钥轮换后的传播窗口）。与
// 周期刷新共用单航班合并；每个节点的强制刷新有独立的最短
// 间隔，间隔内的调用直接返回缓存副本，不触碰目录。
//
// 返回:
//   - *descriptor.PeerDescriptor: 刷新后（或间隔内的缓存）描述符
//   - error: ErrNotFound 或 ErrUnavailable
func (r *Resolver) Refresh(ctx context.Context, id types.PeerID) (*descriptor.PeerDescriptor, error) {
	now := r.clk.Now()
	if e, ok := r.lookup(id, now); ok && now.Sub(e.lastForced) < forcedRetryInterval {
		return e.desc, nil
	}

	ch := r.group.DoChan("forced:"+id.String(), func() (interface{}, error) {
		return r.forcedRefresh(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*descriptor.PeerDescriptor), nil
	}
}

// forcedRefresh 单航班内的强制刷新逻辑
//
// 进入目录查询之前先消耗强制刷新预算：查询无论成败都计入，
// 未变更的结果不会把预算还回去。
func (r *Resolver) forcedRefresh(ctx context.Context, id types.PeerID) (*descriptor.PeerDescriptor, error) {
	now := r.clk.Now()
	e, cached := r.lookup(id, now)
	if cached && now.Sub(e.lastForced) < forcedRetryInterval {
		return e.desc, nil
	}
	if cached {
		r.markForced(id, e, now)
	}

	d, err := r.fetch(ctx, id)
	if err == nil {
		return d, nil
	}

	if e, ok := r.lookup(id, r.clk.Now()); ok {
		r.noteAttempt(id, e)
		logger.Debug("强制刷新失败，继续使用缓存副本",
			"peer_id", id.ShortString(), "sequence", e.desc.Sequence, "err", err)
		return e.desc, nil
	}
	return nil, err
}

// Peek 只查缓存，不触发目录查询
func (r *Resolver) Peek(id types.PeerID) (*descriptor.PeerDescriptor, bool) {
	e, ok := r.lookup(id, r.clk.Now())
	if !ok {
		return nil, false
	}
	return e.desc, true
}

// Observe 摄入一份通过其他途径送达的描述符
//
// 传输握手或控制消息可以随路携带发送方的描述符。与已接受
// 副本逐字节一致的重复观察是幂等的，只刷新缓存时间；其余
// 记录走完整验证链，接受后更新缓存、持久化并转发指纹。
func (r *Resolver) Observe(raw []byte) (*descriptor.PeerDescriptor, error) {
	now := r.clk.Now()

	if d, err := descriptor.DecodeWire(raw, config.MaxDescriptorBytesBound); err == nil {
		if cur, ok := r.cache.Get(d.PeerID); ok && bytes.Equal(raw, cur.raw) {
			r.touch(d.PeerID, cur, now)
			return cur.desc, nil
		}
	}

	d, _, err := r.validator.Validate(raw)
	if err != nil {
		return nil, err
	}
	return r.accept(d.PeerID, d, raw, now), nil
}

// Invalidate 丢弃节点的缓存描述符
func (r *Resolver) Invalidate(id types.PeerID) {
	r.cache.Remove(id)
	if r.store != nil {
		if err := r.store.Delete(persistKey(id)); err != nil {
			r.markDegraded("删除持久化描述符失败", err)
		}
	}
}

// Sweep 清理已过期的缓存条目与持久化记录
//
// 返回清理的条目数。由后台维护循环定期调用。
func (r *Resolver) Sweep() int {
	now := r.clk.Now()
	removed := 0

	for _, id := range r.cache.Keys() {
		if e, ok := r.cache.Peek(id); ok && !e.desc.ExpiresAt.After(now) {
			r.cache.Remove(id)
			removed++
		}
	}

	if r.store != nil {
		keys, err := r.store.Keys(nil)
		if err != nil {
			r.markDegraded("扫描持久化描述符失败", err)
			return removed
		}
		for _, key := range keys {
			var rec descriptorRecord
			if err := r.store.GetJSON(key, &rec); err != nil {
				if storage.IsNotFound(err) {
					continue
				}
				r.deleteStale(key, &removed)
				continue
			}
			d, err := descriptor.DecodeWire(rec.Wire, config.MaxDescriptorBytesBound)
			if err != nil || !d.ExpiresAt.After(now) {
				r.deleteStale(key, &removed)
			}
		}
	}

	if removed > 0 {
		logger.Debug("描述符缓存清理完成", "removed", removed, "cached", r.cache.Len())
	}
	return removed
}

// CachedPeers 返回当前缓存的描述符数量
func (r *Resolver) CachedPeers() int {
	return r.cache.Len()
}

// Degraded 返回持久化是否处于降级状态
func (r *Resolver) Degraded() bool {
	return r.degraded.Load()
}

// ============================================================================
// 内部实现
// ============================================================================

// lookup 取未过期的缓存条目，内存未命中时尝试持久化记录
func (r *Resolver) lookup(id types.PeerID, now time.Time) (*cacheEntry, bool) {
	if e, ok := r.cache.Get(id); ok {
		if e.desc.ExpiresAt.After(now) {
			return e, true
		}
		r.cache.Remove(id)
		return nil, false
	}
	return r.loadPersisted(id, now)
}

// loadPersisted 从存储恢复接受过的描述符
//
// 记录在接受时通过了完整验证链，恢复只做结构解码与过期
// 检查，不重走严格的序列号校验。过期或损坏的记录留给
// Sweep 清理。
func (r *Resolver) loadPersisted(id types.PeerID, now time.Time) (*cacheEntry, bool) {
	if r.store == nil {
		return nil, false
	}

	var rec descriptorRecord
	if err := r.store.GetJSON(persistKey(id), &rec); err != nil {
		if !storage.IsNotFound(err) {
			r.markDegraded("读取持久化描述符失败", err)
		}
		return nil, false
	}

	d, err := descriptor.DecodeWire(rec.Wire, config.MaxDescriptorBytesBound)
	if err != nil || d.PeerID != id || !d.ExpiresAt.After(now) {
		return nil, false
	}

	e := &cacheEntry{
		desc:      d,
		raw:       rec.Wire,
		fetchedAt: time.Unix(rec.FetchedAt, 0).UTC(),
	}
	r.cache.Add(id, e)
	r.applyPins(d)
	logger.Debug("从持久化恢复描述符",
		"peer_id", id.ShortString(), "sequence", d.Sequence)
	return e, true
}

// refreshDue 判断条目是否到达刷新周期
func (r *Resolver) refreshDue(e *cacheEntry, now time.Time) bool {
	if now.Sub(e.fetchedAt) < r.cfg.CacheTTL.Duration() {
		return false
	}
	return now.Sub(e.lastAttempt) >= refreshRetryInterval
}

// refresh 单航班内的获取逻辑
func (r *Resolver) refresh(ctx context.Context, id types.PeerID) (*descriptor.PeerDescriptor, error) {
	now := r.clk.Now()
	// 并发航班可能已经完成了刷新
	if e, ok := r.lookup(id, now); ok && !r.refreshDue(e, now) {
		return e.desc, nil
	}

	d, err := r.fetch(ctx, id)
	if err == nil {
		return d, nil
	}

	// 缓存副本未过期时刷新失败不致命
	if e, ok := r.lookup(id, r.clk.Now()); ok {
		r.noteAttempt(id, e)
		logger.Debug("描述符刷新失败，继续使用缓存副本",
			"peer_id", id.ShortString(), "sequence", e.desc.Sequence, "err", err)
		return e.desc, nil
	}
	return nil, err
}

// fetch 查询目录并从候选记录中接受最优者
func (r *Resolver) fetch(ctx context.Context, id types.PeerID) (*descriptor.PeerDescriptor, error) {
	if r.directory == nil {
		return nil, fmt.Errorf("%w: no directory configured", ErrUnavailable)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.ResolveTimeout.Duration())
	defer cancel()

	value, err := r.directory.GetValue(fetchCtx, descriptor.DirectoryKey(id))
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id.ShortString())
		}
		return nil, fmt.Errorf("%w: directory lookup: %v", ErrUnavailable, err)
	}

	if len(value) > maxLookupResultBytes {
		logger.Warn("查询结果超出聚合上限",
			"peer_id", id.ShortString(), "size", len(value))
		return nil, fmt.Errorf("%w: lookup result %d bytes exceeds %d",
			ErrUnavailable, len(value), maxLookupResultBytes)
	}

	records, err := descriptor.SplitWire(value, maxLookupRecords)
	if err != nil {
		logger.Warn("查询结果结构非法", "peer_id", id.ShortString(), "err", err)
		return nil, fmt.Errorf("%w: malformed lookup result", ErrUnavailable)
	}

	now := r.clk.Now()
	cur, _ := r.cache.Get(id)

	var best *descriptor.PeerDescriptor
	var bestRaw []byte
	unchanged := false
	for _, rec := range records {
		// 与已接受副本一致的记录不再重走严格校验
		if cur != nil && bytes.Equal(rec, cur.raw) {
			unchanged = true
			continue
		}

		// 其他节点的记录不得触碰本节点之外的任何状态
		peek, err := descriptor.DecodeWire(rec, config.MaxDescriptorBytesBound)
		if err != nil {
			continue
		}
		if peek.PeerID != id {
			logger.Warn("查询结果的节点 ID 与键不符",
				"want", id.ShortString(), "got", peek.PeerID.ShortString())
			continue
		}

		d, _, err := r.validator.Validate(rec)
		if err != nil {
			continue
		}
		if best == nil || d.Sequence > best.Sequence {
			best, bestRaw = d, rec
		}
	}

	switch {
	case best != nil:
		return r.accept(id, best, bestRaw, now), nil
	case unchanged && cur != nil:
		r.touch(id, cur, now)
		return cur.desc, nil
	default:
		return nil, fmt.Errorf("%w: no usable record for %s", ErrUnavailable, id.ShortString())
	}
}

// accept 记录一份新接受的描述符
func (r *Resolver) accept(id types.PeerID, d *descriptor.PeerDescriptor,
	raw []byte, now time.Time) *descriptor.PeerDescriptor {
	e := &cacheEntry{
		desc:        d,
		raw:         append([]byte(nil), raw...),
		fetchedAt:   now,
		lastAttempt: now,
	}
	r.cache.Add(id, e)
	r.persist(id, e)
	r.applyPins(d)

	logger.Info("远端描述符已接受",
		"peer_id", id.ShortString(),
		"sequence", d.Sequence,
		"expires_in", d.ExpiresIn(now).String())
	return d
}

// touch 刷新未变更条目的获取时间
func (r *Resolver) touch(id types.PeerID, e *cacheEntry, now time.Time) {
	fresh := &cacheEntry{
		desc:        e.desc,
		raw:         e.raw,
		fetchedAt:   now,
		lastAttempt: now,
		lastForced:  e.lastForced,
	}
	r.cache.Add(id, fresh)
	r.persist(id, fresh)
}

// noteAttempt 记录一次失败的刷新尝试，约束重试频率
func (r *Resolver) noteAttempt(id types.PeerID, e *cacheEntry) {
	fresh := &cacheEntry{
		desc:        e.desc,
		raw:         e.raw,
		fetchedAt:   e.fetchedAt,
		lastAttempt: r.clk.Now(),
		lastForced:  e.lastForced,
	}
	r.cache.Add(id, fresh)
}

// markForced 消耗一次强制刷新预算
func (r *Resolver) markForced(id types.PeerID, e *cacheEntry, now time.Time) {
	fresh := &cacheEntry{
		desc:        e.desc,
		raw:         e.raw,
		fetchedAt:   e.fetchedAt,
		lastAttempt: e.lastAttempt,
		lastForced:  now,
	}
	r.cache.Add(id, fresh)
}

func (r *Resolver) persist(id types.PeerID, e *cacheEntry) {
	if r.store == nil {
		return
	}
	rec := descriptorRecord{Wire: e.raw, FetchedAt: e.fetchedAt.Unix()}
	if err := r.store.PutJSON(persistKey(id), rec); err != nil {
		r.markDegraded("持久化描述符失败", err)
	}
}

func (r *Resolver) applyPins(d *descriptor.PeerDescriptor) {
	if r.pins == nil {
		return
	}
	if err := r.pins.ApplyDescriptor(d); err != nil {
		logger.Warn("转发描述符指纹失败",
			"peer_id", d.PeerID.ShortString(), "err", err)
	}
}

func (r *Resolver) deleteStale(key []byte, removed *int) {
	if err := r.store.Delete(key); err != nil {
		r.markDegraded("删除过期描述符失败", err)
		return
	}
	*removed++
}

// markDegraded 首次降级以 Error 级别记录
func (r *Resolver) markDegraded(msg string, err error) {
	if !r.degraded.Swap(true) {
		logger.Error("描述符缓存持久化降级", "reason", msg, "err", err)
		return
	}
	logger.Debug(msg, "err", err)
}

func persistKey(id types.PeerID) []byte {
	return []byte(id.String())
}
