package pinning

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// PinStore - 证书指纹固定
// ============================================================================

// Tier 指纹决策所在的层级
type Tier uint8

const (
	// TierNone 未作出决策（错误路径）
	TierNone Tier = iota

	// TierDescriptor 依据描述符携带的权威指纹决策
	TierDescriptor

	// TierLearned 依据 TOFU 学习到的指纹决策
	TierLearned

	// TierFirstUse 首次见到该节点，指纹被学习并接受
	TierFirstUse
)

// String 返回层级名称
func (t Tier) String() string {
	switch t {
	case TierDescriptor:
		return "descriptor"
	case TierLearned:
		return "tofu"
	case TierFirstUse:
		return "first_use"
	default:
		return "none"
	}
}

// Violation 指纹违规记录
type Violation struct {
	// Count 累计违规次数
	Count uint64

	// LastFingerprint 最近一次违规出示的指纹
	LastFingerprint types.Fingerprint

	// LastSeen 最近一次违规时间
	LastSeen time.Time
}

// Observer 固定决策观测回调，用于接入指标
type Observer interface {
	PinAccepted(ch types.Channel, tier Tier)
	PinRejected(ch types.Channel, reason types.Reason)
}

// 持久化记录（ln/ 与 vio/ 命名空间下的 JSON）
type learnedRecord struct {
	Fingerprint string `json:"fingerprint"`
	LearnedAt   int64  `json:"learned_at"`
}

type violationRecord struct {
	Count           uint64 `json:"count"`
	LastFingerprint string `json:"last_fingerprint"`
	LastSeen        int64  `json:"last_seen"`
}

type pinKey struct {
	id types.PeerID
	ch types.Channel
}

// entry 单个 (PeerId, channel) 的固定状态
//
// descPins 来自已验证的描述符，权威且不持久化（描述符缓存
// 重建时重新应用）；learned 是 TOFU 学习的指纹，持久化。
type entry struct {
	descPins      []descriptor.PinEntry
	learned       *types.Fingerprint
	learnedAt     time.Time
	learnedLoaded bool
	violation     *Violation
	violLoaded    bool
	lastAccess    time.Time
}

type pinShard struct {
	mu      sync.Mutex
	entries map[pinKey]*entry
}

// Store 证书指纹固定存储
//
// 对出示的证书指纹执行三层决策：描述符指纹（权威）、TOFU
// 学习指纹、首次使用学习。指纹比较使用常量时间比较。学习
// 指纹与违规记录持久化，描述符指纹由描述符缓存在运行期
// 重建。
type Store struct {
	store    *kv.Store // nil 表示纯内存
	clk      clock.Clock
	shards   [pinShardCount]pinShard
	degraded atomic.Bool
	observer Observer
}

const pinShardCount = 32

// New 创建指纹固定存储
//
// store 为 nil 时学习指纹与违规记录只在内存中维护。
func New(store *kv.Store) *Store {
	return newStoreWithClock(store, clock.New())
}

func newStoreWithClock(store *kv.Store, clk clock.Clock) *Store {
	s := &Store{store: store, clk: clk}
	for i := range s.shards {
		s.shards[i].entries = make(map[pinKey]*entry)
	}
	return s
}

// SetObserver 设置观测回调，nil 表示不观测
func (s *Store) SetObserver(o Observer) {
	s.observer = o
}

func (s *Store) shardFor(id types.PeerID) *pinShard {
	return &s.shards[int(id[0])%pinShardCount]
}

func lnKey(k pinKey) []byte {
	return []byte("ln/" + k.id.String() + "/" + k.ch.String())
}

func vioKey(k pinKey) []byte {
	return []byte("vio/" + k.id.String() + "/" + k.ch.String())
}

// Evaluate 对出示的证书指纹执行固定决策
//
// 决策顺序:
//  1. 描述符指纹：存在当前有效的权威指纹时，命中任意一枚即
//     接受，全部不符则记录违规并拒绝。已全部过期的权威指纹
//     视为不可用，退入下一层。
//  2. TOFU 指纹：与学习过的指纹不符即违规拒绝。
//  3. 首次使用：学习出示的指纹并接受。
//
// 返回:
//   - Tier: 作出决策的层级
//   - error: ErrPinMismatch、ErrEmptyFingerprint 或存储错误
func (s *Store) Evaluate(id types.PeerID, ch types.Channel, fp types.Fingerprint) (Tier, error) {
	if fp.IsEmpty() {
		s.observeReject(ch, types.ReasonPinMismatch)
		return TierNone, ErrEmptyFingerprint
	}

	key := pinKey{id: id, ch: ch}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, err := s.loadLocked(sh, key)
	if err != nil {
		s.observeReject(ch, types.ReasonStorageUnavailable)
		return TierNone, err
	}
	now := s.clk.Now()
	e.lastAccess = now

	// 1. 描述符指纹
	if len(e.descPins) > 0 {
		active := activePins(e.descPins, now)
		if len(active) > 0 {
			for _, pin := range active {
				if fp.Equal(pin.Fingerprint) {
					s.observeAccept(ch, TierDescriptor)
					return TierDescriptor, nil
				}
			}
			s.recordViolationLocked(key, e, fp, now)
			return TierDescriptor, fmt.Errorf("%w: no active descriptor pin matches %s",
				ErrPinMismatch, fp.ShortString())
		}
		// 权威指纹全部过期：按不可用处理，退入 TOFU 层
		logger.Debug("描述符指纹已全部过期，退入 TOFU 决策",
			"peer_id", id.ShortString(), "channel", ch.String())
	}

	// 2. TOFU 指纹
	if e.learned != nil {
		if fp.Equal(*e.learned) {
			s.observeAccept(ch, TierLearned)
			return TierLearned, nil
		}
		s.recordViolationLocked(key, e, fp, now)
		return TierLearned, fmt.Errorf("%w: fingerprint %s contradicts learned pin",
			ErrPinMismatch, fp.ShortString())
	}

	// 3. 首次使用
	learned := fp
	e.learned = &learned
	e.learnedAt = now
	e.learnedLoaded = true
	if s.store != nil {
		rec := learnedRecord{Fingerprint: fp.String(), LearnedAt: now.Unix()}
		if err := s.store.PutJSON(lnKey(key), &rec); err != nil {
			s.markDegraded("持久化学习指纹失败", err)
		}
	}
	logger.Info("首次使用，指纹已学习",
		"peer_id", id.ShortString(),
		"channel", ch.String(),
		"fingerprint", fp.ShortString())
	s.observeAccept(ch, TierFirstUse)
	return TierFirstUse, nil
}

// ApplyDescriptor 应用已验证描述符携带的权威指纹
//
// 对每条通道：描述符带有指纹时替换该通道的权威指纹并废弃
// TOFU 学习记录（权威指纹一经出现即取代 TOFU）；描述符未带
// 指纹的通道保留已学习的 TOFU 指纹。
func (s *Store) ApplyDescriptor(d *descriptor.PeerDescriptor) error {
	if d == nil {
		return ErrNilDescriptor
	}

	sh := s.shardFor(d.PeerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, ch := range types.Channels {
		pins := d.PinsFor(ch)
		key := pinKey{id: d.PeerID, ch: ch}
		e := sh.entries[key]
		if e == nil {
			if len(pins) == 0 {
				continue
			}
			e = &entry{}
			sh.entries[key] = e
		}
		e.lastAccess = s.clk.Now()
		e.descPins = append([]descriptor.PinEntry(nil), pins...)

		if len(pins) > 0 && (e.learned != nil || !e.learnedLoaded) {
			e.learned = nil
			e.learnedLoaded = true
			if s.store != nil {
				if err := s.store.Delete(lnKey(key)); err != nil {
					s.markDegraded("废弃学习指纹失败", err)
				}
			}
			logger.Debug("权威指纹已取代 TOFU 记录",
				"peer_id", d.PeerID.ShortString(),
				"channel", ch.String(),
				"pins", len(pins))
		}
	}
	return nil
}

// Pins 返回通道当前的权威指纹，无则为 nil
func (s *Store) Pins(id types.PeerID, ch types.Channel) []descriptor.PinEntry {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := sh.entries[pinKey{id: id, ch: ch}]
	if e == nil || len(e.descPins) == 0 {
		return nil
	}
	return append([]descriptor.PinEntry(nil), e.descPins...)
}

// Learned 返回通道的 TOFU 学习指纹
func (s *Store) Learned(id types.PeerID, ch types.Channel) (types.Fingerprint, bool, error) {
	key := pinKey{id: id, ch: ch}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, err := s.loadLocked(sh, key)
	if err != nil {
		return types.EmptyFingerprint, false, err
	}
	if e.learned == nil {
		return types.EmptyFingerprint, false, nil
	}
	return *e.learned, true, nil
}

// Violations 返回节点的违规记录，按通道汇总
func (s *Store) Violations(id types.PeerID) (map[types.Channel]Violation, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	out := make(map[types.Channel]Violation)
	for _, ch := range types.Channels {
		key := pinKey{id: id, ch: ch}
		e, err := s.loadLocked(sh, key)
		if err != nil {
			return nil, err
		}
		if err := s.loadViolationLocked(key, e); err != nil {
			return nil, err
		}
		if e.violation != nil {
			out[ch] = *e.violation
		}
	}
	return out, nil
}

// Forget 删除节点的全部固定状态
//
// 仅供操作者工具使用：删除后该节点回到首次使用状态。
func (s *Store) Forget(id types.PeerID) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, ch := range types.Channels {
		key := pinKey{id: id, ch: ch}
		delete(sh.entries, key)
		if s.store == nil {
			continue
		}
		if err := s.store.Delete(lnKey(key)); err != nil {
			return err
		}
		if err := s.store.Delete(vioKey(key)); err != nil {
			return err
		}
	}
	return nil
}

// Sweep 驱逐闲置超过 maxIdle 的内存项
//
// 只收缩内存缓存，持久化状态不受影响。返回驱逐数量。
func (s *Store) Sweep(maxIdle time.Duration) int {
	cutoff := s.clk.Now().Add(-maxIdle)
	evicted := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.lastAccess.Before(cutoff) {
				delete(sh.entries, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		logger.Debug("固定缓存清理完成", "evicted", evicted)
	}
	return evicted
}

// Degraded 报告持久化是否处于降级状态
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

// loadLocked 取缓存项，必要时从存储加载学习指纹
func (s *Store) loadLocked(sh *pinShard, key pinKey) (*entry, error) {
	e := sh.entries[key]
	if e == nil {
		e = &entry{}
		sh.entries[key] = e
	}
	if e.learnedLoaded || s.store == nil {
		e.learnedLoaded = true
		return e, nil
	}

	var rec learnedRecord
	err := s.store.GetJSON(lnKey(key), &rec)
	switch {
	case err == nil:
		fp, perr := types.ParseFingerprint(rec.Fingerprint)
		if perr != nil {
			// 记录损坏：按未学习处理并大声上报
			s.markDegraded("学习指纹记录损坏", perr)
		} else {
			e.learned = &fp
			e.learnedAt = time.Unix(rec.LearnedAt, 0).UTC()
		}
	case storage.IsNotFound(err):
	default:
		s.markDegraded("读取学习指纹失败", err)
		return nil, err
	}
	e.learnedLoaded = true
	return e, nil
}

func (s *Store) loadViolationLocked(key pinKey, e *entry) error {
	if e.violLoaded || s.store == nil {
		e.violLoaded = true
		return nil
	}

	var rec violationRecord
	err := s.store.GetJSON(vioKey(key), &rec)
	switch {
	case err == nil:
		fp, _ := types.ParseFingerprint(rec.LastFingerprint)
		e.violation = &Violation{
			Count:           rec.Count,
			LastFingerprint: fp,
			LastSeen:        time.Unix(rec.LastSeen, 0).UTC(),
		}
	case storage.IsNotFound(err):
	default:
		s.markDegraded("读取违规记录失败", err)
		return err
	}
	e.violLoaded = true
	return nil
}

// recordViolationLocked 记录一次指纹违规并以安全事件上报
func (s *Store) recordViolationLocked(key pinKey, e *entry, fp types.Fingerprint, now time.Time) {
	if err := s.loadViolationLocked(key, e); err != nil {
		// 读不到历史记录时从零开始计数，降级已经上报
		e.violLoaded = true
	}
	if e.violation == nil {
		e.violation = &Violation{}
	}
	e.violation.Count++
	e.violation.LastFingerprint = fp
	e.violation.LastSeen = now

	if s.store != nil {
		rec := violationRecord{
			Count:           e.violation.Count,
			LastFingerprint: fp.String(),
			LastSeen:        now.Unix(),
		}
		if err := s.store.PutJSON(vioKey(key), &rec); err != nil {
			s.markDegraded("持久化违规记录失败", err)
		}
	}

	logger.Warn("证书指纹违规",
		"peer_id", key.id.ShortString(),
		"channel", key.ch.String(),
		"fingerprint", fp.ShortString(),
		"count", e.violation.Count,
		"security", true)
	s.observeReject(key.ch, types.ReasonPinMismatch)
}

func (s *Store) observeAccept(ch types.Channel, tier Tier) {
	if s.observer != nil {
		s.observer.PinAccepted(ch, tier)
	}
}

func (s *Store) observeReject(ch types.Channel, reason types.Reason) {
	if s.observer != nil {
		s.observer.PinRejected(ch, reason)
	}
}

func (s *Store) markDegraded(msg string, err error) {
	if !s.degraded.Swap(true) {
		logger.Error(msg+"，防伪装保护降级", "error", err)
		return
	}
	logger.Debug(msg, "error", err)
}

// activePins 过滤出当前有效的指纹
func activePins(pins []descriptor.PinEntry, now time.Time) []descriptor.PinEntry {
	active := make([]descriptor.PinEntry, 0, len(pins))
	for _, p := range pins {
		if p.ValidAt(now) {
			active = append(active, p)
		}
	}
	return active
}
