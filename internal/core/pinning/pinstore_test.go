package pinning

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

var testEpoch = time.Unix(1_700_000_000, 0).UTC()

func testPeer(seed byte) types.PeerID {
	var id types.PeerID
	for i := range id {
		id[i] = seed
	}
	return id
}

func testFP(seed byte) types.Fingerprint {
	var fp types.Fingerprint
	for i := range fp {
		fp[i] = seed
	}
	return fp
}

func memEngine(t *testing.T) storage.InternalEngine {
	t.Helper()
	eng, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory failed: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(testEpoch)
	return newStoreWithClock(kv.New(memEngine(t), pinPrefix), mock), mock
}

func pinAt(fp types.Fingerprint, from, to time.Time) descriptor.PinEntry {
	return descriptor.PinEntry{Fingerprint: fp, ValidFrom: from, ValidTo: to}
}

func TestStore_FirstUseLearns(t *testing.T) {
	s, _ := newTestStore(t)
	id, fp := testPeer(1), testFP(0x11)

	tier, err := s.Evaluate(id, types.ChannelControl, fp)
	if err != nil || tier != TierFirstUse {
		t.Fatalf("Evaluate = (%s, %v), want (first_use, nil)", tier, err)
	}

	// 相同指纹再次出示：TOFU 层接受
	tier, err = s.Evaluate(id, types.ChannelControl, fp)
	if err != nil || tier != TierLearned {
		t.Errorf("Evaluate = (%s, %v), want (tofu, nil)", tier, err)
	}

	got, ok, err := s.Learned(id, types.ChannelControl)
	if err != nil || !ok {
		t.Fatalf("Learned = (%v, %v)", ok, err)
	}
	if !got.Equal(fp) {
		t.Errorf("Learned = %s, want %s", got.ShortString(), fp.ShortString())
	}
}

func TestStore_TOFUViolation(t *testing.T) {
	s, _ := newTestStore(t)
	id, fp1, fp2 := testPeer(2), testFP(0x11), testFP(0x22)

	if _, err := s.Evaluate(id, types.ChannelControl, fp1); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	tier, err := s.Evaluate(id, types.ChannelControl, fp2)
	if !errors.Is(err, ErrPinMismatch) {
		t.Fatalf("Evaluate = (%s, %v), want ErrPinMismatch", tier, err)
	}

	vios, err := s.Violations(id)
	if err != nil {
		t.Fatalf("Violations failed: %v", err)
	}
	v, ok := vios[types.ChannelControl]
	if !ok || v.Count != 1 {
		t.Fatalf("violation = (%+v, %v), want count 1", v, ok)
	}
	if !v.LastFingerprint.Equal(fp2) {
		t.Errorf("LastFingerprint = %s, want %s", v.LastFingerprint.ShortString(), fp2.ShortString())
	}

	// 违规不改变学习指纹，原指纹仍被接受
	if tier, err := s.Evaluate(id, types.ChannelControl, fp1); err != nil || tier != TierLearned {
		t.Errorf("original fingerprint = (%s, %v), want (tofu, nil)", tier, err)
	}
}

func TestStore_DescriptorPinDecides(t *testing.T) {
	s, _ := newTestStore(t)
	id, fp1, fp2 := testPeer(3), testFP(0x11), testFP(0x22)

	err := s.ApplyDescriptor(&descriptor.PeerDescriptor{
		PeerID:      id,
		ControlPins: []descriptor.PinEntry{pinAt(fp1, testEpoch.Add(-time.Hour), testEpoch.Add(720*time.Hour))},
	})
	if err != nil {
		t.Fatalf("ApplyDescriptor failed: %v", err)
	}

	if tier, err := s.Evaluate(id, types.ChannelControl, fp1); err != nil || tier != TierDescriptor {
		t.Errorf("pinned fingerprint = (%s, %v), want (descriptor, nil)", tier, err)
	}

	if _, err := s.Evaluate(id, types.ChannelControl, fp2); !errors.Is(err, ErrPinMismatch) {
		t.Errorf("foreign fingerprint = %v, want ErrPinMismatch", err)
	}
	vios, _ := s.Violations(id)
	if vios[types.ChannelControl].Count != 1 {
		t.Errorf("violation count = %d, want 1", vios[types.ChannelControl].Count)
	}
}

func TestStore_EitherOfTwoPinsAccepted(t *testing.T) {
	s, _ := newTestStore(t)
	id, fp1, fp2 := testPeer(4), testFP(0x11), testFP(0x22)

	// 轮换重叠期内两枚指纹并存，命中任意一枚即接受
	err := s.ApplyDescriptor(&descriptor.PeerDescriptor{
		PeerID: id,
		DataPins: []descriptor.PinEntry{
			pinAt(fp1, testEpoch.Add(-time.Hour), testEpoch.Add(48*time.Hour)),
			pinAt(fp2, testEpoch, testEpoch.Add(720*time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("ApplyDescriptor failed: %v", err)
	}

	for _, fp := range []types.Fingerprint{fp1, fp2} {
		if tier, err := s.Evaluate(id, types.ChannelData, fp); err != nil || tier != TierDescriptor {
			t.Errorf("Evaluate(%s) = (%s, %v), want (descriptor, nil)", fp.ShortString(), tier, err)
		}
	}
}

func TestStore_DescriptorSupersedesTOFU(t *testing.T) {
	eng := memEngine(t)
	mock := clock.NewMock()
	mock.Set(testEpoch)
	s := newStoreWithClock(kv.New(eng, pinPrefix), mock)
	id, fp1, fp2 := testPeer(5), testFP(0x11), testFP(0x22)

	if _, err := s.Evaluate(id, types.ChannelControl, fp1); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	err := s.ApplyDescriptor(&descriptor.PeerDescriptor{
		PeerID:      id,
		ControlPins: []descriptor.PinEntry{pinAt(fp2, testEpoch.Add(-time.Hour), testEpoch.Add(720*time.Hour))},
	})
	if err != nil {
		t.Fatalf("ApplyDescriptor failed: %v", err)
	}

	// 权威指纹取代 TOFU：新指纹接受，旧学习指纹不再有效
	if tier, err := s.Evaluate(id, types.ChannelControl, fp2); err != nil || tier != TierDescriptor {
		t.Errorf("Evaluate = (%s, %v), want (descriptor, nil)", tier, err)
	}
	if _, err := s.Evaluate(id, types.ChannelControl, fp1); !errors.Is(err, ErrPinMismatch) {
		t.Errorf("superseded fingerprint = %v, want ErrPinMismatch", err)
	}
	if _, ok, _ := s.Learned(id, types.ChannelControl); ok {
		t.Error("TOFU pin survived descriptor supersession")
	}

	// 废弃是持久的：重启后学习记录不再出现
	s2 := newStoreWithClock(kv.New(eng, pinPrefix), mock)
	if _, ok, err := s2.Learned(id, types.ChannelControl); err != nil || ok {
		t.Errorf("Learned after restart = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestStore_DescriptorWithoutPinsKeepsTOFU(t *testing.T) {
	s, _ := newTestStore(t)
	id, fp := testPeer(6), testFP(0x11)

	if _, err := s.Evaluate(id, types.ChannelControl, fp); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if err := s.ApplyDescriptor(&descriptor.PeerDescriptor{PeerID: id}); err != nil {
		t.Fatalf("ApplyDescriptor failed: %v", err)
	}

	if tier, err := s.Evaluate(id, types.ChannelControl, fp); err != nil || tier != TierLearned {
		t.Errorf("Evaluate = (%s, %v), want (tofu, nil)", tier, err)
	}
}

func TestStore_ExpiredDescriptorPinsFallThrough(t *testing.T) {
	s, _ := newTestStore(t)
	id, fp := testPeer(7), testFP(0x33)

	err := s.ApplyDescriptor(&descriptor.PeerDescriptor{
		PeerID:      id,
		ControlPins: []descriptor.PinEntry{pinAt(testFP(0x11), testEpoch.Add(-2*time.Hour), testEpoch.Add(-time.Hour))},
	})
	if err != nil {
		t.Fatalf("ApplyDescriptor failed: %v", err)
	}

	// 权威指纹全部过期：按不可用处理，退入首次使用学习
	if tier, err := s.Evaluate(id, types.ChannelControl, fp); err != nil || tier != TierFirstUse {
		t.Errorf("Evaluate = (%s, %v), want (first_use, nil)", tier, err)
	}
}

func TestStore_LearnedPersistsAcrossRestart(t *testing.T) {
	eng := memEngine(t)
	mock := clock.NewMock()
	mock.Set(testEpoch)
	id, fp := testPeer(8), testFP(0x44)

	s1 := newStoreWithClock(kv.New(eng, pinPrefix), mock)
	if _, err := s1.Evaluate(id, types.ChannelData, fp); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	// 重启：学习指纹从存储恢复，违规判定依旧生效
	s2 := newStoreWithClock(kv.New(eng, pinPrefix), mock)
	if tier, err := s2.Evaluate(id, types.ChannelData, fp); err != nil || tier != TierLearned {
		t.Errorf("Evaluate after restart = (%s, %v), want (tofu, nil)", tier, err)
	}
	if _, err := s2.Evaluate(id, types.ChannelData, testFP(0x55)); !errors.Is(err, ErrPinMismatch) {
		t.Errorf("foreign fingerprint after restart = %v, want ErrPinMismatch", err)
	}

	// 违规记录也跨重启保留
	s3 := newStoreWithClock(kv.New(eng, pinPrefix), mock)
	vios, err := s3.Violations(id)
	if err != nil {
		t.Fatalf("Violations failed: %v", err)
	}
	if vios[types.ChannelData].Count != 1 {
		t.Errorf("violation count after restart = %d, want 1", vios[types.ChannelData].Count)
	}
}

func TestStore_ViolationAccumulates(t *testing.T) {
	s, mock := newTestStore(t)
	id := testPeer(9)

	if _, err := s.Evaluate(id, types.ChannelControl, testFP(0x11)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	s.Evaluate(id, types.ChannelControl, testFP(0x22))
	mock.Add(time.Minute)
	s.Evaluate(id, types.ChannelControl, testFP(0x33))

	vios, _ := s.Violations(id)
	v := vios[types.ChannelControl]
	if v.Count != 2 {
		t.Errorf("Count = %d, want 2", v.Count)
	}
	if !v.LastFingerprint.Equal(testFP(0x33)) {
		t.Errorf("LastFingerprint = %s, want %s", v.LastFingerprint.ShortString(), testFP(0x33).ShortString())
	}
	if !v.LastSeen.Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("LastSeen = %s, want %s", v.LastSeen, testEpoch.Add(time.Minute))
	}
}

func TestStore_ChannelsIndependent(t *testing.T) {
	s, _ := newTestStore(t)
	id := testPeer(10)

	if _, err := s.Evaluate(id, types.ChannelControl, testFP(0x11)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	// 数据通道没有控制通道的记录：首次使用
	if tier, err := s.Evaluate(id, types.ChannelData, testFP(0x22)); err != nil || tier != TierFirstUse {
		t.Errorf("Evaluate = (%s, %v), want (first_use, nil)", tier, err)
	}
}

func TestStore_EmptyFingerprintRejected(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Evaluate(testPeer(11), types.ChannelControl, types.EmptyFingerprint); !errors.Is(err, ErrEmptyFingerprint) {
		t.Errorf("Evaluate = %v, want ErrEmptyFingerprint", err)
	}
}

func TestStore_Forget(t *testing.T) {
	s, _ := newTestStore(t)
	id := testPeer(12)

	s.Evaluate(id, types.ChannelControl, testFP(0x11))
	s.Evaluate(id, types.ChannelControl, testFP(0x22)) // 违规

	if err := s.Forget(id); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}

	if tier, err := s.Evaluate(id, types.ChannelControl, testFP(0x22)); err != nil || tier != TierFirstUse {
		t.Errorf("Evaluate after Forget = (%s, %v), want (first_use, nil)", tier, err)
	}
	vios, _ := s.Violations(id)
	if len(vios) != 0 {
		t.Errorf("violations after Forget = %v, want none", vios)
	}
}

func TestStore_SweepEvictsIdleEntries(t *testing.T) {
	s, mock := newTestStore(t)
	idle, busy := testPeer(13), testPeer(14)

	s.Evaluate(idle, types.ChannelControl, testFP(0x11))
	mock.Add(2 * time.Hour)
	s.Evaluate(busy, types.ChannelControl, testFP(0x22))

	if n := s.Sweep(time.Hour); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}

	// 驱逐只收缩内存，学习指纹从存储恢复
	if tier, err := s.Evaluate(idle, types.ChannelControl, testFP(0x11)); err != nil || tier != TierLearned {
		t.Errorf("Evaluate after sweep = (%s, %v), want (tofu, nil)", tier, err)
	}
}

func TestStore_StorageFailureFailsClosed(t *testing.T) {
	eng, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory failed: %v", err)
	}
	mock := clock.NewMock()
	mock.Set(testEpoch)
	s := newStoreWithClock(kv.New(eng, pinPrefix), mock)

	warm, cold := testPeer(15), testPeer(16)
	if _, err := s.Evaluate(warm, types.ChannelControl, testFP(0x11)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("close engine failed: %v", err)
	}

	// 缓存命中的节点不受影响
	if tier, err := s.Evaluate(warm, types.ChannelControl, testFP(0x11)); err != nil || tier != TierLearned {
		t.Errorf("warm Evaluate = (%s, %v), want (tofu, nil)", tier, err)
	}

	// 缓存未命中的节点：失败关闭
	if tier, err := s.Evaluate(cold, types.ChannelControl, testFP(0x22)); err == nil {
		t.Errorf("cold Evaluate = (%s, nil), want storage error", tier)
	}
	if !s.Degraded() {
		t.Error("degraded flag not set after storage failure")
	}
}

type countingObserver struct {
	mu       sync.Mutex
	accepted map[Tier]int
	rejected map[types.Reason]int
}

func (o *countingObserver) PinAccepted(_ types.Channel, tier Tier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.accepted == nil {
		o.accepted = make(map[Tier]int)
	}
	o.accepted[tier]++
}

func (o *countingObserver) PinRejected(_ types.Channel, reason types.Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rejected == nil {
		o.rejected = make(map[types.Reason]int)
	}
	o.rejected[reason]++
}

func TestStore_ObserverCallbacks(t *testing.T) {
	s, _ := newTestStore(t)
	obs := &countingObserver{}
	s.SetObserver(obs)
	id := testPeer(17)

	s.Evaluate(id, types.ChannelControl, testFP(0x11))
	s.Evaluate(id, types.ChannelControl, testFP(0x11))
	s.Evaluate(id, types.ChannelControl, testFP(0x22))

	if obs.accepted[TierFirstUse] != 1 || obs.accepted[TierLearned] != 1 {
		t.Errorf("accepted = %v, want first_use:1 tofu:1", obs.accepted)
	}
	if obs.rejected[types.ReasonPinMismatch] != 1 {
		t.Errorf("rejected = %v, want pin_mismatch:1", obs.rejected)
	}
}

func TestStore_ConcurrentEvaluate(t *testing.T) {
	s, _ := newTestStore(t)
	id, fp := testPeer(18), testFP(0x66)

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	tiers := make(map[Tier]int)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tier, err := s.Evaluate(id, types.ChannelControl, fp)
			if err != nil {
				t.Errorf("Evaluate failed: %v", err)
				return
			}
			mu.Lock()
			tiers[tier]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// 同一指纹并发出示：恰好一次首次学习，其余走 TOFU
	if tiers[TierFirstUse] != 1 {
		t.Errorf("first_use = %d, want 1", tiers[TierFirstUse])
	}
	if tiers[TierLearned] != n-1 {
		t.Errorf("tofu = %d, want %d", tiers[TierLearned], n-1)
	}
}
