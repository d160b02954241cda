package replay

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

var testEpoch = time.Unix(1_700_000_000, 0).UTC()

func testPeerID(seed byte) types.PeerID {
	var id types.PeerID
	for i := range id {
		id[i] = seed
	}
	return id
}

func newTestGuard(cfg config.GuardConfig) (*Guard, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(testEpoch)
	return newGuardWithClock(cfg, mock), mock
}

func TestAdmitAndReject(t *testing.T) {
	guard, _ := newTestGuard(config.DefaultGuardConfig())
	peer := testPeerID(1)

	if !guard.Admit(peer, "msg-1") {
		t.Fatal("first occurrence should be admitted")
	}
	if guard.Admit(peer, "msg-1") {
		t.Fatal("duplicate within retention should be rejected")
	}
	if !guard.Admit(peer, "msg-2") {
		t.Fatal("distinct message id should be admitted")
	}
}

func TestEmptyMessageIDRejected(t *testing.T) {
	guard, _ := newTestGuard(config.DefaultGuardConfig())

	if guard.Admit(testPeerID(1), "") {
		t.Fatal("empty message id should be rejected")
	}
}

func TestPeersIndependent(t *testing.T) {
	guard, _ := newTestGuard(config.DefaultGuardConfig())

	if !guard.Admit(testPeerID(1), "shared-id") {
		t.Fatal("peer 1 should admit")
	}
	if !guard.Admit(testPeerID(2), "shared-id") {
		t.Fatal("same message id from a different peer should admit")
	}
	if guard.Admit(testPeerID(1), "shared-id") {
		t.Fatal("peer 1 replay should be rejected")
	}
}

func TestExpiredEntryTreatedAsNew(t *testing.T) {
	cfg := config.DefaultGuardConfig()
	cfg.ReplayRetention = config.Duration(10 * time.Minute)
	guard, mock := newTestGuard(cfg)
	peer := testPeerID(3)

	if !guard.Admit(peer, "msg") {
		t.Fatal("first occurrence should be admitted")
	}

	mock.Add(9*time.Minute + 59*time.Second)
	if guard.Admit(peer, "msg") {
		t.Fatal("duplicate inside retention should be rejected")
	}

	mock.Add(time.Second)
	if !guard.Admit(peer, "msg") {
		t.Fatal("entry at retention age should be treated as new")
	}
	if guard.Admit(peer, "msg") {
		t.Fatal("refreshed entry should dedupe again")
	}
}

func TestWindowCapFailsClosed(t *testing.T) {
	cfg := config.DefaultGuardConfig()
	cfg.ReplayRetention = config.Duration(10 * time.Minute)
	cfg.ReplayPerPeerCap = 4
	guard, mock := newTestGuard(cfg)
	peer := testPeerID(4)

	for i := 0; i < 4; i++ {
		if !guard.Admit(peer, fmt.Sprintf("msg-%d", i)) {
			t.Fatalf("message %d should fit in window", i)
		}
	}

	if guard.Admit(peer, "overflow") {
		t.Fatal("full window should reject new ids")
	}
	if guard.Admit(peer, "msg-0") {
		t.Fatal("replay should be rejected regardless of window pressure")
	}

	// 旧条目过期后清理腾出空间
	mock.Add(11 * time.Minute)
	if !guard.Admit(peer, "overflow") {
		t.Fatal("pruning expired entries should free window space")
	}
}

func TestSweepRemovesExpiredAndEmpty(t *testing.T) {
	cfg := config.DefaultGuardConfig()
	cfg.ReplayRetention = config.Duration(10 * time.Minute)
	guard, mock := newTestGuard(cfg)

	for i := byte(1); i <= 2; i++ {
		guard.Admit(testPeerID(i), "a")
		guard.Admit(testPeerID(i), "b")
	}
	if guard.TrackedPeers() != 2 {
		t.Fatalf("TrackedPeers = %d, want 2", guard.TrackedPeers())
	}

	mock.Add(11 * time.Minute)
	guard.Admit(testPeerID(3), "fresh")

	removed := guard.Sweep()
	if removed != 4 {
		t.Fatalf("Sweep removed %d entries, want 4", removed)
	}
	if guard.TrackedPeers() != 1 {
		t.Fatalf("TrackedPeers after sweep = %d, want 1", guard.TrackedPeers())
	}

	// 清理后旧 ID 可重新使用
	if !guard.Admit(testPeerID(1), "a") {
		t.Fatal("swept id should admit again")
	}
}

func TestForget(t *testing.T) {
	guard, _ := newTestGuard(config.DefaultGuardConfig())
	peer := testPeerID(5)

	guard.Admit(peer, "msg")
	guard.Forget(peer)

	if guard.TrackedPeers() != 0 {
		t.Fatalf("TrackedPeers = %d, want 0", guard.TrackedPeers())
	}
	if !guard.Admit(peer, "msg") {
		t.Fatal("forgotten peer should admit previously seen id")
	}
}

func TestTrackedPeerEviction(t *testing.T) {
	guard, _ := newTestGuard(config.DefaultGuardConfig())

	victim := testPeerID(0xAA)
	if !guard.Admit(victim, "remembered") {
		t.Fatal("victim first admit should succeed")
	}

	// 注满节点上限，将最早的窗口挤出
	var id types.PeerID
	for i := uint32(0); i < maxTrackedPeers; i++ {
		binary.BigEndian.PutUint32(id[:4], i)
		id[31] = 0x77
		guard.Admit(id, "x")
	}

	if guard.TrackedPeers() > maxTrackedPeers {
		t.Fatalf("TrackedPeers = %d exceeds bound %d", guard.TrackedPeers(), maxTrackedPeers)
	}
	if !guard.Admit(victim, "remembered") {
		t.Fatal("evicted window should no longer remember old ids")
	}
}

func TestConcurrentSameMessageID(t *testing.T) {
	guard, _ := newTestGuard(config.DefaultGuardConfig())
	peer := testPeerID(6)

	const workers = 32
	var wg sync.WaitGroup
	admitted := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- guard.Admit(peer, "contended")
		}()
	}
	wg.Wait()
	close(admitted)

	wins := 0
	for ok := range admitted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("concurrent admits of one id: %d passed, want exactly 1", wins)
	}
}

func TestConcurrentDistinctIDs(t *testing.T) {
	guard, _ := newTestGuard(config.DefaultGuardConfig())
	peer := testPeerID(7)

	const workers = 64
	var wg sync.WaitGroup
	rejected := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("msg-%d", n)
			if !guard.Admit(peer, id) {
				rejected <- id
			}
		}(i)
	}
	wg.Wait()
	close(rejected)

	for id := range rejected {
		t.Errorf("distinct id %q was rejected", id)
	}
}
