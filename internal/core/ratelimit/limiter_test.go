package ratelimit

import (
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

func newTestLimiter(preAuth, postAuth int) (*Limiter, *clock.Mock) {
	cfg := config.DefaultGuardConfig()
	cfg.PreAuthRatePerMin = preAuth
	cfg.PostAuthRatePerMin = postAuth

	mock := clock.NewMock()
	mock.Set(testEpoch)
	return newLimiterWithClock(cfg, mock), mock
}

func TestAddressBudgetExact(t *testing.T) {
	limiter, _ := newTestLimiter(5, 500)

	for i := 0; i < 5; i++ {
		if !limiter.AllowAddress("198.51.100.1:4001") {
			t.Fatalf("admission %d should fit the per-minute budget", i+1)
		}
	}
	if limiter.AllowAddress("198.51.100.1:4001") {
		t.Fatal("admission beyond the budget should be rejected")
	}

	// 其他地址不受影响
	if !limiter.AllowAddress("198.51.100.2:4001") {
		t.Fatal("a different address should have its own budget")
	}
}

func TestPeerBudgetExact(t *testing.T) {
	limiter, _ := newTestLimiter(100, 10)
	peer := testPeerID(1)

	for i := 0; i < 10; i++ {
		if !limiter.AllowPeer(peer) {
			t.Fatalf("admission %d should fit the per-minute budget", i+1)
		}
	}
	if limiter.AllowPeer(peer) {
		t.Fatal("admission beyond the budget should be rejected")
	}
	if !limiter.AllowPeer(testPeerID(2)) {
		t.Fatal("a different peer should have its own budget")
	}
}

func TestTiersIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(2, 2)

	limiter.AllowAddress("192.0.2.1:4001")
	limiter.AllowAddress("192.0.2.1:4001")
	if limiter.AllowAddress("192.0.2.1:4001") {
		t.Fatal("address budget should be exhausted")
	}

	// 识别后一级独立计费
	if !limiter.AllowPeer(testPeerID(1)) {
		t.Fatal("peer tier should be unaffected by address tier")
	}
}

func TestEmptyAddressRejected(t *testing.T) {
	limiter, _ := newTestLimiter(100, 500)

	if limiter.AllowAddress("") {
		t.Fatal("empty address cannot be metered and should be rejected")
	}
}

func TestRefillAfterAdvance(t *testing.T) {
	limiter, mock := newTestLimiter(5, 500)
	const addr = "203.0.113.9:4001"

	for i := 0; i < 5; i++ {
		limiter.AllowAddress(addr)
	}
	if limiter.AllowAddress(addr) {
		t.Fatal("budget should be exhausted")
	}

	// 限额 5/分钟，13 秒补充约一个令牌
	mock.Add(13 * time.Second)
	if !limiter.AllowAddress(addr) {
		t.Fatal("one token should have refilled")
	}
	if limiter.AllowAddress(addr) {
		t.Fatal("only one token should have refilled")
	}
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	cfg := config.DefaultGuardConfig()
	cfg.PreAuthRatePerMin = 2
	cfg.RateIdleTimeout = config.Duration(10 * time.Minute)

	mock := clock.NewMock()
	mock.Set(testEpoch)
	limiter := newLimiterWithClock(cfg, mock)

	limiter.AllowAddress("idle:1")
	limiter.AllowPeer(testPeerID(1))

	mock.Add(11 * time.Minute)
	limiter.AllowAddress("fresh:1")

	removed := limiter.Sweep()
	if removed != 2 {
		t.Fatalf("Sweep removed %d buckets, want 2", removed)
	}
	if limiter.TrackedAddresses() != 1 {
		t.Fatalf("TrackedAddresses = %d, want 1", limiter.TrackedAddresses())
	}
	if limiter.TrackedPeers() != 0 {
		t.Fatalf("TrackedPeers = %d, want 0", limiter.TrackedPeers())
	}

	// 被回收的键重新获得全新额度
	limiter.AllowAddress("idle:1")
	if !limiter.AllowAddress("idle:1") {
		t.Fatal("evicted key should start with a fresh budget")
	}
}

func TestForgetPeer(t *testing.T) {
	limiter, _ := newTestLimiter(100, 1)
	peer := testPeerID(3)

	limiter.AllowPeer(peer)
	if limiter.AllowPeer(peer) {
		t.Fatal("budget should be exhausted")
	}

	limiter.ForgetPeer(peer)
	if !limiter.AllowPeer(peer) {
		t.Fatal("forgotten peer should start with a fresh budget")
	}
}

func TestConcurrentSingleKeyBudget(t *testing.T) {
	limiter, _ := newTestLimiter(10, 500)
	const addr = "concurrent:4001"
	const workers = 64

	var wg sync.WaitGroup
	admitted := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- limiter.AllowAddress(addr)
		}()
	}
	wg.Wait()
	close(admitted)

	passed := 0
	for ok := range admitted {
		if ok {
			passed++
		}
	}
	if passed != 10 {
		t.Fatalf("concurrent admissions: %d passed, want exactly 10", passed)
	}
}

func TestConcurrentDistinctKeys(t *testing.T) {
	limiter, _ := newTestLimiter(100, 500)
	const workers = 32

	var wg sync.WaitGroup
	errs := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			addr := fmt.Sprintf("10.0.0.%d:4001", n)
			if !limiter.AllowAddress(addr) {
				errs <- addr
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for addr := range errs {
		t.Errorf("first admission for %s was rejected", addr)
	}
	if limiter.TrackedAddresses() != workers {
		t.Fatalf("TrackedAddresses = %d, want %d", limiter.TrackedAddresses(), workers)
	}
}
