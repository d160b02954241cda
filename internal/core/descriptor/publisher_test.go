package descriptor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/internal/core/sequence"
	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// fakeDirectory 内存目录服务
type fakeDirectory struct {
	mu   sync.Mutex
	puts []dirPut
	err  error
}

type dirPut struct {
	key   string
	value []byte
	ttl   time.Duration
}

func (f *fakeDirectory) PutValue(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.puts = append(f.puts, dirPut{key: key, value: append([]byte(nil), value...), ttl: ttl})
	return nil
}

func (f *fakeDirectory) GetValue(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.puts) - 1; i >= 0; i-- {
		if f.puts[i].key == key {
			return f.puts[i].value, nil
		}
	}
	return nil, interfaces.ErrRecordNotFound
}

func (f *fakeDirectory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeDirectory) last() dirPut {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts[len(f.puts)-1]
}

var _ interfaces.Directory = (*fakeDirectory)(nil)

func mustKeyring(t *testing.T) *identity.Keyring {
	t.Helper()
	kr, err := identity.NewKeyring("", config.DefaultIdentityConfig())
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}
	return kr
}

func newTestPublisher(t *testing.T, cfg config.DescriptorConfig) (*Publisher, *fakeDirectory, *clock.Mock) {
	t.Helper()
	dir := &fakeDirectory{}
	mock := clock.NewMock()
	mock.Set(testEpoch)

	pub, err := newPublisherWithClock(cfg, mustIdentity(t), mustKeyring(t), dir, nil, mock)
	if err != nil {
		t.Fatalf("newPublisherWithClock failed: %v", err)
	}
	return pub, dir, mock
}

// waitFor 轮询等待条件成立
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestPublisher_PublishBuildsSignedDescriptor(t *testing.T) {
	cfg := config.DefaultDescriptorConfig().WithEndpoints("203.0.113.7:4242")
	pub, dir, _ := newTestPublisher(t, cfg)

	d, err := pub.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if d.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", d.Sequence)
	}
	if len(d.SigningKeys) != 1 {
		t.Errorf("SigningKeys = %d, want 1", len(d.SigningKeys))
	}

	put := dir.last()
	if put.key != DirectoryKey(d.PeerID) {
		t.Errorf("directory key = %q, want %q", put.key, DirectoryKey(d.PeerID))
	}
	if !strings.HasPrefix(put.key, DirectoryKeyPrefix) {
		t.Errorf("directory key %q lacks prefix %q", put.key, DirectoryKeyPrefix)
	}
	if put.ttl != cfg.Lifetime.Duration() {
		t.Errorf("ttl = %s, want %s", put.ttl, cfg.Lifetime.Duration())
	}

	// 线上的内容可解码且签名有效
	got, err := DecodeWire(put.value, cfg.MaxSize)
	if err != nil {
		t.Fatalf("DecodeWire failed: %v", err)
	}
	signable, _ := got.SignableBytes()
	ok, err := got.IdentityKey.Verify(signable, got.Signature)
	if err != nil || !ok {
		t.Errorf("published signature does not verify: %v", err)
	}
	if len(got.Endpoints) != 1 || got.Endpoints[0] != "203.0.113.7:4242" {
		t.Errorf("Endpoints = %v", got.Endpoints)
	}
	if pub.LastPublished() == nil {
		t.Error("LastPublished is nil after publish")
	}
}

func TestPublisher_SequenceIncrements(t *testing.T) {
	pub, dir, _ := newTestPublisher(t, config.DefaultDescriptorConfig())

	for want := uint64(1); want <= 3; want++ {
		d, err := pub.Publish(context.Background())
		if err != nil {
			t.Fatalf("Publish #%d failed: %v", want, err)
		}
		if d.Sequence != want {
			t.Errorf("Sequence = %d, want %d", d.Sequence, want)
		}
	}
	if dir.count() != 3 {
		t.Errorf("directory puts = %d, want 3", dir.count())
	}
}

func TestPublisher_SequencePersistsAcrossRestart(t *testing.T) {
	eng, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory failed: %v", err)
	}
	defer eng.Close()
	meta := kv.New(eng, metaPrefix)

	id := mustIdentity(t)
	kr := mustKeyring(t)
	dir := &fakeDirectory{}
	mock := clock.NewMock()
	mock.Set(testEpoch)

	pub1, err := newPublisherWithClock(config.DefaultDescriptorConfig(), id, kr, dir, meta, mock)
	if err != nil {
		t.Fatalf("newPublisherWithClock failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := pub1.Publish(context.Background()); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	// 重启：同一元数据存储，序列号继续递增
	pub2, err := newPublisherWithClock(config.DefaultDescriptorConfig(), id, kr, dir, meta, mock)
	if err != nil {
		t.Fatalf("newPublisherWithClock failed: %v", err)
	}
	d, err := pub2.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish after restart failed: %v", err)
	}
	if d.Sequence != 3 {
		t.Errorf("Sequence after restart = %d, want 3", d.Sequence)
	}
}

// TestPublisher_ValidatesEndToEnd 发布的线格式必须原样通过
// 远端的完整校验链。
func TestPublisher_ValidatesEndToEnd(t *testing.T) {
	cfg := config.DefaultDescriptorConfig().WithEndpoints("203.0.113.7:4242")
	pub, dir, _ := newTestPublisher(t, cfg)

	if _, err := pub.Publish(context.Background()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	mock := clock.NewMock()
	mock.Set(testEpoch)
	v := newValidatorWithClock(cfg, sequence.NewGuard(nil), mock)

	d, reason, err := v.Validate(dir.last().value)
	if err != nil {
		t.Fatalf("published descriptor rejected: reason=%s err=%v", reason, err)
	}
	if d.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", d.Sequence)
	}

	// 重发布后新描述符仍然通过，旧的按回滚拒绝
	if _, err := pub.Publish(context.Background()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if _, _, err := v.Validate(dir.last().value); err != nil {
		t.Fatalf("republished descriptor rejected: %v", err)
	}
	if _, reason, err := v.Validate(dir.puts[0].value); err == nil || reason != types.ReasonRollback {
		t.Errorf("stale descriptor = (%s, %v), want rollback", reason, err)
	}
}

func TestPublisher_OversizedRejected(t *testing.T) {
	cfg := config.DefaultDescriptorConfig()
	cfg.MaxSize = 64
	pub, dir, _ := newTestPublisher(t, cfg)

	if _, err := pub.Publish(context.Background()); !errors.Is(err, ErrOversized) {
		t.Errorf("Publish = %v, want ErrOversized", err)
	}
	if dir.count() != 0 {
		t.Error("oversized descriptor reached the directory")
	}
}

func TestPublisher_DirectoryErrorSurfaces(t *testing.T) {
	pub, dir, _ := newTestPublisher(t, config.DefaultDescriptorConfig())
	dir.err = errors.New("directory down")

	if _, err := pub.Publish(context.Background()); err == nil {
		t.Error("Publish succeeded with failing directory")
	}
	if pub.LastPublished() != nil {
		t.Error("LastPublished set despite failed publish")
	}
}

func TestPublisher_EndpointMerge(t *testing.T) {
	cfg := config.DefaultDescriptorConfig().WithEndpoints("static.example.org:1", "dup.example.org:2")
	pub, _, _ := newTestPublisher(t, cfg)

	pub.SetEndpoints([]string{"dup.example.org:2", "", "dynamic.example.org:3"})

	got := pub.Endpoints()
	want := []string{"dup.example.org:2", "dynamic.example.org:3", "static.example.org:1"}
	if len(got) != len(want) {
		t.Fatalf("Endpoints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Endpoints[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

type staticPinSource struct {
	control []PinEntry
	data    []PinEntry
}

func (s *staticPinSource) Pins(ch types.Channel) []PinEntry {
	if ch == types.ChannelControl {
		return s.control
	}
	return s.data
}

func TestPublisher_IncludesPins(t *testing.T) {
	pub, dir, _ := newTestPublisher(t, config.DefaultDescriptorConfig())

	var fp types.Fingerprint
	fp[0] = 0xcc
	pub.SetPinSource(&staticPinSource{
		control: []PinEntry{{Fingerprint: fp, ValidFrom: testEpoch, ValidTo: testEpoch.Add(720 * time.Hour)}},
		data:    []PinEntry{{Fingerprint: fp, ValidFrom: testEpoch, ValidTo: testEpoch.Add(720 * time.Hour)}},
	})

	if _, err := pub.Publish(context.Background()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := DecodeWire(dir.last().value, 0)
	if err != nil {
		t.Fatalf("DecodeWire failed: %v", err)
	}
	if len(got.ControlPins) != 1 || got.ControlPins[0].Fingerprint != fp {
		t.Errorf("ControlPins = %v", got.ControlPins)
	}
	if len(got.DataPins) != 1 {
		t.Errorf("DataPins = %d entries, want 1", len(got.DataPins))
	}
}

func TestPublisher_RotateSigningKeyKeepsOverlap(t *testing.T) {
	cfg := config.DefaultDescriptorConfig()
	pub, dir, _ := newTestPublisher(t, cfg)

	if _, err := pub.Publish(context.Background()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	d, err := pub.RotateSigningKey(context.Background())
	if err != nil {
		t.Fatalf("RotateSigningKey failed: %v", err)
	}

	// 重叠窗口内新旧密钥并存
	if len(d.SigningKeys) != 2 {
		t.Fatalf("SigningKeys after rotation = %d, want 2", len(d.SigningKeys))
	}
	if d.SigningKeys[0].KeyID == d.SigningKeys[1].KeyID {
		t.Error("rotated keyring published duplicate key IDs")
	}

	// 轮换后的描述符仍通过完整校验链
	mock := clock.NewMock()
	mock.Set(testEpoch)
	v := newValidatorWithClock(cfg, sequence.NewGuard(nil), mock)
	if _, reason, err := v.Validate(dir.last().value); err != nil {
		t.Errorf("rotated descriptor rejected: reason=%s err=%v", reason, err)
	}
}

func TestPublisher_NilGuards(t *testing.T) {
	dir := &fakeDirectory{}
	id := mustIdentity(t)
	kr := mustKeyring(t)
	cfg := config.DefaultDescriptorConfig()

	if _, err := NewPublisher(cfg, nil, kr, dir, nil); !errors.Is(err, ErrNilIdentity) {
		t.Errorf("nil identity = %v, want ErrNilIdentity", err)
	}
	if _, err := NewPublisher(cfg, id, nil, dir, nil); !errors.Is(err, ErrNilKeyring) {
		t.Errorf("nil keyring = %v, want ErrNilKeyring", err)
	}
	if _, err := NewPublisher(cfg, id, kr, nil, nil); !errors.Is(err, ErrNilDirectory) {
		t.Errorf("nil directory = %v, want ErrNilDirectory", err)
	}
}

func TestPublisher_StartRepublishesOnSchedule(t *testing.T) {
	cfg := config.DefaultDescriptorConfig()
	pub, dir, mock := newTestPublisher(t, cfg)

	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pub.Stop()

	// 初次发布随 Start 同步完成
	if dir.count() != 1 {
		t.Fatalf("puts after Start = %d, want 1", dir.count())
	}

	// 推进到生命周期的一半之后（默认 7 天 × 0.5）
	for i := 0; i < 90; i++ {
		mock.Add(time.Hour)
		time.Sleep(time.Millisecond)
		if dir.count() >= 2 {
			break
		}
	}
	waitFor(t, func() bool { return dir.count() >= 2 }, "scheduled republish")

	got, err := DecodeWire(dir.last().value, 0)
	if err != nil {
		t.Fatalf("DecodeWire failed: %v", err)
	}
	if got.Sequence < 2 {
		t.Errorf("republished Sequence = %d, want >= 2", got.Sequence)
	}
}

func TestPublisher_SetEndpointsTriggersRepublish(t *testing.T) {
	pub, dir, _ := newTestPublisher(t, config.DefaultDescriptorConfig())

	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pub.Stop()
	waitFor(t, func() bool { return dir.count() >= 1 }, "initial publish")

	pub.SetEndpoints([]string{"198.51.100.9:7000"})
	waitFor(t, func() bool { return dir.count() >= 2 }, "endpoint-triggered republish")

	got, err := DecodeWire(dir.last().value, 0)
	if err != nil {
		t.Fatalf("DecodeWire failed: %v", err)
	}
	found := false
	for _, ep := range got.Endpoints {
		if ep == "198.51.100.9:7000" {
			found = true
		}
	}
	if !found {
		t.Errorf("republished Endpoints = %v, missing new endpoint", got.Endpoints)
	}
}

func TestPublisher_StopTerminatesLoop(t *testing.T) {
	pub, _, _ := newTestPublisher(t, config.DefaultDescriptorConfig())

	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	done := make(chan struct{})
	go func() {
		pub.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
