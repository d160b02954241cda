package descriptor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// DescriptorPublisher - 本节点描述符的构建与发布
// ============================================================================

// seqKey 本地发布序列号在 meta 存储中的键
var seqKey = []byte("publish/seq")

// republishRetryInterval 发布失败后的重试间隔
const republishRetryInterval = time.Minute

// PinSource 提供本节点各通道的证书指纹条目
//
// 由证书服务实现，发布器在每次构建描述符时取当前值。
type PinSource interface {
	Pins(ch types.Channel) []PinEntry
}

// Publisher 描述符发布器
//
// 构建本节点的描述符（sequence = 上次发布 + 1），用身份私钥
// 签名后发布到目录。后台循环在生命周期走过配置比例时自动
// 重发布，通告地址变化时立即重发布。序列号持久化在 meta
// 存储中，跨重启保持严格递增。
type Publisher struct {
	mu sync.Mutex

	cfg       config.DescriptorConfig
	id        *identity.Identity
	keyring   *identity.Keyring
	directory interfaces.Directory
	meta      *kv.Store // 可为 nil：临时节点只在内存中计数
	pinSource PinSource
	clk       clock.Clock

	staticEndpoints  []string
	dynamicEndpoints []string
	memSeq           uint64
	lastPublished    *PeerDescriptor

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPublisher 创建描述符发布器
//
// meta 为 nil 时序列号只在内存中维护，适用于临时身份节点；
// 持久节点必须提供 meta 存储，否则重启后序列号回到零。
func NewPublisher(cfg config.DescriptorConfig, id *identity.Identity, keyring *identity.Keyring,
	directory interfaces.Directory, meta *kv.Store) (*Publisher, error) {
	return newPublisherWithClock(cfg, id, keyring, directory, meta, clock.New())
}

func newPublisherWithClock(cfg config.DescriptorConfig, id *identity.Identity, keyring *identity.Keyring,
	directory interfaces.Directory, meta *kv.Store, clk clock.Clock) (*Publisher, error) {
	if id == nil {
		return nil, ErrNilIdentity
	}
	if keyring == nil {
		return nil, ErrNilKeyring
	}
	if directory == nil {
		return nil, ErrNilDirectory
	}

	return &Publisher{
		cfg:             cfg,
		id:              id,
		keyring:         keyring,
		directory:       directory,
		meta:            meta,
		clk:             clk,
		staticEndpoints: append([]string(nil), cfg.Endpoints...),
		trigger:         make(chan struct{}, 1),
	}, nil
}

// SetPinSource 设置证书指纹来源，必须在 Start 之前调用
func (p *Publisher) SetPinSource(src PinSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinSource = src
}

// SetEndpoints 更新动态通告地址
//
// 与配置的静态地址合并去重。集合发生变化时触发一次重发布。
func (p *Publisher) SetEndpoints(endpoints []string) {
	p.mu.Lock()
	merged := mergeEndpoints(p.staticEndpoints, endpoints)
	changed := !equalStrings(merged, mergeEndpoints(p.staticEndpoints, p.dynamicEndpoints))
	p.dynamicEndpoints = append([]string(nil), endpoints...)
	p.mu.Unlock()

	if changed {
		logger.Info("通告地址已变化，触发重发布", "endpoints", len(merged))
		p.signalRepublish()
	}
}

// Endpoints 返回当前通告地址集合
func (p *Publisher) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return mergeEndpoints(p.staticEndpoints, p.dynamicEndpoints)
}

// LastPublished 返回最近一次成功发布的描述符，未发布过时为 nil
func (p *Publisher) LastPublished() *PeerDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPublished
}

// Publish 构建、签名并发布一次描述符
//
// sequence = 上次发布 + 1，在发布前持久化：发布失败烧掉的
// 序列号不回收，严格递增比连续更重要。
func (p *Publisher) Publish(ctx context.Context) (*PeerDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishLocked(ctx)
}

func (p *Publisher) publishLocked(ctx context.Context) (*PeerDescriptor, error) {
	now := time.Unix(p.clk.Now().Unix(), 0).UTC()

	d, err := p.buildLocked(now)
	if err != nil {
		return nil, err
	}

	wire, err := EncodeWire(d)
	if err != nil {
		return nil, err
	}
	if len(wire) > p.cfg.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrOversized, len(wire), p.cfg.MaxSize)
	}

	putCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout.Duration())
	defer cancel()
	if err := p.directory.PutValue(putCtx, DirectoryKey(d.PeerID), wire, d.ExpiresAt.Sub(now)); err != nil {
		return nil, fmt.Errorf("publish descriptor: %w", err)
	}

	p.lastPublished = d
	logger.Info("描述符已发布",
		"sequence", d.Sequence,
		"expires_at", d.ExpiresAt,
		"endpoints", len(d.Endpoints),
		"signing_keys", len(d.SigningKeys),
		"size", len(wire))
	return d, nil
}

// buildLocked 构建并签名描述符，调用方必须持有锁
func (p *Publisher) buildLocked(now time.Time) (*PeerDescriptor, error) {
	seq, err := p.nextSequence()
	if err != nil {
		return nil, fmt.Errorf("advance sequence: %w", err)
	}

	d := &PeerDescriptor{
		SchemaVersion: SchemaVersion,
		PeerID:        p.id.PeerID(),
		IssuedAt:      now,
		ExpiresAt:     now.Add(p.cfg.Lifetime.Duration()),
		Sequence:      seq,
		IdentityKey:   p.id.PublicKey(),
		Endpoints:     mergeEndpoints(p.staticEndpoints, p.dynamicEndpoints),
	}

	for _, k := range p.keyring.Active() {
		d.SigningKeys = append(d.SigningKeys, SigningKeyEntry{
			PublicKey: k.PublicKey(),
			KeyID:     k.KeyID(),
			ValidFrom: k.ValidFrom(),
			ValidTo:   k.ValidTo(),
		})
	}
	if len(d.SigningKeys) == 0 {
		return nil, identity.ErrNoActiveSigningKey
	}

	if p.pinSource != nil {
		d.ControlPins = p.pinSource.Pins(types.ChannelControl)
		d.DataPins = p.pinSource.Pins(types.ChannelData)
	}

	if err := checkBounds(d); err != nil {
		return nil, err
	}

	signable, err := EncodeCanonical(d)
	if err != nil {
		return nil, err
	}
	sig, err := p.id.Sign(signable)
	if err != nil {
		return nil, fmt.Errorf("sign descriptor: %w", err)
	}
	d.Signature = sig
	return d, nil
}

// nextSequence 递增并持久化发布序列号
func (p *Publisher) nextSequence() (uint64, error) {
	if p.meta == nil {
		p.memSeq++
		return p.memSeq, nil
	}
	return p.meta.IncrUint64(seqKey, 1)
}

// RotateSigningKey 轮换签名密钥并立即重发布
//
// 新旧密钥在重叠窗口内并存于描述符中，对端凭任一把都能
// 验证信封。
func (p *Publisher) RotateSigningKey(ctx context.Context) (*PeerDescriptor, error) {
	if _, err := p.keyring.Rotate(); err != nil {
		return nil, err
	}
	logger.Info("签名密钥已轮换，重发布描述符")
	return p.Publish(ctx)
}

// Start 执行初次发布并启动重发布循环
//
// 初次发布失败不阻断启动：目录可能尚未就绪，循环会按重试
// 间隔再次尝试。
func (p *Publisher) Start(ctx context.Context) error {
	if _, err := p.Publish(ctx); err != nil {
		logger.Warn("初次描述符发布失败，稍后重试", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx)
	return nil
}

// Stop 停止重发布循环
func (p *Publisher) Stop() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.cancel = nil
	}
	return nil
}

// run 重发布循环
func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)

	for {
		timer := p.clk.Timer(p.nextRepublishIn())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-p.trigger:
			timer.Stop()
		}

		if _, err := p.Publish(ctx); err != nil {
			logger.Warn("描述符重发布失败", "error", err)
		}
	}
}

// nextRepublishIn 返回距下次计划重发布的时长
func (p *Publisher) nextRepublishIn() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastPublished == nil {
		return republishRetryInterval
	}

	lifetime := p.cfg.Lifetime.Duration()
	due := p.lastPublished.IssuedAt.Add(time.Duration(float64(lifetime) * p.cfg.RepublishFraction))
	wait := due.Sub(p.clk.Now())
	if wait < time.Second {
		return time.Second
	}
	return wait
}

// signalRepublish 触发一次重发布（已挂起时合并）
func (p *Publisher) signalRepublish() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// mergeEndpoints 合并去重并排序，保证编码输出稳定
func mergeEndpoints(static, dynamic []string) []string {
	seen := make(map[string]bool, len(static)+len(dynamic))
	merged := make([]string, 0, len(static)+len(dynamic))
	for _, group := range [][]string{static, dynamic} {
		for _, ep := range group {
			if ep == "" || seen[ep] {
				continue
			}
			seen[ep] = true
			merged = append(merged, ep)
		}
	}
	sort.Strings(merged)
	return merged
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
