package descriptor

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// DescriptorValidator - 描述符校验链
// ============================================================================

// SequenceStore 序列号存储
//
// 由 sequence.Guard 实现。Commit 必须原子地执行"严格大于才
// 提交"，并发提交之间由实现串行化。
type SequenceStore interface {
	// LastSeen 返回已接受的最高序列号，bool 表示是否有记录
	LastSeen(id types.PeerID) (uint64, bool, error)

	// Commit 提交序列号
	//
	// 仅当 seq 严格大于已记录值时提交并返回 true；
	// 返回 false 表示有并发的更高序列号抢先提交。
	Commit(id types.PeerID, seq uint64) (bool, error)
}

// Observer 校验结果观测回调，用于接入指标
type Observer interface {
	DescriptorAccepted()
	DescriptorRejected(reason types.Reason)
}

// Validator 描述符校验器
//
// 对候选描述符按固定顺序执行检查，第一个失败即拒绝。失败
// 路径不产生任何状态变更；全部通过后才提交序列号。任意
// 畸形输入都被安全拒绝，绝不 panic。
type Validator struct {
	cfg       config.DescriptorConfig
	sequences SequenceStore
	clk       clock.Clock
	observer  Observer
}

// NewValidator 创建描述符校验器
func NewValidator(cfg config.DescriptorConfig, sequences SequenceStore) *Validator {
	return newValidatorWithClock(cfg, sequences, clock.New())
}

func newValidatorWithClock(cfg config.DescriptorConfig, sequences SequenceStore, clk clock.Clock) *Validator {
	return &Validator{
		cfg:       cfg,
		sequences: sequences,
		clk:       clk,
	}
}

// SetObserver 设置观测回调，nil 表示不观测
func (v *Validator) SetObserver(o Observer) {
	v.observer = o
}

// Validate 校验候选描述符的线格式字节
//
// 检查顺序（第一个失败即拒绝）:
//  0. 大小上限（任何解码之前）与结构解码
//  1. schema_version 受支持
//  2. 时间窗口（含时钟偏移容忍）
//  3. 序列号严格大于已记录值（否则视为回滚）
//  4. hash(身份公钥) 等于声称的 peer_id
//  5. 签名对规范编码可验证
//  6. 协议上限（签名密钥/指纹/地址数量、生命周期）
//
// 成功时原子提交序列号并返回解码的描述符；调用方负责用它
// 替换缓存。失败时返回对应的原因码，过程无任何状态变更。
//
// 返回:
//   - *PeerDescriptor: 通过校验的描述符，失败时为 nil
//   - types.Reason: 拒绝原因，接受时为 ReasonNone
//   - error: 拒绝的详细原因，接受时为 nil
func (v *Validator) Validate(raw []byte) (*PeerDescriptor, types.Reason, error) {
	// 0. 大小与结构
	if len(raw) > v.cfg.MaxSize {
		return v.reject(types.EmptyPeerID, types.ReasonOversized,
			fmt.Errorf("%w: %d bytes exceeds limit %d", ErrOversized, len(raw), v.cfg.MaxSize))
	}
	d, err := DecodeWire(raw, v.cfg.MaxSize)
	if err != nil {
		reason := types.ReasonMalformed
		if errors.Is(err, ErrOversized) {
			reason = types.ReasonOversized
		}
		return v.reject(types.EmptyPeerID, reason, err)
	}

	// 1. 格式版本
	if !supportedSchemaVersions[d.SchemaVersion] {
		return v.reject(d.PeerID, types.ReasonMalformed,
			fmt.Errorf("%w: unsupported schema_version %d", ErrMalformed, d.SchemaVersion))
	}

	// 2. 时间窗口
	now := v.clk.Now()
	skew := v.cfg.ClockSkew.Duration()
	if d.IssuedAt.After(now.Add(skew)) {
		return v.reject(d.PeerID, types.ReasonExpiredOrFuture,
			fmt.Errorf("issued_at %s is in the future", d.IssuedAt))
	}
	if d.ExpiresAt.Before(now.Add(-skew)) {
		return v.reject(d.PeerID, types.ReasonExpiredOrFuture,
			fmt.Errorf("expired at %s", d.ExpiresAt))
	}

	// 3. 序列号严格递增
	lastSeen, seen, err := v.sequences.LastSeen(d.PeerID)
	if err != nil {
		logger.Error("序列号存储不可用，防回滚保护降级",
			"peer_id", d.PeerID.ShortString(), "error", err)
		return v.reject(d.PeerID, types.ReasonStorageUnavailable, err)
	}
	if seen && d.Sequence <= lastSeen {
		return v.reject(d.PeerID, types.ReasonRollback,
			fmt.Errorf("sequence %d not greater than last seen %d", d.Sequence, lastSeen))
	}

	// 4. 身份绑定：公钥哈希必须等于声称的 peer_id
	match, err := crypto.VerifyPeerID(d.PeerID, d.IdentityKey)
	if err != nil || !match {
		return v.reject(d.PeerID, types.ReasonInvalidSignature,
			fmt.Errorf("identity key does not derive claimed peer ID"))
	}

	// 5. 签名
	signable, err := d.SignableBytes()
	if err != nil {
		return v.reject(d.PeerID, types.ReasonMalformed, err)
	}
	sigOK, err := d.IdentityKey.Verify(signable, d.Signature)
	if err != nil || !sigOK {
		return v.reject(d.PeerID, types.ReasonInvalidSignature,
			fmt.Errorf("signature does not verify against identity key"))
	}

	// 6. 协议上限
	if err := checkBounds(d); err != nil {
		return v.reject(d.PeerID, types.ReasonMalformed, err)
	}

	// 全部通过，提交序列号。提交内部再次执行严格大于检查，
	// 并发验证同一节点的描述符时高序列号者胜出。
	committed, err := v.sequences.Commit(d.PeerID, d.Sequence)
	if err != nil {
		logger.Error("序列号提交失败，防回滚保护降级",
			"peer_id", d.PeerID.ShortString(), "error", err)
		return v.reject(d.PeerID, types.ReasonStorageUnavailable, err)
	}
	if !committed {
		return v.reject(d.PeerID, types.ReasonRollback,
			fmt.Errorf("sequence %d superseded by concurrent commit", d.Sequence))
	}

	if v.observer != nil {
		v.observer.DescriptorAccepted()
	}
	logger.Debug("描述符已接受",
		"peer_id", d.PeerID.ShortString(),
		"sequence", d.Sequence,
		"signing_keys", len(d.SigningKeys))
	return d, types.ReasonNone, nil
}

// reject 记录拒绝并返回，回滚等安全事件以 Warn 级别记录
func (v *Validator) reject(peer types.PeerID, reason types.Reason, err error) (*PeerDescriptor, types.Reason, error) {
	if v.observer != nil {
		v.observer.DescriptorRejected(reason)
	}

	attrs := []any{"reason", reason.String(), "error", err}
	if !peer.IsEmpty() {
		attrs = append(attrs, "peer_id", peer.ShortString())
	}
	if reason.SecurityEvent() {
		attrs = append(attrs, "security", true)
		logger.Warn("描述符被拒绝", attrs...)
	} else {
		logger.Debug("描述符被拒绝", attrs...)
	}
	return nil, reason, err
}

// checkBounds 检查协议上限（校验链第 6 步）
func checkBounds(d *PeerDescriptor) error {
	if len(d.SigningKeys) > config.MaxSigningKeysBound {
		return fmt.Errorf("%w: %d signing keys (max %d)",
			ErrBoundsExceeded, len(d.SigningKeys), config.MaxSigningKeysBound)
	}
	if len(d.ControlPins) > config.MaxPinsPerChannelBound {
		return fmt.Errorf("%w: %d control pins (max %d)",
			ErrBoundsExceeded, len(d.ControlPins), config.MaxPinsPerChannelBound)
	}
	if len(d.DataPins) > config.MaxPinsPerChannelBound {
		return fmt.Errorf("%w: %d data pins (max %d)",
			ErrBoundsExceeded, len(d.DataPins), config.MaxPinsPerChannelBound)
	}
	if len(d.Endpoints) > config.MaxEndpointsBound {
		return fmt.Errorf("%w: %d endpoints (max %d)",
			ErrBoundsExceeded, len(d.Endpoints), config.MaxEndpointsBound)
	}
	if !d.ExpiresAt.After(d.IssuedAt) {
		return fmt.Errorf("%w: expires_at not after issued_at", ErrBoundsExceeded)
	}
	if d.ExpiresAt.Sub(d.IssuedAt) > config.MaxDescriptorLifetimeBound {
		return fmt.Errorf("%w: lifetime %s exceeds %s",
			ErrBoundsExceeded, d.ExpiresAt.Sub(d.IssuedAt), config.MaxDescriptorLifetimeBound)
	}
	return nil
}
