package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/ratelimit"
	"github.com/slskdn/go-meshtrust/internal/core/replay"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// Authenticator - 控制消息准入状态机
// ============================================================================

// State 准入流水线中最后一个成功完成的阶段
//
// 每条入站消息按固定顺序推进，任一阶段失败立即终止，
// Decision.State 记录失败发生前走到了哪里。
type State int

const (
	// StateReceived 已接收原始帧
	StateReceived State = iota

	// StateSizeChecked 已通过大小上限检查
	StateSizeChecked

	// StateParsed 已完成结构解码
	StateParsed

	// StatePeerResolved 已确认传输层节点身份
	StatePeerResolved

	// StateRateChecked 已通过节点级限速检查
	StateRateChecked

	// StateReplayChecked 已通过时间戳与去重检查
	StateReplayChecked

	// StateSignatureVerified 已通过签名验证
	StateSignatureVerified

	// StateDispatched 已交付处理器
	StateDispatched
)

// String 返回阶段的字符串表示
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateSizeChecked:
		return "size_checked"
	case StateParsed:
		return "parsed"
	case StatePeerResolved:
		return "peer_resolved"
	case StateRateChecked:
		return "rate_checked"
	case StateReplayChecked:
		return "replay_checked"
	case StateSignatureVerified:
		return "signature_verified"
	case StateDispatched:
		return "dispatched"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Decision 一条入站消息的准入结果
type Decision struct {
	// State 最后一个成功完成的阶段
	State State

	// Reason 拒绝原因，接受时为 ReasonNone
	Reason types.Reason

	// Envelope 解码出的信封，解码失败时为 nil
	Envelope *Envelope
}

// Accepted 报告消息是否走完全部阶段并交付
func (d Decision) Accepted() bool {
	return d.State == StateDispatched && d.Reason == types.ReasonNone
}

// DescriptorSource 按节点 ID 提供已验证的描述符
//
// resolver.Resolver 满足该接口。Refresh 绕过缓存周期强制
// 查询目录，实现方必须自带频率约束。
type DescriptorSource interface {
	Resolve(ctx context.Context, id types.PeerID) (*descriptor.PeerDescriptor, error)
	Refresh(ctx context.Context, id types.PeerID) (*descriptor.PeerDescriptor, error)
}

// Observer 准入结果观测回调，用于接入指标
type Observer interface {
	MessageAdmitted(t MessageType)
	MessageRejected(state State, reason types.Reason)
}

// Authenticator 入站控制消息的准入状态机
//
// 检查顺序固定：地址限速、大小、解码、节点身份、节点限速、
// 时间戳与去重、签名、分发。改变任何状态的检查都发生在
// 节点身份确认之后，未认证流量无法消耗按节点记账的资源。
type Authenticator struct {
	cfg         config.ControlConfig
	limiter     *ratelimit.Limiter
	replays     *replay.Guard
	descriptors DescriptorSource
	dispatcher  *Dispatcher
	observer    Observer
	clk         clock.Clock
}

// NewAuthenticator 创建准入状态机
//
// 参数:
//   - cfg: 控制平面配置
//   - limiter: 两级限速器
//   - replays: 重放防护窗口
//   - descriptors: 描述符来源
//   - dispatcher: 消息分发器
//
// 返回:
//   - *Authenticator: 准入状态机实例
func NewAuthenticator(cfg config.ControlConfig, limiter *ratelimit.Limiter, replays *replay.Guard, descriptors DescriptorSource, dispatcher *Dispatcher) *Authenticator {
	return newAuthenticatorWithClock(cfg, limiter, replays, descriptors, dispatcher, clock.New())
}

func newAuthenticatorWithClock(cfg config.ControlConfig, limiter *ratelimit.Limiter, replays *replay.Guard, descriptors DescriptorSource, dispatcher *Dispatcher, clk clock.Clock) *Authenticator {
	return &Authenticator{
		cfg:         cfg,
		limiter:     limiter,
		replays:     replays,
		descriptors: descriptors,
		dispatcher:  dispatcher,
		clk:         clk,
	}
}

// SetObserver 设置观测回调，nil 表示不观测
func (a *Authenticator) SetObserver(o Observer) {
	a.observer = o
}

// Admit 对一条入站帧执行完整的准入流水线
//
// addr 是发送方的传输层地址（认证前唯一可用的记账键），
// peer 是传输层握手确认的节点 ID。帧走完全部阶段后交付
// 处理器；处理器返回错误只记录日志，不撤销已完成的准入。
//
// 检查顺序（第一个失败即拒绝）:
//  1. 地址级限速（认证前，防解码洪泛）
//  2. 帧大小上限（任何解码之前）
//  3. 结构解码
//  4. 传输层节点身份已确认
//  5. 节点级限速
//  6. 时间戳偏移窗口与消息 ID 去重
//  7. 针对描述符中当前有效签名密钥的签名验证
//  8. 按类型分发，未知类型是独立的拒绝类别
//
// 返回:
//   - Decision: 走到的阶段、拒绝原因与解码出的信封
func (a *Authenticator) Admit(ctx context.Context, addr string, peer types.PeerID, frame []byte) Decision {
	if !a.limiter.AllowAddress(addr) {
		return a.reject(peer, StateReceived, types.ReasonRateLimited, nil)
	}

	if a.cfg.MaxEnvelopeSize > 0 && len(frame) > a.cfg.MaxEnvelopeSize {
		return a.reject(peer, StateReceived, types.ReasonOversized, nil)
	}

	env, err := DecodeEnvelope(frame, a.cfg.MaxEnvelopeSize)
	if err != nil {
		return a.reject(peer, StateSizeChecked, types.ReasonMalformed, nil)
	}

	if peer.IsEmpty() {
		return a.reject(peer, StateParsed, types.ReasonUnknownPeer, env)
	}

	if !a.limiter.AllowPeer(peer) {
		return a.reject(peer, StatePeerResolved, types.ReasonRateLimited, env)
	}

	now := a.clk.Now().UTC()
	skew := a.cfg.EnvelopeSkew.Duration()
	age := now.Sub(env.Timestamp)
	if age > skew || age < -skew {
		return a.reject(peer, StateRateChecked, types.ReasonExpiredOrFuture, env)
	}
	if !a.replays.Admit(peer, env.MessageID) {
		return a.reject(peer, StateRateChecked, types.ReasonReplay, env)
	}

	desc, err := a.descriptors.Resolve(ctx, peer)
	if err != nil {
		return a.reject(peer, StateReplayChecked, types.ReasonDescriptorUnavailable, env)
	}
	verified := a.verifySignature(desc, env, now)
	if !verified && a.hintUnknown(desc, env, now) {
		// 密钥轮换后的传播窗口：信封携带缓存中不存在的密钥
		// 提示，更可能是缓存过时而非伪造。发送方身份已经传输
		// 层确认，强制刷新一次再验；刷新频率由解析层约束。
		if fresh, ferr := a.descriptors.Refresh(ctx, peer); ferr == nil && fresh.Sequence > desc.Sequence {
			logger.Debug("描述符已因未知密钥提示刷新",
				"peer", peer.ShortString(),
				"sequence", fresh.Sequence)
			desc = fresh
			verified = a.verifySignature(desc, env, now)
		}
	}
	if !verified {
		active := desc.ActiveSigningKeys(now)
		if len(active) == 0 {
			return a.reject(peer, StateReplayChecked, types.ReasonUnknownSigner, env)
		}
		return a.reject(peer, StateReplayChecked, types.ReasonInvalidSignature, env)
	}

	if err := a.dispatcher.Dispatch(ctx, peer, env); err != nil {
		if errors.Is(err, ErrUnknownType) {
			return a.reject(peer, StateSignatureVerified, types.ReasonUnknownType, env)
		}
		logger.Warn("控制消息处理器返回错误",
			"peer", peer.ShortString(),
			"type", env.Type.String(),
			"err", err)
	}

	if a.observer != nil {
		a.observer.MessageAdmitted(env.Type)
	}
	return Decision{State: StateDispatched, Reason: types.ReasonNone, Envelope: env}
}

// verifySignature 针对描述符中当前有效的签名密钥验证信封
//
// SignerKeyID 提示只决定尝试顺序，提示缺失或错误时回退到
// 遍历全部有效密钥。任何一把密钥验证通过即接受。
func (a *Authenticator) verifySignature(desc *descriptor.PeerDescriptor, env *Envelope, now time.Time) bool {
	signable, err := env.SignableBytes()
	if err != nil {
		return false
	}

	if env.SignerKeyID != "" {
		if pub, ok := desc.SigningKeyByID(env.SignerKeyID, now); ok {
			if sigOK, err := pub.Verify(signable, env.Signature); err == nil && sigOK {
				return true
			}
		}
	}

	for _, entry := range desc.ActiveSigningKeys(now) {
		if entry.KeyID == env.SignerKeyID {
			continue // 提示命中的密钥已经试过
		}
		if sigOK, err := entry.PublicKey.Verify(signable, env.Signature); err == nil && sigOK {
			return true
		}
	}
	return false
}

// hintUnknown 报告信封的密钥提示是否在描述符中完全找不到
//
// 提示命中但验签失败是伪造；提示整体未知才值得怀疑缓存过时。
func (a *Authenticator) hintUnknown(desc *descriptor.PeerDescriptor, env *Envelope, now time.Time) bool {
	if env.SignerKeyID == "" {
		return false
	}
	_, ok := desc.SigningKeyByID(env.SignerKeyID, now)
	return !ok
}

func (a *Authenticator) reject(peer types.PeerID, state State, reason types.Reason, env *Envelope) Decision {
	logger.Debug("控制消息被拒绝",
		"peer", peer.ShortString(),
		"state", state.String(),
		"reason", reason.String())
	if a.observer != nil {
		a.observer.MessageRejected(state, reason)
	}
	return Decision{State: state, Reason: reason, Envelope: env}
}
