package types

// ============================================================================
//                              Reason - 拒绝原因
// ============================================================================

// Reason 拒绝原因分类
//
// 每个被拒绝的描述符或控制信封都携带一个明确的原因码，
// 不同类别永不合并（"格式错误"与"限流"与"重放"必须可区分），
// 以便调用方做出正确的重试/退避决策。
type Reason int

const (
	// ReasonNone 无拒绝（接受）
	ReasonNone Reason = iota

	// ReasonMalformed 结构解码失败
	ReasonMalformed

	// ReasonOversized 超过大小上限（在任何解码之前检查）
	ReasonOversized

	// ReasonExpiredOrFuture 时间戳超出允许的时钟偏移窗口
	ReasonExpiredOrFuture

	// ReasonRollback 序列号未严格递增（安全事件）
	ReasonRollback

	// ReasonUnknownSigner 无当前有效的签名密钥可用
	ReasonUnknownSigner

	// ReasonInvalidSignature 签名验证失败
	ReasonInvalidSignature

	// ReasonPinMismatch 证书指纹与固定记录不符（安全事件）
	ReasonPinMismatch

	// ReasonReplay 重放窗口内重复的 message_id
	ReasonReplay

	// ReasonRateLimited 超过限流阈值
	ReasonRateLimited

	// ReasonStorageUnavailable 持久化状态不可读
	ReasonStorageUnavailable

	// ReasonUnknownPeer 发送方身份未绑定到传输会话
	ReasonUnknownPeer

	// ReasonUnknownType 消息类型不在封闭枚举内
	ReasonUnknownType

	// ReasonDescriptorUnavailable DHT 描述符获取超时或失败（失败关闭）
	ReasonDescriptorUnavailable
)

// String 返回原因码名称
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMalformed:
		return "malformed"
	case ReasonOversized:
		return "oversized"
	case ReasonExpiredOrFuture:
		return "expired_or_future"
	case ReasonRollback:
		return "rollback"
	case ReasonUnknownSigner:
		return "unknown_signer"
	case ReasonInvalidSignature:
		return "invalid_signature"
	case ReasonPinMismatch:
		return "pin_mismatch"
	case ReasonReplay:
		return "replay"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonStorageUnavailable:
		return "storage_unavailable"
	case ReasonUnknownPeer:
		return "unknown_peer"
	case ReasonUnknownType:
		return "unknown_type"
	case ReasonDescriptorUnavailable:
		return "descriptor_unavailable"
	default:
		return "unknown"
	}
}

// SecurityEvent 判断该原因是否应作为安全事件记录
//
// 回滚与指纹不符不是普通的输入错误，它们指示潜在的主动攻击，
// 日志中携带 security 标记以便监控系统聚合。
func (r Reason) SecurityEvent() bool {
	return r == ReasonRollback || r == ReasonPinMismatch
}
