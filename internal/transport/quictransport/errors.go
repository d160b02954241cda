package quictransport

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("quictransport: transport closed")

	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("quictransport: connection closed")

	// ErrListenerClosed 监听器已关闭
	ErrListenerClosed = errors.New("quictransport: listener closed")

	// ErrInvalidChannel 通道非法
	ErrInvalidChannel = errors.New("quictransport: invalid channel")

	// ErrNoExpectedPeer 拨号未指定期望的远端节点 ID
	ErrNoExpectedPeer = errors.New("quictransport: dial requires expected peer id")

	// ErrNoPeerCertificate 对端未提供证书
	ErrNoPeerCertificate = errors.New("quictransport: peer presented no certificate")

	// ErrMalformedPeerCertificate 对端证书无法解析
	ErrMalformedPeerCertificate = errors.New("quictransport: malformed peer certificate")

	// ErrPeerCertificateExpired 对端证书不在有效期内
	ErrPeerCertificateExpired = errors.New("quictransport: peer certificate outside validity window")

	// ErrPeerMismatch 对端身份与期望不符
	ErrPeerMismatch = errors.New("quictransport: peer identity mismatch")
)
