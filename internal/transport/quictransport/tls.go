package quictransport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/slskdn/go-meshtrust/internal/core/security/certs"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// TLS 配置
// ============================================================================

// alpnFor 返回通道对应的 ALPN 协议名
//
// 控制通道与数据通道使用不同的 ALPN，串用通道的握手在
// 协议协商阶段即失败，不会进入证书校验。
func alpnFor(ch types.Channel) string {
	return "meshtrust/" + ch.String() + "/1"
}

// serverTLSConfig 构造监听侧 TLS 配置
//
// RequireAnyClientCert 强制对端出示证书但跳过 CA 链校验，
// 身份判定完全由 VerifyPeerCertificate 回调完成。
func (t *Transport) serverTLSConfig(ch types.Channel) (*tls.Config, error) {
	cert, err := t.certs.CertificateFor(ch)
	if err != nil {
		return nil, fmt.Errorf("local certificate for %s: %w", ch, err)
	}
	return &tls.Config{
		MinVersion:            tls.VersionTLS13,
		Certificates:          []tls.Certificate{*cert},
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: t.verifyPeer(ch, types.EmptyPeerID),
		NextProtos:            []string{alpnFor(ch)},
	}, nil
}

// clientTLSConfig 构造拨号侧 TLS 配置
//
// InsecureSkipVerify 仅跳过标准库的 CA 链与主机名校验，
// 实际校验由 VerifyPeerCertificate 回调完成：对端声称的身份
// 必须与 expected 一致，且指纹通过固定校验。
func (t *Transport) clientTLSConfig(ch types.Channel, expected types.PeerID) (*tls.Config, error) {
	cert, err := t.certs.CertificateFor(ch)
	if err != nil {
		return nil, fmt.Errorf("local certificate for %s: %w", ch, err)
	}
	return &tls.Config{
		MinVersion:            tls.VersionTLS13,
		Certificates:          []tls.Certificate{*cert},
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: t.verifyPeer(ch, expected),
		NextProtos:            []string{alpnFor(ch)},
	}, nil
}

// verifyPeer 返回握手阶段的证书校验回调
//
// 校验顺序：
//  1. 证书存在且可解析，且处于自身声明的有效期内；
//  2. 证书 CN 携带的节点 ID 可解出；
//  3. 拨号侧：声称身份必须等于 expected；
//  4. SPKI 指纹交由 pinning.Store 作三层决策，任何一层
//     判定违例即返回错误，握手随之中止。
func (t *Transport) verifyPeer(ch types.Channel, expected types.PeerID) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrNoPeerCertificate
		}

		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPeerCertificate, err)
		}

		now := time.Now()
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return ErrPeerCertificateExpired
		}

		claimed, err := certs.ClaimedPeerID(cert)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPeerCertificate, err)
		}

		if !expected.IsEmpty() && claimed != expected {
			return fmt.Errorf("%w: claimed %s, expected %s",
				ErrPeerMismatch, claimed.ShortString(), expected.ShortString())
		}

		fp := certs.SPKIFingerprint(cert)
		tier, err := t.pins.Evaluate(claimed, ch, fp)
		if err != nil {
			return fmt.Errorf("pin check for %s on %s: %w", claimed.ShortString(), ch, err)
		}

		logger.Debug("peer certificate verified",
			"peer", claimed.ShortString(),
			"channel", ch.String(),
			"tier", tier.String())
		return nil
	}
}
