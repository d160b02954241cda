package certs

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"

	sha256 "github.com/minio/sha256-simd"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// ============================================================================
// Service - 通道证书服务
// ============================================================================

// certSeedPrefix 证书种子的 HKDF 派生域前缀
//
// 完整标签为 "meshtrust/cert/<channel>"，固定值，不可变更：
// 变更会使所有已发布的指纹失效。
const certSeedPrefix = "meshtrust/cert/"

// Service 按通道生成确定性自签名 TLS 证书
//
// 证书密钥由身份私钥经 HKDF 派生，同一身份同一通道在任何
// 机器上重建出相同的密钥，因此 SPKI 指纹跨重启稳定，可以
// 安全地写入描述符并被远端固定。证书本体在每次进程启动时
// 以当前时间重新铸造，密钥与指纹不变。
type Service struct {
	cfg config.TransportConfig
	id  *identity.Identity

	mu    sync.Mutex
	certs map[types.Channel]*tls.Certificate
}

// 发布器从这里取本节点的指纹条目
var _ descriptor.PinSource = (*Service)(nil)

// NewService 创建通道证书服务
//
// 参数:
//   - cfg: 传输层配置（证书有效期）
//   - id: 节点身份
//
// 返回:
//   - *Service: 证书服务实例
func NewService(cfg config.TransportConfig, id *identity.Identity) *Service {
	return &Service{
		cfg:   cfg,
		id:    id,
		certs: make(map[types.Channel]*tls.Certificate),
	}
}

// CertificateFor 返回指定通道的 TLS 证书
//
// 首次调用时铸造并缓存，后续调用返回同一实例。
func (s *Service) CertificateFor(ch types.Channel) (*tls.Certificate, error) {
	if !ch.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cert, ok := s.certs[ch]; ok {
		return cert, nil
	}
	cert, err := s.mint(ch)
	if err != nil {
		return nil, err
	}
	s.certs[ch] = cert
	return cert, nil
}

// FingerprintFor 返回指定通道证书的 SPKI 指纹
func (s *Service) FingerprintFor(ch types.Channel) (types.Fingerprint, error) {
	cert, err := s.CertificateFor(ch)
	if err != nil {
		return types.Fingerprint{}, err
	}
	return SPKIFingerprint(cert.Leaf), nil
}

// Pins 实现 descriptor.PinSource
//
// 返回通道证书的指纹条目，有效期窗口取证书本体的窗口。
// 铸造失败时返回空切片，发布器发布不带该通道指纹的描述符。
func (s *Service) Pins(ch types.Channel) []descriptor.PinEntry {
	cert, err := s.CertificateFor(ch)
	if err != nil {
		logger.Warn("无法铸造通道证书，描述符将不携带该通道指纹",
			"channel", ch.String(),
			"err", err)
		return nil
	}
	return []descriptor.PinEntry{{
		Fingerprint: SPKIFingerprint(cert.Leaf),
		ValidFrom:   cert.Leaf.NotBefore,
		ValidTo:     cert.Leaf.NotAfter,
	}}
}

// mint 铸造一张通道证书
//
// 证书私钥 = Ed25519(HKDF(身份私钥, "meshtrust/cert/<channel>"))。
// CN 携带节点 ID 的十六进制形式，入站握手从中读取对端声称
// 的身份；真正的信任判定是指纹固定，CN 只是声称。
func (s *Service) mint(ch types.Channel) (*tls.Certificate, error) {
	seed, err := s.id.DeriveSecret(certSeedPrefix + ch.String())
	if err != nil {
		return nil, fmt.Errorf("derive cert seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)

	now := time.Now().UTC()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"MeshTrust"},
			CommonName:   s.id.PeerID().String(),
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(s.cfg.CertValidity.Duration()),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	logger.Debug("通道证书已铸造",
		"channel", ch.String(),
		"fingerprint", SPKIFingerprint(leaf).ShortString(),
		"not_after", leaf.NotAfter)

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

// ============================================================================
// 指纹计算
// ============================================================================

// SPKIFingerprint 计算证书的 SPKI 指纹
//
// SHA-256 over SubjectPublicKeyInfo DER。只覆盖公钥，证书
// 重新铸造（序列号、有效期变化）不影响指纹。
func SPKIFingerprint(cert *x509.Certificate) types.Fingerprint {
	return types.Fingerprint(sha256.Sum256(cert.RawSubjectPublicKeyInfo))
}

// FingerprintRawCert 解析 DER 证书并计算其 SPKI 指纹
//
// 供握手验证回调使用，输入是对端在 TLS 层呈现的原始证书。
func FingerprintRawCert(der []byte) (types.Fingerprint, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return types.Fingerprint{}, fmt.Errorf("%w: %v", ErrMalformedCert, err)
	}
	return SPKIFingerprint(cert), nil
}

// ClaimedPeerID 从证书 CN 读取对端声称的节点 ID
//
// CN 不构成信任：它只决定用哪条固定记录做判定，判定本身
// 针对指纹。CN 缺失或不是合法的节点 ID 时返回错误。
func ClaimedPeerID(cert *x509.Certificate) (types.PeerID, error) {
	id, err := types.ParsePeerID(cert.Subject.CommonName)
	if err != nil {
		return types.EmptyPeerID, fmt.Errorf("%w: %v", ErrNoPeerClaim, err)
	}
	return id, nil
}
