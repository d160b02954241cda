// Package certs 提供按通道确定性派生的自签名 TLS 证书。
//
// 证书私钥由身份私钥经 HKDF-SHA256 派生（标签
// "meshtrust/cert/<channel>"），同一身份在任何机器、任何
// 时刻重建出相同的密钥。因此证书的 SPKI 指纹跨重启稳定，
// 写入描述符后远端可以长期固定；证书本体每次启动重新铸造，
// 有效期窗口前移而指纹不变。
//
// 控制面与数据面使用各自独立派生的证书，一个通道的密钥
// 泄露不波及另一个通道。
//
// # 核心功能
//
//   - CertificateFor: 返回通道的 TLS 证书（惰性铸造并缓存）
//   - SPKIFingerprint / FingerprintRawCert: SPKI SHA-256 指纹
//   - ClaimedPeerID: 从证书 CN 读取对端声称的节点 ID
//   - Pins: 实现 descriptor.PinSource，发布器取本节点指纹
//
// # 快速开始
//
//	svc := certs.NewService(cfg.Transport, id)
//
//	cert, err := svc.CertificateFor(types.ChannelControl)
//	// cert 用于 QUIC 监听与拨号的 tls.Config
//
//	fp, _ := svc.FingerprintFor(types.ChannelControl)
//	// fp 与远端描述符中的 ControlPins 对应
//
// # 架构定位
//
//	Tier: Core Layer (Level 2)
//	依赖: config, identity, descriptor, pkg/types
//	被依赖: transport, 根门面
//
// # 线程安全
//
// 所有公开方法并发安全，同一通道的证书只铸造一次。
package certs
