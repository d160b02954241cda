// Package crypto 提供 MeshTrust 密码学工具
//
// 本包提供密钥生成、签名验证、序列化和节点 ID 派生等核心密码学功能。
//
// # 支持的密钥类型
//
//   - Ed25519（默认推荐）：高性能椭圆曲线签名
//   - Secp256k1（区块链兼容）：比特币/以太坊使用的曲线
//
// ECDSA 和 RSA 的类型值已保留但不支持生成，避免线格式冲突。
//
// # 快速开始
//
// 生成密钥对：
//
//	priv, pub, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
//
// 签名和验证：
//
//	sig, err := priv.Sign(data)
//	valid, err := pub.Verify(data, sig)
//
// 从公钥派生节点 ID：
//
//	peerID, err := crypto.PeerIDFromPublicKey(pub)
//
// # 安全特性
//
//   - 常量时间比较防止时序攻击
//   - 密钥序列化为确定性线格式，跨实现字节级一致
//
// # 架构层
//
//   - 层级：pkg（公共包）
//   - 依赖：pkg/types
//   - 位置：Level 0（基础类型，无循环依赖）
package crypto
