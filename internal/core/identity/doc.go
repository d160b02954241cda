// Package identity 提供节点身份与控制信封签名密钥的管理
//
// 身份是网状网络中节点的根信任锚：节点 ID 由身份公钥哈希派生，
// 描述符由身份私钥签名。身份私钥永不离开本包，外部只能通过
// Sign 签名或 DeriveSecret 派生子密钥。
//
// # 核心功能
//
//   - 身份生成与持久化: Ed25519（默认）/ Secp256k1，PEM 落盘（0600，原子写入）
//   - 口令保护: argon2id 派生 + XChaCha20-Poly1305 加密信封
//   - 显式轮换: Manager.Rotate 生成新身份并返回新节点 ID
//   - 签名密钥环: 控制信封签名密钥的创建、轮换与重叠窗口管理
//
// 密钥材料损坏或口令错误是致命错误。节点绝不会静默生成新身份
// 顶替：那会改变节点 ID，使对端已建立的全部信任关系失效。
//
// # 快速开始
//
//	cfg := config.DefaultIdentityConfig().WithKeyDir("/var/lib/meshtrust/keys")
//	manager := identity.NewManager(cfg)
//
//	id, err := manager.LoadOrCreate()
//	if err != nil {
//	    return err // 密钥损坏时在此失败，不要吞掉
//	}
//
//	sig, err := id.Sign(data)
//
// # Fx 模块
//
//	app := fx.New(
//	    identity.Module(),
//	    // ... 其他模块
//	)
//
// 模块输出: *Identity (name:"identity")、*Keyring (name:"signing_keyring")、
// *Manager (name:"identity_manager")。
//
// # 架构定位
//
// Tier: Core Layer (Level 1)
//
// 依赖关系:
//
//	identity
//	  ├── pkg/lib/crypto  (密钥对、节点 ID 派生)
//	  └── config          (IdentityConfig)
//
// 被依赖: descriptor (描述符签名)、control (信封签名)、
// security/certs (通道证书种子派生)。
//
// # 线程安全
//
// Identity 创建后不可变。Keyring 的全部方法线程安全。
package identity
