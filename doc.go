// Package meshtrust 提供去中心化网格的身份与安全控制平面
//
// meshtrust 解决一个问题：在没有账号服务器的网格里，如何确认
// "对面这个节点就是它声称的那个节点"，并保证节点间的控制消息
// 未被伪造、篡改或重放。文件传输等数据平面协议建立在这层信任
// 之上，但不属于本库。
//
// # 核心概念
//
// meshtrust 围绕四个核心概念构建：
//
//   - PeerID: 由身份公钥哈希派生的自认证节点标识
//   - Descriptor: 节点自签名发布的描述符，携带地址、签名密钥
//     与证书指纹，序列号单调递增防回滚
//   - Pinning: 通道证书的指纹固定，描述符宣告优先，首次见面
//     学习（TOFU）兜底
//   - Plane: 控制平面门面，完成消息的签名封装与八段准入验证
//
// # 快速开始
//
//	import (
//	    "github.com/slskdn/go-meshtrust"
//	    "github.com/slskdn/go-meshtrust/pkg/types"
//	)
//
//	// 1. 创建并启动控制平面
//	plane, err := meshtrust.Start(ctx,
//	    meshtrust.WithPreset(meshtrust.PresetNameDesktop),
//	    meshtrust.WithDataDir("/var/lib/mesh"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer plane.Close()
//
//	// 2. 注册消息处理器
//	plane.Handle(types.MessageTypeSwarmOffer, func(ctx context.Context, msg meshtrust.Message) error {
//	    // msg.From 已通过签名验证，可直接作为信任决策输入
//	    return handleOffer(msg.From, msg.Payload)
//	})
//
//	// 3. 向远端节点发送已签名消息
//	err = plane.Send(ctx, peerID, types.MessageTypeSwarmRequest, payload)
//
// # 分层架构
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  1. API Layer                                               │
//	│     meshtrust.New(), meshtrust.Start()                      │
//	│     用户入口，配置选项                                        │
//	├─────────────────────────────────────────────────────────────┤
//	│  2. Control Layer                                           │
//	│     Authenticator, Sealer, Dispatcher, Pool                 │
//	│     消息封装与准入管线                                        │
//	├─────────────────────────────────────────────────────────────┤
//	│  3. Descriptor Layer                                        │
//	│     Publisher, Validator, Resolver                          │
//	│     描述符的发布、校验与缓存                                  │
//	├─────────────────────────────────────────────────────────────┤
//	│  4. Trust Layer                                             │
//	│     Identity, Keyring, PinStore, SequenceGuard              │
//	│     密钥、指纹固定、防回滚                                    │
//	├─────────────────────────────────────────────────────────────┤
//	│  5. Infrastructure Layer                                    │
//	│     QUIC Transport, BadgerDB, Directory                     │
//	│     安全传输与持久化                                          │
//	└─────────────────────────────────────────────────────────────┘
//
// # 预设配置
//
//	meshtrust.PresetNameDesktop    桌面端默认配置（推荐）
//	meshtrust.PresetNameServer     常驻节点，宽松的缓存与连接参数
//	meshtrust.PresetNameMobile     移动端，低内存占用
//	meshtrust.PresetNameEphemeral  全内存，进程退出即消失，用于测试
//
// # 目录后端
//
// 描述符通过 interfaces.Directory 抽象发布与获取。网格部署中
// 由 DHT 适配器实现该接口（WithDirectory 注入）；单进程多节点
// 的集成测试可用进程内的 NewMemoryDirectory。
package meshtrust

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"
