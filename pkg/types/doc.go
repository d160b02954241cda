// Package types 定义 MeshTrust 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 meshtrust 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - peer.go        - PeerID（公钥哈希派生的节点标识）
//   - channel.go     - Channel（控制面/数据面通道）
//   - fingerprint.go - Fingerprint（证书 SPKI 指纹）
//   - msgtype.go     - MessageType（控制消息封闭枚举）
//   - reason.go      - Reason（拒绝原因分类）
//
// # 设计原则
//
//  1. 不可变性：类型创建后不可修改，使用值类型
//  2. 可比较性：数组底层类型，可直接作为 map key
//  3. 可序列化：PeerID 实现 TextMarshaler/Unmarshaler，支持 JSON
//  4. 安全性：指纹比较使用常量时间；日志仅输出短前缀
//  5. 零依赖：不依赖任何其他 meshtrust 内部包（最底层）
package types
