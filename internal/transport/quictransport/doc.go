// Package quictransport 基于 QUIC 实现安全传输接口
//
// 本包是 interfaces.Transport 的 QUIC+TLS 1.3 实现，也是
// "身份绑定到 TLS 证书" 从数据结构变为可执行行为的位置：
//
//   - 本端证书由 certs.Service 按通道确定性生成，CN 携带节点 ID；
//   - 对端证书在握手阶段经 VerifyPeerCertificate 回调校验，
//     校验逻辑即 pinning.Store 的三层指纹决策；
//   - 校验失败直接中止握手，未通过固定校验的连接不会出现在
//     Accept 或 Dial 的返回值中。
//
// 每个通道使用独立的 UDP socket 与 quic.Transport，监听与拨号
// 复用同一端口。连接建立后 RemotePeerID 从对端证书重新解出，
// 上层的信任决策只依赖这个经过握手确认的身份。
package quictransport
