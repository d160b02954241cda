// Package control 实现控制消息的签名、准入与分发。
//
// 每条控制消息封装为带签名的信封：类型、秒精度时间戳、
// UUIDv4 消息 ID、应用载荷，以及针对规范编码的签名。入站
// 方向由认证器按固定阶段推进，出站方向由签名器用钥匙环的
// 当前密钥铸造信封。
//
// # 准入流水线
//
// 每条入站帧按固定顺序通过八个阶段，任一阶段失败立即
// 终止，Decision 记录最后一个成功完成的阶段与拒绝原因：
//
//	received            地址级限速（认证前）
//	size_checked        帧大小上限（任何解码之前）
//	parsed              结构解码
//	peer_resolved       传输层节点身份确认
//	rate_checked        节点级限速
//	replay_checked      时间戳偏移窗口与消息 ID 去重
//	signature_verified  针对当前有效签名密钥验签
//	dispatched          按类型交付处理器
//
// 改变状态的检查（限速记账、去重窗口写入）都发生在节点
// 身份确认之后，未认证流量无法污染按节点记账的资源。
// 验签针对描述符中全部当前有效的签名密钥，SignerKeyID
// 只是缩小尝试范围的提示；未知消息类型在签名验证之后、
// 分发边界上作为独立类别拒绝。
//
// # 线格式
//
// 信封 = [magic "ME"][version] ∥ 签名载体 ∥ 密钥提示 ∥ 签名，
// 整数大端。流上传输时外加 uvarint 长度前缀，64 KiB 上限在
// 读取帧体之前执行。
//
// # 快速开始
//
//	sealer := control.NewSealer(cfg.Control, keyring)
//	frame, err := sealer.SealFrame(control.MessagePing, payload)
//
//	auth := control.NewAuthenticator(cfg.Control, limiter, replays, resolver, dispatcher)
//	decision := auth.Admit(ctx, remoteAddr, peerID, frame)
//	if !decision.Accepted() {
//		// decision.State 与 decision.Reason 说明拒绝位置与原因
//	}
//
// # 架构定位
//
//	Tier: Core Layer (Level 4)
//	依赖: config, identity, ratelimit, replay, resolver, descriptor
//	被依赖: transport, 根门面
//
// # 线程安全
//
// 所有公开类型并发安全，Admit 可被任意多个连接处理循环
// 同时调用。
package control
