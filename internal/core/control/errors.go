package control

import "errors"

// ErrMalformed 信封结构解码失败
var ErrMalformed = errors.New("control: malformed envelope")

// ErrOversized 帧超过大小上限（在任何解码之前检查）
var ErrOversized = errors.New("control: envelope exceeds size limit")

// ErrUnknownType 消息类型不在封闭枚举内或本地未注册处理器
var ErrUnknownType = errors.New("control: unknown message type")

// ErrNoSigningKey 密钥环没有可用的签名密钥
var ErrNoSigningKey = errors.New("control: no signing key available")
