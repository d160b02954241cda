package quictransport

import (
	"context"

	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/internal/core/pinning"
	"github.com/slskdn/go-meshtrust/internal/core/security/certs"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
)

// ============================================================================
// Fx 模块定义
// ============================================================================

// Params 模块输入参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config     `optional:"true"`
	Identity   *identity.Identity `name:"identity"`
	Certs      *certs.Service
	Pins       *pinning.Store
}

// Result 模块输出
type Result struct {
	fx.Out

	Transport interfaces.Transport
}

// ProvideTransport 创建 QUIC 传输
func ProvideTransport(params Params) (Result, error) {
	cfg := params.UnifiedCfg
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	t := New(cfg.Transport, params.Identity.PeerID(), params.Certs, params.Pins)
	return Result{Transport: t}, nil
}

// Module 返回 QUIC 传输的 fx 模块
//
// 停止时关闭传输，释放全部通道 socket。监听由上层在
// 启动阶段按需发起，模块本身不绑定端口。
func Module() fx.Option {
	return fx.Module("quictransport",
		fx.Provide(ProvideTransport),
		fx.Invoke(func(lc fx.Lifecycle, t interfaces.Transport) {
			lc.Append(fx.Hook{
				OnStop: func(_ context.Context) error {
					return t.Close()
				},
			})
		}),
	)
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "quictransport"

	// Description 模块描述
	Description = "QUIC+TLS 1.3 安全传输，握手期执行指纹固定校验"
)
