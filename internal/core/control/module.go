package control

import (
	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/internal/core/ratelimit"
	"github.com/slskdn/go-meshtrust/internal/core/replay"
	"github.com/slskdn/go-meshtrust/internal/core/resolver"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/control")

// ============================================================================
// Fx 模块定义
// ============================================================================

// Params 模块输入参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config     `optional:"true"`
	Keyring    *identity.Keyring  `name:"signing_keyring"`
	Limiter    *ratelimit.Limiter
	Replays    *replay.Guard
	Resolver   *resolver.Resolver
	Observer   Observer `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Authenticator *Authenticator
	Dispatcher    *Dispatcher
	Sealer        *Sealer
}

// ProvideControl 创建控制平面服务
func ProvideControl(params Params) (Result, error) {
	cfg := params.UnifiedCfg
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	dispatcher := NewDispatcher()
	auth := NewAuthenticator(cfg.Control, params.Limiter, params.Replays,
		params.Resolver, dispatcher)
	if params.Observer != nil {
		auth.SetObserver(params.Observer)
	}
	sealer := NewSealer(cfg.Control, params.Keyring)

	return Result{
		Authenticator: auth,
		Dispatcher:    dispatcher,
		Sealer:        sealer,
	}, nil
}

// Module 返回控制平面的 fx 模块
func Module() fx.Option {
	return fx.Module("control",
		fx.Provide(ProvideControl),
	)
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "control"

	// Description 模块描述
	Description = "控制消息的签名、准入状态机与分发"
)
