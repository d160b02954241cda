package replay

import (
	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/replay")

// ============================================================================
// Fx 模块定义
// ============================================================================

// Params 模块输入参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Guard *Guard
}

// ProvideGuard 创建重放防护实例
func ProvideGuard(params Params) (Result, error) {
	cfg := params.UnifiedCfg
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	return Result{Guard: NewGuard(cfg.Guard)}, nil
}

// Module 返回重放防护的 fx 模块
func Module() fx.Option {
	return fx.Module("replay",
		fx.Provide(ProvideGuard),
	)
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "replay"

	// Description 模块描述
	Description = "消息重放防护，基于时间窗口的 message_id 去重"
)
