package ratelimit

import (
	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/ratelimit")

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

	Limiter *Limiter
}

// ProvideLimiter 创建两级限速器实例
func ProvideLimiter(params Params) (Result, error) {
	cfg := params.UnifiedCfg
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	return Result{Limiter: NewLimiter(cfg.Guard)}, nil
}

// Module 返回限速的 fx 模块
func Module() fx.Option {
	return fx.Module("ratelimit",
		fx.Provide(ProvideLimiter),
	)
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "ratelimit"

	// Description 模块描述
	Description = "两级令牌桶限速，识别前按地址、识别后按节点 ID"
)
