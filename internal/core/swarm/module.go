package swarm

import (
	"context"

	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/internal/core/resolver"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
)

// ============================================================================
// Fx 模块定义
// ============================================================================

// Params 模块输入参数
type Params struct {
	fx.In

	Transport interfaces.Transport
	Resolver  *resolver.Resolver
}

// Result 模块输出
type Result struct {
	fx.Out

	Pool *Pool
}

// ProvidePool 创建连接池
func ProvidePool(params Params) Result {
	return Result{Pool: NewPool(params.Transport, params.Resolver)}
}

// Module 返回连接池的 fx 模块
func Module() fx.Option {
	return fx.Module("swarm",
		fx.Provide(ProvidePool),
		fx.Invoke(func(lc fx.Lifecycle, p *Pool) {
			lc.Append(fx.Hook{
				OnStop: func(_ context.Context) error {
					return p.Close()
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
	Name = "swarm"

	// Description 模块描述
	Description = "按节点复用的控制通道连接池"
)
