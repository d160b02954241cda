// Package sequence 提供描述符序列号的防回滚记录。
package sequence

import (
	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
)

// seqPrefix 序列号记录的 kv 命名空间
var seqPrefix = []byte("sq/")

// ============================================================================
// Fx 模块定义
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	Engine storage.InternalEngine
}

// Result 模块输出
type Result struct {
	fx.Out

	Guard *Guard
}

// ProvideGuard 创建序列号守卫
//
// 记录持久化在存储引擎的 sq/ 命名空间下。
func ProvideGuard(p Params) Result {
	return Result{Guard: NewGuard(kv.New(p.Engine, seqPrefix))}
}

// Module 返回 sequence 的 fx 模块
func Module() fx.Option {
	return fx.Module("sequence",
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
	Name = "sequence"

	// Description 模块描述
	Description = "描述符序列号防回滚记录"
)
