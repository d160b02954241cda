// Package pinning 实现按 (PeerId, 通道) 的证书指纹固定。
package pinning

import (
	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/pinning")

// pinPrefix 固定记录的 kv 命名空间
var pinPrefix = []byte("pin/")

// ============================================================================
// Fx 模块定义
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	Engine storage.InternalEngine

	// Observer 由指标层提供，缺席时不上报
	Observer Observer `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Store *Store
}

// ProvideStore 创建指纹固定存储
//
// 学习指纹与违规记录持久化在存储引擎的 pin/ 命名空间下。
func ProvideStore(p Params) Result {
	s := New(kv.New(p.Engine, pinPrefix))
	if p.Observer != nil {
		s.SetObserver(p.Observer)
	}
	return Result{Store: s}
}

// Module 返回 pinning 的 fx 模块
func Module() fx.Option {
	return fx.Module("pinning",
		fx.Provide(ProvideStore),
	)
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "pinning"

	// Description 模块描述
	Description = "按节点与通道的证书指纹固定"
)
