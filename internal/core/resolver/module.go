package resolver

import (
	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/pinning"
	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/resolver")

// descPrefix 持久化描述符的键前缀
var descPrefix = []byte("rd/")

// ============================================================================
// Fx 模块定义
// ============================================================================

// Params 模块输入参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Directory  interfaces.Directory
	Validator  *descriptor.Validator
	Engine     storage.InternalEngine
	Pins       *pinning.Store `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Resolver *Resolver
}

// ProvideResolver 创建描述符解析器实例
func ProvideResolver(params Params) (Result, error) {
	cfg := params.UnifiedCfg
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	r := NewResolver(cfg.Control, params.Directory, params.Validator,
		kv.New(params.Engine, descPrefix))
	if params.Pins != nil {
		r.SetPinSink(params.Pins)
	}
	return Result{Resolver: r}, nil
}

// Module 返回描述符解析的 fx 模块
func Module() fx.Option {
	return fx.Module("resolver",
		fx.Provide(ProvideResolver),
	)
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "resolver"

	// Description 模块描述
	Description = "远端描述符解析，带验证缓存与合并获取"
)
