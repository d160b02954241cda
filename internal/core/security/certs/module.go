package certs

import (
	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/certs")

// ============================================================================
// Fx 模块定义
// ============================================================================

// Params 模块输入参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config     `optional:"true"`
	Identity   *identity.Identity `name:"identity"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Service *Service
}

// ProvideService 创建通道证书服务
func ProvideService(params Params) (Result, error) {
	cfg := params.UnifiedCfg
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Service: NewService(cfg.Transport, params.Identity)}, nil
}

// Module 返回证书服务的 fx 模块
//
// Service 同时以 descriptor.PinSource 提供，发布器据此在
// 描述符中携带本节点的通道指纹。
func Module() fx.Option {
	return fx.Module("certs",
		fx.Provide(ProvideService),
		fx.Provide(func(s *Service) descriptor.PinSource { return s }),
	)
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "certs"

	// Description 模块描述
	Description = "按通道确定性派生的自签名 TLS 证书与 SPKI 指纹"
)
