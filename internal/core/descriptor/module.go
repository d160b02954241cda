// Package descriptor 实现节点描述符的构建、发布与校验。
package descriptor

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/internal/core/sequence"
	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/storage/kv"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/descriptor")

// metaPrefix 发布器元数据的 kv 命名空间
var metaPrefix = []byte("desc/")

// ============================================================================
// Fx 模块定义
// ============================================================================

// ModuleInput 模块依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config         `optional:"true"`
	Identity   *identity.Identity     `name:"identity"`
	Keyring    *identity.Keyring      `name:"signing_keyring"`
	Directory  interfaces.Directory
	Engine     storage.InternalEngine
	Sequences  *sequence.Guard

	// PinSource 由证书层提供，缺席时描述符不携带指纹
	PinSource PinSource `optional:"true"`

	// Observer 由指标层提供，缺席时不上报
	Observer Observer `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Validator *Validator
	Publisher *Publisher
}

// ProvideServices 创建描述符校验器与发布器
func ProvideServices(in ModuleInput) (ModuleOutput, error) {
	cfg := in.UnifiedCfg
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return ModuleOutput{}, fmt.Errorf("invalid config: %w", err)
	}

	validator := NewValidator(cfg.Descriptor, in.Sequences)
	if in.Observer != nil {
		validator.SetObserver(in.Observer)
	}

	publisher, err := NewPublisher(cfg.Descriptor, in.Identity, in.Keyring,
		in.Directory, kv.New(in.Engine, metaPrefix))
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("create publisher: %w", err)
	}
	if in.PinSource != nil {
		publisher.SetPinSource(in.PinSource)
	}

	return ModuleOutput{Validator: validator, Publisher: publisher}, nil
}

// Module 返回 descriptor 的 fx 模块
//
// 提供:
//   - *Validator: 远端描述符校验链
//   - *Publisher: 本节点描述符发布器（随生命周期启停）
func Module() fx.Option {
	return fx.Module("descriptor",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

type lifecycleInput struct {
	fx.In

	LC        fx.Lifecycle
	Publisher *Publisher
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := in.Publisher.Start(ctx); err != nil {
				return fmt.Errorf("start publisher: %w", err)
			}
			logger.Info("描述符服务已启动")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := in.Publisher.Stop(); err != nil {
				return fmt.Errorf("stop publisher: %w", err)
			}
			logger.Info("描述符服务已停止")
			return nil
		},
	})
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "descriptor"

	// Description 模块描述
	Description = "节点描述符的构建、签名、发布与校验"
)
