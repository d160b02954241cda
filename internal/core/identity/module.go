// Package identity 提供节点身份与签名密钥管理
//
// 详细文档见 doc.go。
package identity

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// ModuleInput 模块输入参数
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Identity *Identity `name:"identity"`
	Keyring  *Keyring  `name:"signing_keyring"`
	Manager  *Manager  `name:"identity_manager"`
}

// ProvideServices 提供身份服务
//
// 优先级:
//  1. 配置了 KeyDir: 从磁盘加载，缺失且 AutoGenerate 时生成并落盘
//  2. KeyDir 为空: 生成内存临时身份
//
// 密钥材料损坏或口令错误会使整个容器启动失败，这是刻意的：
// 节点绝不能带着错误的身份悄悄上线。
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := config.DefaultIdentityConfig()
	if input.UnifiedCfg != nil {
		cfg = input.UnifiedCfg.Identity
	}
	if err := cfg.Validate(); err != nil {
		return ModuleOutput{}, err
	}

	manager := NewManager(cfg)

	id, err := manager.LoadOrCreate()
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("identity startup: %w", err)
	}

	keyring, err := manager.LoadKeyring()
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("signing keyring startup: %w", err)
	}

	return ModuleOutput{
		Identity: id,
		Keyring:  keyring,
		Manager:  manager,
	}, nil
}

// Module 返回 Identity Fx 模块
//
// 提供:
//   - *Identity (name:"identity"): 节点身份
//   - *Keyring (name:"signing_keyring"): 控制信封签名密钥环
//   - *Manager (name:"identity_manager"): 身份管理器
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput 生命周期钩子依赖
type lifecycleInput struct {
	fx.In

	LC       fx.Lifecycle
	Identity *Identity `name:"identity"`
	Keyring  *Keyring  `name:"signing_keyring"`
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("身份已就绪",
				"peer_id", input.Identity.PeerID().ShortString(),
				"key_type", input.Identity.KeyType().String(),
				"signing_keys", input.Keyring.Len())
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
	Name = "identity"

	// Description 模块描述
	Description = "节点身份与控制信封签名密钥管理"
)
