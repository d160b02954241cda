package metrics

import (
	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/internal/core/control"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/pinning"
	"github.com/slskdn/go-meshtrust/internal/core/ratelimit"
	"github.com/slskdn/go-meshtrust/internal/core/replay"
	"github.com/slskdn/go-meshtrust/internal/core/resolver"
	"github.com/slskdn/go-meshtrust/internal/core/sequence"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

var logger = log.Logger("core/metrics")

// ============================================================================
// Fx 模块定义
// ============================================================================

// Result 模块输出
type Result struct {
	fx.Out

	Collectors *Collectors
}

// ProvideCollectors 创建指标集合
func ProvideCollectors() Result {
	return Result{Collectors: New()}
}

// probeParams 探针注册依赖
//
// 全部可选：指标层适配图中实际存在的组件。
type probeParams struct {
	fx.In

	Collectors *Collectors
	Replays    *replay.Guard      `optional:"true"`
	Limiter    *ratelimit.Limiter `optional:"true"`
	Resolver   *resolver.Resolver `optional:"true"`
	Sequences  *sequence.Guard    `optional:"true"`
	Pins       *pinning.Store     `optional:"true"`
}

// registerProbes 把实时读数探针接到在场的组件上
func registerProbes(p probeParams) error {
	probes := Probes{}
	if p.Replays != nil {
		probes.ReplayPeers = p.Replays.TrackedPeers
	}
	if p.Limiter != nil {
		probes.RateAddresses = p.Limiter.TrackedAddresses
		probes.RatePeers = p.Limiter.TrackedPeers
	}
	if p.Resolver != nil {
		probes.CachedDescriptors = p.Resolver.CachedPeers
		probes.ResolverDegraded = p.Resolver.Degraded
	}
	if p.Sequences != nil {
		probes.SequenceDegraded = p.Sequences.Degraded
	}
	if p.Pins != nil {
		probes.PinningDegraded = p.Pins.Degraded
	}

	if err := p.Collectors.RegisterProbes(probes); err != nil {
		return err
	}
	logger.Debug("指标探针已注册")
	return nil
}

// Module 返回指标的 fx 模块
//
// 同一个 Collectors 实例以三个观测接口各提供一次，校验、
// 固定与准入模块按需注入。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideCollectors),
		fx.Provide(
			func(c *Collectors) descriptor.Observer { return c },
			func(c *Collectors) pinning.Observer { return c },
			func(c *Collectors) control.Observer { return c },
		),
		fx.Invoke(registerProbes),
	)
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"

	// Name 模块名称
	Name = "metrics"

	// Description 模块描述
	Description = "控制平面决策计数与组件实时读数的 Prometheus 指标"
)
