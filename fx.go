package meshtrust

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/control"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/internal/core/metrics"
	"github.com/slskdn/go-meshtrust/internal/core/pinning"
	"github.com/slskdn/go-meshtrust/internal/core/ratelimit"
	"github.com/slskdn/go-meshtrust/internal/core/replay"
	"github.com/slskdn/go-meshtrust/internal/core/resolver"
	"github.com/slskdn/go-meshtrust/internal/core/security/certs"
	"github.com/slskdn/go-meshtrust/internal/core/sequence"
	"github.com/slskdn/go-meshtrust/internal/core/storage"
	"github.com/slskdn/go-meshtrust/internal/core/swarm"
	"github.com/slskdn/go-meshtrust/internal/transport/quictransport"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
)

// ════════════════════════════════════════════════════════════════════════════
//                              Fx 应用构建
// ════════════════════════════════════════════════════════════════════════════

// buildFxApp 构建 Fx 应用
//
// 按依赖方向装配全部模块：存储与身份在最底层，其上是
// 序号、固定、证书与传输，再往上是描述符、解析、防护，
// 最顶层是控制平面准入与连接池。模块自身通过 fx.In 声明
// 依赖，这里只决定包含哪些模块。
//
// 装配完成后通过 fx.Invoke 把组件句柄注入 Plane 门面，
// 并挂载后台维护循环。
func buildFxApp(o *options, cfg *config.Config, plane *Plane) (*fx.App, error) {
	// 目录后端：网格部署从外部注入（DHT 适配器），
	// 单进程部署与测试使用进程内实现
	dir := o.directory
	if dir == nil {
		dir = NewMemoryDirectory()
	}

	modules := []fx.Option{
		// ────────────────────────────────────────────────────────────────────
		// 配置与外部依赖
		// ────────────────────────────────────────────────────────────────────
		fx.Supply(cfg),
		fx.Provide(func() interfaces.Directory { return dir }),

		// ────────────────────────────────────────────────────────────────────
		// 基础层：存储、身份、指标
		// ────────────────────────────────────────────────────────────────────
		storage.Module(),
		identity.Module(),
		metrics.Module(),

		// ────────────────────────────────────────────────────────────────────
		// 信任层：序号防回滚、指纹固定、通道证书
		// ────────────────────────────────────────────────────────────────────
		sequence.Module(),
		pinning.Module(),
		certs.Module(),

		// ────────────────────────────────────────────────────────────────────
		// 传输层：QUIC + 指纹校验
		// ────────────────────────────────────────────────────────────────────
		quictransport.Module(),

		// ────────────────────────────────────────────────────────────────────
		// 描述符层：发布与解析
		// ────────────────────────────────────────────────────────────────────
		descriptor.Module(),
		resolver.Module(),

		// ────────────────────────────────────────────────────────────────────
		// 防护层：重放窗口、两级限速
		// ────────────────────────────────────────────────────────────────────
		replay.Module(),
		ratelimit.Module(),

		// ────────────────────────────────────────────────────────────────────
		// 控制平面：准入状态机、封装、分发、连接池
		// ────────────────────────────────────────────────────────────────────
		control.Module(),
		swarm.Module(),
	}

	// 后台维护：空闲状态的定期回收
	modules = append(modules, fx.Invoke(registerMaintenance))

	// 用户自定义 Fx 选项（测试注入、替换组件等）
	modules = append(modules, o.fxOptions...)

	// 组件注入必须最后执行，保证全部 Provide 已注册
	modules = append(modules, fx.Invoke(injectPlaneComponents(plane)))

	// 静默 Fx 自身的日志输出
	modules = append(modules,
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
		fx.NopLogger,
	)

	return fx.New(modules...), nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              组件注入
// ════════════════════════════════════════════════════════════════════════════

// planeInjectParams Plane 组件注入参数
type planeInjectParams struct {
	fx.In

	// 身份
	Identity *identity.Identity `name:"identity"`
	Manager  *identity.Manager  `name:"identity_manager"`
	Keyring  *identity.Keyring  `name:"signing_keyring"`

	// 描述符
	Publisher *descriptor.Publisher
	Resolver  *resolver.Resolver

	// 控制平面
	Authenticator *control.Authenticator
	Dispatcher    *control.Dispatcher
	Sealer        *control.Sealer

	// 连接
	Transport interfaces.Transport
	Pool      *swarm.Pool

	// 信任与防护
	Pins      *pinning.Store
	Sequences *sequence.Guard
	Replays   *replay.Guard
	Limiter   *ratelimit.Limiter

	// 观测
	Collectors *metrics.Collectors
}

// injectPlaneComponents 创建 Plane 组件注入函数
//
// 由 Fx 在全部模块装配完成后调用，把组件句柄写入门面。
func injectPlaneComponents(plane *Plane) interface{} {
	return func(params planeInjectParams) {
		plane.identity = params.Identity
		plane.manager = params.Manager
		plane.keyring = params.Keyring

		plane.publisher = params.Publisher
		plane.resolver = params.Resolver

		plane.authenticator = params.Authenticator
		plane.dispatcher = params.Dispatcher
		plane.sealer = params.Sealer

		plane.transport = params.Transport
		plane.pool = params.Pool

		plane.pins = params.Pins
		plane.sequences = params.Sequences
		plane.replays = params.Replays
		plane.limiter = params.Limiter

		plane.collectors = params.Collectors
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              后台维护
// ════════════════════════════════════════════════════════════════════════════

// maintenanceParams 维护循环依赖
type maintenanceParams struct {
	fx.In

	LC         fx.Lifecycle
	UnifiedCfg *config.Config
	Replays    *replay.Guard
	Limiter    *ratelimit.Limiter
	Resolver   *resolver.Resolver
	Pool       *swarm.Pool
	Pins       *pinning.Store
}

// registerMaintenance 挂载后台维护循环
//
// 防护组件的内存占用只在消息到达时自我修剪，空闲节点的
// 去重窗口、限速桶和缓存项需要定时回收，否则一次扫描式
// 接触会留下长期驻留的记账状态。回收节奏来自防护配置，
// 与请求量无关。
func registerMaintenance(p maintenanceParams) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go runMaintenance(ctx, p, done)
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

// runMaintenance 维护循环主体
//
// 两档节奏：重放窗口按自己的间隔清理；限速桶、描述符缓存、
// 连接池与固定缓存共用较慢的一档。
func runMaintenance(ctx context.Context, p maintenanceParams, done chan<- struct{}) {
	defer close(done)

	guard := p.UnifiedCfg.Guard
	replayTick := time.NewTicker(guard.ReplaySweepInterval.Duration())
	defer replayTick.Stop()
	slowTick := time.NewTicker(guard.RateSweepInterval.Duration())
	defer slowTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-replayTick.C:
			p.Replays.Sweep()
		case <-slowTick.C:
			p.Limiter.Sweep()
			p.Resolver.Sweep()
			p.Pool.Sweep()
			// 固定缓存只回收内存项，持久化记录按需重载
			p.Pins.Sweep(guard.RateIdleTimeout.Duration())
		}
	}
}
