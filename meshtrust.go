package meshtrust

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/control"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
	"github.com/slskdn/go-meshtrust/internal/core/metrics"
	"github.com/slskdn/go-meshtrust/internal/core/pinning"
	"github.com/slskdn/go-meshtrust/internal/core/ratelimit"
	"github.com/slskdn/go-meshtrust/internal/core/replay"
	"github.com/slskdn/go-meshtrust/internal/core/resolver"
	"github.com/slskdn/go-meshtrust/internal/core/sequence"
	"github.com/slskdn/go-meshtrust/internal/core/swarm"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

var logger = log.Logger("meshtrust")

// ════════════════════════════════════════════════════════════════════════════
//                              控制平面状态
// ════════════════════════════════════════════════════════════════════════════

// PlaneState 控制平面状态
//
// 表示控制平面在生命周期中的当前阶段。
type PlaneState int

const (
	// StateIdle 空闲状态（已创建，未启动）
	StateIdle PlaneState = iota

	// StateInitializing 初始化中（Fx App 启动中）
	StateInitializing

	// StateStarting 启动中（监听与地址发布）
	StateStarting

	// StateRunning 运行中（正常工作状态）
	StateRunning

	// StateStopping 停止中（正在关闭组件）
	StateStopping

	// StateStopped 已停止（可重新启动）
	StateStopped
)

// String 返回状态的字符串表示
func (s PlaneState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// 启动超时配置
const (
	// initializeTimeout 初始化超时（Fx App Start）
	initializeTimeout = 30 * time.Second

	// teardownTimeout 启动失败回退时的停止超时
	teardownTimeout = 10 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              公共数据类型
// ════════════════════════════════════════════════════════════════════════════

// Message 经过准入管线验证后交付给处理器的入站消息
//
// 到达处理器的消息必然已通过大小、限速、时间戳、去重与
// 签名校验，处理器无需再做身份判断。
type Message struct {
	// From 发送方节点 ID，已通过描述符签名验证
	From types.PeerID

	// Type 消息类型
	Type types.MessageType

	// MessageID 发送方生成的去重标识
	MessageID string

	// Timestamp 发送方声称的发送时刻（已通过偏差校验）
	Timestamp time.Time

	// Payload 消息负载
	Payload []byte
}

// MessageHandler 入站消息处理函数
type MessageHandler func(ctx context.Context, msg Message) error

// PeerInfo 一个远端节点的已验证描述信息
type PeerInfo struct {
	// PeerID 节点 ID
	PeerID types.PeerID

	// Sequence 描述符发布序列号
	Sequence uint64

	// Endpoints 可拨号的传输层地址
	Endpoints []string

	// ExpiresAt 描述符过期时刻
	ExpiresAt time.Time
}

// Violation 某个通道上记录的指纹固定违规
type Violation struct {
	// Channel 发生违规的通道
	Channel types.Channel

	// Count 累计违规次数
	Count uint64

	// LastFingerprint 最近一次违规出示的指纹
	LastFingerprint types.Fingerprint

	// LastSeen 最近一次违规时间
	LastSeen time.Time
}

// ════════════════════════════════════════════════════════════════════════════
//                              Plane 门面
// ════════════════════════════════════════════════════════════════════════════

// Plane 网格身份与控制平面
//
// Plane 是使用本库的主入口，是一个聚合全部内部组件的门面：
//   - 身份层: 节点密钥、签名密钥环
//   - 描述符层: 本节点描述符的发布、远端描述符的解析与校验
//   - 信任层: 证书指纹固定、序号防回滚
//   - 控制平面: 消息封装、准入状态机、分发、连接池
//
// 使用示例：
//
//	plane, err := meshtrust.New(ctx,
//	    meshtrust.WithPreset(meshtrust.PresetNameDesktop),
//	    meshtrust.WithDataDir("/var/lib/mesh"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer plane.Close()
//
//	if err := plane.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// 注册消息处理器
//	plane.Handle(types.MessageTypePing, func(ctx context.Context, msg meshtrust.Message) error {
//	    fmt.Println("ping from", msg.From.ShortString())
//	    return nil
//	})
//
//	// 向远端节点发送已签名消息
//	err = plane.Send(ctx, peerID, types.MessageTypeSwarmOffer, payload)
type Plane struct {
	// ────────────────────────────────────────────────────────────────────────
	// 配置和状态
	// ────────────────────────────────────────────────────────────────────────

	// config 合成后的内部配置
	config *config.Config

	// app Fx 应用
	app *fx.App

	// ────────────────────────────────────────────────────────────────────────
	// 核心组件（由 Fx 注入）
	// ────────────────────────────────────────────────────────────────────────

	identity *identity.Identity
	manager  *identity.Manager
	keyring  *identity.Keyring

	publisher *descriptor.Publisher
	resolver  *resolver.Resolver

	authenticator *control.Authenticator
	dispatcher    *control.Dispatcher
	sealer        *control.Sealer

	transport interfaces.Transport
	pool      *swarm.Pool

	pins       *pinning.Store
	sequences  *sequence.Guard
	replays    *replay.Guard
	limiter    *ratelimit.Limiter
	collectors *metrics.Collectors

	// ────────────────────────────────────────────────────────────────────────
	// 入站服务状态
	// ────────────────────────────────────────────────────────────────────────

	// listener 控制通道监听器，每次 Start 重建
	listener interfaces.Listener

	// serveCancel 终止全部入站 goroutine
	serveCancel context.CancelFunc

	// serveWG 等待入站 goroutine 退出
	serveWG sync.WaitGroup

	// ────────────────────────────────────────────────────────────────────────
	// 生命周期状态
	// ────────────────────────────────────────────────────────────────────────

	mu      sync.RWMutex
	state   PlaneState
	started bool
	closed  bool
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建控制平面
//
// 创建但不启动，需要调用 Start() 启动。通过 Option 函数配置。
//
// 示例：
//
//	plane, err := meshtrust.New(ctx,
//	    meshtrust.WithPreset(meshtrust.PresetNameServer),
//	    meshtrust.WithListenAddr("0.0.0.0:7450"),
//	)
func New(ctx context.Context, opts ...Option) (*Plane, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	cfg := o.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o.applyLogLevel()

	plane := &Plane{config: cfg}

	var err error
	plane.app, err = buildFxApp(o, cfg, plane)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}

	return plane, nil
}

// Start 快捷启动函数
//
// 创建控制平面并立即启动，等价于 New() + Start()。
func Start(ctx context.Context, opts ...Option) (*Plane, error) {
	plane, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	if err := plane.Start(ctx); err != nil {
		return nil, fmt.Errorf("start plane: %w", err)
	}

	return plane, nil
}

// RotateIdentity 轮换磁盘上持久化的节点身份
//
// 生成新的身份密钥并覆盖写入密钥目录，返回新的节点 ID。
// 这是一个会改变节点身份的运维动作：旧 ID 下积累的信任
// 关系（远端的固定指纹、序号记录）全部失效，远端按首次
// 见面重新学习。
//
// 只能在没有运行中 Plane 使用该密钥目录时调用，轮换结果
// 对之后创建的 Plane 生效。
func RotateIdentity(opts ...Option) (types.PeerID, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return types.PeerID{}, fmt.Errorf("apply option: %w", err)
		}
	}

	cfg := o.toConfig()
	if err := cfg.Identity.Validate(); err != nil {
		return types.PeerID{}, fmt.Errorf("invalid identity config: %w", err)
	}

	id, err := identity.NewManager(cfg.Identity).Rotate()
	if err != nil {
		return types.PeerID{}, err
	}
	return id.PeerID(), nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期管理
// ════════════════════════════════════════════════════════════════════════════

// Start 启动控制平面
//
// 采用阶段化启动策略：
//  1. Initialize: 启动 Fx App，加载身份、打开存储、启动发布循环
//  2. Listen: 绑定控制通道监听器
//  3. Advertise: 把绑定地址并入描述符通告集并立即重发布
//  4. Serve: 启动入站接收循环，进入运行状态
//
// 每个 Plane 实例只经历一轮 Start/Stop：停止时存储引擎与
// 传输套接字已释放，重新上线需用相同数据目录创建新实例，
// 持久化的身份与信任状态随之恢复。
func (p *Plane) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPlaneClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}
	if p.state == StateStopped {
		return ErrPlaneStopped
	}

	// ────────────────────────────────────────────────────────────────────────
	// Phase 1: Initialize - 启动 Fx App
	// ────────────────────────────────────────────────────────────────────────
	p.state = StateInitializing
	logger.Info("正在初始化控制平面")

	initCtx, initCancel := context.WithTimeout(ctx, initializeTimeout)
	defer initCancel()

	if err := p.app.Start(initCtx); err != nil {
		p.state = StateIdle
		logger.Error("控制平面初始化失败", "error", err)
		return fmt.Errorf("initialize failed: %w", err)
	}
	logger.Debug("Fx 应用启动成功")

	// ────────────────────────────────────────────────────────────────────────
	// Phase 2: Listen - 绑定控制通道
	// ────────────────────────────────────────────────────────────────────────
	p.state = StateStarting

	listener, err := p.transport.Listen(p.config.Transport.ListenAddr, types.ChannelControl)
	if err != nil {
		p.teardownLocked()
		logger.Error("控制通道监听失败", "error", err)
		return fmt.Errorf("listen failed: %w", err)
	}
	p.listener = listener
	logger.Info("控制通道监听中", "addr", listener.Addr().String())

	// ────────────────────────────────────────────────────────────────────────
	// Phase 3: Advertise - 发布包含绑定地址的描述符
	// ────────────────────────────────────────────────────────────────────────
	p.publisher.SetEndpoints([]string{listener.Addr().String()})
	if _, err := p.publisher.Publish(ctx); err != nil {
		// 目录暂不可用不阻断启动，发布循环会按节奏重试
		logger.Warn("启动时描述符发布失败，稍后重试", "error", err)
	}

	// ────────────────────────────────────────────────────────────────────────
	// Phase 4: Serve - 进入运行状态
	// ────────────────────────────────────────────────────────────────────────
	serveCtx, serveCancel := context.WithCancel(context.Background())
	p.serveCancel = serveCancel
	p.serveWG.Add(1)
	go p.acceptLoop(serveCtx, listener)

	p.state = StateRunning
	p.started = true
	logger.Info("控制平面启动成功",
		"peer_id", p.identity.PeerID().ShortString(),
		"addr", listener.Addr().String())
	return nil
}

// teardownLocked 启动中途失败时的回退清理，调用方持有 p.mu
func (p *Plane) teardownLocked() {
	p.state = StateStopping
	if p.listener != nil {
		_ = p.listener.Close()
		p.listener = nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	_ = p.app.Stop(stopCtx)
	p.state = StateStopped
}

// Stop 停止控制平面
//
// 持久化状态落盘后停止所有内部组件。与 Close 的区别在于
// Stop 上抛停止过程中的错误，适合需要确认干净退出的调用方；
// Close 幂等且吞掉错误，适合 defer。
//
// 停止顺序（反向启动顺序）：
//  1. 关闭监听器并终止入站 goroutine
//  2. 停止 Fx 应用（发布循环、连接池、传输、存储依次关闭）
func (p *Plane) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPlaneClosed
	}
	if !p.started {
		return ErrNotStarted
	}

	p.state = StateStopping
	logger.Info("正在停止控制平面")

	p.stopServingLocked()

	if err := p.app.Stop(ctx); err != nil {
		p.state = StateStopped
		p.started = false
		logger.Error("停止控制平面失败", "error", err)
		return fmt.Errorf("stop fx app: %w", err)
	}

	p.state = StateStopped
	p.started = false
	logger.Info("控制平面已停止")
	return nil
}

// stopServingLocked 关闭监听器并等待入站 goroutine 退出，
// 调用方持有 p.mu
func (p *Plane) stopServingLocked() {
	if p.serveCancel != nil {
		p.serveCancel()
		p.serveCancel = nil
	}
	if p.listener != nil {
		_ = p.listener.Close()
		p.listener = nil
	}
	p.serveWG.Wait()
}

// Close 关闭控制平面并释放所有资源
//
// 幂等，重复调用返回 nil。停止过程中的错误只记日志不上抛，
// 适合放在 defer 里兜底。
func (p *Plane) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	logger.Info("正在关闭控制平面")

	if p.started {
		p.state = StateStopping
		p.stopServingLocked()

		stopCtx, cancel := context.WithTimeout(context.Background(), initializeTimeout)
		defer cancel()
		if err := p.app.Stop(stopCtx); err != nil {
			logger.Warn("停止 Fx 应用失败", "error", err)
		}
	}

	p.state = StateStopped
	p.started = false
	p.closed = true
	logger.Info("控制平面已关闭")
	return nil
}

// State 返回当前状态
func (p *Plane) State() PlaneState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// IsRunning 报告控制平面是否处于运行状态
func (p *Plane) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StateRunning
}

// runningComponents 取运行态下的收发组件，未运行时报错
func (p *Plane) runningComponents() (*control.Sealer, *swarm.Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, nil, ErrPlaneClosed
	}
	if !p.started {
		return nil, nil, ErrNotStarted
	}
	return p.sealer, p.pool, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
//
// 节点 ID 由身份公钥派生，身份在 New 阶段加载完成，
// 创建成功后即可读取。
func (p *Plane) ID() types.PeerID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.identity == nil {
		return types.PeerID{}
	}
	return p.identity.PeerID()
}

// ListenAddr 返回控制通道的实际绑定地址，未监听时为空串
func (p *Plane) ListenAddr() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Endpoints 返回当前描述符通告的地址集合
func (p *Plane) Endpoints() []string {
	p.mu.RLock()
	pub := p.publisher
	p.mu.RUnlock()
	if pub == nil {
		return nil
	}
	return pub.Endpoints()
}

// DescriptorSequence 返回最近一次成功发布的描述符序列号，
// 尚未发布过时为 0
func (p *Plane) DescriptorSequence() uint64 {
	p.mu.RLock()
	pub := p.publisher
	p.mu.RUnlock()
	if pub == nil {
		return 0
	}
	if d := pub.LastPublished(); d != nil {
		return d.Sequence
	}
	return 0
}

// MetricsHandler 返回 Prometheus 指标的 HTTP 处理器
//
// 由调用方决定挂载位置，本库不开 HTTP 端口。
func (p *Plane) MetricsHandler() http.Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.collectors == nil {
		return nil
	}
	return p.collectors.Handler()
}

// ════════════════════════════════════════════════════════════════════════════
//                              描述符操作
// ════════════════════════════════════════════════════════════════════════════

// PublishDescriptor 立即构建、签名并发布一次本节点描述符
//
// 发布循环之外的手动触发入口，返回新描述符的序列号。
func (p *Plane) PublishDescriptor(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	pub := p.publisher
	started := p.started
	p.mu.RUnlock()
	if !started || pub == nil {
		return 0, ErrNotStarted
	}

	d, err := pub.Publish(ctx)
	if err != nil {
		return 0, err
	}
	return d.Sequence, nil
}

// RotateSigningKey 轮换控制信封签名密钥
//
// 新密钥立即用于后续消息签名，旧密钥保留在描述符中直到
// 重叠窗口结束，避免轮换瞬间的消息被远端拒签。节点身份
// 不变。
func (p *Plane) RotateSigningKey(ctx context.Context) error {
	p.mu.RLock()
	pub := p.publisher
	started := p.started
	p.mu.RUnlock()
	if !started || pub == nil {
		return ErrNotStarted
	}

	_, err := pub.RotateSigningKey(ctx)
	return err
}

// SetEndpoints 更新运行期通告地址
//
// 与配置的静态地址、监听绑定地址合并。适用于 NAT 探测或
// 打洞流程发现新的外部地址后的通告更新。
func (p *Plane) SetEndpoints(endpoints []string) error {
	p.mu.RLock()
	pub := p.publisher
	listener := p.listener
	started := p.started
	p.mu.RUnlock()
	if !started || pub == nil {
		return ErrNotStarted
	}

	merged := endpoints
	if listener != nil {
		merged = append(append([]string(nil), endpoints...), listener.Addr().String())
	}
	pub.SetEndpoints(merged)
	return nil
}

// ResolvePeer 解析远端节点的已验证描述信息
//
// 经过完整校验链（模式、时间窗、序号、密钥绑定、签名、
// 上限）后返回。失败即不可用，不会退回过期缓存。
func (p *Plane) ResolvePeer(ctx context.Context, id types.PeerID) (PeerInfo, error) {
	p.mu.RLock()
	res := p.resolver
	started := p.started
	p.mu.RUnlock()
	if !started || res == nil {
		return PeerInfo{}, ErrNotStarted
	}
	if id.IsEmpty() {
		return PeerInfo{}, ErrEmptyPeerID
	}

	d, err := res.Resolve(ctx, id)
	if err != nil {
		return PeerInfo{}, err
	}
	return PeerInfo{
		PeerID:    d.PeerID,
		Sequence:  d.Sequence,
		Endpoints: append([]string(nil), d.Endpoints...),
		ExpiresAt: d.ExpiresAt,
	}, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              消息收发
// ════════════════════════════════════════════════════════════════════════════

// Handle 注册指定消息类型的处理器
//
// 分发器在 New 阶段即已装配，Start 之前注册的处理器先于
// 监听生效，启动窗口内的首批消息不会丢失。同一类型重复
// 注册报错。
func (p *Plane) Handle(t types.MessageType, h MessageHandler) error {
	if h == nil {
		return errors.New("meshtrust: nil message handler")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlaneClosed
	}
	if p.dispatcher == nil {
		// 容器装配失败时组件为空，装配错误由 Start 上抛
		return errors.New("meshtrust: plane components not initialized")
	}
	return p.registerHandler(t, h)
}

// registerHandler 把公共处理器适配进分发器，调用方持有 p.mu
func (p *Plane) registerHandler(t types.MessageType, h MessageHandler) error {
	return p.dispatcher.Register(t, func(ctx context.Context, from types.PeerID, env *control.Envelope) error {
		return h(ctx, Message{
			From:      from,
			Type:      env.Type,
			MessageID: env.MessageID,
			Timestamp: env.Timestamp,
			Payload:   env.Payload,
		})
	})
}

// Unhandle 注销指定消息类型的处理器
func (p *Plane) Unhandle(t types.MessageType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dispatcher != nil {
		p.dispatcher.Deregister(t)
	}
}

// Send 向远端节点发送一条已签名控制消息
//
// 完整路径：封装签名、解析对方描述符、经固定校验的 QUIC
// 连接（复用池中连接）、单向流写出。对方的准入管线完成
// 验证后交付其处理器。
func (p *Plane) Send(ctx context.Context, peer types.PeerID, t types.MessageType, payload []byte) error {
	sealer, pool, err := p.runningComponents()
	if err != nil {
		return err
	}
	if peer.IsEmpty() {
		return ErrEmptyPeerID
	}

	frame, err := sealer.SealFrame(t, payload)
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}

	conn, err := pool.Get(ctx, peer)
	if err != nil {
		return fmt.Errorf("connect %s: %w", peer.ShortString(), err)
	}

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		// 连接可能已悼亡，踢出池子让下次重建
		pool.Drop(peer)
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	if err := control.WriteFrame(stream, frame, p.config.Control.MaxEnvelopeSize); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Ping 向远端节点发送一条空负载的已签名 ping 消息
//
// 验证对端可达且控制平面互信成立（描述符可解析、指纹匹配、
// 签名可验）。不等待回应。
func (p *Plane) Ping(ctx context.Context, peer types.PeerID) error {
	return p.Send(ctx, peer, types.MessageTypePing, nil)
}

// ════════════════════════════════════════════════════════════════════════════
//                              信任状态
// ════════════════════════════════════════════════════════════════════════════

// PinViolations 返回指定节点记录在案的指纹固定违规
//
// 持续非零的违规计数意味着对端证书与固定指纹不符，可能是
// 中间人攻击，也可能是未经描述符发布的异常重部署，应当
// 接入安全告警。
func (p *Plane) PinViolations(peer types.PeerID) ([]Violation, error) {
	p.mu.RLock()
	pins := p.pins
	p.mu.RUnlock()
	if pins == nil {
		return nil, ErrNotStarted
	}
	if peer.IsEmpty() {
		return nil, ErrEmptyPeerID
	}

	recorded, err := pins.Violations(peer)
	if err != nil {
		return nil, err
	}

	out := make([]Violation, 0, len(recorded))
	for ch, v := range recorded {
		out = append(out, Violation{
			Channel:         ch,
			Count:           v.Count,
			LastFingerprint: v.LastFingerprint,
			LastSeen:        v.LastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

// ForgetPeer 清除本节点对指定远端的全部本地记账
//
// 运维动作：对端合法重装（身份重建、序号归零）后，本地
// 残留的固定指纹与序号水位会永久拒绝它，由运维确认后调用
// 此方法重置。清除范围：固定指纹与违规记录、序号水位、
// 去重窗口、限速桶、描述符缓存、池中连接。
func (p *Plane) ForgetPeer(peer types.PeerID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pins == nil {
		return ErrNotStarted
	}
	if peer.IsEmpty() {
		return ErrEmptyPeerID
	}

	logger.Info("正在清除节点的本地信任状态", "peer", peer.ShortString())

	var errs []error
	if err := p.pins.Forget(peer); err != nil {
		errs = append(errs, fmt.Errorf("forget pins: %w", err))
	}
	if err := p.sequences.Forget(peer); err != nil {
		errs = append(errs, fmt.Errorf("forget sequence: %w", err))
	}
	p.replays.Forget(peer)
	p.limiter.ForgetPeer(peer)
	p.resolver.Invalidate(peer)
	p.pool.Drop(peer)
	return errors.Join(errs...)
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接状态
// ════════════════════════════════════════════════════════════════════════════

// ConnectedPeers 返回池中有活跃连接的节点 ID 列表
func (p *Plane) ConnectedPeers() []types.PeerID {
	p.mu.RLock()
	pool := p.pool
	p.mu.RUnlock()
	if pool == nil {
		return nil
	}
	return pool.Peers()
}

// ConnectionCount 返回池中活跃连接数
func (p *Plane) ConnectionCount() int {
	p.mu.RLock()
	pool := p.pool
	p.mu.RUnlock()
	if pool == nil {
		return 0
	}
	return pool.Len()
}

// ════════════════════════════════════════════════════════════════════════════
//                              入站服务
// ════════════════════════════════════════════════════════════════════════════

// acceptLoop 接受入站连接
//
// 每个连接进池复用（出站发送可走入站建立的连接），然后
// 交给独立 goroutine 接收流。监听器关闭时退出。
func (p *Plane) acceptLoop(ctx context.Context, l interfaces.Listener) {
	defer p.serveWG.Done()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug("监听器已关闭", "error", err)
			}
			return
		}

		logger.Debug("入站连接已建立",
			"peer", conn.RemotePeerID().ShortString(),
			"addr", conn.RemoteAddr().String())

		p.pool.Admit(conn)
		p.serveWG.Add(1)
		go p.serveConn(ctx, conn)
	}
}

// serveConn 接收单个连接上的入站流
func (p *Plane) serveConn(ctx context.Context, conn interfaces.Connection) {
	defer p.serveWG.Done()

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			// 连接关闭或服务停止
			return
		}
		p.serveWG.Add(1)
		go p.serveStream(ctx, conn, stream)
	}
}

// serveStream 读取单个流上的控制消息帧并送入准入管线
//
// 传输层已完成指纹校验，这里拿到的 RemotePeerID 可作为
// 准入管线的身份输入。每帧独立决策，拒绝不中断流：限速
// 丢弃是常态，签名失败才值得记日志。
func (p *Plane) serveStream(ctx context.Context, conn interfaces.Connection, stream interfaces.Stream) {
	defer p.serveWG.Done()
	defer stream.Close()

	addr := conn.RemoteAddr().String()
	peer := conn.RemotePeerID()
	r := bufio.NewReader(stream)

	for {
		frame, err := control.ReadFrame(r, p.config.Control.MaxEnvelopeSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("读取消息帧失败",
					"peer", peer.ShortString(), "error", err)
			}
			return
		}

		decision := p.authenticator.Admit(ctx, addr, peer, frame)
		if !decision.Accepted() {
			logger.Debug("入站消息被拒绝",
				"peer", peer.ShortString(),
				"state", decision.State.String(),
				"reason", decision.Reason.String())
		}
	}
}
