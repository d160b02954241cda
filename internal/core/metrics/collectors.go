package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slskdn/go-meshtrust/internal/core/control"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/internal/core/pinning"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// namespace 所有指标的命名空间前缀
const namespace = "meshtrust"

// ============================================================================
// Collectors - 控制平面指标集合
// ============================================================================

// Collectors 汇集描述符校验、消息准入与指纹固定的计数指标
//
// 同时实现 descriptor.Observer、pinning.Observer 与
// control.Observer，由各模块在决策点回调。使用独立的
// Registry，进程内多个实例互不干扰。
type Collectors struct {
	registry *prometheus.Registry

	descriptorsAccepted prometheus.Counter
	descriptorsRejected *prometheus.CounterVec
	messagesAdmitted    *prometheus.CounterVec
	messagesRejected    *prometheus.CounterVec
	pinsAccepted        *prometheus.CounterVec
	pinsRejected        *prometheus.CounterVec
}

var (
	_ descriptor.Observer = (*Collectors)(nil)
	_ pinning.Observer    = (*Collectors)(nil)
	_ control.Observer    = (*Collectors)(nil)
)

// New 创建指标集合
func New() *Collectors {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collectors{
		registry: registry,

		descriptorsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "descriptors_accepted_total",
			Help:      "Total peer descriptors that passed validation.",
		}),
		descriptorsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "descriptors_rejected_total",
			Help:      "Total peer descriptors rejected, by reason.",
		}, []string{"reason"}),

		messagesAdmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_admitted_total",
			Help:      "Total control messages admitted, by message type.",
		}, []string{"type"}),
		messagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Total control messages rejected, by pipeline stage and reason.",
		}, []string{"state", "reason"}),

		pinsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pins_accepted_total",
			Help:      "Total certificate fingerprint matches, by channel and decision tier.",
		}, []string{"channel", "tier"}),
		pinsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pins_rejected_total",
			Help:      "Total certificate fingerprint mismatches, by channel and reason.",
		}, []string{"channel", "reason"}),
	}
}

// DescriptorAccepted 实现 descriptor.Observer
func (c *Collectors) DescriptorAccepted() {
	c.descriptorsAccepted.Inc()
}

// DescriptorRejected 实现 descriptor.Observer
func (c *Collectors) DescriptorRejected(reason types.Reason) {
	c.descriptorsRejected.WithLabelValues(reason.String()).Inc()
}

// MessageAdmitted 实现 control.Observer
func (c *Collectors) MessageAdmitted(t control.MessageType) {
	c.messagesAdmitted.WithLabelValues(t.String()).Inc()
}

// MessageRejected 实现 control.Observer
func (c *Collectors) MessageRejected(state control.State, reason types.Reason) {
	c.messagesRejected.WithLabelValues(state.String(), reason.String()).Inc()
}

// PinAccepted 实现 pinning.Observer
func (c *Collectors) PinAccepted(ch types.Channel, tier pinning.Tier) {
	c.pinsAccepted.WithLabelValues(ch.String(), tier.String()).Inc()
}

// PinRejected 实现 pinning.Observer
func (c *Collectors) PinRejected(ch types.Channel, reason types.Reason) {
	c.pinsRejected.WithLabelValues(ch.String(), reason.String()).Inc()
}

// Registry 返回底层注册表，可直接 Gather
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回暴露该注册表的 HTTP 处理器
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ============================================================================
// 实时读数探针
// ============================================================================

// Probes 后台组件的实时读数来源
//
// 字段为 nil 时对应探针不注册，指标层不强求任何组件在场。
type Probes struct {
	// ReplayPeers 去重窗口当前跟踪的节点数
	ReplayPeers func() int

	// RateAddresses 预认证限速桶当前跟踪的地址数
	RateAddresses func() int

	// RatePeers 后认证限速桶当前跟踪的节点数
	RatePeers func() int

	// CachedDescriptors 解析缓存当前持有的描述符数
	CachedDescriptors func() int

	// SequenceDegraded 序列号存储是否处于降级模式
	SequenceDegraded func() bool

	// PinningDegraded 指纹存储是否处于降级模式
	PinningDegraded func() bool

	// ResolverDegraded 描述符缓存持久化是否处于降级模式
	ResolverDegraded func() bool
}

// RegisterProbes 注册实时读数探针
//
// 每个非 nil 字段注册一个 GaugeFunc，采集时直接读取组件
// 当前状态。重复注册同名探针返回错误。
func (c *Collectors) RegisterProbes(p Probes) error {
	gauges := []struct {
		name   string
		help   string
		labels prometheus.Labels
		fn     func() float64
	}{
		{"replay_tracked_peers", "Peers currently tracked by the replay window.", nil, intProbe(p.ReplayPeers)},
		{"ratelimit_tracked_addresses", "Addresses currently tracked by the pre-auth limiter.", nil, intProbe(p.RateAddresses)},
		{"ratelimit_tracked_peers", "Peers currently tracked by the post-auth limiter.", nil, intProbe(p.RatePeers)},
		{"descriptor_cache_entries", "Validated descriptors currently cached.", nil, intProbe(p.CachedDescriptors)},
		{"storage_degraded", "Whether the component's persistence is degraded (1) or healthy (0).",
			prometheus.Labels{"component": "sequence"}, boolProbe(p.SequenceDegraded)},
		{"storage_degraded", "Whether the component's persistence is degraded (1) or healthy (0).",
			prometheus.Labels{"component": "pinning"}, boolProbe(p.PinningDegraded)},
		{"storage_degraded", "Whether the component's persistence is degraded (1) or healthy (0).",
			prometheus.Labels{"component": "resolver"}, boolProbe(p.ResolverDegraded)},
	}

	for _, g := range gauges {
		if g.fn == nil {
			continue
		}
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        g.name,
			Help:        g.help,
			ConstLabels: g.labels,
		}, g.fn)
		if err := c.registry.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}

func intProbe(fn func() int) func() float64 {
	if fn == nil {
		return nil
	}
	return func() float64 { return float64(fn()) }
}

func boolProbe(fn func() bool) func() float64 {
	if fn == nil {
		return nil
	}
	return func() float64 {
		if fn() {
			return 1
		}
		return 0
	}
}
