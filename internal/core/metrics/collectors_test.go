package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slskdn/go-meshtrust/internal/core/control"
	"github.com/slskdn/go-meshtrust/internal/core/pinning"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// gatherValue 从注册表中取出一个样本值
func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			got := make(map[string]string)
			for _, l := range m.GetLabel() {
				got[l.GetName()] = l.GetValue()
			}
			match := true
			for k, v := range labels {
				if got[k] != v {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func hasFamily(t *testing.T, reg *prometheus.Registry, name string) bool {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}

func TestCollectors_DescriptorCounters(t *testing.T) {
	c := New()

	c.DescriptorAccepted()
	c.DescriptorAccepted()
	c.DescriptorRejected(types.ReasonMalformed)
	c.DescriptorRejected(types.ReasonRollback)
	c.DescriptorRejected(types.ReasonRollback)

	if got := gatherValue(t, c.Registry(), "meshtrust_descriptors_accepted_total", nil); got != 2 {
		t.Errorf("accepted = %v, want 2", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_descriptors_rejected_total",
		map[string]string{"reason": "malformed"}); got != 1 {
		t.Errorf("rejected{malformed} = %v, want 1", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_descriptors_rejected_total",
		map[string]string{"reason": "rollback"}); got != 2 {
		t.Errorf("rejected{rollback} = %v, want 2", got)
	}
}

func TestCollectors_MessageCounters(t *testing.T) {
	c := New()

	c.MessageAdmitted(control.MessagePing)
	c.MessageAdmitted(control.MessagePing)
	c.MessageAdmitted(control.MessageFindPeer)
	c.MessageRejected(control.StateRateChecked, types.ReasonReplay)

	if got := gatherValue(t, c.Registry(), "meshtrust_messages_admitted_total",
		map[string]string{"type": "ping"}); got != 2 {
		t.Errorf("admitted{ping} = %v, want 2", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_messages_admitted_total",
		map[string]string{"type": "find_peer"}); got != 1 {
		t.Errorf("admitted{find_peer} = %v, want 1", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_messages_rejected_total",
		map[string]string{"state": "rate_checked", "reason": "replay"}); got != 1 {
		t.Errorf("rejected{rate_checked,replay} = %v, want 1", got)
	}
}

func TestCollectors_PinCounters(t *testing.T) {
	c := New()

	c.PinAccepted(types.ChannelControl, pinning.TierDescriptor)
	c.PinAccepted(types.ChannelData, pinning.TierFirstUse)
	c.PinRejected(types.ChannelControl, types.ReasonPinMismatch)

	if got := gatherValue(t, c.Registry(), "meshtrust_pins_accepted_total",
		map[string]string{"channel": "control", "tier": "descriptor"}); got != 1 {
		t.Errorf("accepted{control,descriptor} = %v, want 1", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_pins_accepted_total",
		map[string]string{"channel": "data", "tier": "first_use"}); got != 1 {
		t.Errorf("accepted{data,first_use} = %v, want 1", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_pins_rejected_total",
		map[string]string{"channel": "control", "reason": "pin_mismatch"}); got != 1 {
		t.Errorf("rejected{control,pin_mismatch} = %v, want 1", got)
	}
}

func TestCollectors_Probes(t *testing.T) {
	c := New()

	degraded := false
	err := c.RegisterProbes(Probes{
		ReplayPeers:       func() int { return 7 },
		RateAddresses:     func() int { return 3 },
		RatePeers:         func() int { return 5 },
		CachedDescriptors: func() int { return 11 },
		SequenceDegraded:  func() bool { return degraded },
	})
	if err != nil {
		t.Fatalf("RegisterProbes failed: %v", err)
	}

	if got := gatherValue(t, c.Registry(), "meshtrust_replay_tracked_peers", nil); got != 7 {
		t.Errorf("replay_tracked_peers = %v, want 7", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_ratelimit_tracked_addresses", nil); got != 3 {
		t.Errorf("ratelimit_tracked_addresses = %v, want 3", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_ratelimit_tracked_peers", nil); got != 5 {
		t.Errorf("ratelimit_tracked_peers = %v, want 5", got)
	}
	if got := gatherValue(t, c.Registry(), "meshtrust_descriptor_cache_entries", nil); got != 11 {
		t.Errorf("descriptor_cache_entries = %v, want 11", got)
	}

	// GaugeFunc 每次采集读取当前状态
	if got := gatherValue(t, c.Registry(), "meshtrust_storage_degraded",
		map[string]string{"component": "sequence"}); got != 0 {
		t.Errorf("storage_degraded{sequence} = %v, want 0", got)
	}
	degraded = true
	if got := gatherValue(t, c.Registry(), "meshtrust_storage_degraded",
		map[string]string{"component": "sequence"}); got != 1 {
		t.Errorf("storage_degraded{sequence} = %v, want 1 after flip", got)
	}
}

// 缺席的组件不注册探针
func TestCollectors_ProbesNilSafe(t *testing.T) {
	c := New()
	if err := c.RegisterProbes(Probes{}); err != nil {
		t.Fatalf("RegisterProbes failed: %v", err)
	}
	if hasFamily(t, c.Registry(), "meshtrust_replay_tracked_peers") {
		t.Error("probe registered despite nil source")
	}
}

func TestCollectors_DuplicateProbesRejected(t *testing.T) {
	c := New()
	probes := Probes{ReplayPeers: func() int { return 1 }}
	if err := c.RegisterProbes(probes); err != nil {
		t.Fatalf("first RegisterProbes failed: %v", err)
	}
	if err := c.RegisterProbes(probes); err == nil {
		t.Error("duplicate probe registration accepted")
	}
}

// 独立实例互不干扰
func TestCollectors_IndependentInstances(t *testing.T) {
	a, b := New(), New()
	a.DescriptorAccepted()

	if got := gatherValue(t, a.Registry(), "meshtrust_descriptors_accepted_total", nil); got != 1 {
		t.Errorf("instance a = %v, want 1", got)
	}
	if got := gatherValue(t, b.Registry(), "meshtrust_descriptors_accepted_total", nil); got != 0 {
		t.Errorf("instance b = %v, want 0", got)
	}
}
