package config

import (
	"errors"
	"time"
)

// GuardConfig 防护配置
//
// 控制重放防护与速率限制：
//   - 消息 ID 去重窗口
//   - 身份识别前（按来源地址）与身份识别后（按节点 ID）两级限速
//   - 后台清理节奏
type GuardConfig struct {
	// ReplayRetention 消息 ID 去重记录的保留时长
	// 必须覆盖信封时间戳容忍窗口，否则重放可在窗口边缘漏过
	ReplayRetention Duration `json:"replay_retention"`

	// ReplayPerPeerCap 单个节点并存去重记录数量上限
	// 防止单节点灌水耗尽内存
	ReplayPerPeerCap int `json:"replay_per_peer_cap"`

	// ReplaySweepInterval 重放防护空闲节点清理间隔
	ReplaySweepInterval Duration `json:"replay_sweep_interval"`

	// PreAuthRatePerMin 身份识别前每来源地址每分钟消息上限
	PreAuthRatePerMin int `json:"pre_auth_rate_per_min"`

	// PostAuthRatePerMin 身份识别后每节点 ID 每分钟消息上限
	PostAuthRatePerMin int `json:"post_auth_rate_per_min"`

	// RateIdleTimeout 限速桶空闲多久后回收
	RateIdleTimeout Duration `json:"rate_idle_timeout"`

	// RateSweepInterval 限速桶清理间隔
	RateSweepInterval Duration `json:"rate_sweep_interval"`
}

// DefaultGuardConfig 返回默认防护配置
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		ReplayRetention:     Duration(10 * time.Minute), // 去重记录保留 10 分钟
		ReplayPerPeerCap:    8192,                       // 容纳满限速节点在窗口内的全部消息
		ReplaySweepInterval: Duration(1 * time.Minute),  // 每分钟清理一次空闲节点
		PreAuthRatePerMin:   100,                        // 识别前每地址 100 条/分钟
		PostAuthRatePerMin:  500,                        // 识别后每节点 500 条/分钟
		RateIdleTimeout:     Duration(10 * time.Minute), // 空闲 10 分钟的限速桶回收
		RateSweepInterval:   Duration(5 * time.Minute),  // 每 5 分钟清理一次限速桶
	}
}

// Validate 验证防护配置
func (c GuardConfig) Validate() error {
	if c.ReplayRetention.Duration() <= 0 {
		return errors.New("guard: replay_retention must be positive")
	}
	if c.ReplayPerPeerCap <= 0 {
		return errors.New("guard: replay_per_peer_cap must be positive")
	}
	if c.ReplaySweepInterval.Duration() <= 0 {
		return errors.New("guard: replay_sweep_interval must be positive")
	}
	if c.PreAuthRatePerMin <= 0 {
		return errors.New("guard: pre_auth_rate_per_min must be positive")
	}
	if c.PostAuthRatePerMin <= 0 {
		return errors.New("guard: post_auth_rate_per_min must be positive")
	}
	if c.RateIdleTimeout.Duration() <= 0 {
		return errors.New("guard: rate_idle_timeout must be positive")
	}
	if c.RateSweepInterval.Duration() <= 0 {
		return errors.New("guard: rate_sweep_interval must be positive")
	}
	return nil
}

// WithReplayRetention 设置去重记录保留时长
func (c GuardConfig) WithReplayRetention(d time.Duration) GuardConfig {
	c.ReplayRetention = Duration(d)
	return c
}

// WithRates 设置两级限速值
func (c GuardConfig) WithRates(preAuth, postAuth int) GuardConfig {
	c.PreAuthRatePerMin = preAuth
	c.PostAuthRatePerMin = postAuth
	return c
}
