package meshtrust

import (
	"time"

	"github.com/slskdn/go-meshtrust/config"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置常量
// ════════════════════════════════════════════════════════════════════════════

// 预设名称常量
const (
	// PresetNameDesktop 桌面端预设名称
	PresetNameDesktop = "desktop"

	// PresetNameServer 服务器预设名称
	PresetNameServer = "server"

	// PresetNameMobile 移动端预设名称
	PresetNameMobile = "mobile"

	// PresetNameEphemeral 临时节点预设名称
	PresetNameEphemeral = "ephemeral"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置获取
// ════════════════════════════════════════════════════════════════════════════

// GetDesktopConfig 获取桌面端配置
//
// 适用场景：桌面客户端、个人电脑
// 特点：
//   - 所有组件使用默认值
//   - 持久化存储
//
// 示例：
//
//	cfg := meshtrust.GetDesktopConfig()
func GetDesktopConfig() *config.Config {
	return config.NewConfig()
}

// GetServerConfig 获取服务器配置
//
// 适用场景：常驻公网节点、目录服务节点
// 特点：
//   - 更高的准入限速（服务大量对端）
//   - 更大的描述符缓存与去重窗口容量
//   - 更频繁的后台清理
//
// 示例：
//
//	cfg := meshtrust.GetServerConfig()
func GetServerConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Guard.PreAuthRatePerMin = 300
	cfg.Guard.PostAuthRatePerMin = 2000
	cfg.Guard.ReplayPerPeerCap = 32768
	cfg.Guard.RateSweepInterval = config.Duration(2 * time.Minute)
	cfg.Control.CacheSize = 4096
	return cfg
}

// GetMobileConfig 获取移动端配置
//
// 适用场景：移动设备、电池供电设备
// 特点：
//   - 较小的缓存占用
//   - 更稀疏的保活与后台清理（减少唤醒）
//
// 示例：
//
//	cfg := meshtrust.GetMobileConfig()
func GetMobileConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Guard.ReplayPerPeerCap = 2048
	cfg.Guard.ReplaySweepInterval = config.Duration(2 * time.Minute)
	cfg.Guard.RateSweepInterval = config.Duration(10 * time.Minute)
	cfg.Control.CacheSize = 256
	cfg.Transport.KeepAlivePeriod = config.Duration(25 * time.Second)
	return cfg
}

// GetEphemeralConfig 获取临时节点配置
//
// 适用场景：测试环境、一次性节点
// 特点：
//   - 纯内存存储，退出后无痕
//   - 内存临时身份，每次启动生成新节点 ID
//
// 示例：
//
//	cfg := meshtrust.GetEphemeralConfig()
func GetEphemeralConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Storage.InMemory = true
	cfg.Identity.KeyDir = ""
	return cfg
}

// GetConfigByPreset 根据预设名称获取配置
//
// 支持的预设名称：
//   - "desktop"   - 桌面端配置（默认）
//   - "server"    - 服务器配置
//   - "mobile"    - 移动端配置
//   - "ephemeral" - 临时节点配置
//
// 如果名称未知或为空，返回桌面端配置（默认）。
func GetConfigByPreset(name string) *config.Config {
	switch name {
	case PresetNameServer:
		return GetServerConfig()
	case PresetNameMobile:
		return GetMobileConfig()
	case PresetNameEphemeral:
		return GetEphemeralConfig()
	case PresetNameDesktop:
		return GetDesktopConfig()
	default:
		// 默认返回桌面端配置
		return GetDesktopConfig()
	}
}

// GetDefaultConfig 获取默认配置
//
// 等同于 GetDesktopConfig()。
func GetDefaultConfig() *config.Config {
	return GetDesktopConfig()
}

// ════════════════════════════════════════════════════════════════════════════
//                              预设列表
// ════════════════════════════════════════════════════════════════════════════

// PresetInfo 预设信息
type PresetInfo struct {
	// Name 预设名称
	Name string

	// Description 预设描述
	Description string

	// UseCase 适用场景
	UseCase string
}

// AvailablePresets 返回所有可用预设的信息
//
// 示例：
//
//	for _, preset := range meshtrust.AvailablePresets() {
//	    fmt.Printf("%s: %s\n", preset.Name, preset.Description)
//	}
func AvailablePresets() []PresetInfo {
	return []PresetInfo{
		{
			Name:        PresetNameDesktop,
			Description: "桌面端默认配置，均衡的资源和防护",
			UseCase:     "桌面客户端、个人电脑",
		},
		{
			Name:        PresetNameServer,
			Description: "服务器优化配置，高准入吞吐",
			UseCase:     "常驻公网节点、目录服务节点",
		},
		{
			Name:        PresetNameMobile,
			Description: "移动端优化配置，低内存低唤醒",
			UseCase:     "移动设备、电池供电设备",
		},
		{
			Name:        PresetNameEphemeral,
			Description: "临时节点配置，内存存储与临时身份",
			UseCase:     "测试环境、一次性节点",
		},
	}
}

// IsValidPreset 检查预设名称是否有效
func IsValidPreset(name string) bool {
	switch name {
	case PresetNameDesktop, PresetNameServer, PresetNameMobile, PresetNameEphemeral:
		return true
	default:
		return false
	}
}
