package meshtrust

import (
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/pkg/interfaces"
	"github.com/slskdn/go-meshtrust/pkg/lib/log"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 预设与完整配置
	preset     string
	userConfig *config.Config

	// 存储配置
	dataDir  string
	inMemory bool

	// 身份配置
	keyDir     string
	keyType    string
	passphrase string

	// 传输与通告
	listenAddr string
	endpoints  []string

	// 目录注入（网格部署中由 DHT 适配器提供）
	directory interfaces.Directory

	// 日志级别
	logLevel *slog.Level

	// 用户自定义 Fx 选项
	fxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{}
}

// toConfig 将选项合成为内部配置
//
// 合成顺序与选项的书写顺序无关：
//  1. 显式配置（WithConfig）或预设（WithPreset）作为基底
//  2. 逐项覆盖（存储、身份、传输）
//  3. 推导：设置了数据目录但未设置密钥目录时，密钥落在
//     数据目录的 keys/ 子目录下
func (o *options) toConfig() *config.Config {
	cfg := o.userConfig
	if cfg == nil {
		cfg = GetConfigByPreset(o.preset)
	}

	// 覆盖: 存储
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	if o.inMemory {
		cfg.Storage.InMemory = true
	}

	// 覆盖: 身份
	if o.keyDir != "" {
		cfg.Identity.KeyDir = o.keyDir
	}
	if o.keyType != "" {
		cfg.Identity.KeyType = o.keyType
	}
	if o.passphrase != "" {
		cfg.Identity.Passphrase = o.passphrase
	}

	// 覆盖: 传输与通告
	if o.listenAddr != "" {
		cfg.Transport.ListenAddr = o.listenAddr
	}
	if len(o.endpoints) > 0 {
		cfg.Descriptor.Endpoints = append([]string(nil), o.endpoints...)
	}

	// 推导: 显式数据目录隐含身份持久化
	if o.dataDir != "" && o.keyDir == "" && cfg.Identity.KeyDir == "" && !o.inMemory {
		cfg.Identity.KeyDir = cfg.Storage.KeysPath()
	}

	return cfg
}

// ============================================================================
//                              预设与配置选项
// ============================================================================

// WithPreset 使用预设配置作为基底
//
// 支持的预设名称见 AvailablePresets。与 WithConfig 同时使用时
// WithConfig 优先，预设被忽略。
//
//	plane, err := meshtrust.New(ctx, meshtrust.WithPreset(meshtrust.PresetNameServer))
func WithPreset(name string) Option {
	return func(o *options) error {
		if !IsValidPreset(name) {
			return fmt.Errorf("未知的预设名称: %q", name)
		}
		o.preset = name
		return nil
	}
}

// WithConfig 使用完整的内部配置
//
// 跳过预设，直接以给定配置为基底。之后的单项选项仍会覆盖
// 对应字段。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("配置不能为空")
		}
		o.userConfig = cfg
		return nil
	}
}

// ============================================================================
//                              存储选项
// ============================================================================

// WithDataDir 设置数据目录
//
// 序列号表、已学习指纹与违规记录持久化在该目录下。
// 未单独设置密钥目录时，身份密钥落在 <dir>/keys/ 下。
func WithDataDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return fmt.Errorf("数据目录不能为空")
		}
		o.dataDir = dir
		return nil
	}
}

// WithInMemory 使用纯内存存储
//
// 进程退出后序列号、指纹与违规记录全部丢失，身份为内存临时
// 身份。适用于测试与短生命周期节点。
func WithInMemory() Option {
	return func(o *options) error {
		o.inMemory = true
		return nil
	}
}

// ============================================================================
//                              身份选项
// ============================================================================

// WithKeyDir 设置身份密钥目录
//
// 目录下存放身份私钥与签名密钥环。文件不存在时自动生成
// （由配置的 AutoGenerate 控制）。
func WithKeyDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return fmt.Errorf("密钥目录不能为空")
		}
		o.keyDir = dir
		return nil
	}
}

// WithKeyType 设置身份密钥类型
//
// 可选值: "Ed25519"（默认）、"Secp256k1"。
func WithKeyType(keyType string) Option {
	return func(o *options) error {
		if keyType == "" {
			return fmt.Errorf("密钥类型不能为空")
		}
		o.keyType = keyType
		return nil
	}
}

// WithPassphrase 设置身份私钥加密口令
//
// 非空时私钥以加密信封格式落盘，启动时必须提供同一口令。
func WithPassphrase(pass string) Option {
	return func(o *options) error {
		o.passphrase = pass
		return nil
	}
}

// ============================================================================
//                              网络选项
// ============================================================================

// WithListenAddr 设置控制通道监听地址
//
// 格式 "host:port"，端口 0 表示随机分配。
//
//	meshtrust.New(ctx, meshtrust.WithListenAddr("0.0.0.0:4801"))
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			return fmt.Errorf("监听地址不能为空")
		}
		o.listenAddr = addr
		return nil
	}
}

// WithEndpoints 设置静态通告地址
//
// 写入本节点描述符的 endpoints 字段，供远端拨号使用。
// 适用于监听 0.0.0.0 但对外通告公网地址的部署。
func WithEndpoints(endpoints ...string) Option {
	return func(o *options) error {
		for _, ep := range endpoints {
			if ep == "" {
				return fmt.Errorf("通告地址不能为空")
			}
		}
		o.endpoints = append([]string(nil), endpoints...)
		return nil
	}
}

// WithDirectory 注入描述符目录实现
//
// 网格部署中传入 DHT 适配器。未注入时使用进程内的
// MemoryDirectory，仅能发现共享同一目录实例的节点。
func WithDirectory(dir interfaces.Directory) Option {
	return func(o *options) error {
		if dir == nil {
			return fmt.Errorf("目录实现不能为空")
		}
		o.directory = dir
		return nil
	}
}

// ============================================================================
//                              诊断选项
// ============================================================================

// WithLogLevel 设置全局日志级别
//
// 作用于进程内的默认日志器，在构造时立即生效。
func WithLogLevel(level slog.Level) Option {
	return func(o *options) error {
		o.logLevel = &level
		return nil
	}
}

// WithFxOption 追加自定义 Fx 选项
//
// 高级用法：向依赖注入容器追加用户自己的模块或装饰器。
func WithFxOption(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}

// applyLogLevel 应用日志级别选项，构造早期调用
func (o *options) applyLogLevel() {
	if o.logLevel != nil {
		log.SetLevel(*o.logLevel)
	}
}
