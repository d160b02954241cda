// Package interfaces 定义 MeshTrust 公共接口
//
// 本包只包含接口与纯数据类型，不包含实现，用于解耦核心组件：
//
//   - Directory：描述符目录（DHT 抽象）
//   - Transport / Connection / Stream：安全传输层抽象
//   - Engine：键值存储引擎抽象
//
// # 架构层
//
//   - 层级：pkg（公共包）
//   - 依赖：pkg/types
//   - 位置：Level 0（基础类型，无循环依赖）
//
// 实现位于 internal/ 下的对应子系统；外部调用方可以提供
// 自定义实现替换默认后端。
package interfaces
