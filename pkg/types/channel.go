package types

// ============================================================================
//                              Channel - 传输通道
// ============================================================================

// Channel 传输通道类别
//
// 证书固定（Pinning）按 (PeerID, Channel) 维度记录，
// 控制面与数据面使用独立的证书与指纹集合。
type Channel uint8

const (
	// ChannelControl 控制面通道（描述符、控制信封）
	ChannelControl Channel = 1
	// ChannelData 数据面通道（块传输）
	ChannelData Channel = 2
)

// Channels 全部通道列表
var Channels = []Channel{ChannelControl, ChannelData}

// String 返回通道名称
func (c Channel) String() string {
	switch c {
	case ChannelControl:
		return "control"
	case ChannelData:
		return "data"
	default:
		return "unknown"
	}
}

// Valid 检查通道值是否合法
func (c Channel) Valid() bool {
	return c == ChannelControl || c == ChannelData
}
