package types

// ============================================================================
//                              MessageType - 控制消息类型
// ============================================================================

// MessageType 控制面消息类型
//
// 封闭枚举：分发边界对类型做穷尽匹配，
// 未知类型是一个独立的拒绝类别，而非默认分支。
type MessageType uint8

const (
	// MessageTypeUnspecified 未指定（非法值）
	MessageTypeUnspecified MessageType = 0
	// MessageTypePing 存活探测
	MessageTypePing MessageType = 1
	// MessageTypeFindPeer 节点查询
	MessageTypeFindPeer MessageType = 2
	// MessageTypeSwarmOffer 集群下载源通告
	MessageTypeSwarmOffer MessageType = 3
	// MessageTypeSwarmRequest 集群下载请求
	MessageTypeSwarmRequest MessageType = 4
	// MessageTypeChunkHave 块持有通告
	MessageTypeChunkHave MessageType = 5
	// MessageTypeDirectoryQuery 目录查询
	MessageTypeDirectoryQuery MessageType = 6
	// MessageTypeDirectoryAnswer 目录应答
	MessageTypeDirectoryAnswer MessageType = 7
	// MessageTypeGoAway 连接终止通告
	MessageTypeGoAway MessageType = 8
)

// MessageTypes 全部已知消息类型列表
var MessageTypes = []MessageType{
	MessageTypePing,
	MessageTypeFindPeer,
	MessageTypeSwarmOffer,
	MessageTypeSwarmRequest,
	MessageTypeChunkHave,
	MessageTypeDirectoryQuery,
	MessageTypeDirectoryAnswer,
	MessageTypeGoAway,
}

// String 返回消息类型名称
func (t MessageType) String() string {
	switch t {
	case MessageTypePing:
		return "ping"
	case MessageTypeFindPeer:
		return "find_peer"
	case MessageTypeSwarmOffer:
		return "swarm_offer"
	case MessageTypeSwarmRequest:
		return "swarm_request"
	case MessageTypeChunkHave:
		return "chunk_have"
	case MessageTypeDirectoryQuery:
		return "directory_query"
	case MessageTypeDirectoryAnswer:
		return "directory_answer"
	case MessageTypeGoAway:
		return "goaway"
	default:
		return "unknown"
	}
}

// Known 检查消息类型是否在封闭枚举内
func (t MessageType) Known() bool {
	return t >= MessageTypePing && t <= MessageTypeGoAway
}
