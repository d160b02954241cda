package resolver

import "errors"

// ErrNotFound 目录中不存在该节点的描述符记录
var ErrNotFound = errors.New("resolver: descriptor not found")

// ErrUnavailable 描述符当前不可用
//
// 覆盖目录故障、获取超时与查询结果中没有任何可用记录的
// 情形。调用方按失败关闭处理，不得退回到无验证的信任。
var ErrUnavailable = errors.New("resolver: descriptor unavailable")
