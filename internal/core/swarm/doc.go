// Package swarm 维护到已知节点的控制通道连接池
//
// 池按节点 ID 复用既有连接：拨号经 singleflight 合并，同一
// 节点的并发请求只产生一次握手。出站地址来自解析到的描述符
// 端点列表，按序尝试，第一个握手成功的地址胜出。
//
// 入站连接由监听循环交给 Admit 登记，仅在该节点没有存活
// 连接时占据池位，已有连接不会被入站方向挤掉。
package swarm
