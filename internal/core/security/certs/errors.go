package certs

import "errors"

var (
	// ErrUnknownChannel 通道值不属于已定义的集合
	ErrUnknownChannel = errors.New("certs: unknown channel")

	// ErrMalformedCert 对端呈现的证书无法解析
	ErrMalformedCert = errors.New("certs: malformed certificate")

	// ErrNoPeerClaim 证书 CN 未携带合法的节点 ID
	ErrNoPeerClaim = errors.New("certs: certificate carries no peer claim")
)
