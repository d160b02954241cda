package crypto

import (
	"encoding/binary"
	"fmt"
)

// ============================================================================
//                              密钥序列化
// ============================================================================
//
// 线格式：[Type(1 字节)][Length(4 字节，大端)][Data(Length 字节)]
//
// 该格式用于密钥的持久化存储与节点描述符中的嵌入编码，
// 跨实现时必须保持字节级一致。

// 序列化格式常量
const (
	// keyHeaderSize 密钥头部大小（类型 1 字节 + 长度 4 字节）
	keyHeaderSize = 5
	// maxKeyDataSize 密钥数据的最大长度，防御畸形输入
	maxKeyDataSize = 1 << 13
)

// MarshalPublicKey 序列化公钥为字节
func MarshalPublicKey(pub PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, ErrNilPublicKey
	}

	raw, err := pub.Raw()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarshalFailed, err)
	}

	buf := make([]byte, keyHeaderSize+len(raw))
	buf[0] = byte(pub.Type())
	binary.BigEndian.PutUint32(buf[1:keyHeaderSize], uint32(len(raw)))
	copy(buf[keyHeaderSize:], raw)
	return buf, nil
}

// UnmarshalPublicKeyBytes 从字节反序列化公钥
func UnmarshalPublicKeyBytes(data []byte) (PublicKey, error) {
	keyType, keyData, err := splitKeyBytes(data)
	if err != nil {
		return nil, err
	}
	return UnmarshalPublicKey(keyType, keyData)
}

// MarshalPrivateKey 序列化私钥为字节
func MarshalPrivateKey(priv PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, ErrNilPrivateKey
	}

	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarshalFailed, err)
	}

	buf := make([]byte, keyHeaderSize+len(raw))
	buf[0] = byte(priv.Type())
	binary.BigEndian.PutUint32(buf[1:keyHeaderSize], uint32(len(raw)))
	copy(buf[keyHeaderSize:], raw)
	return buf, nil
}

// UnmarshalPrivateKeyBytes 从字节反序列化私钥
func UnmarshalPrivateKeyBytes(data []byte) (PrivateKey, error) {
	keyType, keyData, err := splitKeyBytes(data)
	if err != nil {
		return nil, err
	}
	return UnmarshalPrivateKey(keyType, keyData)
}

// splitKeyBytes 解析密钥头部并切出数据段
func splitKeyBytes(data []byte) (KeyType, []byte, error) {
	if len(data) < keyHeaderSize {
		return 0, nil, fmt.Errorf("%w: data too short (%d bytes)",
			ErrUnmarshalFailed, len(data))
	}

	keyType := KeyType(data[0])
	length := binary.BigEndian.Uint32(data[1:keyHeaderSize])
	if length > maxKeyDataSize {
		return 0, nil, fmt.Errorf("%w: declared length %d exceeds limit",
			ErrUnmarshalFailed, length)
	}
	if uint32(len(data)-keyHeaderSize) != length {
		return 0, nil, fmt.Errorf("%w: declared length %d, actual %d",
			ErrUnmarshalFailed, length, len(data)-keyHeaderSize)
	}
	return keyType, data[keyHeaderSize:], nil
}
