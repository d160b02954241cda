package control

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/identity"
)

// ============================================================================
// Sealer - 出站信封签名器
// ============================================================================

// Sealer 构造并签名出站控制信封
//
// 每条信封铸造新的 UUIDv4 消息 ID，用钥匙环的当前签名密钥
// 签名，并把密钥标识写入提示字段。时间戳取秒精度，与线格式
// 一致。
type Sealer struct {
	cfg     config.ControlConfig
	keyring *identity.Keyring
	clk     clock.Clock
}

// NewSealer 创建信封签名器
//
// 参数:
//   - cfg: 控制平面配置
//   - keyring: 签名密钥钥匙环
//
// 返回:
//   - *Sealer: 签名器实例
func NewSealer(cfg config.ControlConfig, keyring *identity.Keyring) *Sealer {
	return newSealerWithClock(cfg, keyring, clock.New())
}

func newSealerWithClock(cfg config.ControlConfig, keyring *identity.Keyring, clk clock.Clock) *Sealer {
	return &Sealer{
		cfg:     cfg,
		keyring: keyring,
		clk:     clk,
	}
}

// Seal 构造一条已签名的出站信封
//
// 返回:
//   - *Envelope: 已签名的信封
//   - error: 类型未知、无可用签名密钥或编码后超限时返回错误
func (s *Sealer) Seal(t MessageType, payload []byte) (*Envelope, error) {
	env, _, err := s.seal(t, payload)
	return env, err
}

// SealFrame 构造一条已签名的出站信封并返回线格式
func (s *Sealer) SealFrame(t MessageType, payload []byte) ([]byte, error) {
	_, frame, err := s.seal(t, payload)
	return frame, err
}

func (s *Sealer) seal(t MessageType, payload []byte) (*Envelope, []byte, error) {
	if !t.Known() {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}

	key, err := s.keyring.Current()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoSigningKey, err)
	}

	env := &Envelope{
		Type:        t,
		Timestamp:   s.clk.Now().UTC().Truncate(time.Second),
		MessageID:   uuid.NewString(),
		SignerKeyID: key.KeyID(),
		Payload:     payload,
	}

	signable, err := env.SignableBytes()
	if err != nil {
		return nil, nil, err
	}
	sig, err := key.Sign(signable)
	if err != nil {
		return nil, nil, fmt.Errorf("sign envelope: %w", err)
	}
	env.Signature = sig

	frame, err := EncodeEnvelope(env)
	if err != nil {
		return nil, nil, err
	}
	if s.cfg.MaxEnvelopeSize > 0 && len(frame) > s.cfg.MaxEnvelopeSize {
		return nil, nil, fmt.Errorf("%w: sealed frame %d bytes exceeds limit %d",
			ErrOversized, len(frame), s.cfg.MaxEnvelopeSize)
	}
	return env, frame, nil
}
