package meshtrust

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slskdn/go-meshtrust/config"
	"github.com/slskdn/go-meshtrust/internal/core/descriptor"
	"github.com/slskdn/go-meshtrust/pkg/types"
)

// newTestPlane 创建并启动一个全内存控制平面
//
// 监听回环随机端口，描述符发布到共享的进程内目录。
func newTestPlane(t *testing.T, dir *MemoryDirectory, opts ...Option) *Plane {
	t.Helper()
	plane := newIdlePlane(t, dir, opts...)
	require.NoError(t, plane.Start(context.Background()))
	return plane
}

// newIdlePlane 创建但不启动控制平面
func newIdlePlane(t *testing.T, dir *MemoryDirectory, opts ...Option) *Plane {
	t.Helper()
	base := []Option{
		WithPreset(PresetNameEphemeral),
		WithListenAddr("127.0.0.1:0"),
		WithDirectory(dir),
	}
	plane, err := New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = plane.Close() })
	return plane
}

// recvMessage 在限时内等待一条入站消息
func recvMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for inbound message")
		return Message{}
	}
}

func TestPlane_Lifecycle(t *testing.T) {
	dir := NewMemoryDirectory()
	plane := newIdlePlane(t, dir)

	require.Equal(t, StateIdle, plane.State())
	assert.False(t, plane.IsRunning())
	// 身份在 New 阶段加载，启动前即可读取节点 ID
	assert.False(t, plane.ID().IsEmpty())

	// 未启动时收发接口一律拒绝
	var someone types.PeerID
	someone[0] = 0x42
	require.ErrorIs(t, plane.Send(context.Background(), someone, types.MessageTypePing, nil), ErrNotStarted)
	_, err := plane.PublishDescriptor(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, plane.Start(context.Background()))
	assert.Equal(t, StateRunning, plane.State())
	assert.True(t, plane.IsRunning())
	assert.False(t, plane.ID().IsEmpty())
	assert.NotEmpty(t, plane.ListenAddr())
	assert.GreaterOrEqual(t, plane.DescriptorSequence(), uint64(1))
	assert.Contains(t, plane.Endpoints(), plane.ListenAddr())

	// 重复启动
	require.ErrorIs(t, plane.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, plane.Stop(context.Background()))
	assert.Equal(t, StateStopped, plane.State())
	require.ErrorIs(t, plane.Send(context.Background(), someone, types.MessageTypePing, nil), ErrNotStarted)

	// 停止后的实例不能原地重启
	require.ErrorIs(t, plane.Start(context.Background()), ErrPlaneStopped)

	require.NoError(t, plane.Close())
	require.NoError(t, plane.Close(), "Close 应当幂等")
	require.ErrorIs(t, plane.Start(context.Background()), ErrPlaneClosed)
}

func TestPlane_EmptyPeerRejected(t *testing.T) {
	dir := NewMemoryDirectory()
	plane := newTestPlane(t, dir)

	require.ErrorIs(t, plane.Send(context.Background(), types.PeerID{}, types.MessageTypePing, nil), ErrEmptyPeerID)
	_, err := plane.ResolvePeer(context.Background(), types.PeerID{})
	require.ErrorIs(t, err, ErrEmptyPeerID)
	require.ErrorIs(t, plane.ForgetPeer(types.PeerID{}), ErrEmptyPeerID)
}

func TestPlane_SendToUnknownPeerFails(t *testing.T) {
	dir := NewMemoryDirectory()
	plane := newTestPlane(t, dir)

	var stranger types.PeerID
	for i := range stranger {
		stranger[i] = byte(i + 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.Error(t, plane.Send(ctx, stranger, types.MessageTypePing, nil))
}

// 双节点全链路：描述符发布与解析、QUIC 拨号、签名封装、
// 准入管线、处理器交付
func TestPlane_MessageExchange(t *testing.T) {
	dir := NewMemoryDirectory()
	alpha := newTestPlane(t, dir)
	beta := newTestPlane(t, dir)

	betaInbox := make(chan Message, 4)
	require.NoError(t, beta.Handle(types.MessageTypeSwarmOffer, func(_ context.Context, msg Message) error {
		betaInbox <- msg
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, alpha.Send(ctx, beta.ID(), types.MessageTypeSwarmOffer, []byte("offer-1")))

	msg := recvMessage(t, betaInbox)
	assert.Equal(t, alpha.ID(), msg.From)
	assert.Equal(t, types.MessageTypeSwarmOffer, msg.Type)
	assert.Equal(t, []byte("offer-1"), msg.Payload)
	assert.NotEmpty(t, msg.MessageID)
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Minute)

	// 反向发送复用 beta 侧入池的入站连接
	alphaInbox := make(chan Message, 4)
	require.NoError(t, alpha.Handle(types.MessageTypeChunkHave, func(_ context.Context, msg Message) error {
		alphaInbox <- msg
		return nil
	}))
	require.NoError(t, beta.Send(ctx, alpha.ID(), types.MessageTypeChunkHave, []byte{0x01}))

	back := recvMessage(t, alphaInbox)
	assert.Equal(t, beta.ID(), back.From)
	assert.Equal(t, types.MessageTypeChunkHave, back.Type)

	assert.GreaterOrEqual(t, alpha.ConnectionCount(), 1)
	assert.Contains(t, alpha.ConnectedPeers(), beta.ID())
}

// Start 之前注册的处理器不丢启动窗口内的首批消息
func TestPlane_HandlerRegisteredBeforeStart(t *testing.T) {
	dir := NewMemoryDirectory()
	alpha := newTestPlane(t, dir)

	beta := newIdlePlane(t, dir)
	inbox := make(chan Message, 1)
	require.NoError(t, beta.Handle(types.MessageTypePing, func(_ context.Context, msg Message) error {
		inbox <- msg
		return nil
	}))
	// 同一类型重复注册被拒绝
	require.Error(t, beta.Handle(types.MessageTypePing, func(_ context.Context, _ Message) error { return nil }))

	require.NoError(t, beta.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, alpha.Ping(ctx, beta.ID()))

	msg := recvMessage(t, inbox)
	assert.Equal(t, alpha.ID(), msg.From)
	assert.Equal(t, types.MessageTypePing, msg.Type)
	assert.Empty(t, msg.Payload)
}

// 签名密钥轮换后消息不断流：新密钥立即生效，接收方因未知
// 密钥提示强制刷新描述符后接受
func TestPlane_SigningKeyRotationPropagates(t *testing.T) {
	dir := NewMemoryDirectory()
	alpha := newTestPlane(t, dir)
	beta := newTestPlane(t, dir)

	inbox := make(chan Message, 4)
	require.NoError(t, beta.Handle(types.MessageTypePing, func(_ context.Context, msg Message) error {
		inbox <- msg
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 轮换前的基线交换，beta 缓存 alpha 的当前描述符
	require.NoError(t, alpha.Ping(ctx, beta.ID()))
	recvMessage(t, inbox)

	seqBefore := alpha.DescriptorSequence()
	require.NoError(t, alpha.RotateSigningKey(ctx))
	assert.Greater(t, alpha.DescriptorSequence(), seqBefore,
		"轮换必须发布更高序号的描述符")

	// 新密钥签名的消息仍然送达
	require.NoError(t, alpha.Ping(ctx, beta.ID()))
	msg := recvMessage(t, inbox)
	assert.Equal(t, alpha.ID(), msg.From)

	// beta 视角的描述符已推进过轮换点
	info, err := beta.ResolvePeer(ctx, alpha.ID())
	require.NoError(t, err)
	assert.Greater(t, info.Sequence, seqBefore)
}

// 把旧描述符塞回目录模拟回滚攻击：已缓存更高序号的接收方
// 拒绝降级，继续服务缓存副本
func TestPlane_StaleDescriptorRollbackRejected(t *testing.T) {
	dir := NewMemoryDirectory()
	alpha := newTestPlane(t, dir)
	beta := newTestPlane(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	key := descriptor.DirectoryKey(alpha.ID())
	staleWire, err := dir.GetValue(ctx, key)
	require.NoError(t, err, "目录里应有 alpha 启动时发布的描述符")
	staleDesc, err := descriptor.DecodeWire(staleWire, config.MaxDescriptorBytesBound)
	require.NoError(t, err)
	staleSeq := staleDesc.Sequence

	// alpha 正常推进一个序号，beta 解析并缓存
	newSeq, err := alpha.PublishDescriptor(ctx)
	require.NoError(t, err)
	require.Greater(t, newSeq, staleSeq)

	info, err := beta.ResolvePeer(ctx, alpha.ID())
	require.NoError(t, err)
	require.Equal(t, newSeq, info.Sequence)

	// 攻击者重放旧描述符
	require.NoError(t, dir.PutValue(ctx, key, staleWire, time.Hour))

	// 强制刷新也不会接受降级记录，缓存副本继续生效
	d, err := beta.resolver.Refresh(ctx, alpha.ID())
	require.NoError(t, err)
	assert.Equal(t, newSeq, d.Sequence, "序号水位必须停在重放之前的高度")

	info, err = beta.ResolvePeer(ctx, alpha.ID())
	require.NoError(t, err)
	assert.Equal(t, newSeq, info.Sequence)
}

// 运维重置：ForgetPeer 清空对端的全部本地记账后可重新互信
func TestPlane_ForgetPeerResetsTrust(t *testing.T) {
	dir := NewMemoryDirectory()
	alpha := newTestPlane(t, dir)
	beta := newTestPlane(t, dir)

	inbox := make(chan Message, 4)
	require.NoError(t, beta.Handle(types.MessageTypePing, func(_ context.Context, msg Message) error {
		inbox <- msg
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, alpha.Ping(ctx, beta.ID()))
	recvMessage(t, inbox)

	require.NoError(t, beta.ForgetPeer(alpha.ID()))

	_, found, err := beta.sequences.LastSeen(alpha.ID())
	require.NoError(t, err)
	assert.False(t, found, "序号水位应已清除")
	assert.NotContains(t, beta.ConnectedPeers(), alpha.ID())

	// beta 侧的连接已随遗忘关闭，alpha 同步丢弃本地残留，
	// 避免复用悼亡连接
	require.NoError(t, alpha.ForgetPeer(beta.ID()))

	// 双方按首次见面重新学习，消息继续送达
	require.NoError(t, alpha.Ping(ctx, beta.ID()))
	msg := recvMessage(t, inbox)
	assert.Equal(t, alpha.ID(), msg.From)
}

func TestPlane_PinViolationsCleanExchange(t *testing.T) {
	dir := NewMemoryDirectory()
	alpha := newTestPlane(t, dir)
	beta := newTestPlane(t, dir)

	inbox := make(chan Message, 1)
	require.NoError(t, beta.Handle(types.MessageTypePing, func(_ context.Context, msg Message) error {
		inbox <- msg
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, alpha.Ping(ctx, beta.ID()))
	recvMessage(t, inbox)

	violations, err := beta.PinViolations(alpha.ID())
	require.NoError(t, err)
	assert.Empty(t, violations, "诚实交换不应产生固定违规")
}

func TestPlane_MetricsHandler(t *testing.T) {
	dir := NewMemoryDirectory()
	plane := newTestPlane(t, dir)

	h := plane.MetricsHandler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "meshtrust_"),
		"指标输出应带 meshtrust 命名空间")
}

func TestRotateIdentity(t *testing.T) {
	keyDir := t.TempDir()

	first, err := RotateIdentity(WithKeyDir(keyDir))
	require.NoError(t, err)
	require.False(t, first.IsEmpty())

	second, err := RotateIdentity(WithKeyDir(keyDir))
	require.NoError(t, err)
	require.False(t, second.IsEmpty())
	assert.NotEqual(t, first, second, "每次轮换都产生新身份")

	// 之后创建的控制平面加载轮换后的身份
	plane := newTestPlane(t, NewMemoryDirectory(), WithKeyDir(keyDir))
	assert.Equal(t, second, plane.ID())
}

func TestStartConvenience(t *testing.T) {
	dir := NewMemoryDirectory()
	plane, err := Start(context.Background(),
		WithPreset(PresetNameEphemeral),
		WithListenAddr("127.0.0.1:0"),
		WithDirectory(dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = plane.Close() })

	assert.True(t, plane.IsRunning())
	assert.False(t, plane.ID().IsEmpty())
}
