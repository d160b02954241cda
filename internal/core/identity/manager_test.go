package identity

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/slskdn/go-meshtrust/config"
)

func testManagerConfig(keyDir string) config.IdentityConfig {
	cfg := config.DefaultIdentityConfig()
	cfg.KeyDir = keyDir
	return cfg
}

func TestManager_LoadOrCreate_Generates(t *testing.T) {
	dir := t.TempDir()
	manager := NewManager(testManagerConfig(dir))

	id, err := manager.LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if id.PeerID().IsEmpty() {
		t.Error("generated identity has empty PeerID")
	}

	// 密钥已落盘且权限受限
	info, err := os.Stat(filepath.Join(dir, identityKeyFileName))
	if err != nil {
		t.Fatalf("key file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file mode = %o, want 0600", perm)
	}
}

func TestManager_LoadOrCreate_LoadsSameIdentity(t *testing.T) {
	dir := t.TempDir()

	first, err := NewManager(testManagerConfig(dir)).LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}

	// 模拟重启：新的 Manager 实例加载同一目录
	second, err := NewManager(testManagerConfig(dir)).LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if !first.PeerID().Equal(second.PeerID()) {
		t.Errorf("identity changed across restarts: %s vs %s", first.PeerID(), second.PeerID())
	}
}

func TestManager_LoadOrCreate_AutoGenerateDisabled(t *testing.T) {
	cfg := testManagerConfig(t.TempDir())
	cfg.AutoGenerate = false

	_, err := NewManager(cfg).LoadOrCreate()
	if !errors.Is(err, ErrAutoGenerateDisabled) {
		t.Errorf("LoadOrCreate error = %v, want ErrAutoGenerateDisabled", err)
	}
}

func TestManager_LoadOrCreate_CorruptedIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, identityKeyFileName)

	corrupted := []byte("definitely not a private key")
	if err := os.WriteFile(path, corrupted, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	manager := NewManager(testManagerConfig(dir))

	// 损坏的密钥材料必须报错，即使 AutoGenerate 开启也绝不重新生成
	_, err := manager.LoadOrCreate()
	if err == nil {
		t.Fatal("LoadOrCreate should fail on corrupted key material")
	}
	if !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("LoadOrCreate error = %v, want ErrInvalidPEM", err)
	}

	// 原文件保持原样，没有被新密钥覆盖
	after, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("ReadFile failed: %v", readErr)
	}
	if !bytes.Equal(after, corrupted) {
		t.Error("corrupted key file was overwritten")
	}

	// 再次尝试仍然失败
	if _, err := manager.LoadOrCreate(); err == nil {
		t.Error("second LoadOrCreate should also fail")
	}
}

func TestManager_LoadOrCreate_Ephemeral(t *testing.T) {
	cfg := testManagerConfig("")

	first, err := NewManager(cfg).LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	// 内存身份不落盘，每次生成都是新身份
	second, err := NewManager(cfg).LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if first.PeerID().Equal(second.PeerID()) {
		t.Error("ephemeral identities should be independent")
	}
}

func TestManager_Rotate(t *testing.T) {
	dir := t.TempDir()
	manager := NewManager(testManagerConfig(dir))

	before, err := manager.LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	rotated, err := manager.Rotate()
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if rotated.PeerID().Equal(before.PeerID()) {
		t.Error("Rotate should produce a new PeerID")
	}

	// 轮换结果已持久化：重新加载得到新身份
	reloaded, err := manager.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reloaded.PeerID().Equal(rotated.PeerID()) {
		t.Error("rotated identity was not persisted")
	}
}

func TestManager_Passphrase(t *testing.T) {
	dir := t.TempDir()
	cfg := testManagerConfig(dir)
	cfg.Passphrase = "hunter2 but longer"

	created, err := NewManager(cfg).LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	// 带口令的 Manager 能重新加载
	loaded, err := NewManager(cfg).LoadOrCreate()
	if err != nil {
		t.Fatalf("reload with passphrase failed: %v", err)
	}
	if !loaded.PeerID().Equal(created.PeerID()) {
		t.Error("identity changed after encrypted reload")
	}

	// 没有口令时启动失败，而不是生成新身份
	noPass := testManagerConfig(dir)
	_, err = NewManager(noPass).LoadOrCreate()
	if !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("LoadOrCreate error = %v, want ErrPassphraseRequired", err)
	}

	// 口令错误同样失败
	wrongPass := testManagerConfig(dir)
	wrongPass.Passphrase = "wrong"
	_, err = NewManager(wrongPass).LoadOrCreate()
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("LoadOrCreate error = %v, want ErrWrongPassphrase", err)
	}
}

func TestManager_Create_RejectsECDSA(t *testing.T) {
	cfg := testManagerConfig("")
	cfg.KeyType = "ECDSA"

	_, err := NewManager(cfg).Create()
	if !errors.Is(err, ErrUnsupportedKeyType) {
		t.Errorf("Create error = %v, want ErrUnsupportedKeyType", err)
	}
}

func TestManager_Create_Secp256k1(t *testing.T) {
	cfg := testManagerConfig("")
	cfg.KeyType = "Secp256k1"

	id, err := NewManager(cfg).Create()
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := id.KeyType().String(); got != "Secp256k1" {
		t.Errorf("KeyType = %s, want Secp256k1", got)
	}
}

func TestManager_LoadKeyring_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	kr1, err := NewManager(testManagerConfig(dir)).LoadKeyring()
	if err != nil {
		t.Fatalf("LoadKeyring failed: %v", err)
	}
	current1, err := kr1.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	kr2, err := NewManager(testManagerConfig(dir)).LoadKeyring()
	if err != nil {
		t.Fatalf("second LoadKeyring failed: %v", err)
	}
	current2, err := kr2.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	if current1.KeyID() != current2.KeyID() {
		t.Errorf("signing key changed across restarts: %s vs %s", current1.KeyID(), current2.KeyID())
	}
}
