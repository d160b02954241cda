package identity

import (
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/slskdn/go-meshtrust/pkg/lib/crypto"
)

func TestSaveLoadPEM_RoundTrip(t *testing.T) {
	for _, keyType := range []crypto.KeyType{crypto.KeyTypeEd25519, crypto.KeyTypeSecp256k1} {
		t.Run(keyType.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "identity.pem")

			id, err := Generate(keyType)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if err := SavePrivateKeyPEM(path, id.privateKey, ""); err != nil {
				t.Fatalf("SavePrivateKeyPEM failed: %v", err)
			}

			key, err := LoadPrivateKeyPEM(path, "")
			if err != nil {
				t.Fatalf("LoadPrivateKeyPEM failed: %v", err)
			}

			loaded, err := NewIdentity(key)
			if err != nil {
				t.Fatalf("NewIdentity failed: %v", err)
			}
			if !loaded.PeerID().Equal(id.PeerID()) {
				t.Errorf("reloaded PeerID = %s, want %s", loaded.PeerID(), id.PeerID())
			}
		})
	}
}

func TestSavePEM_FileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")

	id, err := Generate(crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := SavePrivateKeyPEM(path, id.privateKey, ""); err != nil {
		t.Fatalf("SavePrivateKeyPEM failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 0600", perm)
	}
}

func TestLoadPEM_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pem")
	_, err := LoadPrivateKeyPEM(path, "")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("LoadPrivateKeyPEM error = %v, want ErrKeyNotFound", err)
	}
}

func TestLoadPEM_CorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")
	if err := os.WriteFile(path, []byte("not a pem file"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := LoadPrivateKeyPEM(path, "")
	if !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("LoadPrivateKeyPEM error = %v, want ErrInvalidPEM", err)
	}
}

func TestLoadPEM_CorruptedKeyBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")

	// PEM 结构合法但密钥字节长度错误
	block := &pem.Block{Type: pemTypeEd25519Private, Bytes: []byte{1, 2, 3}}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := LoadPrivateKeyPEM(path, "")
	if !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("LoadPrivateKeyPEM error = %v, want ErrInvalidPEM", err)
	}
}

func TestLoadPEM_UnknownBlockType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte("whatever")}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := LoadPrivateKeyPEM(path, "")
	if !errors.Is(err, ErrUnsupportedKeyType) {
		t.Errorf("LoadPrivateKeyPEM error = %v, want ErrUnsupportedKeyType", err)
	}
}

func TestSaveLoadPEM_Encrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")
	const passphrase = "correct horse battery staple"

	id, err := Generate(crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := SavePrivateKeyPEM(path, id.privateKey, passphrase); err != nil {
		t.Fatalf("SavePrivateKeyPEM failed: %v", err)
	}

	// 磁盘上是加密信封，不是明文密钥
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		t.Fatal("on-disk file is not PEM")
	}
	if block.Type != pemTypeEncryptedPrivate {
		t.Errorf("PEM block type = %q, want %q", block.Type, pemTypeEncryptedPrivate)
	}

	// 正确口令解密成功
	key, err := LoadPrivateKeyPEM(path, passphrase)
	if err != nil {
		t.Fatalf("LoadPrivateKeyPEM failed: %v", err)
	}
	loaded, err := NewIdentity(key)
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	if !loaded.PeerID().Equal(id.PeerID()) {
		t.Errorf("reloaded PeerID = %s, want %s", loaded.PeerID(), id.PeerID())
	}

	// 错误口令
	if _, err := LoadPrivateKeyPEM(path, "wrong passphrase"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("wrong passphrase error = %v, want ErrWrongPassphrase", err)
	}

	// 缺少口令
	if _, err := LoadPrivateKeyPEM(path, ""); !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("missing passphrase error = %v, want ErrPassphraseRequired", err)
	}
}

func TestSealKey_FreshRandomness(t *testing.T) {
	id, err := Generate(crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	s1, err := sealKey(id.privateKey, "pass")
	if err != nil {
		t.Fatalf("sealKey failed: %v", err)
	}
	s2, err := sealKey(id.privateKey, "pass")
	if err != nil {
		t.Fatalf("sealKey failed: %v", err)
	}
	if string(s1) == string(s2) {
		t.Error("sealKey produced identical envelopes, salt/nonce not fresh")
	}
}

func TestOpenKey_TruncatedEnvelope(t *testing.T) {
	_, err := openKey([]byte{1, 2, 3}, "pass")
	if !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("openKey error = %v, want ErrInvalidPEM", err)
	}
}

func TestSavePEM_AtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.pem")

	first, err := Generate(crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	second, err := Generate(crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if err := SavePrivateKeyPEM(path, first.privateKey, ""); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := SavePrivateKeyPEM(path, second.privateKey, ""); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	key, err := LoadPrivateKeyPEM(path, "")
	if err != nil {
		t.Fatalf("LoadPrivateKeyPEM failed: %v", err)
	}
	loaded, err := NewIdentity(key)
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	if !loaded.PeerID().Equal(second.PeerID()) {
		t.Error("overwrite did not replace key material")
	}

	// 没有遗留的临时文件
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", entry.Name())
		}
	}
}

func TestAtomicWriteFile_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "keys", "identity.pem")

	id, err := Generate(crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := SavePrivateKeyPEM(path, id.privateKey, ""); err != nil {
		t.Fatalf("SavePrivateKeyPEM failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("key file missing after save: %v", err)
	}
}
