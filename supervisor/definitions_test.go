package supervisor

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/allforeco/echochamber/crypto"
)

func testEncryptor(t *testing.T) *crypto.AESEncryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error: %v", err)
	}
	return enc
}

func TestDefinitionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	def := Definition{
		Handle:      "chamber.example.com",
		Username:    "bot@example.com",
		AppPassword: "app-pass",
		Hostname:    "https://pds.example.com",
	}
	if err := SaveDefinition(dir, def, nil); err != nil {
		t.Fatalf("SaveDefinition() error: %v", err)
	}

	defs := ScanDefinitions(dir, nil)
	if len(defs) != 1 {
		t.Fatalf("ScanDefinitions() returned %d definitions, want 1", len(defs))
	}
	if defs[0] != def {
		t.Errorf("loaded = %+v, want %+v", defs[0], def)
	}

	if err := DeleteDefinition(dir, def.Handle); err != nil {
		t.Fatalf("DeleteDefinition() error: %v", err)
	}
	if defs := ScanDefinitions(dir, nil); len(defs) != 0 {
		t.Errorf("definitions remain after delete: %v", defs)
	}
	// Deleting an absent definition is not an error.
	if err := DeleteDefinition(dir, def.Handle); err != nil {
		t.Errorf("second DeleteDefinition() error: %v", err)
	}
}

func TestDefinitionEncryptedAtRest(t *testing.T) {
	dir := t.TempDir()
	enc := testEncryptor(t)
	def := Definition{
		Handle:      "chamber.example.com",
		Username:    "bot@example.com",
		AppPassword: "hunter2",
		Hostname:    "https://pds.example.com",
	}
	if err := SaveDefinition(dir, def, enc); err != nil {
		t.Fatalf("SaveDefinition() error: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "chamber.example.com.chamber"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Errorf("password stored in the clear:\n%s", raw)
	}
	if !strings.Contains(string(raw), `"app_password": "enc:`) {
		t.Errorf("stored password missing enc marker:\n%s", raw)
	}

	defs := ScanDefinitions(dir, enc)
	if len(defs) != 1 || defs[0].AppPassword != "hunter2" {
		t.Errorf("decrypted load = %+v", defs)
	}
}

func TestScanSkipsEncryptedWithoutKey(t *testing.T) {
	dir := t.TempDir()
	enc := testEncryptor(t)
	def := Definition{Handle: "a.example.com", Username: "u", AppPassword: "p", Hostname: "h"}
	if err := SaveDefinition(dir, def, enc); err != nil {
		t.Fatal(err)
	}
	if defs := ScanDefinitions(dir, nil); len(defs) != 0 {
		t.Errorf("encrypted definition loaded without a key: %v", defs)
	}
}

func TestScanSkipsCorruptDefinition(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.example.com.chamber"), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	good := Definition{Handle: "good.example.com", Username: "u", AppPassword: "p", Hostname: "h"}
	if err := SaveDefinition(dir, good, nil); err != nil {
		t.Fatal(err)
	}

	defs := ScanDefinitions(dir, nil)
	if len(defs) != 1 || defs[0].Handle != "good.example.com" {
		t.Errorf("ScanDefinitions() = %v, want only the valid definition", defs)
	}
}

func TestScanEmptyDirectory(t *testing.T) {
	if defs := ScanDefinitions(t.TempDir(), nil); len(defs) != 0 {
		t.Errorf("ScanDefinitions() = %v, want none", defs)
	}
}

func TestHandleComesFromFilename(t *testing.T) {
	dir := t.TempDir()
	// The handle is never serialized; a hand-edited file still resolves it
	// from the filename stem.
	body := `{"username":"u","app_password":"p","hostname":"h"}`
	if err := os.WriteFile(filepath.Join(dir, "renamed.example.com.chamber"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	defs := ScanDefinitions(dir, nil)
	if len(defs) != 1 || defs[0].Handle != "renamed.example.com" {
		t.Errorf("ScanDefinitions() = %v, want handle from filename", defs)
	}
}
