package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	v := cfg.Snapshot()
	if v.Port != 4001 {
		t.Fatalf("port = %d", v.Port)
	}
	if v.PushBatchSize != 20 {
		t.Fatalf("batch = %d", v.PushBatchSize)
	}
	if cfg.IsPaired() {
		t.Fatalf("fresh config reports paired")
	}
}

func TestLoadMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"hubSecret":"s3cret","port":9090}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v := cfg.Snapshot()
	if v.HubSecret != "s3cret" || v.Port != 9090 {
		t.Fatalf("merge failed: %+v", v)
	}
	// Untouched fields keep their defaults.
	if v.Env != "dev" {
		t.Fatalf("env = %s", v.Env)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"cloudBaseUrl":"https://from-file"}`), 0o600)

	t.Setenv("EDGEHUB_CLOUD_URL", "https://from-env")
	t.Setenv("EDGEHUB_PORT", "7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v := cfg.Snapshot()
	if v.CloudBaseURL != "https://from-env" {
		t.Fatalf("cloud url = %s", v.CloudBaseURL)
	}
	if v.Port != 7777 {
		t.Fatalf("port = %d", v.Port)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{not json`), 0o600)

	if _, err := Load(path); err == nil {
		t.Fatalf("malformed file accepted")
	}
}

func TestSetCredentialsPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := cfg.SetCredentials("https://cloud.example", "key-1", "tenant-1", "loc-1"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	if !cfg.IsPaired() {
		t.Fatalf("not paired after set")
	}

	// The file on disk reflects the pairing.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(b, &onDisk); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if onDisk["cloudApiKey"] != "key-1" || onDisk["tenantId"] != "tenant-1" {
		t.Fatalf("persisted = %v", onDisk)
	}

	// A fresh Load sees the same credentials.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !again.IsPaired() || again.Snapshot().LocationID != "loc-1" {
		t.Fatalf("reload lost credentials: %+v", again.Snapshot())
	}
}
