package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

const validConfigTOML = `
ListenPort = 5173
LogLevel = "info"
StoragePath = "./storage"
Upstream = "https://devotions.example.org"
Domain = "quiet-time.local"
Generation = "v3"
Policy = "network-first"
Manifest = ["/", "/index.html", "/app.js"]

[[Route]]
Pattern = "/data/"
Policy = "network-first"

[[Route]]
Pattern = "/"
Policy = "cache-first"
`

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(writeTempConfig(t, validConfigTOML))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	return cfg
}
