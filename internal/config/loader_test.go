package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg := validConfig(t)

	if cfg.Global.ListenPort != 5173 {
		t.Fatalf("ListenPort 应当被解析，得到 %d", cfg.Global.ListenPort)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("UpstreamTimeout 应该自动填充默认值")
	}
	if cfg.Global.InitialBackoff.DurationValue() != time.Second {
		t.Fatalf("InitialBackoff 应该自动填充默认值")
	}
	if cfg.Global.FallbackPath != "/" {
		t.Fatalf("FallbackPath 默认应为 /，得到 %s", cfg.Global.FallbackPath)
	}
	if cfg.Global.DatasetPath == "" {
		t.Fatalf("DatasetPath 应该有默认值")
	}
	if cfg.Notes.NotesBackend() != "file" {
		t.Fatalf("Notes 默认应使用 file 后端")
	}
	if cfg.Notes.Path == "" {
		t.Fatalf("file 后端应派生默认笔记目录")
	}
}

func TestLoadGeneratesDatedGenerationWhenUnset(t *testing.T) {
	content := strings.Replace(validConfigTOML, `Generation = "v3"`, "", 1)
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if !strings.HasPrefix(cfg.Global.Generation, "gen-") {
		t.Fatalf("未指定 Generation 时应按日期派生，得到 %s", cfg.Global.Generation)
	}
}

func TestLoadFailsWithMissingUpstream(t *testing.T) {
	content := strings.Replace(validConfigTOML, `Upstream = "https://devotions.example.org"`, "", 1)
	if _, err := Load(writeTempConfig(t, content)); err == nil {
		t.Fatalf("缺失上游地址的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	content := "UpstreamTimeout = \"boom\"\n" + validConfigTOML
	if _, err := Load(writeTempConfig(t, content)); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadParsesIntegerSecondsDuration(t *testing.T) {
	content := "UpstreamTimeout = 10\n" + validConfigTOML
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("纯数字秒值应被识别，得到 %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
}
