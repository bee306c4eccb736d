package config

import (
	"strings"
	"testing"
)

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig(t)
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := validConfig(t)
	cfg.Global.Policy = "freshest"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知策略应当报错")
	}
}

func TestValidateRejectsGenerationWithSeparator(t *testing.T) {
	cfg := validConfig(t)
	cfg.Global.Generation = "v3/../v2"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("含路径分隔符的 Generation 应当报错")
	}
}

func TestValidateRejectsRelativeManifestPath(t *testing.T) {
	cfg := validConfig(t)
	cfg.Global.Manifest = append(cfg.Global.Manifest, "app.js")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非根相对路径应当报错")
	}
}

func TestValidateRejectsDomainWithScheme(t *testing.T) {
	cfg := validConfig(t)
	cfg.Global.Domain = "https://quiet-time.local"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Domain 含协议头应当报错")
	}
}

func TestValidateRouteFieldError(t *testing.T) {
	cfg := validConfig(t)
	cfg.Routes = append(cfg.Routes, RouteConfig{Pattern: "no-slash", Policy: "cache-first"})
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("非法 Route 应当报错")
	}
	if !strings.Contains(err.Error(), "Route[") {
		t.Fatalf("错误信息应包含字段路径，得到 %v", err)
	}
}

func TestResolvePolicyUsesFirstMatchingRoute(t *testing.T) {
	cfg := validConfig(t)

	if got := cfg.ResolvePolicy("/data/devotions.json"); got != PolicyNetworkFirst {
		t.Fatalf("数据集路径应命中 network-first，得到 %s", got)
	}
	if got := cfg.ResolvePolicy("/app.js"); got != PolicyCacheFirst {
		t.Fatalf("外壳资源应命中 cache-first，得到 %s", got)
	}
}

func TestResolvePolicyFallsBackToGlobal(t *testing.T) {
	cfg := validConfig(t)
	cfg.Routes = nil
	if got := cfg.ResolvePolicy("/anything"); got != PolicyNetworkFirst {
		t.Fatalf("无路由匹配时应回退全局策略，得到 %s", got)
	}
}
