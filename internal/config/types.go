package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Policy 标识拦截器的取数策略。
type Policy string

const (
	// PolicyNetworkFirst 先回源，失败时退回缓存快照。
	PolicyNetworkFirst Policy = "network-first"
	// PolicyCacheFirst 先读缓存，未命中才回源；离线时合成兜底响应。
	PolicyCacheFirst Policy = "cache-first"
)

// GlobalConfig 描述全局运行时行为，单实例代理共享同一份参数。
type GlobalConfig struct {
	ListenPort           int      `mapstructure:"ListenPort"`
	LogLevel             string   `mapstructure:"LogLevel"`
	LogFilePath          string   `mapstructure:"LogFilePath"`
	LogMaxSize           int      `mapstructure:"LogMaxSize"`
	LogMaxBackups        int      `mapstructure:"LogMaxBackups"`
	LogCompress          bool     `mapstructure:"LogCompress"`
	StoragePath          string   `mapstructure:"StoragePath"`
	Upstream             string   `mapstructure:"Upstream"`
	Domain               string   `mapstructure:"Domain"`
	Generation           string   `mapstructure:"Generation"`
	Policy               string   `mapstructure:"Policy"`
	Manifest             []string `mapstructure:"Manifest"`
	FallbackPath         string   `mapstructure:"FallbackPath"`
	DatasetPath          string   `mapstructure:"DatasetPath"`
	MaxMemoryCache       int64    `mapstructure:"MaxMemoryCacheSize"`
	MaxRetries           int      `mapstructure:"MaxRetries"`
	InitialBackoff       Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout      Duration `mapstructure:"UpstreamTimeout"`
	RefreshOnHit         bool     `mapstructure:"RefreshOnHit"`
	RefreshSchedule      string   `mapstructure:"RefreshSchedule"`
	InstallRetrySchedule string   `mapstructure:"InstallRetrySchedule"`
}

// RouteConfig 将路径前缀映射到指定策略，未匹配的请求使用全局 Policy。
type RouteConfig struct {
	Pattern string `mapstructure:"Pattern"`
	Policy  string `mapstructure:"Policy"`
}

// NotesConfig 决定祷告笔记使用哪种本地存储后端。
type NotesConfig struct {
	Backend       string `mapstructure:"Backend"`
	Path          string `mapstructure:"Path"`
	RedisAddr     string `mapstructure:"RedisAddr"`
	RedisPassword string `mapstructure:"RedisPassword"`
	RedisDB       int    `mapstructure:"RedisDB"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Routes []RouteConfig `mapstructure:"Route"`
	Notes  NotesConfig   `mapstructure:"Notes"`
}

// PolicyValue 返回全局策略，空值回退到 network-first。
func (g GlobalConfig) PolicyValue() Policy {
	if p := Policy(strings.ToLower(strings.TrimSpace(g.Policy))); p == PolicyCacheFirst {
		return PolicyCacheFirst
	}
	return PolicyNetworkFirst
}

// NotesBackend 输出 `file` 或 `redis`，供启动日志与工厂方法使用。
func (n NotesConfig) NotesBackend() string {
	if strings.EqualFold(strings.TrimSpace(n.Backend), "redis") {
		return "redis"
	}
	return "file"
}
