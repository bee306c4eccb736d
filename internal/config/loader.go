package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyNotesDefaults(&cfg.Notes, cfg.Global.StoragePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5173)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	// 单用户设备上的日志量很小，默认滚动阈值相应收紧。
	v.SetDefault("LogMaxSize", 10)
	v.SetDefault("LogMaxBackups", 3)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("Policy", string(PolicyNetworkFirst))
	v.SetDefault("Manifest", []string{"/", "/index.html", "/style.css", "/app.js", "/manifest.json"})
	v.SetDefault("FallbackPath", "/")
	v.SetDefault("DatasetPath", "/data/devotions.json")
	v.SetDefault("MaxMemoryCacheSize", 16*1024*1024)
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("RefreshOnHit", false)
	v.SetDefault("RefreshSchedule", "")
	v.SetDefault("InstallRetrySchedule", "@every 5m")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5173
	}
	if g.FallbackPath == "" {
		g.FallbackPath = "/"
	}
	if g.Generation == "" {
		// 未显式指定版本时按日期生成，保证同一次部署内保持稳定。
		g.Generation = "gen-" + time.Now().UTC().Format("20060102")
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxMemoryCache == 0 {
		g.MaxMemoryCache = 16 * 1024 * 1024
	}
}

func applyNotesDefaults(n *NotesConfig, storagePath string) {
	if n.Backend == "" {
		n.Backend = "file"
	}
	if n.Path == "" {
		n.Path = filepath.Join(storagePath, "notes")
	}
	if n.RedisAddr == "" {
		n.RedisAddr = "127.0.0.1:6379"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
