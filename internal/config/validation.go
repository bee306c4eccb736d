package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if err := validateDomain(g.Domain); err != nil {
		return fmt.Errorf("Global.Domain: %w", err)
	}
	if g.Generation == "" {
		return newFieldError("Global.Generation", "不能为空")
	}
	if strings.ContainsAny(g.Generation, "/\\") {
		return newFieldError("Global.Generation", "不允许包含路径分隔符")
	}
	if err := validatePolicy(g.Policy); err != nil {
		return fmt.Errorf("Global.Policy: %w", err)
	}
	if len(g.Manifest) == 0 {
		return newFieldError("Global.Manifest", "至少需要一个预载路径")
	}
	for _, p := range g.Manifest {
		if !strings.HasPrefix(p, "/") {
			return newFieldError("Global.Manifest", "路径必须以 / 开头: "+p)
		}
	}
	if !strings.HasPrefix(g.FallbackPath, "/") {
		return newFieldError("Global.FallbackPath", "必须以 / 开头")
	}
	if !strings.HasPrefix(g.DatasetPath, "/") {
		return newFieldError("Global.DatasetPath", "必须以 / 开头")
	}
	if g.MaxMemoryCache <= 0 {
		return newFieldError("Global.MaxMemoryCacheSize", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	for i := range c.Routes {
		route := &c.Routes[i]
		if !strings.HasPrefix(route.Pattern, "/") {
			return newFieldError(routeField(i, "Pattern"), "必须以 / 开头")
		}
		if err := validatePolicy(route.Policy); err != nil {
			return fmt.Errorf("%s: %w", routeField(i, "Policy"), err)
		}
	}

	switch c.Notes.NotesBackend() {
	case "file":
		if c.Notes.Path == "" {
			return newFieldError("Notes.Path", "不能为空")
		}
	case "redis":
		if c.Notes.RedisAddr == "" {
			return newFieldError("Notes.RedisAddr", "不能为空")
		}
	}

	return nil
}

func validatePolicy(raw string) error {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case PolicyNetworkFirst, PolicyCacheFirst:
		return nil
	case "":
		return errors.New("不能为空")
	default:
		return fmt.Errorf("仅支持 %s/%s", PolicyNetworkFirst, PolicyCacheFirst)
	}
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// ResolvePolicy 按 Route 顺序做前缀匹配，返回请求路径生效的策略。
func (c *Config) ResolvePolicy(path string) Policy {
	for _, route := range c.Routes {
		if strings.HasPrefix(path, route.Pattern) {
			if p := Policy(strings.ToLower(strings.TrimSpace(route.Policy))); p == PolicyCacheFirst || p == PolicyNetworkFirst {
				return p
			}
		}
	}
	return c.Global.PolicyValue()
}
