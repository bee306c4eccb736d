package intercept

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"path"
	"strings"

	"github.com/quiet-time/quiet-time/internal/cache"
	"github.com/quiet-time/quiet-time/internal/config"
)

// PolicyResolver 将请求路径映射到生效策略，由配置的路由表驱动。
type PolicyResolver func(path string) config.Policy

// buildLocator 构造缓存键：干净路径，查询串折叠为文件名后缀。
// 后缀让带查询串的条目成为裸路径条目的兄弟文件；若折叠成子目录，
// 裸路径一旦以普通文件落盘，同路径的查询串变体就永远写不进去了。
// 只有 GET 请求会产生缓存键，方法本身不参与键值。
func buildLocator(generation, clean string, rawQuery []byte) cache.Locator {
	if len(rawQuery) > 0 {
		sum := sha1.Sum(rawQuery)
		clean = fmt.Sprintf("%s__qs_%s", clean, hex.EncodeToString(sum[:]))
	}
	return cache.Locator{
		Generation: generation,
		Path:       clean,
	}
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

// normalizeOrigin 去掉端口与大小写差异，仅按主机名比较来源。
func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	return strings.ToLower(strings.TrimSuffix(raw, "."))
}
