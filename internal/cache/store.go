package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理某个存储根目录下全部缓存代的读写。磁盘布局遵循：
//
//	<StoragePath>/<Generation>/<path>    # 快照信封文件
//
// 每个条目由单个文件组成：首行为 JSON 元数据（状态码、响应头、抓取时间），
// 其后是原始正文字节。文件整体通过临时文件 + rename 原子替换。
type Store interface {
	// Get 返回一个可流式读取的缓存快照。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将上游响应写入缓存，并产出新的 Entry 描述。实现需保证写入原子性，
	// 失败或取消时清理临时文件，绝不留下截断的条目。
	Put(ctx context.Context, locator Locator, meta SnapshotMeta, body io.Reader) (*Entry, error)

	// Remove 删除单个条目，通常用于上游错误后的清理。
	Remove(ctx context.Context, locator Locator) error

	// Generations 枚举当前存在的缓存代名称。
	Generations(ctx context.Context) ([]string, error)

	// DeleteGeneration 整体删除一个缓存代及其全部条目。删除不存在的代
	// 是 no-op 而非错误，保证激活操作可以幂等重放。
	DeleteGeneration(ctx context.Context, name string) error
}

// Locator 唯一定位一个缓存条目（缓存代 + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	Generation string
	Path       string
}

// SnapshotMeta 是快照信封的元数据部分，随正文一并落盘。
type SnapshotMeta struct {
	Status    int         `json:"status"`
	Headers   http.Header `json:"headers,omitempty"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及正文大小。
type Entry struct {
	Locator   Locator      `json:"locator"`
	FilePath  string       `json:"file_path"`
	SizeBytes int64        `json:"size_bytes"`
	Meta      SnapshotMeta `json:"meta"`
}

// ReadResult 组合 Entry 与正文 Reader，便于拦截层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
