// Package preload 负责在新缓存代安装阶段抓取固定清单资源，保证应用离线可启动。
package preload

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quiet-time/quiet-time/internal/cache"
	"github.com/quiet-time/quiet-time/internal/server"
)

// Preloader 将清单中的每个路径抓取并写入指定缓存代。任一资源最终失败则整体失败，
// 绝不把半成品缓存代标记为可用。
type Preloader struct {
	client         *http.Client
	upstream       *url.URL
	store          cache.Store
	logger         *logrus.Logger
	maxRetries     int
	initialBackoff time.Duration
}

// Options 聚合构造参数，重试与退避沿用全局配置。
type Options struct {
	Client         *http.Client
	Upstream       *url.URL
	Store          cache.Store
	Logger         *logrus.Logger
	MaxRetries     int
	InitialBackoff time.Duration
}

// New 构造 Preloader；Client/Upstream/Store/Logger 均为必填。
func New(opts Options) (*Preloader, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("http client required")
	}
	if opts.Upstream == nil {
		return nil, fmt.Errorf("upstream url required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("cache store required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Preloader{
		client:         opts.Client,
		upstream:       opts.Upstream,
		store:          opts.Store,
		logger:         opts.Logger,
		maxRetries:     opts.MaxRetries,
		initialBackoff: backoff,
	}, nil
}

// Preload 按顺序抓取 manifest 并写入 generation。全量成功才返回 nil。
func (p *Preloader) Preload(ctx context.Context, generation string, manifest []string) error {
	for _, assetPath := range manifest {
		if err := p.preloadAsset(ctx, generation, assetPath); err != nil {
			return fmt.Errorf("preload %s: %w", assetPath, err)
		}
	}
	return nil
}

func (p *Preloader) preloadAsset(ctx context.Context, generation, assetPath string) error {
	var lastErr error
	backoff := p.initialBackoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			p.logger.WithFields(logrus.Fields{
				"action":  "preload_retry",
				"path":    assetPath,
				"attempt": attempt,
			}).Warn(lastErr.Error())
		}

		lastErr = p.fetchAndStore(ctx, generation, assetPath)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (p *Preloader) fetchAndStore(ctx context.Context, generation, assetPath string) error {
	target := p.upstream.ResolveReference(&url.URL{Path: assetPath})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	headers := http.Header{}
	server.CopyHeaders(headers, resp.Header)
	meta := cache.SnapshotMeta{
		Status:    resp.StatusCode,
		Headers:   headers,
		FetchedAt: time.Now().UTC(),
	}

	locator := cache.Locator{Generation: generation, Path: assetPath}
	if _, err := p.store.Put(ctx, locator, meta, resp.Body); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"action":     "preload_asset",
		"generation": generation,
		"path":       assetPath,
	}).Debug("预载完成")
	return nil
}
