package devotional

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quiet-time/quiet-time/internal/cache"
)

// Resolver 解析“今日内容”：优先读当前缓存代里的数据集快照，
// 未命中时直接回源抓取（落盘交给拦截器，避免两条写路径）。
type Resolver struct {
	store       cache.Store
	client      *http.Client
	upstream    *url.URL
	generation  string
	datasetPath string
	logger      *logrus.Logger
}

// ResolverOptions 聚合构造参数；Store 可为 nil（纯回源模式）。
type ResolverOptions struct {
	Store       cache.Store
	Client      *http.Client
	Upstream    *url.URL
	Generation  string
	DatasetPath string
	Logger      *logrus.Logger
}

// NewResolver 构造 Resolver；Client/Upstream/Logger 为必填。
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Client == nil {
		return nil, errors.New("http client required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("upstream url required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	if opts.DatasetPath == "" {
		return nil, errors.New("dataset path required")
	}
	return &Resolver{
		store:       opts.Store,
		client:      opts.Client,
		upstream:    opts.Upstream,
		generation:  opts.Generation,
		datasetPath: opts.DatasetPath,
		logger:      opts.Logger,
	}, nil
}

// Today 返回 date 当天的经文与教义。
func (r *Resolver) Today(ctx context.Context, date time.Time) (Payload, error) {
	ds, err := r.loadDataset(ctx)
	if err != nil {
		return Payload{}, err
	}
	return ds.PayloadFor(date), nil
}

func (r *Resolver) loadDataset(ctx context.Context) (*Dataset, error) {
	if r.store != nil && r.generation != "" {
		locator := cache.Locator{Generation: r.generation, Path: r.datasetPath}
		if result, err := r.store.Get(ctx, locator); err == nil {
			defer result.Reader.Close()
			ds, parseErr := ParseDataset(result.Reader)
			if parseErr == nil {
				return ds, nil
			}
			r.logger.WithFields(logrus.Fields{
				"action": "dataset_cache_corrupt",
				"path":   r.datasetPath,
			}).Warn(parseErr.Error())
		}
	}

	target := r.upstream.ResolveReference(&url.URL{Path: r.datasetPath})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch dataset: unexpected status %d", resp.StatusCode)
	}
	return ParseDataset(resp.Body)
}
