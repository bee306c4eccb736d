package intercept

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/quiet-time/quiet-time/internal/cache"
	"github.com/quiet-time/quiet-time/internal/config"
	"github.com/quiet-time/quiet-time/internal/generation"
	"github.com/quiet-time/quiet-time/internal/logging"
	"github.com/quiet-time/quiet-time/internal/server"
)

// ErrStoreUnavailable 表示当前拦截器没有可用的缓存存储，只能纯透传。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Options 聚合拦截器的全部依赖与编译期配置（清单 + 策略路由）。
type Options struct {
	Client         *http.Client
	Store          cache.Store // 可为 nil：降级为纯透传，绝不让拦截管线崩溃
	Logger         *logrus.Logger
	Manager        *generation.Manager
	Generation     string
	Manifest       []string
	Upstream       *url.URL
	Domain         string
	FallbackPath   string
	Resolver       PolicyResolver
	MaxMemoryCache int64
	RefreshOnHit   bool
	QueueSize      int
}

// Interceptor 对每个外发 GET 决定页面收到什么字节，以及是否/如何更新缓存。
// 页面对缓存的存在完全无感知。
type Interceptor struct {
	client         *http.Client
	store          cache.Store
	logger         *logrus.Logger
	manager        *generation.Manager
	generation     string
	manifest       []string
	upstream       *url.URL
	domain         string
	fallbackPath   string
	resolver       PolicyResolver
	maxMemoryCache int64
	refreshOnHit   bool

	fsm    *lifecycle
	runner *taskRunner
}

// New 构造处于 Registering 状态的拦截器；随后由嵌入方调用 Install/Activate。
func New(opts Options) (*Interceptor, error) {
	if opts.Client == nil {
		return nil, errors.New("http client required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("upstream url required")
	}
	if opts.Generation == "" {
		return nil, errors.New("generation id required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("policy resolver required")
	}
	if opts.Store != nil && opts.Manager == nil {
		return nil, errors.New("generation manager required when store is present")
	}
	if opts.FallbackPath == "" {
		opts.FallbackPath = "/"
	}
	if opts.MaxMemoryCache <= 0 {
		opts.MaxMemoryCache = 16 * 1024 * 1024
	}

	i := &Interceptor{
		client:         opts.Client,
		store:          opts.Store,
		logger:         opts.Logger,
		manager:        opts.Manager,
		generation:     opts.Generation,
		manifest:       opts.Manifest,
		upstream:       opts.Upstream,
		domain:         normalizeOrigin(opts.Domain),
		fallbackPath:   normalizeRequestPath(opts.FallbackPath),
		resolver:       opts.Resolver,
		maxMemoryCache: opts.MaxMemoryCache,
		refreshOnHit:   opts.RefreshOnHit,
		fsm:            newLifecycle(),
		runner:         newTaskRunner(opts.Logger, opts.QueueSize),
	}
	i.runner.start()
	return i, nil
}

// CurrentState 暴露生命周期状态，供 /-/status 观测。
func (i *Interceptor) CurrentState() State {
	return i.fsm.state()
}

// GenerationID 返回当前拦截器绑定的缓存代名称。
func (i *Interceptor) GenerationID() string {
	return i.generation
}

// Install 预载当前代清单。失败时回到 Registering，旧缓存代保持原样可重试。
func (i *Interceptor) Install(ctx context.Context) error {
	if !i.cacheReady() {
		return ErrStoreUnavailable
	}
	if err := i.fsm.transition(StateRegistering, StateInstalling); err != nil {
		return err
	}
	if err := i.manager.Install(ctx, i.generation, i.manifest); err != nil {
		i.fsm.force(StateRegistering)
		return err
	}
	i.fsm.force(StateWaitingToActivate)
	return nil
}

// Activate 删除所有旧缓存代并立即接管请求：激活即 claim，不做灰度。
// 对已激活的拦截器重复调用是幂等的。
func (i *Interceptor) Activate(ctx context.Context) error {
	if !i.cacheReady() {
		return ErrStoreUnavailable
	}
	if i.fsm.state() == StateActive {
		return i.manager.Activate(ctx, i.generation)
	}
	if err := i.fsm.transition(StateWaitingToActivate, StateActive); err != nil {
		return err
	}
	if err := i.manager.Activate(ctx, i.generation); err != nil {
		i.fsm.force(StateWaitingToActivate)
		return err
	}
	return nil
}

// Supersede 标记拦截器被新版本取代，此后所有请求纯透传。
func (i *Interceptor) Supersede() {
	i.fsm.force(StateSuperseded)
}

// Close 排空后台任务队列。进程退出前调用。
func (i *Interceptor) Close() {
	i.runner.close()
}

func (i *Interceptor) cacheReady() bool {
	return i.store != nil
}

// Handle 实现请求拦截：非 GET 与跨域请求纯透传，其余按路由表策略处理。
func (i *Interceptor) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	cleanPath := normalizeRequestPath(string(c.Request().URI().Path()))
	rawQuery := append([]byte(nil), c.Request().URI().QueryString()...)

	if c.Method() != http.MethodGet {
		return i.passthrough(c, cleanPath, rawQuery, requestID, started, "non_get")
	}
	if !i.isSameOrigin(c) {
		// 跨域响应可以返回给页面，但绝不落盘。
		return i.passthrough(c, cleanPath, rawQuery, requestID, started, "cross_origin")
	}
	if !i.cacheReady() || i.fsm.state() != StateActive {
		return i.passthrough(c, cleanPath, rawQuery, requestID, started, "degraded")
	}

	policy := i.resolver(cleanPath)
	locator := buildLocator(i.generation, cleanPath, rawQuery)

	if policy == config.PolicyCacheFirst {
		return i.handleCacheFirst(c, locator, cleanPath, rawQuery, requestID, started)
	}
	return i.handleNetworkFirst(c, locator, cleanPath, rawQuery, requestID, started)
}

// handleNetworkFirst 先回源；成功时把克隆体交给后台任务异步落盘，
// 失败时退回缓存快照，两者都没有则让调用方看到失败。
func (i *Interceptor) handleNetworkFirst(
	c fiber.Ctx,
	locator cache.Locator,
	cleanPath string,
	rawQuery []byte,
	requestID string,
	started time.Time,
) error {
	ctx := requestContext(c)

	resp, err := i.fetchUpstream(c, cleanPath, rawQuery)
	if err != nil {
		if result, getErr := i.store.Get(ctx, locator); getErr == nil {
			defer result.Reader.Close()
			i.logResult(cleanPath, config.PolicyNetworkFirst, requestID, result.Entry.Meta.Status, true, started, err)
			return i.serveSnapshot(c, result, requestID)
		}
		i.logResult(cleanPath, config.PolicyNetworkFirst, requestID, 0, false, started, err)
		return i.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return i.streamThrough(c, resp, cleanPath, config.PolicyNetworkFirst, requestID, started)
	}

	body, overflow, err := i.bufferBody(resp.Body)
	if err != nil {
		i.logResult(cleanPath, config.PolicyNetworkFirst, requestID, resp.StatusCode, false, started, err)
		return i.writeError(c, fiber.StatusBadGateway, "upstream_read_failed")
	}
	if overflow != nil {
		// 超出内存预算的响应直接流式透传，不缓存。
		return i.streamPrefixed(c, resp, body, overflow, cleanPath, config.PolicyNetworkFirst, requestID, started)
	}

	meta := snapshotMetaFrom(resp)
	i.runner.submit("cache_write", func(taskCtx context.Context) {
		if _, putErr := i.store.Put(taskCtx, locator, meta, bytes.NewReader(body)); putErr != nil {
			// 后台写失败绝不影响已经返回的响应，只记录告警。
			i.logger.WithFields(logrus.Fields{
				"action":     "cache_write_failed",
				"generation": locator.Generation,
				"path":       locator.Path,
			}).Warn(putErr.Error())
		}
	})

	return i.respondBuffered(c, resp, body, cleanPath, config.PolicyNetworkFirst, requestID, started)
}

// handleCacheFirst 先读快照（可能任意陈旧），未命中才回源并同步落盘；
// 离线时退回应用外壳，最后兜底合成固定的 offline 响应。
func (i *Interceptor) handleCacheFirst(
	c fiber.Ctx,
	locator cache.Locator,
	cleanPath string,
	rawQuery []byte,
	requestID string,
	started time.Time,
) error {
	ctx := requestContext(c)

	if result, err := i.store.Get(ctx, locator); err == nil {
		defer result.Reader.Close()
		if i.refreshOnHit {
			refreshLocator := locator
			refreshPath := cleanPath
			refreshQuery := rawQuery
			i.runner.submit("cache_refresh", func(taskCtx context.Context) {
				if refreshErr := i.refreshSnapshot(taskCtx, refreshLocator, refreshPath, refreshQuery); refreshErr != nil {
					i.logger.WithFields(logrus.Fields{
						"action": "cache_refresh_failed",
						"path":   refreshPath,
					}).Debug(refreshErr.Error())
				}
			})
		}
		i.logResult(cleanPath, config.PolicyCacheFirst, requestID, result.Entry.Meta.Status, true, started, nil)
		return i.serveSnapshot(c, result, requestID)
	}

	resp, err := i.fetchUpstream(c, cleanPath, rawQuery)
	if err != nil {
		return i.serveFallback(c, cleanPath, requestID, started, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return i.streamThrough(c, resp, cleanPath, config.PolicyCacheFirst, requestID, started)
	}

	body, overflow, err := i.bufferBody(resp.Body)
	if err != nil {
		i.logResult(cleanPath, config.PolicyCacheFirst, requestID, resp.StatusCode, false, started, err)
		return i.writeError(c, fiber.StatusBadGateway, "upstream_read_failed")
	}
	if overflow != nil {
		return i.streamPrefixed(c, resp, body, overflow, cleanPath, config.PolicyCacheFirst, requestID, started)
	}

	meta := snapshotMetaFrom(resp)
	if _, putErr := i.store.Put(ctx, locator, meta, bytes.NewReader(body)); putErr != nil {
		i.logger.WithFields(logrus.Fields{
			"action":     "cache_write_failed",
			"generation": locator.Generation,
			"path":       locator.Path,
		}).Warn(putErr.Error())
	}

	return i.respondBuffered(c, resp, body, cleanPath, config.PolicyCacheFirst, requestID, started)
}

// Refresh 把单个路径的快照刷新为最新网络内容，供定时任务使用。
func (i *Interceptor) Refresh(ctx context.Context, assetPath string) error {
	clean := normalizeRequestPath(assetPath)
	return i.refreshSnapshot(ctx, buildLocator(i.generation, clean, nil), clean, nil)
}

// refreshSnapshot 按给定缓存键回源刷新。键永远来自 buildLocator，
// 带查询串的命中刷新的是同一个键，而不是裸路径。
func (i *Interceptor) refreshSnapshot(ctx context.Context, locator cache.Locator, clean string, rawQuery []byte) error {
	if !i.cacheReady() {
		return ErrStoreUnavailable
	}

	relative := &url.URL{Path: clean}
	if len(rawQuery) > 0 {
		relative.RawQuery = string(rawQuery)
	}
	target := i.upstream.ResolveReference(relative)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return err
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh %s: unexpected status %d", clean, resp.StatusCode)
	}

	if _, err := i.store.Put(ctx, locator, snapshotMetaFrom(resp), resp.Body); err != nil {
		return fmt.Errorf("refresh %s: %w", clean, err)
	}
	return nil
}

// passthrough 纯网络转发：不读缓存、不写缓存、失败不兜底。
func (i *Interceptor) passthrough(
	c fiber.Ctx,
	cleanPath string,
	rawQuery []byte,
	requestID string,
	started time.Time,
	reason string,
) error {
	resp, err := i.forwardRequest(c, cleanPath, rawQuery)
	if err != nil {
		i.logger.WithFields(logrus.Fields{
			"action": "passthrough_failed",
			"path":   cleanPath,
			"reason": reason,
		}).Warn(err.Error())
		return i.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()
	return i.streamThrough(c, resp, cleanPath, "passthrough", requestID, started)
}

func (i *Interceptor) serveFallback(c fiber.Ctx, cleanPath, requestID string, started time.Time, cause error) error {
	ctx := requestContext(c)
	fallback := cache.Locator{Generation: i.generation, Path: i.fallbackPath}
	if result, err := i.store.Get(ctx, fallback); err == nil {
		defer result.Reader.Close()
		c.Set("X-Quiet-Time-Fallback", "shell")
		i.logResult(cleanPath, config.PolicyCacheFirst, requestID, result.Entry.Meta.Status, true, started, cause)
		return i.serveSnapshot(c, result, requestID)
	}

	// 合成固定的 offline 响应：宁可让页面看到明确的不可用状态，
	// 也不把底层网络错误抛给调用方。
	i.logResult(cleanPath, config.PolicyCacheFirst, requestID, fiber.StatusServiceUnavailable, false, started, cause)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "offline"})
}

func (i *Interceptor) serveSnapshot(c fiber.Ctx, result *cache.ReadResult, requestID string) error {
	copyResponseHeaders(c, result.Entry.Meta.Headers)
	if result.Entry.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
	} else {
		c.Response().Header.Del("Content-Length")
	}
	c.Set("X-Quiet-Time-Cache-Hit", "true")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	status := result.Entry.Meta.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (i *Interceptor) respondBuffered(
	c fiber.Ctx,
	resp *http.Response,
	body []byte,
	cleanPath string,
	policy config.Policy,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Quiet-Time-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	_, err := c.Response().BodyWriter().Write(body)
	i.logResult(cleanPath, policy, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (i *Interceptor) streamThrough(
	c fiber.Ctx,
	resp *http.Response,
	cleanPath string,
	policy config.Policy,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Quiet-Time-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	i.logResult(cleanPath, policy, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// streamPrefixed 把已缓冲的前缀与剩余正文拼接后透传，用于超出内存预算的响应。
func (i *Interceptor) streamPrefixed(
	c fiber.Ctx,
	resp *http.Response,
	prefix []byte,
	rest io.Reader,
	cleanPath string,
	policy config.Policy,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Quiet-Time-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	writer := c.Response().BodyWriter()
	_, err := writer.Write(prefix)
	if err == nil {
		_, err = io.Copy(writer, rest)
	}
	i.logResult(cleanPath, policy, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// bufferBody 最多缓冲 maxMemoryCache 字节；超限时返回剩余的流。
func (i *Interceptor) bufferBody(body io.Reader) ([]byte, io.Reader, error) {
	buffered, err := io.ReadAll(io.LimitReader(body, i.maxMemoryCache+1))
	if err != nil {
		return nil, nil, err
	}
	if int64(len(buffered)) > i.maxMemoryCache {
		return buffered, body, nil
	}
	return buffered, nil, nil
}

// fetchUpstream 面向同源请求，把路径+查询串解析到配置的上游。
func (i *Interceptor) fetchUpstream(c fiber.Ctx, cleanPath string, rawQuery []byte) (*http.Response, error) {
	relative := &url.URL{Path: cleanPath, RawPath: cleanPath}
	if len(rawQuery) > 0 {
		relative.RawQuery = string(rawQuery)
	}
	target := i.upstream.ResolveReference(relative)
	return i.doUpstream(c, target)
}

// forwardRequest 用于透传：跨域请求按原始 Host 转发，同源仍走上游。
func (i *Interceptor) forwardRequest(c fiber.Ctx, cleanPath string, rawQuery []byte) (*http.Response, error) {
	if i.isSameOrigin(c) {
		relative := &url.URL{Path: cleanPath, RawPath: cleanPath}
		if len(rawQuery) > 0 {
			relative.RawQuery = string(rawQuery)
		}
		return i.doUpstream(c, i.upstream.ResolveReference(relative))
	}

	target := &url.URL{
		Scheme: c.Scheme(),
		Host:   hostHeader(c),
		Path:   cleanPath,
	}
	if target.Scheme == "" {
		target.Scheme = "http"
	}
	if len(rawQuery) > 0 {
		target.RawQuery = string(rawQuery)
	}
	return i.doUpstream(c, target)
}

func (i *Interceptor) doUpstream(c fiber.Ctx, target *url.URL) (*http.Response, error) {
	ctx := requestContext(c)

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("Host", target.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())

	return i.client.Do(req)
}

// isSameOrigin 比较请求 Host 与页面自身域名；缺失 Host 视为同源。
func (i *Interceptor) isSameOrigin(c fiber.Ctx) bool {
	host := normalizeOrigin(hostHeader(c))
	if host == "" || i.domain == "" {
		return true
	}
	return host == i.domain
}

func (i *Interceptor) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (i *Interceptor) logResult(
	cleanPath string,
	policy config.Policy,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(i.generation, cleanPath, string(policy), cacheHit)
	fields["action"] = "intercept"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		if cacheHit {
			// 网络失败但缓存兜了底：对页面透明，只留痕。
			i.logger.WithFields(fields).Warn("intercept_fallback")
			return
		}
		i.logger.WithFields(fields).Error("intercept_failed")
		return
	}
	i.logger.WithFields(fields).Info("intercept_complete")
}

func snapshotMetaFrom(resp *http.Response) cache.SnapshotMeta {
	headers := http.Header{}
	server.CopyHeaders(headers, resp.Header)
	return cache.SnapshotMeta{
		Status:    resp.StatusCode,
		Headers:   headers,
		FetchedAt: time.Now().UTC(),
	}
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func hostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Host()
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
