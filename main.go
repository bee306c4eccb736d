package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/quiet-time/quiet-time/internal/cache"
	"github.com/quiet-time/quiet-time/internal/config"
	"github.com/quiet-time/quiet-time/internal/devotional"
	"github.com/quiet-time/quiet-time/internal/generation"
	"github.com/quiet-time/quiet-time/internal/intercept"
	"github.com/quiet-time/quiet-time/internal/jobs"
	"github.com/quiet-time/quiet-time/internal/logging"
	"github.com/quiet-time/quiet-time/internal/preload"
	"github.com/quiet-time/quiet-time/internal/server"
	"github.com/quiet-time/quiet-time/internal/server/routes"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["generation"] = cfg.Global.Generation
		fields["policy"] = string(cfg.Global.PolicyValue())
		fields["manifest"] = len(cfg.Global.Manifest)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	upstreamURL, err := url.Parse(cfg.Global.Upstream)
	if err != nil {
		fmt.Fprintf(stdErr, "解析上游地址失败: %v\n", err)
		return 1
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → 预载/缓存代 → 拦截器 → Fiber server”顺序，
	// 保证所有请求共享统一的缓存实例与生命周期状态。
	httpClient := server.NewUpstreamClient(cfg)

	store, storeErr := cache.NewStore(cfg.Global.StoragePath)
	if storeErr != nil {
		// 存储不可用时降级为纯透传，不让拦截管线崩溃。
		logger.WithFields(logrus.Fields{"action": "store_degraded"}).Warn(storeErr.Error())
		store = nil
	}

	interceptor, err := buildInterceptor(cfg, store, httpClient, logger, upstreamURL)
	if err != nil {
		fmt.Fprintf(stdErr, "构建拦截器失败: %v\n", err)
		return 1
	}
	defer interceptor.Close()

	bootstrapGeneration(interceptor, logger)

	resolver, err := devotional.NewResolver(devotional.ResolverOptions{
		Store:       store,
		Client:      httpClient,
		Upstream:    upstreamURL,
		Generation:  cfg.Global.Generation,
		DatasetPath: cfg.Global.DatasetPath,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建内容解析器失败: %v\n", err)
		return 1
	}

	notes, err := devotional.NewNotesStore(cfg.Notes)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化笔记存储失败: %v\n", err)
		return 1
	}

	runner := startJobs(cfg, interceptor, logger)
	if runner != nil {
		defer runner.Stop()
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["generation"] = cfg.Global.Generation
	fields["policy"] = string(cfg.Global.PolicyValue())
	fields["listen_port"] = cfg.Global.ListenPort
	fields["notes_backend"] = cfg.Notes.NotesBackend()
	fields["state"] = string(interceptor.CurrentState())
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, interceptor, resolver, notes, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func buildInterceptor(
	cfg *config.Config,
	store cache.Store,
	httpClient *http.Client,
	logger *logrus.Logger,
	upstreamURL *url.URL,
) (*intercept.Interceptor, error) {
	var manager *generation.Manager
	if store != nil {
		preloader, err := preload.New(preload.Options{
			Client:         httpClient,
			Upstream:       upstreamURL,
			Store:          store,
			Logger:         logger,
			MaxRetries:     cfg.Global.MaxRetries,
			InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
		})
		if err != nil {
			return nil, err
		}
		manager, err = generation.NewManager(store, preloader, logger)
		if err != nil {
			return nil, err
		}
	}

	return intercept.New(intercept.Options{
		Client:         httpClient,
		Store:          store,
		Logger:         logger,
		Manager:        manager,
		Generation:     cfg.Global.Generation,
		Manifest:       cfg.Global.Manifest,
		Upstream:       upstreamURL,
		Domain:         cfg.Global.Domain,
		FallbackPath:   cfg.Global.FallbackPath,
		Resolver:       cfg.ResolvePolicy,
		MaxMemoryCache: cfg.Global.MaxMemoryCache,
		RefreshOnHit:   cfg.Global.RefreshOnHit,
	})
}

// bootstrapGeneration 安装并激活当前缓存代。预载失败不阻止启动：
// 旧缓存代保持原样，cron 会按计划补装。
func bootstrapGeneration(interceptor *intercept.Interceptor, logger *logrus.Logger) {
	ctx := context.Background()
	if err := interceptor.Install(ctx); err != nil {
		logger.WithFields(logrus.Fields{
			"action":     "generation_bootstrap",
			"generation": interceptor.GenerationID(),
		}).Warn(err.Error())
		return
	}
	if err := interceptor.Activate(ctx); err != nil {
		logger.WithFields(logrus.Fields{
			"action":     "generation_bootstrap",
			"generation": interceptor.GenerationID(),
		}).Warn(err.Error())
	}
}

func startJobs(cfg *config.Config, interceptor *intercept.Interceptor, logger *logrus.Logger) *jobs.Runner {
	refreshSchedule := cfg.Global.RefreshSchedule
	retrySchedule := cfg.Global.InstallRetrySchedule
	if refreshSchedule == "" && retrySchedule == "" {
		return nil
	}

	runner := jobs.NewRunner(logger)
	if refreshSchedule != "" {
		if err := runner.ScheduleDatasetRefresh(refreshSchedule, interceptor, cfg.Global.DatasetPath); err != nil {
			logger.WithFields(logrus.Fields{"action": "schedule_refresh"}).Warn(err.Error())
		}
	}
	if retrySchedule != "" {
		if err := runner.ScheduleInstallRetry(retrySchedule, interceptor); err != nil {
			logger.WithFields(logrus.Fields{"action": "schedule_install_retry"}).Warn(err.Error())
		}
	}
	runner.Start()
	return runner
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("quiet-time", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 QUIET_TIME_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("QUIET_TIME_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	interceptor *intercept.Interceptor,
	resolver *devotional.Resolver,
	notes devotional.NotesStore,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      interceptor,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	routes.RegisterControlRoutes(app, routes.ControlOptions{
		Logger: logger,
		Status: func() fiber.Map {
			return fiber.Map{
				"state":      string(interceptor.CurrentState()),
				"generation": interceptor.GenerationID(),
				"policy":     string(cfg.Global.PolicyValue()),
			}
		},
		Activate: interceptor.Activate,
		Resolver: resolver,
		Notes:    notes,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
