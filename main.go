package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/wastebin/wastebin/internal/api"
	"github.com/wastebin/wastebin/internal/cache"
	"github.com/wastebin/wastebin/internal/config"
	"github.com/wastebin/wastebin/internal/logging"
	"github.com/wastebin/wastebin/internal/metrics"
	"github.com/wastebin/wastebin/internal/ratelimit"
	"github.com/wastebin/wastebin/internal/server"
	"github.com/wastebin/wastebin/internal/server/routes"
	"github.com/wastebin/wastebin/internal/storage"
	"github.com/wastebin/wastebin/internal/token"
	"github.com/wastebin/wastebin/internal/version"
	"github.com/wastebin/wastebin/internal/worker"
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

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["address"] = cfg.Address()
		fields["storage_path"] = cfg.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["address"] = cfg.Address()
	fields["storage_path"] = cfg.StoragePath
	fields["pool_size"] = cfg.CorePoolSize
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.serve(ctx); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务异常退出: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("wastebin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 WASTEBIN_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("WASTEBIN_CONFIG")
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

// service 持有一次运行所需的全部组件，启动顺序为
// “配置 → 日志 → worker pool → 存储 → 缓存 → 限流/令牌 → Fiber → 定时任务”。
type service struct {
	cfg       *config.Config
	logger    *logrus.Logger
	app       *fiber.App
	pool      *worker.Pool
	scheduler *worker.Scheduler
	store     *storage.Handler
	cache     *cache.ContentCache
}

func newService(cfg *config.Config, logger *logrus.Logger) (svc *service, err error) {
	metrics.Register()

	pool, err := worker.NewPool(cfg.CorePoolSize, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = pool.Shutdown(time.Second)
		}
	}()

	var contentCache *cache.ContentCache
	store, err := storage.NewHandler(storage.Options{
		BasePath: cfg.StoragePath,
		Logger:   logger,
		Executor: pool,
		// 写盘失败时丢弃缓存中的副本，避免只存在于内存中的条目继续被读取。
		OnWriteFailure: func(key string, _ error) {
			if contentCache != nil {
				contentCache.Invalidate(key)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	contentCache, err = cache.New(cache.Options{
		Loader:            store,
		Executor:          pool,
		Logger:            logger,
		ExpireAfterAccess: cfg.CacheExpiry(),
		MaxWeight:         cfg.CacheMaxWeight(),
	})
	if err != nil {
		return nil, err
	}

	keys, err := token.NewGenerator(cfg.KeyLength)
	if err != nil {
		return nil, fmt.Errorf("KeyLength: %w", err)
	}
	modificationKeys, err := token.NewGenerator(cfg.ModificationKeyLength)
	if err != nil {
		return nil, fmt.Errorf("ModificationKeyLength: %w", err)
	}

	postLimiter, err := newLimiter(cfg.PostLimit())
	if err != nil {
		return nil, err
	}
	updateLimiter, err := newLimiter(cfg.UpdateLimit())
	if err != nil {
		return nil, err
	}
	readLimiter, err := newLimiter(cfg.ReadLimit())
	if err != nil {
		return nil, err
	}

	handler, err := api.New(api.Options{
		Cache:            contentCache,
		Store:            store,
		Logger:           logger,
		Keys:             keys,
		ModificationKeys: modificationKeys,
		PostLimiter:      postLimiter,
		UpdateLimiter:    updateLimiter,
		ReadLimiter:      readLimiter,
		MaxContentLength: cfg.MaxContentLength(),
		Lifetime:         cfg.Lifetime,
		UpdateLifetime:   time.Duration(cfg.LifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	index, err := loadIndexPage(cfg.IndexPagePath)
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Content:     handler,
		Diagnostics: routes.Diagnostics{Cache: contentCache, Pool: pool},
		IndexPage:   index,
		BodyLimit:   bodyLimit(cfg),
	})
	if err != nil {
		return nil, err
	}

	scheduler := worker.NewScheduler(pool, logger)
	interval := cfg.CacheExpiry()
	if err := scheduler.Every(interval, "content_sweep", sweepTask(store)); err != nil {
		return nil, err
	}
	if err := scheduler.Every(interval, "cache_cleanup", func(context.Context) error {
		contentCache.CleanUp()
		return nil
	}); err != nil {
		return nil, err
	}
	if err := scheduler.Every(interval, "ratelimit_sweep", func(context.Context) error {
		postLimiter.Sweep()
		updateLimiter.Sweep()
		readLimiter.Sweep()
		return nil
	}); err != nil {
		return nil, err
	}

	return &service{
		cfg:       cfg,
		logger:    logger,
		app:       app,
		pool:      pool,
		scheduler: scheduler,
		store:     store,
		cache:     contentCache,
	}, nil
}

// sweepTask 包装过期清理；汇总日志由 RunInvalidation 输出。
func sweepTask(store *storage.Handler) worker.Task {
	return func(ctx context.Context) error {
		_, err := store.RunInvalidation(ctx)
		return err
	}
}

func newLimiter(limit config.RateLimit) (*ratelimit.Limiter, error) {
	return ratelimit.New(limit.PeriodMinutes, limit.Limit)
}

// bodyLimit 为 fasthttp 设置请求体上限。PUT 在压缩后才比较 MaxContentLength，
// 因此为未压缩的请求体留出一倍余量，超限的内容仍由 handler 返回 413。
func bodyLimit(cfg *config.Config) int {
	return 2 * cfg.MaxContentLength()
}

func loadIndexPage(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	page, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取首页失败: %w", err)
	}
	return page, nil
}

// serve 启动定时任务与 HTTP 监听，直到 ctx 结束或监听失败，随后按相反顺序关闭。
func (s *service) serve(ctx context.Context) error {
	s.scheduler.Start()

	listenErr := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"action":  "listen",
			"address": s.cfg.Address(),
		}).Info("Fiber 服务启动")
		listenErr <- s.app.Listen(s.cfg.Address(), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-listenErr:
	}

	return multierr.Append(err, s.shutdown())
}

// shutdown 依次停止 HTTP、定时任务与 worker pool，并汇总各阶段错误。
func (s *service) shutdown() error {
	timeout := s.cfg.ShutdownTimeout.DurationValue()
	s.logger.WithFields(logrus.Fields{
		"action":  "shutdown",
		"timeout": timeout.String(),
	}).Info("开始关闭服务")

	var result error
	if err := s.app.ShutdownWithTimeout(timeout); err != nil {
		result = multierr.Append(result, fmt.Errorf("http: %w", err))
	}
	result = multierr.Append(result, s.stopBackground(timeout))

	if result != nil {
		s.logger.WithError(result).WithField("action", "shutdown").Error("服务关闭时出现错误")
	} else {
		s.logger.WithField("action", "shutdown").Info("服务已关闭")
	}
	return result
}

// stopBackground 停止定时任务，再在 timeout 内排空 worker pool 中尚未落盘的写入。
func (s *service) stopBackground(timeout time.Duration) error {
	var result error

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.scheduler.Stop(ctx); err != nil {
		result = multierr.Append(result, fmt.Errorf("scheduler: %w", err))
	}

	if err := s.pool.Shutdown(timeout); err != nil && !errors.Is(err, worker.ErrPoolClosed) {
		result = multierr.Append(result, fmt.Errorf("worker pool: %w", err))
	}
	return result
}
