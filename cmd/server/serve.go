package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tableready/internal/api/handler"
	"tableready/internal/api/router"
	"tableready/internal/repository"
	"tableready/internal/service"
	"tableready/internal/worker"
	"tableready/pkg/database"
	"tableready/pkg/jwt"
	"tableready/pkg/redis"
)

func newServeCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务、过期扫描与变更转发",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "启动时不执行数据库迁移")
	return cmd
}

func runServe(skipMigrate bool) error {
	cfg, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer closeDB(db)

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 1. 数据库迁移
	if !skipMigrate {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
		}
		if err := database.RunMigrations(sqlDB, logger); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}

	// 2. 连接 Redis（可选：连接失败时降级运行，繁忙信号、限流与变更转发不可用）
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，繁忙信号、入队限流与变更转发将不可用", zap.Error(err))
		rdb = nil
	}
	var capacitySignal service.CapacitySignal
	if rdb != nil {
		capacitySignal = rdb
		defer rdb.Close()
	}

	// 3. 依赖注入: Repository → Service → Handler
	jwtMgr := jwt.NewManager(&cfg.Auth)
	repo := repository.NewRepository(db)
	svc := service.NewService(cfg, repo, jwtMgr, capacitySignal, logger)
	h := handler.NewHandler(svc, handler.NewHealthHandler(db, rdb))
	engine := router.Setup(cfg, h, jwtMgr, rdb, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. 后台任务
	sweeper := worker.NewExpirySweeper(svc.Waitlist, cfg.Waitlist.SweepInterval, logger)
	go sweeper.Run(ctx)

	if cfg.ChangeFeed.Enabled {
		if rdb == nil {
			logger.Warn("变更转发已启用但 Redis 不可用，跳过")
		} else {
			feed := database.NewChangeFeed(cfg.Database.DSN(), cfg.ChangeFeed.PGChannel, logger)
			relay := worker.NewChangeRelay(feed, rdb, cfg.ChangeFeed.RedisChannelPrefix, logger)
			go relay.Run(ctx)
		}
	}

	// 5. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务器异常: %w", err)
	case <-ctx.Done():
	}

	logger.Info("收到关闭信号，开始优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	logger.Info("服务器已关闭")
	return nil
}
