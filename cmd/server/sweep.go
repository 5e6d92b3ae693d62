package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tableready/internal/repository"
	"tableready/internal/service"
	"tableready/pkg/jwt"
)

// newSweepCmd 单次执行过期扫描，供外部定时任务调用
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "执行一次叫号超时扫描",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer closeDB(db)

			repo := repository.NewRepository(db)
			svc := service.NewService(cfg, repo, jwt.NewManager(&cfg.Auth), nil, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			result, err := svc.Waitlist.SweepExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("过期扫描失败: %w", err)
			}
			logger.Info("过期扫描完成",
				zap.Int("scanned", result.Scanned),
				zap.Int("expired", result.Expired),
				zap.Int("skipped", result.Skipped),
				zap.Int("failed", result.Failed),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d skipped=%d failed=%d\n",
				result.Scanned, result.Expired, result.Skipped, result.Failed)
			return nil
		},
	}
}
