// Package jobs 用 cron 承载后台任务：数据集定期刷新，以及安装失败后的
// 自动重试，直到拦截器成功激活为止。
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/quiet-time/quiet-time/internal/intercept"
)

// Refresher 抽象单路径快照刷新能力，由拦截器实现。
type Refresher interface {
	Refresh(ctx context.Context, assetPath string) error
}

// Lifecycle 抽象安装/激活重试所需的拦截器生命周期操作。
type Lifecycle interface {
	CurrentState() intercept.State
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
}

const jobTimeout = 2 * time.Minute

// Runner 是进程级 cron 调度器，所有任务共享一个实例。
type Runner struct {
	cron   *cron.Cron
	logger *logrus.Logger
}

// NewRunner 构造 Runner；使用标准五段 cron 表达式，也接受 @every 描述符。
func NewRunner(logger *logrus.Logger) *Runner {
	return &Runner{
		cron:   cron.New(),
		logger: logger,
	}
}

// ScheduleDatasetRefresh 周期性把数据集快照刷新为最新网络内容。
// 刷新失败只记录告警：下一次周期或下一次在线请求自然会补上。
func (r *Runner) ScheduleDatasetRefresh(schedule string, refresher Refresher, datasetPath string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := refresher.Refresh(ctx, datasetPath); err != nil {
			r.logger.WithFields(logrus.Fields{
				"action": "dataset_refresh",
				"path":   datasetPath,
			}).Warn(err.Error())
			return
		}
		r.logger.WithFields(logrus.Fields{
			"action": "dataset_refresh",
			"path":   datasetPath,
		}).Info("数据集快照已刷新")
	})
	return err
}

// ScheduleInstallRetry 在拦截器尚未激活时反复重试 Install + Activate。
// 激活成功后任务退化为 no-op，旧缓存代在此之前保持原样可服务。
func (r *Runner) ScheduleInstallRetry(schedule string, lifecycle Lifecycle) error {
	_, err := r.cron.AddFunc(schedule, func() {
		if lifecycle.CurrentState() == intercept.StateActive {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if lifecycle.CurrentState() == intercept.StateRegistering {
			if err := lifecycle.Install(ctx); err != nil {
				r.logger.WithFields(logrus.Fields{"action": "install_retry"}).Warn(err.Error())
				return
			}
		}
		if err := lifecycle.Activate(ctx); err != nil {
			r.logger.WithFields(logrus.Fields{"action": "install_retry"}).Warn(err.Error())
			return
		}
		r.logger.WithFields(logrus.Fields{"action": "install_retry"}).Info("缓存代补装完成")
	})
	return err
}

// Start 启动调度循环。
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop 停止调度并等待在途任务结束。
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
