package worker

import (
	"context"
	"errors"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/go-co-op/gocron/v2"
)

const (
	defaultSweepInterval = 5 * time.Minute
	sweepJobName         = "payment_stale_pending_sweep"
)

// Sweeper 待缴巡检
type Sweeper interface {
	ReconcileStalePending(ctx context.Context) (*service.SweepResult, error)
}

// SweepScheduler 定时巡检长时间未结算的待缴记录
type SweepScheduler struct {
	name      string
	interval  time.Duration
	sweeper   Sweeper
	scheduler gocron.Scheduler
}

// NewSweepScheduler 创建巡检调度服务
func NewSweepScheduler(cfg *config.ReconcileConfig, sweeper Sweeper) (*SweepScheduler, error) {
	if cfg == nil || !cfg.SweepEnabled {
		return nil, errors.New("sweep disabled")
	}
	if sweeper == nil {
		return nil, errors.New("sweeper is nil")
	}
	interval := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &SweepScheduler{
		name:      "sweep",
		interval:  interval,
		sweeper:   sweeper,
		scheduler: scheduler,
	}, nil
}

// Name 服务名称
func (s *SweepScheduler) Name() string {
	if s == nil || s.name == "" {
		return "sweep"
	}
	return s.name
}

// Start 注册巡检任务并阻塞至 ctx 结束
func (s *SweepScheduler) Start(ctx context.Context) error {
	if s == nil || s.scheduler == nil {
		return errors.New("sweep scheduler not initialized")
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.runOnce(ctx)
		}),
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	logger.Infow("sweep_scheduler_started", "interval", s.interval.String())
	<-ctx.Done()
	return nil
}

// Stop 停止调度
func (s *SweepScheduler) Stop(ctx context.Context) error {
	if s == nil || s.scheduler == nil {
		return nil
	}
	_ = ctx
	return s.scheduler.Shutdown()
}

func (s *SweepScheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := s.sweeper.ReconcileStalePending(ctx)
	if err != nil {
		logger.Warnw("sweep_scheduler_run_failed", "error", err)
		return
	}
	logger.Debugw("sweep_scheduler_run_done",
		"scanned", result.Scanned,
		"enqueued", result.Enqueued,
		"polled", result.Polled,
		"failed", result.Failed,
	)
}
