package app

import (
	"errors"
	"net"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/provider"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/router"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/worker"
)

// BuildRunner 按模式装配 HTTP、队列消费与待缴巡检
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	mode, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	opts := Options{Config: cfg, Mode: mode}

	container, err := provider.NewContainer(cfg)
	if err != nil {
		return nil, err
	}

	var services []Service
	if opts.servesHTTP() {
		services = append(services, NewHTTPService(listenAddr(cfg), router.SetupRouter(cfg, container)))
	}
	if opts.runsBackground() {
		background, err := backgroundServices(cfg, mode, container)
		if err != nil {
			return nil, err
		}
		services = append(services, background...)
	}
	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}
	return NewRunner(services...), nil
}

// backgroundServices all 模式下队列关闭时回调同步处理，不启动消费者
func backgroundServices(cfg *config.Config, mode string, container *provider.Container) ([]Service, error) {
	var services []Service
	if cfg.Queue.Enabled || mode == ModeWorker {
		svc, err := worker.NewService(&cfg.Queue, worker.NewConsumer(container))
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	} else {
		logger.Infow("app_worker_skipped_queue_disabled", "mode", mode)
	}

	if cfg.Reconcile.SweepEnabled {
		sweeper, err := worker.NewSweepScheduler(&cfg.Reconcile, container.PaymentService)
		if err != nil {
			return nil, err
		}
		services = append(services, sweeper)
	}
	return services, nil
}

func listenAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
}

// Run 应用启动入口
func Run(opts Options) error {
	if opts.Config == nil {
		return errors.New("config is nil")
	}
	mode, err := ParseMode(opts.Mode)
	if err != nil {
		return err
	}
	opts.Mode = mode
	opts = normalizeOptions(opts)

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}
	opts.Logger.Infow("app_start", "addr", listenAddr(opts.Config), "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
