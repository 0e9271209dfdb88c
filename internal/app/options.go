package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"

	"go.uber.org/zap"
)

// 进程模式：all 同时承载 HTTP 与后台任务
const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

const defaultShutdownTimeout = 10 * time.Second

// Options 启动选项
type Options struct {
	Config          *config.Config
	Logger          *zap.SugaredLogger
	Signals         []os.Signal
	ShutdownTimeout time.Duration
	Mode            string
}

// ParseMode 校验并归一化启动模式
func ParseMode(raw string) (string, error) {
	switch mode := strings.ToLower(strings.TrimSpace(raw)); mode {
	case "":
		return ModeAll, nil
	case ModeAll, ModeAPI, ModeWorker:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown mode %q, want all, api or worker", raw)
	}
}

func (o Options) servesHTTP() bool { return o.Mode == ModeAll || o.Mode == ModeAPI }

func (o Options) runsBackground() bool { return o.Mode == ModeAll || o.Mode == ModeWorker }

func normalizeOptions(opts Options) Options {
	if opts.Logger == nil {
		opts.Logger = logger.S()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if mode, err := ParseMode(opts.Mode); err == nil {
		opts.Mode = mode
	}
	return opts
}
