package queue

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 主动查询
	DefaultQueue = constants.QueueDefault
	// CriticalQueue 回调对账
	CriticalQueue = constants.QueueCritical

	webhookMaxRetry    = 8
	pollMaxRetry       = 3
	pollUniqueTTL      = 5 * time.Minute
	defaultConcurrency = 10
)

// Client asynq 生产端；未启用时所有入队操作为空操作
type Client struct {
	client *asynq.Client
}

// NewClient 队列未启用时返回禁用的客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{}, nil
	}
	return &Client{client: asynq.NewClient(redisOpt(cfg))}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// EnqueuePaymentWebhookReconcile 回调对账进 critical 队列，失败按 asynq 退避重试
func (c *Client) EnqueuePaymentWebhookReconcile(ctx context.Context, payload PaymentWebhookReconcilePayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewPaymentWebhookReconcileTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(CriticalQueue), asynq.MaxRetry(webhookMaxRetry))
	return err
}

// EnqueuePaymentPoll 主动查询；同一缴费单在 pollUniqueTTL 内已排队时视为成功
func (c *Client) EnqueuePaymentPoll(ctx context.Context, payload PaymentPollPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewPaymentPollTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(DefaultQueue),
		asynq.MaxRetry(pollMaxRetry),
		asynq.Unique(pollUniqueTTL),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// BuildServerConfig 消费端配置；critical 与 default 默认 5:1 加权
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	serverCfg := asynq.Config{
		Concurrency: defaultConcurrency,
		Queues:      map[string]int{CriticalQueue: 5, DefaultQueue: 1},
		Logger:      logger.SW("component", "asynq"),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warnw("queue_task_failed",
				"task", task.Type(),
				"retried", retried,
				"max_retry", maxRetry,
				"error", err,
			)
		}),
	}
	if cfg != nil && cfg.Concurrency > 0 {
		serverCfg.Concurrency = cfg.Concurrency
	}
	if cfg != nil && len(cfg.Queues) > 0 {
		serverCfg.Queues = cfg.Queues
	}
	return redisOpt(cfg), serverCfg
}

func redisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host, port := "127.0.0.1", 6379
	opt := asynq.RedisClientOpt{}
	if cfg != nil {
		if h := strings.TrimSpace(cfg.Host); h != "" {
			host = h
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		opt.Password = cfg.Password
		opt.DB = cfg.DB
	}
	opt.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	return opt
}
