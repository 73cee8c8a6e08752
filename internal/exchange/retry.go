package exchange

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"asterbot/internal/config"
)

type classifier func(error) (error, bool)

// retrier 以指数退避重试只读调用，委托提交不经过这里。
type retrier struct {
	cfg      config.RetryConfig
	logger   *zap.Logger
	classify classifier
}

func newRetrier(cfg config.RetryConfig, logger *zap.Logger, classify classifier) *retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	return &retrier{cfg: cfg, logger: logger, classify: classify}
}

func (r *retrier) do(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := r.cfg.MinDelay

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := r.classify(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			r.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= r.cfg.MaxAttempts {
			r.logger.Debug("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := min(delay, r.cfg.MaxDelay)

		r.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(delay*2, r.cfg.MaxDelay)
	}
}

// once 执行不可重试的调用，只做错误归类。
func (r *retrier) once(operation string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	normalizedErr, _ := r.classify(err)
	r.logger.Debug("交易所调用失败",
		zap.String("operation", operation),
		zap.Error(normalizedErr),
	)
	return normalizedErr
}
