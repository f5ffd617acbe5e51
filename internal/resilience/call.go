package resilience

import (
	"context"
	"errors"
	"time"
)

// IsCancellation 区分主动取消与真实失败，取消不应计入熔断也不应当作错误上报。
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Call 在请求级超时与熔断保护下执行一次协作方调用。
// 取消（context.Canceled）原样透传且不计入失败。
func Call(ctx context.Context, b *Breaker, timeout time.Duration, fn func(ctx context.Context) error) error {
	if b != nil {
		if err := b.Allow(); err != nil {
			return err
		}
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if b != nil {
		switch {
		case err == nil:
			b.Success()
		case IsCancellation(err):
			// 不计数
		default:
			b.Failure()
		}
	}
	return err
}
