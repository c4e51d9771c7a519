package reconcile

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrProbeTimeout 探测在最长时限内未得出结论。
var ErrProbeTimeout = errors.New("reconcile: probe timed out")

// Probe 通用周期探测：固定间隔调用 tick，直到 tick 宣布完成、
// 返回错误、上下文取消或超出最长时限。
// 供应商各自的轮询循环都建立在它上面，避免到处复制 sleep 循环。
type Probe struct {
	// Interval 两次 tick 的最小间隔
	Interval time.Duration
	// MaxElapsed 绝对时限，0 表示不设限
	MaxElapsed time.Duration
}

// Run 驱动探测循环。tick 返回 done=true 正常结束；返回错误立即终止。
func (p Probe) Run(ctx context.Context, tick func(ctx context.Context) (done bool, err error)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	var deadline time.Time
	if p.MaxElapsed > 0 {
		deadline = time.Now().Add(p.MaxElapsed)
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrProbeTimeout
		}
		done, err := tick(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
