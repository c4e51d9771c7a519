// Package reconcile merges two unreliable observation channels — intercepted
// network fragments and DOM text polling — into one ordered delta stream.
//
// 完成从来没有权威信号，只能按优先级组合推断：
//
//	(a) 拦截流里的显式结束标记
//	(b) UI 形态：无"停止"控件且"发送"控件可用，经沉降延迟后复确认
//	(c) 内容稳定兜底：连续 N 次轮询无新字节且已有内容
//
// 任一信号即结束循环；绝对墙钟超时无条件兜底。这是经验调出来的
// 优先级与界限，底层 UI 给不出更强的保证，不要试图收紧。
package reconcile

import (
	"context"
	"time"

	"github.com/BaSui01/chatrelay/browser"
	"github.com/BaSui01/chatrelay/providers"
	"go.uber.org/zap"
)

// EventKind 下发事件类型。
type EventKind int

const (
	// EventAnswer 回答增量
	EventAnswer EventKind = iota
	// EventThinking 思考增量
	EventThinking
	// EventReplace 全文替换（终局校正，仅回答通道）
	EventReplace
)

// Event 一条下发事件。
type Event struct {
	Kind EventKind
	Text string
}

// Sink 事件消费方。返回错误表示客户端已不可达，循环随即终止。
type Sink func(Event) error

// Config 调和器参数。
type Config struct {
	// PollInterval DOM 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// QuietPolls 判定内容稳定所需的连续静默轮询次数
	QuietPolls int `yaml:"quiet_polls" json:"quiet_polls"`
	// SettleDelay UI 完成信号的复确认延迟
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"`
	// MaxDuration 单回合墙钟上限
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration"`
	// TransientPause 瞬时驱动错误后的停顿
	TransientPause time.Duration `yaml:"transient_pause" json:"transient_pause"`
}

// DefaultConfig 经验默认值。
func DefaultConfig() Config {
	return Config{
		PollInterval:   150 * time.Millisecond,
		QuietPolls:     10,
		SettleDelay:    300 * time.Millisecond,
		MaxDuration:    300 * time.Second,
		TransientPause: 200 * time.Millisecond,
	}
}

// Reason 循环结束原因。
type Reason string

const (
	ReasonStreamEnd Reason = "stream_end"
	ReasonUISettled Reason = "ui_settled"
	ReasonStable    Reason = "content_stable"
	ReasonTimeout   Reason = "timeout"
	ReasonPageGone  Reason = "page_gone"
)

// Result 一次调和的最终产物。超时与页面丢失不算错误：
// 已收集的部分内容原样交付。
type Result struct {
	Answer   string
	Thinking string
	Reason   Reason
	Replaced bool
}

// Reconciler 流式响应调和器。
type Reconciler struct {
	cfg        Config
	logger     *zap.Logger
	onMismatch func(provider string)
}

// Option 配置 Reconciler。
type Option func(*Reconciler)

// WithMismatchHook 注册终局校正回调（指标用）。
func WithMismatchHook(fn func(provider string)) Option {
	return func(r *Reconciler) { r.onMismatch = fn }
}

// New 创建调和器。
func New(cfg Config, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.QuietPolls <= 0 {
		cfg.QuietPolls = def.QuietPolls
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.TransientPause <= 0 {
		cfg.TransientPause = def.TransientPause
	}
	r := &Reconciler{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "reconciler")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 驱动调和循环直至完成。frags 由网络拦截回调喂入；
// emit 失败（客户端断开）与 ctx 取消走同一条退出路径。
func (r *Reconciler) Run(ctx context.Context, page browser.Page, drv providers.SiteDriver, frags <-chan providers.Fragment, emit Sink) (Result, error) {
	acc := NewAccumulator()

	var (
		quiet        int
		sawActivity  bool // 见过"生成中"或任何内容
		settledSince time.Time
		reason       Reason
	)

	probe := Probe{Interval: r.cfg.PollInterval, MaxElapsed: r.cfg.MaxDuration}
	err := probe.Run(ctx, func(ctx context.Context) (bool, error) {
		progressed := false

		// 1. 非阻塞排空拦截片段——低延迟路径
		for {
			var f providers.Fragment
			var ok bool
			select {
			case f, ok = <-frags:
			default:
				ok = false
			}
			if !ok {
				break
			}
			if ev, emitOK := acc.AddFragment(f); emitOK {
				progressed = true
				if serr := emit(ev); serr != nil {
					return false, serr
				}
			}
		}

		// 2. DOM 轮询：只有超出已见长度的部分是新增
		full, derr := drv.ResponseText(ctx, page)
		if derr != nil {
			switch browser.Classify(derr) {
			case browser.KindPageGone, browser.KindSessionDead:
				reason = ReasonPageGone
				r.logger.Warn("page lost mid-stream, surfacing partial output",
					zap.Error(derr))
				return true, nil
			default:
				// 瞬时失败：停顿后下一 tick 重试
				r.logger.Debug("dom poll transient error", zap.Error(derr))
				r.pause(ctx)
				return false, nil
			}
		}
		if ev, emitOK := acc.AddDOMText(full); emitOK {
			progressed = true
			if serr := emit(ev); serr != nil {
				return false, serr
			}
		}

		// 3. 完成判定，严格按优先级
		if acc.Ended() {
			reason = ReasonStreamEnd
			return true, nil
		}

		state, serr := drv.State(ctx, page)
		if serr != nil {
			if k := browser.Classify(serr); k == browser.KindPageGone || k == browser.KindSessionDead {
				reason = ReasonPageGone
				return true, nil
			}
			state = providers.GenerationState{} // 瞬时：本 tick 视为未知
		}
		if state.Generating {
			sawActivity = true
		}
		if acc.HasContent() {
			sawActivity = true
		}

		if state.Settled() && sawActivity {
			if settledSince.IsZero() {
				settledSince = time.Now()
			} else if time.Since(settledSince) >= r.cfg.SettleDelay {
				// 沉降延迟后仍然 settled，复确认通过
				reason = ReasonUISettled
				return true, nil
			}
		} else {
			settledSince = time.Time{}
		}

		if progressed {
			quiet = 0
		} else if acc.HasContent() {
			quiet++
			if quiet >= r.cfg.QuietPolls {
				reason = ReasonStable
				return true, nil
			}
		}
		return false, nil
	})

	if err != nil {
		if err == ErrProbeTimeout {
			// 超时不是错误：交付已收集内容
			reason = ReasonTimeout
		} else {
			return Result{
				Answer:   acc.Answer(),
				Thinking: acc.Thinking(),
				Reason:   reason,
			}, err
		}
	}

	res := Result{
		Answer:   acc.Answer(),
		Thinking: acc.Thinking(),
		Reason:   reason,
	}

	// 4. 终局校正：DOM 是最终权威（拦截流更常丢序/丢块）。
	// thinking 通道没有统一的 DOM 观察点，从不事后替换。
	if reason != ReasonPageGone {
		if final, ferr := drv.ResponseText(ctx, page); ferr == nil && final != "" && final != res.Answer {
			answerFrags, thinkingFrags := acc.KindCounts()
			r.logger.Info("reconciliation mismatch, emitting replace",
				zap.Int("stream_len", len(res.Answer)),
				zap.Int("dom_len", len(final)),
				zap.Int("answer_fragments", answerFrags),
				zap.Int("thinking_fragments", thinkingFrags))
			if r.onMismatch != nil {
				r.onMismatch(drv.ID())
			}
			if serr := emit(Event{Kind: EventReplace, Text: final}); serr != nil {
				return res, serr
			}
			res.Answer = final
			res.Replaced = true
		}
	}

	r.logger.Debug("reconcile finished",
		zap.String("reason", string(res.Reason)),
		zap.Int("answer_len", len(res.Answer)),
		zap.Int("thinking_len", len(res.Thinking)))
	return res, nil
}

func (r *Reconciler) pause(ctx context.Context) {
	select {
	case <-time.After(r.cfg.TransientPause):
	case <-ctx.Done():
	}
}
