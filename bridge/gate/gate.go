// Package gate implements the per-provider mutual exclusion primitive.
//
// 一个 provider 同一时刻最多只允许一个回合驱动浏览器。拿不到许可的请求
// 立即收到 busy，绝不排队——浏览器回合动辄几十秒，排队只会堆积超时。
package gate

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Gate 每个 providerId 一枚二元许可。
// 扩展点：将 key 换成 provider+account 即可放宽为账号级互斥。
type Gate struct {
	mu      sync.Mutex
	busy    map[string]*atomic.Bool
	logger  *zap.Logger
	onEvent func(provider, event string) // metrics hook，可为 nil
}

// Option 配置 Gate。
type Option func(*Gate)

// WithEventHook 注册 acquire/busy/release 事件回调（用于指标）。
func WithEventHook(fn func(provider, event string)) Option {
	return func(g *Gate) { g.onEvent = fn }
}

// New 创建 Gate。
func New(logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		busy:   make(map[string]*atomic.Bool),
		logger: logger.With(zap.String("component", "gate")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) flag(provider string) *atomic.Bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.busy[provider]
	if !ok {
		f = &atomic.Bool{}
		g.busy[provider] = f
	}
	return f
}

// TryAcquire 非阻塞获取许可。返回 nil 表示 provider 正忙，
// 调用方必须立即返回 busy 响应。
func (g *Gate) TryAcquire(provider string) *Permit {
	f := g.flag(provider)
	if !f.CompareAndSwap(false, true) {
		g.emit(provider, "busy")
		return nil
	}
	g.emit(provider, "acquire")
	g.logger.Debug("permit acquired", zap.String("provider", provider))
	return &Permit{gate: g, provider: provider, flag: f}
}

func (g *Gate) emit(provider, event string) {
	if g.onEvent != nil {
		g.onEvent(provider, event)
	}
}

// Permit 一次成功 acquire 对应的释放凭证。
// Release 幂等：completion / error / timeout / cancellation 哪个先到都只释放一次。
type Permit struct {
	gate     *Gate
	provider string
	flag     *atomic.Bool
	released atomic.Bool
}

// Release 释放许可。重复调用是无害的空操作。
func (p *Permit) Release() {
	if p == nil {
		return
	}
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	p.flag.Store(false)
	p.gate.emit(p.provider, "release")
	p.gate.logger.Debug("permit released", zap.String("provider", p.provider))
}

// Released 返回许可是否已释放（测试用）。
func (p *Permit) Released() bool {
	return p.released.Load()
}
