// Package sessionpool owns the mapping from (provider, account) to a live
// browser session and from (provider, slot) to an active page.
//
// 存活检查是惰性的：不做健康轮询，直接尝试下一次操作；分类为"会话已死"
// 的错误触发 移除 → 重建 → 重试同一操作，重试有界，超限上抛
// SESSION_UNAVAILABLE。同步按 provider 分键，互不相关的 provider 之间
// 永不竞争同一把锁。
package sessionpool

import (
	"context"
	"time"

	"sync"

	"github.com/BaSui01/chatrelay/bridge/continuity"
	"github.com/BaSui01/chatrelay/browser"
	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config 池行为配置。
type Config struct {
	// MaxAttempts 同一操作的最大尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// RetryBackoff 两次尝试间的停顿
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

// DefaultConfig 返回默认池配置。
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Slot 页面槽位标识。一个 provider 下每个模型/会话占一个槽。
type Slot struct {
	Provider string
	Account  string
	Name     string
}

func (s Slot) pageKey() string {
	return s.Provider + "\x00" + s.Account + "\x00" + s.Name
}

func sessionKey(provider, account string) string {
	return provider + "\x00" + account
}

// Pool 会话与页面注册表。
type Pool struct {
	engine     browser.Engine
	cfg        Config
	logger     *zap.Logger
	onRecreate func(provider string)

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]browser.Session
	pages    map[string]browser.Page
	group    singleflight.Group
}

// Option 配置 Pool。
type Option func(*Pool)

// WithRecreateHook 注册会话重建回调（指标用）。
func WithRecreateHook(fn func(provider string)) Option {
	return func(p *Pool) { p.onRecreate = fn }
}

// New 创建池。
func New(engine browser.Engine, cfg Config, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	p := &Pool{
		engine:   engine,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "session_pool")),
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]browser.Session),
		pages:    make(map[string]browser.Page),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// lockFor 返回 provider 级别的键锁。
func (p *Pool) lockFor(provider string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[provider]
	if !ok {
		l = &sync.Mutex{}
		p.locks[provider] = l
	}
	return l
}

// ResolvePage 按会话句柄解析（或创建）槽位页面。
//   - handle.IsNew: 关闭槽位上的旧页面，开新页导航到入口地址
//   - 续接: 先查当前槽位页面，再扫会话全部页面找 URL 匹配的；
//     命中则复用（URL 不同才导航）；否则开新页并导航到定位符
func (p *Pool) ResolvePage(ctx context.Context, slot Slot, handle continuity.Handle, codec continuity.LocatorCodec, entryURL string) (browser.Page, error) {
	lock := p.lockFor(slot.Provider)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		page, err := p.resolveOnce(ctx, slot, handle, codec, entryURL)
		if err == nil {
			return page, nil
		}
		lastErr = err

		switch browser.Classify(err) {
		case browser.KindSessionDead:
			p.logger.Warn("session dead, recreating",
				zap.String("provider", slot.Provider),
				zap.String("account", slot.Account),
				zap.Int("attempt", attempt),
				zap.Error(err))
			p.dropSession(slot.Provider, slot.Account)
			if p.onRecreate != nil {
				p.onRecreate(slot.Provider)
			}
		case browser.KindFatal:
			return nil, err
		default:
			// 瞬时 / 页面级错误：原地重试同一操作
			p.logger.Debug("page resolve retry",
				zap.Int("attempt", attempt), zap.Error(err))
		}

		if attempt < p.cfg.MaxAttempts {
			select {
			case <-time.After(p.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, types.NewError(types.ErrSessionUnavailable,
		"browser session unavailable after retries").
		WithProvider(slot.Provider).
		WithCause(lastErr)
}

func (p *Pool) resolveOnce(ctx context.Context, slot Slot, handle continuity.Handle, codec continuity.LocatorCodec, entryURL string) (browser.Page, error) {
	sess, err := p.session(ctx, slot.Provider, slot.Account)
	if err != nil {
		return nil, err
	}

	key := slot.pageKey()

	if handle.IsNew {
		p.mu.Lock()
		old, ok := p.pages[key]
		delete(p.pages, key)
		p.mu.Unlock()
		if ok {
			_ = old.Close()
		}
		page, err := sess.NewPage(ctx)
		if err != nil {
			return nil, err
		}
		if err := page.Navigate(ctx, entryURL); err != nil {
			_ = page.Close()
			return nil, err
		}
		p.storePage(key, page)
		return page, nil
	}

	locator := codec.ToLocator(handle.ID)

	// 当前槽位页面优先
	p.mu.Lock()
	cur, ok := p.pages[key]
	p.mu.Unlock()
	if ok && cur.Alive() {
		if url, uerr := cur.URL(ctx); uerr == nil && codec.FromURL(url) == handle.ID {
			if url != locator {
				if nerr := cur.Navigate(ctx, locator); nerr != nil {
					return nil, nerr
				}
			}
			return cur, nil
		}
	}

	// 扫描该账号会话的全部已开页面
	for _, pg := range sess.Pages() {
		url, uerr := pg.URL(ctx)
		if uerr != nil {
			continue
		}
		if codec.FromURL(url) == handle.ID {
			if url != locator {
				if nerr := pg.Navigate(ctx, locator); nerr != nil {
					return nil, nerr
				}
			}
			p.storePage(key, pg)
			return pg, nil
		}
	}

	// 没有可复用页面：开新页导航过去
	page, err := sess.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	if err := page.Navigate(ctx, locator); err != nil {
		_ = page.Close()
		return nil, err
	}
	p.storePage(key, page)
	return page, nil
}

func (p *Pool) storePage(key string, page browser.Page) {
	p.mu.Lock()
	p.pages[key] = page
	p.mu.Unlock()
}

// session 返回（必要时创建）账号会话。创建经 singleflight 去重，
// 同一 Profile 并发请求只会启动一个浏览器。
func (p *Pool) session(ctx context.Context, provider, account string) (browser.Session, error) {
	key := sessionKey(provider, account)

	p.mu.Lock()
	sess, ok := p.sessions[key]
	p.mu.Unlock()
	if ok && sess.Alive() {
		return sess, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		// double-check：拿到 singleflight 后可能已有人建好
		p.mu.Lock()
		if s, ok := p.sessions[key]; ok && s.Alive() {
			p.mu.Unlock()
			return s, nil
		}
		p.mu.Unlock()

		s, err := p.engine.OpenProfile(ctx, browser.ProfileKey{
			Provider: provider,
			Account:  account,
		})
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.sessions[key] = s
		p.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(browser.Session), nil
}

// dropSession 从池中移除并关闭会话及其槽位页面。
func (p *Pool) dropSession(provider, account string) {
	key := sessionKey(provider, account)
	p.mu.Lock()
	sess, ok := p.sessions[key]
	delete(p.sessions, key)
	prefix := provider + "\x00" + account + "\x00"
	for k, pg := range p.pages {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			_ = pg.Close()
			delete(p.pages, k)
		}
	}
	p.mu.Unlock()
	if ok {
		_ = sess.Close()
	}
}

// ClosePage 关闭并移除槽位页面（不可恢复错误后的清理）。
func (p *Pool) ClosePage(slot Slot) {
	p.mu.Lock()
	page, ok := p.pages[slot.pageKey()]
	delete(p.pages, slot.pageKey())
	p.mu.Unlock()
	if ok {
		_ = page.Close()
	}
}

// Shutdown 关闭全部会话。
func (p *Pool) Shutdown() {
	p.mu.Lock()
	sessions := make([]browser.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]browser.Session)
	p.pages = make(map[string]browser.Page)
	p.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	p.logger.Info("session pool shut down", zap.Int("sessions", len(sessions)))
}
