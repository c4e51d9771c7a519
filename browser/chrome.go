package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 ChromeEngine — Engine 的 chromedp 实现
// =============================================================================

// ChromeEngine 基于 chromedp 的 Engine 实现。
type ChromeEngine struct {
	cfg      Config
	logger   *zap.Logger
	mu       sync.Mutex
	sessions []*chromeSession
	closed   bool
}

// NewChromeEngine 创建 chromedp 引擎。
func NewChromeEngine(cfg Config, logger *zap.Logger) *ChromeEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeEngine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "chrome_engine")),
	}
}

// profileDir 计算 Profile 目录。账号非空时目录名包含账号，
// 保证不同账号绝不共享 Profile。
func (e *ChromeEngine) profileDir(key ProfileKey) string {
	name := key.Provider
	if key.Account != "" {
		name = key.Provider + "__" + key.Account
	}
	return filepath.Join(e.cfg.ProfileRoot, name)
}

// OpenProfile 打开 key 对应的持久化浏览器会话。
func (e *ChromeEngine) OpenProfile(ctx context.Context, key ProfileKey) (Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrSessionClosed
	}
	e.mu.Unlock()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.cfg.Headless),
		chromedp.UserDataDir(e.profileDir(key)),
		chromedp.WindowSize(e.cfg.ViewportWidth, e.cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		// 反指纹：去掉 Blink 的自动化特征
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
	)
	ua := e.cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	opts = append(opts, chromedp.UserAgent(ua))
	if e.cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(e.cfg.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			e.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// 启动浏览器
	startCtx := browserCtx
	if e.cfg.StartTimeout > 0 {
		var startCancel context.CancelFunc
		startCtx, startCancel = context.WithTimeout(browserCtx, e.cfg.StartTimeout)
		defer startCancel()
	}
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser for %s/%s: %w", key.Provider, key.Account, err)
	}

	s := &chromeSession{
		key:         key,
		engine:      e,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		logger: e.logger.With(
			zap.String("provider", key.Provider),
			zap.String("account", key.Account),
		),
	}

	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()

	s.logger.Info("browser session started",
		zap.Bool("headless", e.cfg.Headless),
		zap.String("profile_dir", e.profileDir(key)))
	return s, nil
}

// Close 关闭引擎与其创建的全部会话。
func (e *ChromeEngine) Close() error {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = nil
	e.closed = true
	e.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	return nil
}

func (e *ChromeEngine) dropSession(victim *chromeSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.sessions {
		if s == victim {
			e.sessions = append(e.sessions[:i], e.sessions[i+1:]...)
			return
		}
	}
}

// =============================================================================
// 🗂️ chromeSession
// =============================================================================

type chromeSession struct {
	key         ProfileKey
	engine      *ChromeEngine
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger

	mu     sync.Mutex
	pages  []*chromePage
	closed bool
}

func (s *chromeSession) Key() ProfileKey { return s.key }

// Alive 惰性判断：仅看浏览器上下文是否已结束，不主动探测。
func (s *chromeSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.ctx.Err() == nil
}

// NewPage 打开新标签页，启用网络事件并注入反指纹脚本。
func (s *chromeSession) NewPage(ctx context.Context) (Page, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	pageCtx, pageCancel := chromedp.NewContext(s.ctx)
	p := &chromePage{
		ctx:     pageCtx,
		cancel:  pageCancel,
		session: s,
		logger:  s.logger.With(zap.String("component", "page")),
		reqURLs: make(map[network.RequestID]string),
	}

	// 网络事件监听必须在任何导航之前挂好
	chromedp.ListenTarget(pageCtx, p.onNetworkEvent)

	err := chromedp.Run(pageCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		pageCancel()
		return nil, fmt.Errorf("open page: %w", err)
	}

	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return p, nil
}

func (s *chromeSession) Pages() []Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Page, 0, len(s.pages))
	for _, p := range s.pages {
		if p.Alive() {
			out = append(out, p)
		}
	}
	return out
}

func (s *chromeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pages := s.pages
	s.pages = nil
	s.mu.Unlock()

	for _, p := range pages {
		_ = p.Close()
	}
	s.cancel()
	s.allocCancel()
	s.engine.dropSession(s)
	s.logger.Info("browser session closed")
	return nil
}

func (s *chromeSession) dropPage(victim *chromePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pages {
		if p == victim {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			return
		}
	}
}

// =============================================================================
// 📄 chromePage
// =============================================================================

type respHandler struct {
	id      int
	pattern string
	fn      func(body []byte)
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session *chromeSession
	logger  *zap.Logger

	mu        sync.Mutex
	closed    bool
	handlers  []respHandler
	handlerID int
	reqURLs   map[network.RequestID]string
}

// run 在页面上下文里执行动作，同时尊重调用方 ctx 的取消。
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("navigating", zap.String("url", url))
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Fill(ctx context.Context, selector, text string) error {
	return p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, error) {
	var out string
	err := p.run(ctx,
		chromedp.Text(selector, &out, chromedp.ByQuery, chromedp.AtLeast(0)))
	if err != nil {
		return "", err
	}
	return out, nil
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	if err := p.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (p *chromePage) Eval(ctx context.Context, expr string, out any) error {
	if out == nil {
		return p.run(ctx, chromedp.Evaluate(expr, nil))
	}
	return p.run(ctx, chromedp.Evaluate(expr, out))
}

func (p *chromePage) OnResponse(pattern string, fn func(body []byte)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlerID++
	id := p.handlerID
	p.handlers = append(p.handlers, respHandler{id: id, pattern: pattern, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, h := range p.handlers {
			if h.id == id {
				p.handlers = append(p.handlers[:i], p.handlers[i+1:]...)
				return
			}
		}
	}
}

func (p *chromePage) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.ctx.Err() == nil
}

func (p *chromePage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.session.dropPage(p)
	return nil
}

// onNetworkEvent 记录响应 URL，加载完成后抓取响应体并分发。
// 抓体必须等 LoadingFinished，否则 GetResponseBody 可能拿到半截。
func (p *chromePage) onNetworkEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		url := e.Response.URL
		p.mu.Lock()
		for _, h := range p.handlers {
			if strings.Contains(url, h.pattern) {
				p.reqURLs[e.RequestID] = url
				break
			}
		}
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.mu.Lock()
		url, ok := p.reqURLs[e.RequestID]
		if ok {
			delete(p.reqURLs, e.RequestID)
		}
		handlers := make([]respHandler, len(p.handlers))
		copy(handlers, p.handlers)
		p.mu.Unlock()
		if !ok {
			return
		}
		go p.fetchBody(e.RequestID, url, handlers)
	}
}

func (p *chromePage) fetchBody(id network.RequestID, url string, handlers []respHandler) {
	var body []byte
	fetchCtx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(fetchCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		// 流式响应在页面跳转后可能已不可取，丢弃即可，DOM 轮询兜底
		p.logger.Debug("fetch response body failed",
			zap.String("url", url), zap.Error(err))
		return
	}
	for _, h := range handlers {
		if strings.Contains(url, h.pattern) {
			h.fn(body)
		}
	}
}
