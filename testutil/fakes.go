package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/chatrelay/browser"
)

// =============================================================================
// 🧪 FakePage
// =============================================================================

type respHandler struct {
	id      int
	pattern string
	fn      func([]byte)
}

// FakePage 实现 browser.Page。零值可用；字段与钩子按需设置。
type FakePage struct {
	mu sync.Mutex

	CurrentURL string
	// Present 选择器 → 是否存在
	Present map[string]bool
	// Texts 选择器 → Text() 返回值
	Texts map[string]string
	// EvalFn 自定义 Eval 行为（驱动的 ResponseText 走这里）
	EvalFn func(expr string, out any) error
	// 操作错误注入
	NavigateErr error
	OpErr       error

	// 录制
	Navigated []string
	FilledIn  map[string]string
	Clicked   []string

	closed    bool
	handlers  []respHandler
	handlerID int
}

var _ browser.Page = (*FakePage)(nil)

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.CurrentURL = url
	p.Navigated = append(p.Navigated, url)
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, p.OpErr
}

// SetURL 测试中模拟站点自行跳转（如新会话生成线程 URL）。
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = url
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpErr != nil {
		return p.OpErr
	}
	p.Clicked = append(p.Clicked, selector)
	return nil
}

func (p *FakePage) Fill(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpErr != nil {
		return p.OpErr
	}
	if p.FilledIn == nil {
		p.FilledIn = make(map[string]string)
	}
	p.FilledIn[selector] = text
	return nil
}

func (p *FakePage) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpErr != nil {
		return "", p.OpErr
	}
	return p.Texts[selector], nil
}

func (p *FakePage) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpErr != nil {
		return false, p.OpErr
	}
	return p.Present[selector], nil
}

func (p *FakePage) Eval(ctx context.Context, expr string, out any) error {
	p.mu.Lock()
	fn := p.EvalFn
	opErr := p.OpErr
	p.mu.Unlock()
	if opErr != nil {
		return opErr
	}
	if fn != nil {
		return fn(expr, out)
	}
	return nil
}

func (p *FakePage) OnResponse(pattern string, fn func(body []byte)) func() {
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

// HandlerCount 当前仍注册在页面上的响应回调数。
func (p *FakePage) HandlerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// PushResponse 模拟网络拦截投递：url 命中已注册 pattern 的回调收到 body。
func (p *FakePage) PushResponse(url string, body []byte) {
	p.mu.Lock()
	handlers := make([]respHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()
	for _, h := range handlers {
		if strings.Contains(url, h.pattern) {
			h.fn(body)
		}
	}
}

func (p *FakePage) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed 页面是否已被关闭。
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// =============================================================================
// 🧪 FakeSession / FakeEngine
// =============================================================================

// FakeSession 实现 browser.Session。
type FakeSession struct {
	mu sync.Mutex

	ProfileKey browser.ProfileKey
	// NewPageFn 可选钩子；默认返回新的 FakePage
	NewPageFn func(ctx context.Context) (browser.Page, error)
	Dead      bool

	pages []browser.Page
}

var _ browser.Session = (*FakeSession)(nil)

func (s *FakeSession) Key() browser.ProfileKey { return s.ProfileKey }

func (s *FakeSession) NewPage(ctx context.Context) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Dead {
		return nil, browser.ErrSessionClosed
	}
	var p browser.Page
	var err error
	if s.NewPageFn != nil {
		p, err = s.NewPageFn(ctx)
	} else {
		p = &FakePage{}
	}
	if err != nil {
		return nil, err
	}
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *FakeSession) Pages() []browser.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]browser.Page, 0, len(s.pages))
	for _, p := range s.pages {
		if p.Alive() {
			out = append(out, p)
		}
	}
	return out
}

func (s *FakeSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Dead
}

// Kill 标记会话死亡，后续操作返回会话级错误。
func (s *FakeSession) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dead = true
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dead = true
	for _, p := range s.pages {
		_ = p.Close()
	}
	return nil
}

// FakeEngine 实现 browser.Engine，记录打开过的 Profile。
type FakeEngine struct {
	mu sync.Mutex

	// OpenProfileFn 可选钩子；默认返回新的 FakeSession
	OpenProfileFn func(ctx context.Context, key browser.ProfileKey) (browser.Session, error)

	Opened   []browser.ProfileKey
	Sessions []*FakeSession
}

var _ browser.Engine = (*FakeEngine)(nil)

func (e *FakeEngine) OpenProfile(ctx context.Context, key browser.ProfileKey) (browser.Session, error) {
	e.mu.Lock()
	e.Opened = append(e.Opened, key)
	fn := e.OpenProfileFn
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, key)
	}
	s := &FakeSession{ProfileKey: key}
	e.mu.Lock()
	e.Sessions = append(e.Sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *FakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.Sessions {
		_ = s.Close()
	}
	return nil
}

// OpenCount 返回 OpenProfile 被调用的次数。
func (e *FakeEngine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Opened)
}
