package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/chatrelay/bridge/continuity"
	"github.com/BaSui01/chatrelay/browser"
	"github.com/BaSui01/chatrelay/providers"
)

// PrefixCodec 简单的 URL 前缀编解码器，测试专用。
type PrefixCodec struct{ Prefix string }

var _ continuity.LocatorCodec = PrefixCodec{}

func (c PrefixCodec) ToLocator(id string) string {
	if strings.HasPrefix(id, c.Prefix) {
		return id
	}
	return c.Prefix + id
}

func (c PrefixCodec) FromURL(url string) string {
	if !strings.HasPrefix(url, c.Prefix) {
		return ""
	}
	return strings.TrimPrefix(url, c.Prefix)
}

// FakeDriver 可编排的 providers.SiteDriver 实现。
type FakeDriver struct {
	mu sync.Mutex

	IDValue     string
	ModelsValue []string
	Entry       string
	Pattern     string
	Codecs      continuity.LocatorCodec

	// 认证
	Authenticated bool
	AuthErr       error

	// 发送
	SendErr   error
	SentTexts []string

	// DOM 观察序列：依次返回，末项之后保持不变
	ResponseSeq []string
	respIdx     int
	StateSeq    []providers.GenerationState
	stateIdx    int
	ResponseErr error

	// 片段解析钩子
	FragmentsFn func(body []byte) []providers.Fragment

	// 登录
	LoginErr   error
	LoginCalls [][2]string
}

var _ providers.SiteDriver = (*FakeDriver)(nil)

// NewFakeDriver 创建具备合理默认值的假驱动。
func NewFakeDriver(id string) *FakeDriver {
	return &FakeDriver{
		IDValue:       id,
		ModelsValue:   []string{id + "-web"},
		Entry:         "https://" + id + ".example.com/",
		Pattern:       "/api/stream",
		Codecs:        PrefixCodec{Prefix: "https://" + id + ".example.com/c/"},
		Authenticated: true,
		StateSeq:      []providers.GenerationState{{Generating: false, CanSend: true}},
	}
}

func (d *FakeDriver) ID() string                     { return d.IDValue }
func (d *FakeDriver) SupportedModels() []string      { return d.ModelsValue }
func (d *FakeDriver) EntryURL(model string) string   { return d.Entry }
func (d *FakeDriver) StreamPattern() string          { return d.Pattern }
func (d *FakeDriver) Codec() continuity.LocatorCodec { return d.Codecs }

func (d *FakeDriver) ClassifyFragments(body []byte) []providers.Fragment {
	if d.FragmentsFn != nil {
		return d.FragmentsFn(body)
	}
	return nil
}

func (d *FakeDriver) CheckAuthenticated(ctx context.Context, p browser.Page) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Authenticated, d.AuthErr
}

// SetAuthenticated 切换认证状态（登录成功后测试调用）。
func (d *FakeDriver) SetAuthenticated(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Authenticated = v
}

func (d *FakeDriver) SendMessage(ctx context.Context, p browser.Page, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendErr != nil {
		return d.SendErr
	}
	d.SentTexts = append(d.SentTexts, text)
	return nil
}

func (d *FakeDriver) ResponseText(ctx context.Context, p browser.Page) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ResponseErr != nil {
		return "", d.ResponseErr
	}
	if len(d.ResponseSeq) == 0 {
		return "", nil
	}
	out := d.ResponseSeq[d.respIdx]
	if d.respIdx < len(d.ResponseSeq)-1 {
		d.respIdx++
	}
	return out, nil
}

func (d *FakeDriver) State(ctx context.Context, p browser.Page) (providers.GenerationState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.StateSeq) == 0 {
		return providers.GenerationState{CanSend: true}, nil
	}
	out := d.StateSeq[d.stateIdx]
	if d.stateIdx < len(d.StateSeq)-1 {
		d.stateIdx++
	}
	return out, nil
}

func (d *FakeDriver) Login(ctx context.Context, p browser.Page, account, password string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LoginCalls = append(d.LoginCalls, [2]string{account, password})
	return d.LoginErr
}
