// Package qwen drives the Qwen (通义千问) web chat UI.
//
// Stream format: the completion endpoint emits newline-delimited JSON
// envelopes with path/operation/value triples, e.g.
//
//	{"p":"response.content","o":"append","v":"你好"}
//	{"p":"response.reasoning_content","o":"append","v":"..."}
//	{"p":"response.status","o":"set","v":"finished"}
package qwen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/BaSui01/chatrelay/bridge/continuity"
	"github.com/BaSui01/chatrelay/browser"
	"github.com/BaSui01/chatrelay/providers"
	"go.uber.org/zap"
)

const (
	baseURL       = "https://chat.qwen.ai"
	streamPattern = "/api/chat/completions"

	// 选择器目录。站点改版时只动这里。
	selInput        = "textarea#chat-input"
	selSendButton   = "button#send-message-button"
	selStopButton   = "button#stop-response-button"
	selResponseItem = ".response-message-content"
	selLoginButton  = ".login-entry-button"
	selLoginAccount = "input[name='account']"
	selLoginPwd     = "input[name='password']"
	selLoginSubmit  = "button[type='submit']"
)

// Driver 通义千问站点驱动。
type Driver struct {
	entry  string
	logger *zap.Logger
}

// New 创建驱动。entryURL 为空时使用默认站点地址。
func New(entryURL string, logger *zap.Logger) *Driver {
	if entryURL == "" {
		entryURL = baseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		entry:  strings.TrimRight(entryURL, "/"),
		logger: logger.With(zap.String("provider", "qwen")),
	}
}

func (d *Driver) ID() string { return "qwen" }

func (d *Driver) SupportedModels() []string {
	return []string{"qwen-web", "qwen-web-thinking"}
}

func (d *Driver) EntryURL(model string) string { return d.entry + "/" }

func (d *Driver) StreamPattern() string { return streamPattern }

func (d *Driver) Codec() continuity.LocatorCodec { return codec{entry: d.entry} }

// codec：会话 ID 即线程 URL 的尾段，/c/<id>。
type codec struct{ entry string }

func (c codec) ToLocator(id string) string {
	if strings.HasPrefix(id, "http") {
		return id
	}
	return c.entry + "/c/" + id
}

func (c codec) FromURL(url string) string {
	idx := strings.Index(url, "/c/")
	if idx < 0 {
		return ""
	}
	id := url[idx+len("/c/"):]
	if cut := strings.IndexAny(id, "?#"); cut >= 0 {
		id = id[:cut]
	}
	return id
}

// envelope path/op/value 信封
type envelope struct {
	P string          `json:"p"`
	O string          `json:"o"`
	V json.RawMessage `json:"v"`
}

// ClassifyFragments 解析一段响应体为已分类片段。
func (d *Driver) ClassifyFragments(body []byte) []providers.Fragment {
	var frags []providers.Fragment
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		frag, ok := d.classify(env)
		if !ok {
			continue
		}
		frags = append(frags, frag)
	}
	return frags
}

func (d *Driver) classify(env envelope) (providers.Fragment, bool) {
	var text string
	switch env.P {
	case "response.content":
		_ = json.Unmarshal(env.V, &text)
		return providers.Fragment{Kind: providers.FragmentAnswer, Text: text}, text != ""
	case "response.reasoning_content":
		_ = json.Unmarshal(env.V, &text)
		return providers.Fragment{Kind: providers.FragmentThinking, Text: text}, text != ""
	case "response.status":
		_ = json.Unmarshal(env.V, &text)
		if text == "finished" {
			return providers.Fragment{Kind: providers.FragmentEnd}, true
		}
	}
	return providers.Fragment{}, false
}

// CheckAuthenticated 登录入口按钮存在即视为未登录。
func (d *Driver) CheckAuthenticated(ctx context.Context, p browser.Page) (bool, error) {
	present, err := p.Exists(ctx, selLoginButton)
	if err != nil {
		return false, err
	}
	return !present, nil
}

func (d *Driver) SendMessage(ctx context.Context, p browser.Page, text string) error {
	if err := p.Fill(ctx, selInput, text); err != nil {
		return err
	}
	return p.Click(ctx, selSendButton)
}

func (d *Driver) ResponseText(ctx context.Context, p browser.Page) (string, error) {
	// 取最后一条回复节点的文本
	var out string
	expr := `(() => {
		const nodes = document.querySelectorAll('` + selResponseItem + `');
		return nodes.length ? nodes[nodes.length - 1].innerText : '';
	})()`
	if err := p.Eval(ctx, expr, &out); err != nil {
		return "", err
	}
	return out, nil
}

func (d *Driver) State(ctx context.Context, p browser.Page) (providers.GenerationState, error) {
	generating, err := p.Exists(ctx, selStopButton)
	if err != nil {
		return providers.GenerationState{}, err
	}
	canSend, err := p.Exists(ctx, selSendButton)
	if err != nil {
		return providers.GenerationState{}, err
	}
	return providers.GenerationState{Generating: generating, CanSend: canSend}, nil
}

func (d *Driver) Login(ctx context.Context, p browser.Page, account, password string) error {
	if present, err := p.Exists(ctx, selLoginButton); err == nil && present {
		if err := p.Click(ctx, selLoginButton); err != nil {
			return err
		}
	}
	if err := p.Fill(ctx, selLoginAccount, account); err != nil {
		return err
	}
	if err := p.Fill(ctx, selLoginPwd, password); err != nil {
		return err
	}
	return p.Click(ctx, selLoginSubmit)
}
