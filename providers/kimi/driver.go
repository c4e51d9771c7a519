// Package kimi drives the Kimi (Moonshot) web chat UI.
//
// Stream format: SSE event framing, one JSON object per data line:
//
//	data: {"event":"k1","text":"思考中..."}
//	data: {"event":"cmpl","text":"答案"}
//	data: {"event":"all_done"}
package kimi

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
	baseURL       = "https://www.kimi.com"
	streamPattern = "/apiv2/kimi.chat"

	selInput        = "div[data-testid='msh-chatinput-editor']"
	selSendButton   = "div[data-testid='msh-chatinput-send-button']"
	selStopButton   = "div[data-testid='msh-chatinput-stop-button']"
	selResponseItem = "div[data-testid='msh-chat-segment-assistant']"
	selLoginButton  = "button[data-testid='msh-login-button']"
	selLoginAccount = "input[type='text'][name='username']"
	selLoginPwd     = "input[type='password']"
	selLoginSubmit  = "button[data-testid='msh-login-submit']"
)

// Driver Kimi 站点驱动。
type Driver struct {
	entry  string
	logger *zap.Logger
}

// New 创建驱动。
func New(entryURL string, logger *zap.Logger) *Driver {
	if entryURL == "" {
		entryURL = baseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		entry:  strings.TrimRight(entryURL, "/"),
		logger: logger.With(zap.String("provider", "kimi")),
	}
}

func (d *Driver) ID() string { return "kimi" }

func (d *Driver) SupportedModels() []string {
	return []string{"kimi-web", "kimi-web-k1"}
}

func (d *Driver) EntryURL(model string) string { return d.entry + "/chat" }

func (d *Driver) StreamPattern() string { return streamPattern }

func (d *Driver) Codec() continuity.LocatorCodec { return codec{entry: d.entry} }

// codec：Kimi 用原生线程 ID，URL 形如 /chat/<id>。
type codec struct{ entry string }

func (c codec) ToLocator(id string) string {
	if strings.HasPrefix(id, "http") {
		return id
	}
	return c.entry + "/chat/" + id
}

func (c codec) FromURL(url string) string {
	idx := strings.Index(url, "/chat/")
	if idx < 0 {
		return ""
	}
	id := url[idx+len("/chat/"):]
	if cut := strings.IndexAny(id, "?#/"); cut >= 0 {
		id = id[:cut]
	}
	return id
}

type event struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

// ClassifyFragments 解析 SSE 帧。k1 事件是推理轨迹，cmpl 是正文。
func (d *Driver) ClassifyFragments(body []byte) []providers.Fragment {
	var frags []providers.Fragment
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		line = bytes.TrimSpace(line[len("data:"):])
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		var frag providers.Fragment
		switch ev.Event {
		case "cmpl":
			if ev.Text == "" {
				continue
			}
			frag = providers.Fragment{Kind: providers.FragmentAnswer, Text: ev.Text}
		case "k1", "think":
			if ev.Text == "" {
				continue
			}
			frag = providers.Fragment{Kind: providers.FragmentThinking, Text: ev.Text}
		case "all_done", "done":
			frag = providers.Fragment{Kind: providers.FragmentEnd}
		default:
			continue
		}
		frags = append(frags, frag)
	}
	return frags
}

func (d *Driver) CheckAuthenticated(ctx context.Context, p browser.Page) (bool, error) {
	present, err := p.Exists(ctx, selLoginButton)
	if err != nil {
		return false, err
	}
	return !present, nil
}

func (d *Driver) SendMessage(ctx context.Context, p browser.Page, text string) error {
	// Kimi 的输入框是 contenteditable div，Fill 走 SendKeys 同样适用
	if err := p.Fill(ctx, selInput, text); err != nil {
		return err
	}
	return p.Click(ctx, selSendButton)
}

func (d *Driver) ResponseText(ctx context.Context, p browser.Page) (string, error) {
	var out string
	expr := `(() => {
		const nodes = document.querySelectorAll("` + selResponseItem + `");
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
