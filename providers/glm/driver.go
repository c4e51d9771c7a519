// Package glm drives the Zhipu GLM (智谱清言) web chat UI.
//
// Stream format: newline-delimited value-only records. The phase field marks
// the thinking/answer split; a bare finished record ends the stream:
//
//	{"phase":"thinking","delta":"..."}
//	{"delta":"答案文本"}
//	{"finished":true}
package glm

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
	baseURL       = "https://chatglm.cn"
	streamPattern = "/chatglm/backend-api/assistant/stream"

	selInput        = "textarea.input-box-inner"
	selSendButton   = ".enter_icon"
	selStopButton   = ".stop_icon"
	selResponseItem = ".answer-content-wrap"
	selLoginButton  = ".login-btn"
	selLoginAccount = "input[placeholder*='手机号']"
	selLoginPwd     = "input[type='password']"
	selLoginSubmit  = ".login-submit-btn"
)

// Driver 智谱清言站点驱动。
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
		logger: logger.With(zap.String("provider", "glm")),
	}
}

func (d *Driver) ID() string { return "glm" }

func (d *Driver) SupportedModels() []string {
	return []string{"glm-web"}
}

func (d *Driver) EntryURL(model string) string { return d.entry + "/main/alltoolsdetail" }

func (d *Driver) StreamPattern() string { return streamPattern }

func (d *Driver) Codec() continuity.LocatorCodec { return codec{entry: d.entry} }

type codec struct{ entry string }

func (c codec) ToLocator(id string) string {
	if strings.HasPrefix(id, "http") {
		return id
	}
	return c.entry + "/main/alltoolsdetail?conversation=" + id
}

func (c codec) FromURL(url string) string {
	const key = "conversation="
	idx := strings.Index(url, key)
	if idx < 0 {
		return ""
	}
	id := url[idx+len(key):]
	if cut := strings.IndexAny(id, "&#"); cut >= 0 {
		id = id[:cut]
	}
	return id
}

type record struct {
	Phase    string `json:"phase"`
	Delta    string `json:"delta"`
	Finished bool   `json:"finished"`
}

// ClassifyFragments 解析 value-only 记录流。
func (d *Driver) ClassifyFragments(body []byte) []providers.Fragment {
	var frags []providers.Fragment
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		var frag providers.Fragment
		switch {
		case rec.Finished:
			frag = providers.Fragment{Kind: providers.FragmentEnd}
		case rec.Delta == "":
			continue
		case rec.Phase == "thinking":
			frag = providers.Fragment{Kind: providers.FragmentThinking, Text: rec.Delta}
		default:
			frag = providers.Fragment{Kind: providers.FragmentAnswer, Text: rec.Delta}
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
	if err := p.Fill(ctx, selInput, text); err != nil {
		return err
	}
	return p.Click(ctx, selSendButton)
}

func (d *Driver) ResponseText(ctx context.Context, p browser.Page) (string, error) {
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
